// Package hlc implements a Hybrid Logical Clock.
//
// An HLC timestamp is a (physical, logical) pair. The physical part tracks
// the largest wall-clock reading the clock has observed, locally or through
// a received message. The logical part counts events that happen while the
// physical part does not move forward.
//
// Two rules drive the clock:
//
//	Tick (local event):
//	    pt = now()
//	    if pt > cur.physical: (pt, 0)
//	    else:                 (cur.physical, cur.logical+1)
//
//	Update (message receipt with remote timestamp r):
//	    m = max(pt, cur.physical, r.physical)
//	    m == cur.physical == r.physical: logical = max(cur.logical, r.logical)+1
//	    m == cur.physical:               logical = cur.logical+1
//	    m == r.physical:                 logical = r.logical+1
//	    otherwise:                       logical = 0
//
// Every value a Clock hands out is strictly greater than the previous one,
// and the result of Update is strictly greater than the remote timestamp.
// Causal comparison uses only (physical, logical). The node ID carried by a
// Timestamp is a display and storage tie-break, never a causal signal.
//
// Physical readings are integer milliseconds. The source is pluggable
// (PhysicalClock) so simulations can freeze, pin or skew a node's clock.
//
// Clock is safe for concurrent use: Tick and Update are serialized by a
// mutex so no two calls advance from the same state.
package hlc
