package hlc

import (
	"fmt"
	"strings"
)

// Timestamp is an immutable HLC reading produced by a Clock.
//
// Ordering is lexicographic on (Physical, Logical). NodeID only breaks ties
// between timestamps from different nodes so that sorting is deterministic.
type Timestamp struct {
	Physical int64  `json:"physical" msgpack:"physical"`
	Logical  int64  `json:"logical" msgpack:"logical"`
	NodeID   string `json:"node_id,omitempty" msgpack:"node_id"`
}

// FromPhysical returns the timestamp (p, 0) with no node attached.
func FromPhysical(p int64) Timestamp {
	return Timestamp{Physical: p}
}

// IsZero reports whether t is the zero timestamp.
func (t Timestamp) IsZero() bool {
	return t.Physical == 0 && t.Logical == 0
}

// Before reports whether t causally precedes other: (physical, logical) is
// strictly smaller. NodeID is ignored.
func (t Timestamp) Before(other Timestamp) bool {
	if t.Physical != other.Physical {
		return t.Physical < other.Physical
	}
	return t.Logical < other.Logical
}

// After reports whether other.Before(t).
func (t Timestamp) After(other Timestamp) bool {
	return other.Before(t)
}

// Equal reports (physical, logical) equality. NodeID is ignored.
func (t Timestamp) Equal(other Timestamp) bool {
	return t.Physical == other.Physical && t.Logical == other.Logical
}

// Compare returns -1, 0 or +1 following the total order:
// (physical, logical) first, then NodeID.
func (t Timestamp) Compare(other Timestamp) int {
	switch {
	case t.Physical < other.Physical:
		return -1
	case t.Physical > other.Physical:
		return 1
	case t.Logical < other.Logical:
		return -1
	case t.Logical > other.Logical:
		return 1
	}
	return strings.Compare(t.NodeID, other.NodeID)
}

// Less is the strict total order used for display and storage.
func (t Timestamp) Less(other Timestamp) bool {
	return t.Compare(other) < 0
}

// Pair returns the (physical, logical) components.
func (t Timestamp) Pair() (int64, int64) {
	return t.Physical, t.Logical
}

// WithNode returns a copy of t attributed to nodeID.
func (t Timestamp) WithNode(nodeID string) Timestamp {
	t.NodeID = nodeID
	return t
}

// String formats t as "physical.logical@node", or "physical.logical" when
// no node is attached.
func (t Timestamp) String() string {
	if t.NodeID == "" {
		return fmt.Sprintf("%d.%d", t.Physical, t.Logical)
	}
	return fmt.Sprintf("%d.%d@%s", t.Physical, t.Logical, t.NodeID)
}
