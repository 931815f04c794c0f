// Package scenario loads simulation scenarios from YAML or CUE files, runs
// them and checks assertions against the report.
//
// # Scenario Format
//
//	name: causality
//	description: "B merges A's timestamp"
//	nodes: [a, b]
//	clock: {mode: manual, start: 100}
//	bus: {delay: {min: 1ms, max: 5ms}, inbox_capacity: 0, codec: msgpack, seed: 7}
//	send_retries: 3
//	retry_backoff: 1ms
//	max_drift: 500ms
//	timeout: 5s
//	script:
//	  - {node: a, op: send, to: b, payload: hi}
//	  - {node: b, op: receive, wait: 1}
//	  - {node: b, op: tick, at: 101}
//	assertions:
//	  - {type: pass}
//	  - {type: timestamp, node: b, index: 0, physical: 100, logical: 1}
//
// CUE files use the same field names. A .cue scenario may use any CUE
// feature as long as the result is concrete.
//
// # Assertion Types
//
//   - pass: the run passed
//   - monotonic: no monotonic or chain violation
//   - causal: no causal or delivery violation
//   - timestamp: node's event at index has (physical, logical)
//   - event_count: node has count events of kind (all kinds when empty)
//   - happens_before: event from precedes event to
//   - undelivered: count envelopes were left unread
//   - error: node ended with error code
//
// Event indexes are zero-based positions in a node's own trace.
package scenario
