// Package store provides SQLite-backed storage for simulation runs.
//
// A stored run keeps:
//   - Runs: one summary row per run ID
//   - Node results: final timestamp and status for each node
//   - Events: the full HLC trace, one row per tick, send or update
//   - Run errors and violations, in report order
//
// # Ordering
//
// Events are ordered by the recorder sequence, never by physical time:
//
//	ORDER BY seq ASC, id COLLATE BINARY ASC
//
// Reading a run back therefore yields the same trace the simulation
// produced, and trace.Verify gives the same verdict on it. Each run also
// stores the trace.Digest computed at run time, so a later edit to its
// events can be detected. Callers wanting causal order apply trace.Sort.
//
// # Idempotency
//
// Runs are keyed by run ID. Writing a report whose run ID is already
// stored leaves the first write untouched.
//
// # Schema Versions
//
// PRAGMA user_version tracks the schema. A new database gets schema.sql at
// the current version; an older one is brought forward by the migrations
// list when it is opened.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
