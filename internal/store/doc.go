// Package store provides SQLite-backed durable storage for the agent.
//
// One database file holds everything the agent persists:
//   - Sync state: watermarks per (did, endpoint, direction) and the set of
//     registered identities with their configured endpoints
//   - Keys: Ed25519 seeds for the identities the agent acts as
//   - Node replica: messages, the per-record latest pointer, the event log,
//     and s2-compressed data payloads, partitioned by tenant DID
//
// # Ordering
//
// The event log is ordered by an INTEGER PRIMARY KEY (seq), never by
// timestamps. A watermark is the decimal seq of the last event a reader
// consumed; readers outside this package treat it as opaque.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
