// Package store provides SQLite-backed durable local state.
//
// The store holds:
//   - pending_actions: the ordered action queue
//   - dead_letters: actions removed from the retry path
//   - analytics_events: the best-effort telemetry buffer
//   - offline_cache: documents cached for offline reads
//
// # Critical Patterns
//
// Durability before return:
//   - Every mutation is a committed statement or transaction before the
//     method returns
//   - Moving an action to dead-letter is one transaction (insert + delete)
//
// Logical ordering:
//   - Queue reads use ORDER BY seq ASC, id ASC COLLATE BINARY
//   - Wall-clock columns are informational only
//
// Corruption:
//   - Open reports ErrCorrupt when the file is not a database, fails
//     PRAGMA quick_check, or holds undecodable queue rows
//   - OpenOrRecover moves such a file aside and starts empty
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
