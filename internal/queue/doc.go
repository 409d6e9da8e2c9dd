// Package queue is the durable action queue.
//
// A Queue owns its storage backend, its logical clock and its id generator;
// there is no package-level state. Every mutation is persisted by the backend
// before the method returns, so a caller may assume an enqueued action
// survives an immediate crash.
//
// Backends: SQLite (internal/store, the default), Redis (internal/kvstore),
// and MemoryStorage for tests.
package queue
