// Package remote is the document-store boundary the core applies actions
// against.
//
// Documents are JSON-compatible maps addressed by (collection, id). Writes can
// carry field transforms (ArrayUnion, ArrayRemove, ServerTimestamp) that the
// store resolves against the stored document at commit time, so concurrent
// set-additions never overwrite each other.
//
// Two implementations exist: MemoryStore (in-process, optimistic versioned
// transactions) and postgres.Store (JSONB rows, row locks).
package remote
