// Package engine drains the durable action queue against the remote store.
//
// ARCHITECTURE:
//
// Every user intent is first persisted by the queue. The Executor reads the
// queue in enqueue order, groups actions by entity key, and applies each
// entity's chain strictly sequentially. Distinct entities are applied
// concurrently under a bounded errgroup and a shared rate limiter.
//
// Failure handling:
//  1. Apply returns nil: the action is removed from the queue.
//  2. Transient or conflict: attempts++, nextAttemptAt = now + backoff, and the
//     rest of that entity's chain waits for the next drain.
//  3. Permanent, or attempts reaching the ceiling: the action moves to the
//     dead-letter set and ActionDeadLettered is published exactly once.
//
// The queue and executor never return errors to the UI boundary; outcomes are
// published on the Notifier. Only Drain's caller sees local persistence
// failures.
//
// CRITICAL PATTERNS:
//
// Logical clock: every enqueued action is stamped with a strictly increasing
// seq from Clock.Next(). Enqueue order is seq order, never wall time.
//
// Idempotent apply: a crash between remote success and local dequeue replays
// the action, so every applier must be safe to run twice.
package engine
