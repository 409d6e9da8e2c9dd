// Package model defines the records the offline core persists locally and
// exchanges with the remote document store.
//
// Local records (PendingAction, DeadLetter, AnalyticsEvent) are owned by the
// durable queue. Remote records (User, Match, Pair, Message, Report) are
// documents; their JSON field names are the document field names.
//
// Deterministic identifiers are derived with domain-separated SHA-256 over
// canonical JSON (see hash.go) so that replaying an action writes to the same
// document instead of creating a new one.
package model
