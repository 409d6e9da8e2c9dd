// Package matching records swipes and detects mutual likes.
//
// Every swipe runs as one remote transaction over the pair anchor document,
// the active match (if any) and both user documents. A match is created only
// when the target's unconsumed likes contain the actor; creation writes the
// match, the pair anchor, both users' match lists and consumes the like, all
// in the same commit. Match ids derive from (pair key, generation), so two
// transactions racing to create the same match write the same document and
// the loser fails validation instead of creating a second one.
package matching
