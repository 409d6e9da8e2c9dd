package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/AakashB275/BrandModel/internal/engine"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrUnavailable is returned while the store cannot be reached.
	ErrUnavailable = errors.New("remote store unavailable")

	// ErrConflict is returned when a transaction's read set changed before
	// commit.
	ErrConflict = errors.New("transaction read set changed")
)

// Store is the remote document store.
type Store interface {
	Getter

	// Set replaces the document at ref.
	Set(ctx context.Context, ref Ref, data Doc) error

	// Update applies fields to an existing document. Returns ErrNotFound if
	// it does not exist.
	Update(ctx context.Context, ref Ref, fields Doc) error

	// Commit applies writes atomically.
	Commit(ctx context.Context, writes []Write) error

	// RunTransaction runs fn and commits its buffered writes atomically.
	// The transaction aborts with a conflict error if any document fn read
	// changed before commit.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}

// Getter reads single documents.
type Getter interface {
	Get(ctx context.Context, ref Ref) (Doc, error)
}

// Tx is a read-then-write transaction. Reads observe committed state only;
// writes are buffered until fn returns nil.
type Tx interface {
	Getter
	Set(ref Ref, data Doc)
	Merge(ref Ref, data Doc)
	Update(ref Ref, fields Doc)
}

// GetAs reads ref and decodes it into T.
func GetAs[T any](ctx context.Context, g Getter, ref Ref) (T, error) {
	var v T
	d, err := g.Get(ctx, ref)
	if err != nil {
		return v, err
	}
	if err := Decode(d, &v); err != nil {
		return v, engine.NewPermanentError(fmt.Sprintf("decode %s", ref), err)
	}
	return v, nil
}

// Unavailable wraps ErrUnavailable as a transient action error.
func Unavailable(op string) error {
	return engine.NewTransientError(op, ErrUnavailable)
}

// Conflict wraps ErrConflict as a conflict action error.
func Conflict(op string) error {
	return engine.NewConflictError(op, ErrConflict)
}

// IsNotFound reports whether err means the document does not exist.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// writeBuffer collects transaction writes in order.
type writeBuffer struct {
	writes []Write
}

func (b *writeBuffer) Set(ref Ref, data Doc)      { b.writes = append(b.writes, SetWrite(ref, data)) }
func (b *writeBuffer) Merge(ref Ref, data Doc)    { b.writes = append(b.writes, MergeWrite(ref, data)) }
func (b *writeBuffer) Update(ref Ref, fields Doc) { b.writes = append(b.writes, UpdateWrite(ref, fields)) }
