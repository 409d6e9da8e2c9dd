package remote

import (
	"encoding/json"
	"fmt"
	"time"
)

// Collection names.
const (
	Users     = "users"
	Matches   = "matches"
	Pairs     = "pairs"
	Messages  = "messages"
	Reports   = "reports"
	Analytics = "analytics"
)

// Doc is a JSON-compatible document body.
type Doc map[string]any

// Ref addresses one document.
type Ref struct {
	Collection string
	ID         string
}

// NewRef returns the reference for collection/id.
func NewRef(collection, id string) Ref {
	return Ref{Collection: collection, ID: id}
}

func (r Ref) String() string { return r.Collection + "/" + r.ID }

// Valid reports whether both path segments are set.
func (r Ref) Valid() bool { return r.Collection != "" && r.ID != "" }

// Transform is a field value resolved by the store at write time.
type Transform interface {
	apply(current any, now time.Time) (any, error)
}

type arrayUnion struct{ values []any }

type arrayRemove struct{ values []any }

type serverTimestamp struct{}

// ArrayUnion adds each value to the array field unless already present.
func ArrayUnion(values ...any) Transform { return arrayUnion{values: values} }

// ArrayRemove removes every occurrence of each value from the array field.
func ArrayRemove(values ...any) Transform { return arrayRemove{values: values} }

// ServerTimestamp sets the field to the store's commit time.
func ServerTimestamp() Transform { return serverTimestamp{} }

func (t arrayUnion) apply(current any, _ time.Time) (any, error) {
	arr, err := asArray(current)
	if err != nil {
		return nil, err
	}
	for _, v := range t.values {
		if indexOf(arr, v) < 0 {
			arr = append(arr, v)
		}
	}
	return arr, nil
}

func (t arrayRemove) apply(current any, _ time.Time) (any, error) {
	arr, err := asArray(current)
	if err != nil {
		return nil, err
	}
	out := arr[:0]
	for _, item := range arr {
		if indexOf(t.values, item) < 0 {
			out = append(out, item)
		}
	}
	return out, nil
}

func (serverTimestamp) apply(_ any, now time.Time) (any, error) {
	return now.UTC(), nil
}

func asArray(v any) ([]any, error) {
	switch arr := v.(type) {
	case nil:
		return []any{}, nil
	case []any:
		return append([]any{}, arr...), nil
	case []string:
		out := make([]any, len(arr))
		for i, s := range arr {
			out[i] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("array transform on non-array field (%T)", v)
	}
}

func indexOf(arr []any, v any) int {
	want, err := json.Marshal(v)
	if err != nil {
		return -1
	}
	for i, item := range arr {
		got, err := json.Marshal(item)
		if err == nil && string(got) == string(want) {
			return i
		}
	}
	return -1
}

// WriteOp selects how a Write combines with the stored document.
type WriteOp int

const (
	// OpSet replaces the document.
	OpSet WriteOp = iota
	// OpMerge sets the given fields, creating the document if missing.
	OpMerge
	// OpUpdate sets the given fields; the document must exist.
	OpUpdate
)

// Write is one document mutation inside a Commit or transaction.
type Write struct {
	Op   WriteOp
	Ref  Ref
	Data Doc
}

// SetWrite replaces ref with data.
func SetWrite(ref Ref, data Doc) Write { return Write{Op: OpSet, Ref: ref, Data: data} }

// MergeWrite upserts the fields of data into ref.
func MergeWrite(ref Ref, data Doc) Write { return Write{Op: OpMerge, Ref: ref, Data: data} }

// UpdateWrite sets the fields of data on an existing document.
func UpdateWrite(ref Ref, data Doc) Write { return Write{Op: OpUpdate, Ref: ref, Data: data} }

// Apply computes the document that results from w on top of current.
// exists reports whether current was stored. Transforms are resolved with now.
func Apply(current Doc, exists bool, w Write, now time.Time) (Doc, error) {
	if !w.Ref.Valid() {
		return nil, fmt.Errorf("invalid document reference %q", w.Ref)
	}
	if w.Op == OpUpdate && !exists {
		return nil, fmt.Errorf("update %s: %w", w.Ref, ErrNotFound)
	}

	var next Doc
	if w.Op == OpSet || !exists {
		next = Doc{}
	} else {
		next = make(Doc, len(current)+len(w.Data))
		for k, v := range current {
			next[k] = v
		}
	}

	for field, v := range w.Data {
		t, ok := v.(Transform)
		if !ok {
			next[field] = v
			continue
		}
		var base any
		if w.Op != OpSet {
			base = next[field]
		}
		resolved, err := t.apply(base, now)
		if err != nil {
			return nil, fmt.Errorf("field %q of %s: %w", field, w.Ref, err)
		}
		next[field] = resolved
	}
	return Normalize(next)
}

// Normalize round-trips d through JSON so stored documents hold only
// decoded JSON types and share no memory with the caller.
func Normalize(d Doc) (Doc, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var out Doc
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return out, nil
}

// Encode converts a typed value into a Doc.
func Encode(v any) (Doc, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var out Doc
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return out, nil
}

// Decode converts a Doc into a typed value.
func Decode(d Doc, v any) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}
