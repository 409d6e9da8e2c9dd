package store

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// Recovery describes a corrupt store that was moved aside.
type Recovery struct {
	// MovedTo is the path the corrupt database now lives at.
	MovedTo string
	// Cause is the error that marked the store corrupt.
	Cause error
}

// OpenOrRecover opens path, and if the file is corrupt moves it (and its WAL
// and shared-memory files) to "<path>.corrupt-<unix>" before opening a fresh,
// empty store in its place.
//
// The returned Recovery is nil when the store opened cleanly. Errors other
// than corruption (permissions, missing directory) are returned unchanged.
func OpenOrRecover(path string, now time.Time) (*Store, *Recovery, error) {
	s, err := Open(path)
	if err == nil {
		return s, nil, nil
	}
	if !errors.Is(err, ErrCorrupt) {
		return nil, nil, err
	}

	aside := fmt.Sprintf("%s.corrupt-%d", path, now.Unix())
	if rerr := os.Rename(path, aside); rerr != nil {
		return nil, nil, fmt.Errorf("move corrupt store aside: %w (cause: %v)", rerr, err)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if _, serr := os.Stat(path + suffix); serr == nil {
			_ = os.Rename(path+suffix, aside+suffix)
		}
	}

	fresh, oerr := Open(path)
	if oerr != nil {
		return nil, nil, fmt.Errorf("open fresh store after recovery: %w", oerr)
	}
	return fresh, &Recovery{MovedTo: aside, Cause: err}, nil
}
