package queue

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/AakashB275/BrandModel/internal/engine"
	"github.com/AakashB275/BrandModel/internal/store"
)

// OpenSQLite opens the SQLite-backed queue at path.
//
// A corrupt database never fails startup: it is moved aside, an integrity
// error is logged, and the queue starts empty. Other open failures are
// returned as local persistence errors.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*Queue, *store.Store, error) {
	defaults := &Queue{logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(defaults)
	}

	s, rec, err := store.OpenOrRecover(path, defaults.now())
	if err != nil {
		return nil, nil, engine.NewLocalPersistenceError("open queue store", err)
	}
	if rec != nil {
		defaults.logger.Error("local queue was corrupt; starting empty",
			zap.String("path", path),
			zap.String("moved_to", rec.MovedTo),
			zap.Error(engine.NewLocalPersistenceError("queue integrity", rec.Cause)))
	}

	q, err := New(ctx, s, opts...)
	if err != nil {
		s.Close()
		return nil, nil, err
	}
	return q, s, nil
}
