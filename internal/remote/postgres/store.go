// Package postgres is a remote.Store over a single JSONB documents table.
//
// Transactions take row locks (SELECT ... FOR UPDATE) on every document they
// read, so two transactions touching the same documents serialize. Reads of
// missing documents cannot be locked and writes are upserts (ON CONFLICT DO
// UPDATE), so no unique violation reaches the caller. Concurrent match
// creation for one pair serializes on the participants' user rows, which the
// match engine locks in sorted id order, and a racing creator derives the
// same deterministic id, model.MatchID(pairKey, generation), so it rewrites
// the same match document instead of adding a second one.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AakashB275/BrandModel/internal/remote"
)

type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPool parses dsn and connects.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	cfg.MinConns = 0
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	return pool, nil
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// WithTx runs fn in a transaction, committing if it returns nil.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(context.Context, pgx.Tx) error) error {
	if pool == nil {
		return errors.New("postgres pool is nil")
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func getDoc(ctx context.Context, q pgx.Tx, ref remote.Ref, lock bool) (remote.Doc, bool, error) {
	query := `SELECT data FROM documents WHERE collection = $1 AND id = $2`
	if lock {
		query += ` FOR UPDATE`
	}
	var raw []byte
	err := q.QueryRow(ctx, query, ref.Collection, ref.ID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", ref, err)
	}
	var d remote.Doc
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", ref, err)
	}
	return d, true, nil
}

func (s *Store) Get(ctx context.Context, ref remote.Ref) (remote.Doc, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `
SELECT data
FROM documents
WHERE collection = $1 AND id = $2
`, ref.Collection, ref.ID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", ref, remote.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", ref, err)
	}
	var d remote.Doc
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode %s: %w", ref, err)
	}
	return d, nil
}

func (s *Store) Set(ctx context.Context, ref remote.Ref, data remote.Doc) error {
	return s.Commit(ctx, []remote.Write{remote.SetWrite(ref, data)})
}

func (s *Store) Update(ctx context.Context, ref remote.Ref, fields remote.Doc) error {
	return s.Commit(ctx, []remote.Write{remote.UpdateWrite(ref, fields)})
}

func (s *Store) Commit(ctx context.Context, writes []remote.Write) error {
	return WithTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		return s.applyWrites(ctx, tx, writes)
	})
}

// applyWrites locks each target row, resolves transforms against it and
// upserts the result.
func (s *Store) applyWrites(ctx context.Context, tx pgx.Tx, writes []remote.Write) error {
	now := s.now()
	for _, w := range writes {
		current, exists, err := getDoc(ctx, tx, w.Ref, true)
		if err != nil {
			return err
		}
		next, err := remote.Apply(current, exists, w, now)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode %s: %w", w.Ref, err)
		}
		_, err = tx.Exec(ctx, `
INSERT INTO documents (collection, id, data, version, updated_at)
VALUES ($1, $2, $3, 1, $4)
ON CONFLICT (collection, id) DO UPDATE
SET data = EXCLUDED.data,
    version = documents.version + 1,
    updated_at = EXCLUDED.updated_at
`, w.Ref.Collection, w.Ref.ID, raw, now.UTC())
		if err != nil {
			return fmt.Errorf("write %s: %w", w.Ref, err)
		}
	}
	return nil
}

type pgTx struct {
	tx     pgx.Tx
	writes []remote.Write
}

func (t *pgTx) Get(ctx context.Context, ref remote.Ref) (remote.Doc, error) {
	d, ok, err := getDoc(ctx, t.tx, ref, true)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("get %s: %w", ref, remote.ErrNotFound)
	}
	return d, nil
}

func (t *pgTx) Set(ref remote.Ref, data remote.Doc) {
	t.writes = append(t.writes, remote.SetWrite(ref, data))
}

func (t *pgTx) Merge(ref remote.Ref, data remote.Doc) {
	t.writes = append(t.writes, remote.MergeWrite(ref, data))
}

func (t *pgTx) Update(ref remote.Ref, fields remote.Doc) {
	t.writes = append(t.writes, remote.UpdateWrite(ref, fields))
}

func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx remote.Tx) error) error {
	return WithTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		t := &pgTx{tx: tx}
		if err := fn(ctx, t); err != nil {
			return err
		}
		return s.applyWrites(ctx, tx, t.writes)
	})
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return remote.Unavailable(err.Error())
	}
	return nil
}

func (s *Store) Close() {
	s.pool.Close()
}
