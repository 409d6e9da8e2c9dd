package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/AakashB275/BrandModel/internal/model"
)

// WriteAction appends a pending action.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - rewriting the same id is
// silently ignored.
func (s *Store) WriteAction(ctx context.Context, a model.PendingAction) error {
	if !json.Valid(a.Payload) {
		return fmt.Errorf("write action %s: payload is not valid JSON", a.ID)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_actions
		(id, seq, kind, payload, enqueued_at, attempts, next_attempt_at, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		a.ID,
		a.Seq,
		string(a.Kind),
		string(a.Payload),
		toNanos(a.EnqueuedAt),
		a.Attempts,
		toNanos(a.NextAttemptAt),
		a.LastError,
	)
	if err != nil {
		return fmt.Errorf("write action: %w", err)
	}
	return nil
}

// ReadActions returns all pending actions in enqueue order.
func (s *Store) ReadActions(ctx context.Context) ([]model.PendingAction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, kind, payload, enqueued_at, attempts, next_attempt_at, last_error
		FROM pending_actions
		ORDER BY seq ASC, id ASC COLLATE BINARY
	`)
	if err != nil {
		return nil, fmt.Errorf("read actions: %w", err)
	}
	defer rows.Close()

	var actions []model.PendingAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("read actions: %w", err)
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read actions: %w", err)
	}
	return actions, nil
}

// ReadAction returns one pending action or ErrNotFound.
func (s *Store) ReadAction(ctx context.Context, id string) (model.PendingAction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, seq, kind, payload, enqueued_at, attempts, next_attempt_at, last_error
		FROM pending_actions WHERE id = ?
	`, id)
	a, err := scanAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PendingAction{}, fmt.Errorf("read action %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.PendingAction{}, fmt.Errorf("read action %s: %w", id, err)
	}
	return a, nil
}

// DeleteAction removes a confirmed action. Deleting a missing id is a no-op.
func (s *Store) DeleteAction(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_actions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete action: %w", err)
	}
	return nil
}

// UpdateRetry persists retry bookkeeping for a failed action.
func (s *Store) UpdateRetry(ctx context.Context, id string, attempts int, nextAttemptAt time.Time, lastError string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_actions
		SET attempts = ?, next_attempt_at = ?, last_error = ?
		WHERE id = ?
	`, attempts, toNanos(nextAttemptAt), lastError, id)
	if err != nil {
		return fmt.Errorf("update retry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update retry %s: %w", id, ErrNotFound)
	}
	return nil
}

// LastSeq returns the highest seq ever persisted, across the queue and the
// dead-letter set, or 0 for an empty store.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(seq) FROM (
			SELECT seq FROM pending_actions
			UNION ALL
			SELECT seq FROM dead_letters
		)
	`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq.Int64, nil
}

// CountActions returns the number of pending actions.
func (s *Store) CountActions(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_actions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count actions: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAction(r rowScanner) (model.PendingAction, error) {
	var (
		a                   model.PendingAction
		kind, payload       string
		enqueuedAt, nextAtt int64
	)
	if err := r.Scan(&a.ID, &a.Seq, &kind, &payload, &enqueuedAt, &a.Attempts, &nextAtt, &a.LastError); err != nil {
		return model.PendingAction{}, err
	}
	a.Kind = model.ActionKind(kind)
	a.Payload = json.RawMessage(payload)
	a.EnqueuedAt = fromNanos(enqueuedAt)
	a.NextAttemptAt = fromNanos(nextAtt)
	return a, nil
}

// validateQueueRows rejects a queue holding rows no reader could decode.
func (s *Store) validateQueueRows(ctx context.Context) error {
	for _, table := range []string{"pending_actions", "dead_letters"} {
		rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT id, kind, payload FROM %s`, table))
		if err != nil {
			return fmt.Errorf("validate %s: %w", table, classifySQLite(err))
		}
		for rows.Next() {
			var id, kind, payload string
			if err := rows.Scan(&id, &kind, &payload); err != nil {
				rows.Close()
				return fmt.Errorf("%w: %s row undecodable: %v", ErrCorrupt, table, err)
			}
			if !model.ActionKind(kind).Valid() || !json.Valid([]byte(payload)) {
				rows.Close()
				return fmt.Errorf("%w: %s row %q undecodable", ErrCorrupt, table, id)
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return fmt.Errorf("validate %s: %w", table, classifySQLite(err))
		}
	}
	return nil
}
