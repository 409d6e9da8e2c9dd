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

// MoveToDeadLetter moves a pending action into the dead-letter set in one
// transaction, so the action is never in both sets or in neither.
//
// If the action is already dead-lettered the existing record is returned,
// which makes the move idempotent.
func (s *Store) MoveToDeadLetter(ctx context.Context, id, code, lastError string, at time.Time) (model.DeadLetter, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.DeadLetter{}, fmt.Errorf("dead-letter: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	a, err := scanAction(tx.QueryRowContext(ctx, `
		SELECT id, seq, kind, payload, enqueued_at, attempts, next_attempt_at, last_error
		FROM pending_actions WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		dl, rerr := scanDeadLetter(tx.QueryRowContext(ctx, deadLetterSelect+` WHERE id = ?`, id))
		if rerr == nil {
			return dl, nil
		}
		return model.DeadLetter{}, fmt.Errorf("dead-letter %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.DeadLetter{}, fmt.Errorf("dead-letter: read action: %w", err)
	}

	a.LastError = lastError
	_, err = tx.ExecContext(ctx, `
		INSERT INTO dead_letters
		(id, seq, kind, payload, enqueued_at, attempts, error_code, last_error, dead_lettered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		a.ID,
		a.Seq,
		string(a.Kind),
		string(a.Payload),
		toNanos(a.EnqueuedAt),
		a.Attempts,
		code,
		lastError,
		toNanos(at),
	)
	if err != nil {
		return model.DeadLetter{}, fmt.Errorf("dead-letter: insert: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_actions WHERE id = ?`, id); err != nil {
		return model.DeadLetter{}, fmt.Errorf("dead-letter: delete pending: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.DeadLetter{}, fmt.Errorf("dead-letter: commit: %w", err)
	}

	return model.DeadLetter{
		Action:         a,
		ErrorCode:      code,
		LastError:      lastError,
		DeadLetteredAt: at.UTC(),
	}, nil
}

const deadLetterSelect = `
	SELECT id, seq, kind, payload, enqueued_at, attempts, error_code, last_error, dead_lettered_at
	FROM dead_letters`

// ReadDeadLetters returns the dead-letter set in original enqueue order.
func (s *Store) ReadDeadLetters(ctx context.Context) ([]model.DeadLetter, error) {
	rows, err := s.db.QueryContext(ctx, deadLetterSelect+` ORDER BY seq ASC, id ASC COLLATE BINARY`)
	if err != nil {
		return nil, fmt.Errorf("read dead letters: %w", err)
	}
	defer rows.Close()

	var out []model.DeadLetter
	for rows.Next() {
		dl, err := scanDeadLetter(rows)
		if err != nil {
			return nil, fmt.Errorf("read dead letters: %w", err)
		}
		out = append(out, dl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read dead letters: %w", err)
	}
	return out, nil
}

// RequeueDeadLetter moves a dead letter back to the tail of the queue with
// a fresh seq and zero attempts.
func (s *Store) RequeueDeadLetter(ctx context.Context, id string, seq int64) (model.PendingAction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.PendingAction{}, fmt.Errorf("requeue: begin tx: %w", err)
	}
	defer tx.Rollback()

	dl, err := scanDeadLetter(tx.QueryRowContext(ctx, deadLetterSelect+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.PendingAction{}, fmt.Errorf("requeue %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.PendingAction{}, fmt.Errorf("requeue: read dead letter: %w", err)
	}

	a := dl.Action
	a.Seq = seq
	a.Attempts = 0
	a.NextAttemptAt = time.Time{}
	a.LastError = ""

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pending_actions
		(id, seq, kind, payload, enqueued_at, attempts, next_attempt_at, last_error)
		VALUES (?, ?, ?, ?, ?, 0, 0, '')
	`, a.ID, a.Seq, string(a.Kind), string(a.Payload), toNanos(a.EnqueuedAt))
	if err != nil {
		return model.PendingAction{}, fmt.Errorf("requeue: insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM dead_letters WHERE id = ?`, id); err != nil {
		return model.PendingAction{}, fmt.Errorf("requeue: delete dead letter: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.PendingAction{}, fmt.Errorf("requeue: commit: %w", err)
	}
	return a, nil
}

func scanDeadLetter(r rowScanner) (model.DeadLetter, error) {
	var (
		dl                     model.DeadLetter
		kind, payload          string
		enqueuedAt, deadLetter int64
	)
	a := &dl.Action
	err := r.Scan(&a.ID, &a.Seq, &kind, &payload, &enqueuedAt, &a.Attempts, &dl.ErrorCode, &dl.LastError, &deadLetter)
	if err != nil {
		return model.DeadLetter{}, err
	}
	a.Kind = model.ActionKind(kind)
	a.Payload = json.RawMessage(payload)
	a.EnqueuedAt = fromNanos(enqueuedAt)
	a.LastError = dl.LastError
	dl.DeadLetteredAt = fromNanos(deadLetter)
	return dl, nil
}
