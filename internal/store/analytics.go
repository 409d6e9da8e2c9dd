package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/AakashB275/BrandModel/internal/model"
)

// AppendAnalytics buffers one event and trims the buffer to maxEvents,
// dropping the oldest. Returns the number of events dropped.
func (s *Store) AppendAnalytics(ctx context.Context, ev model.AnalyticsEvent, seq int64, maxEvents int) (int64, error) {
	props := ev.Properties
	if props == nil {
		props = map[string]any{}
	}
	propsJSON, err := json.Marshal(props)
	if err != nil {
		return 0, fmt.Errorf("append analytics: marshal properties: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("append analytics: begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO analytics_events (id, seq, name, properties, recorded_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, ev.ID, seq, ev.Name, string(propsJSON), toNanos(ev.RecordedAt))
	if err != nil {
		return 0, fmt.Errorf("append analytics: %w", err)
	}

	var dropped int64
	if maxEvents > 0 {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM analytics_events
			WHERE id IN (
				SELECT id FROM analytics_events
				ORDER BY seq DESC, id DESC
				LIMIT -1 OFFSET ?
			)
		`, maxEvents)
		if err != nil {
			return 0, fmt.Errorf("append analytics: trim: %w", err)
		}
		dropped, _ = res.RowsAffected()
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("append analytics: commit: %w", err)
	}
	return dropped, nil
}

// ReadAnalytics returns up to limit buffered events, oldest first.
// A limit <= 0 returns everything.
func (s *Store) ReadAnalytics(ctx context.Context, limit int) ([]model.AnalyticsEvent, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, properties, recorded_at
		FROM analytics_events
		ORDER BY seq ASC, id ASC COLLATE BINARY
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("read analytics: %w", err)
	}
	defer rows.Close()

	var out []model.AnalyticsEvent
	for rows.Next() {
		var (
			ev         model.AnalyticsEvent
			props      string
			recordedAt int64
		)
		if err := rows.Scan(&ev.ID, &ev.Name, &props, &recordedAt); err != nil {
			return nil, fmt.Errorf("read analytics: %w", err)
		}
		if err := json.Unmarshal([]byte(props), &ev.Properties); err != nil {
			// Telemetry is best-effort; an unreadable property bag is dropped.
			ev.Properties = nil
		}
		ev.RecordedAt = fromNanos(recordedAt)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read analytics: %w", err)
	}
	return out, nil
}

// DeleteAnalytics removes flushed events.
func (s *Store) DeleteAnalytics(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete analytics: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM analytics_events WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("delete analytics: prepare: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("delete analytics %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete analytics: commit: %w", err)
	}
	return nil
}

// LastAnalyticsSeq returns the highest buffered analytics seq.
func (s *Store) LastAnalyticsSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM analytics_events`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last analytics seq: %w", err)
	}
	return seq, nil
}

// CountAnalytics returns the number of buffered events.
func (s *Store) CountAnalytics(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM analytics_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count analytics: %w", err)
	}
	return n, nil
}
