package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CacheEntry is one offline cache record.
type CacheEntry struct {
	Key     string
	Data    []byte
	SavedAt time.Time
}

// PutCache upserts a cache entry.
func (s *Store) PutCache(ctx context.Context, key string, data []byte, savedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO offline_cache (key, data, saved_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET data = excluded.data, saved_at = excluded.saved_at
	`, key, string(data), toNanos(savedAt))
	if err != nil {
		return fmt.Errorf("put cache %s: %w", key, err)
	}
	return nil
}

// GetCache returns a cache entry or ErrNotFound.
func (s *Store) GetCache(ctx context.Context, key string) (CacheEntry, error) {
	var (
		data    string
		savedAt int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT data, saved_at FROM offline_cache WHERE key = ?`, key).Scan(&data, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return CacheEntry{}, fmt.Errorf("get cache %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return CacheEntry{}, fmt.Errorf("get cache %s: %w", key, err)
	}
	return CacheEntry{Key: key, Data: []byte(data), SavedAt: fromNanos(savedAt)}, nil
}

// DeleteCacheBefore removes entries saved before cutoff and returns how many.
func (s *Store) DeleteCacheBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM offline_cache WHERE saved_at < ?`, toNanos(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete stale cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CacheStats returns the number of entries and their total payload bytes.
func (s *Store) CacheStats(ctx context.Context) (entries int, bytes int64, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(LENGTH(CAST(data AS BLOB))), 0) FROM offline_cache
	`).Scan(&entries, &bytes)
	if err != nil {
		return 0, 0, fmt.Errorf("cache stats: %w", err)
	}
	return entries, bytes, nil
}

// ClearCache removes every cache entry.
func (s *Store) ClearCache(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM offline_cache`); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}
