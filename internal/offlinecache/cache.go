// Package offlinecache keeps the last fetched copy of remote documents so
// screens can render while the remote store is unreachable.
package offlinecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/AakashB275/BrandModel/internal/remote"
	"github.com/AakashB275/BrandModel/internal/store"
)

// DefaultMaxAge is how long Cleanup keeps an entry.
const DefaultMaxAge = 7 * 24 * time.Hour

// ErrMiss is returned when a key has no cached value.
var ErrMiss = errors.New("offline cache miss")

// Storage persists cache entries. *store.Store implements it.
type Storage interface {
	PutCache(ctx context.Context, key string, data []byte, savedAt time.Time) error
	GetCache(ctx context.Context, key string) (store.CacheEntry, error)
	DeleteCacheBefore(ctx context.Context, cutoff time.Time) (int64, error)
	CacheStats(ctx context.Context) (entries int, bytes int64, err error)
	ClearCache(ctx context.Context) error
}

type Cache struct {
	storage Storage
	remote  remote.Getter
	online  func() bool
	now     func() time.Time
	logger  *zap.Logger
}

type Option func(*Cache)

func WithNow(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// New creates a Cache. online reports current connectivity; nil means
// always online.
func New(storage Storage, rs remote.Getter, online func() bool, opts ...Option) *Cache {
	c := &Cache{
		storage: storage,
		remote:  rs,
		online:  online,
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	if c.online == nil {
		c.online = func() bool { return true }
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Save stores v under key as JSON.
func (c *Cache) Save(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache %s: %w", key, err)
	}
	return c.storage.PutCache(ctx, key, data, c.now().UTC())
}

// Get decodes the value cached under key into v and returns when it was
// saved. A missing key returns ErrMiss.
func (c *Cache) Get(ctx context.Context, key string, v any) (time.Time, error) {
	entry, err := c.storage.GetCache(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return time.Time{}, fmt.Errorf("%s: %w", key, ErrMiss)
	}
	if err != nil {
		return time.Time{}, err
	}
	if err := json.Unmarshal(entry.Data, v); err != nil {
		return time.Time{}, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return entry.SavedAt, nil
}

// FetchWithFallback reads ref from the remote store when online and caches
// it under key. Offline, or when the remote read fails, it serves the cached
// copy instead.
func (c *Cache) FetchWithFallback(ctx context.Context, ref remote.Ref, key string) (remote.Doc, error) {
	var remoteErr error
	if c.online() {
		doc, err := c.remote.Get(ctx, ref)
		if err == nil {
			if serr := c.Save(ctx, key, doc); serr != nil {
				c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(serr))
			}
			return doc, nil
		}
		if remote.IsNotFound(err) {
			return nil, err
		}
		remoteErr = err
		c.logger.Info("remote fetch failed; serving cache", zap.String("ref", ref.String()), zap.Error(err))
	}

	var doc remote.Doc
	if _, err := c.Get(ctx, key, &doc); err != nil {
		if remoteErr != nil {
			return nil, fmt.Errorf("%w (remote: %v)", err, remoteErr)
		}
		return nil, err
	}
	return doc, nil
}

// Cleanup removes entries older than maxAge (DefaultMaxAge when <= 0).
func (c *Cache) Cleanup(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	n, err := c.storage.DeleteCacheBefore(ctx, c.now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.logger.Debug("stale cache entries removed", zap.Int64("entries", n))
	}
	return n, nil
}

// Size returns the number of entries and their total size in bytes.
func (c *Cache) Size(ctx context.Context) (int, int64, error) {
	return c.storage.CacheStats(ctx)
}

func (c *Cache) Clear(ctx context.Context) error {
	return c.storage.ClearCache(ctx)
}
