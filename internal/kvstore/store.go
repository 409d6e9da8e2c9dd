// Package kvstore is a Redis-backed queue storage using a flat key layout:
//
//	<prefix>:pending      ZSET  score=seq member=action id
//	<prefix>:actions      HASH  action id -> PendingAction JSON
//	<prefix>:dead         ZSET  score=seq member=action id
//	<prefix>:deadletters  HASH  action id -> DeadLetter JSON
//
// Multi-key moves run in MULTI/EXEC under WATCH so a concurrent writer aborts
// the transaction instead of interleaving with it.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/AakashB275/BrandModel/internal/model"
	"github.com/AakashB275/BrandModel/internal/queue"
)

// DefaultPrefix namespaces queue keys.
const DefaultPrefix = "brandmodel:queue"

// ErrNotFound is returned for an unknown action id.
var ErrNotFound = queue.ErrNotFound

// maxWatchRetries bounds optimistic retries of a WATCH transaction.
const maxWatchRetries = 8

type Store struct {
	client *goredis.Client
	prefix string
	logger *zap.Logger
}

func New(client *goredis.Client, prefix string, logger *zap.Logger) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{client: client, prefix: prefix, logger: logger}
}

func (s *Store) pendingKey() string     { return s.prefix + ":pending" }
func (s *Store) actionsKey() string     { return s.prefix + ":actions" }
func (s *Store) deadKey() string        { return s.prefix + ":dead" }
func (s *Store) deadLettersKey() string { return s.prefix + ":deadletters" }

// WriteAction persists a, ignoring a rewrite of an existing id.
func (s *Store) WriteAction(ctx context.Context, a model.PendingAction) error {
	if s.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSetNX(ctx, s.actionsKey(), a.ID, data)
		pipe.ZAddNX(ctx, s.pendingKey(), goredis.Z{Score: float64(a.Seq), Member: a.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("write action: %w", err)
	}
	return nil
}

// ReadActions returns pending actions in seq order. Records that cannot be
// decoded are removed and logged; they can never be applied.
func (s *Store) ReadActions(ctx context.Context) ([]model.PendingAction, error) {
	ids, err := s.client.ZRange(ctx, s.pendingKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read pending order: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	raw, err := s.client.HMGet(ctx, s.actionsKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("read actions: %w", err)
	}

	actions := make([]model.PendingAction, 0, len(ids))
	var corrupt []string
	for i, v := range raw {
		str, ok := v.(string)
		if !ok {
			corrupt = append(corrupt, ids[i])
			continue
		}
		var a model.PendingAction
		if err := json.Unmarshal([]byte(str), &a); err != nil || !a.Kind.Valid() {
			corrupt = append(corrupt, ids[i])
			continue
		}
		actions = append(actions, a)
	}

	if len(corrupt) > 0 {
		s.logger.Error("dropping undecodable queue records", zap.Strings("action_ids", corrupt))
		_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			members := make([]any, len(corrupt))
			for i, id := range corrupt {
				members[i] = id
			}
			pipe.ZRem(ctx, s.pendingKey(), members...)
			pipe.HDel(ctx, s.actionsKey(), corrupt...)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("drop corrupt records: %w", err)
		}
	}
	return actions, nil
}

func (s *Store) DeleteAction(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZRem(ctx, s.pendingKey(), id)
		pipe.HDel(ctx, s.actionsKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete action: %w", err)
	}
	return nil
}

func (s *Store) getAction(ctx context.Context, c goredis.Cmdable, id string) (model.PendingAction, error) {
	str, err := c.HGet(ctx, s.actionsKey(), id).Result()
	if errors.Is(err, goredis.Nil) {
		return model.PendingAction{}, fmt.Errorf("action %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.PendingAction{}, fmt.Errorf("get action: %w", err)
	}
	var a model.PendingAction
	if err := json.Unmarshal([]byte(str), &a); err != nil {
		return model.PendingAction{}, fmt.Errorf("decode action %s: %w", id, err)
	}
	return a, nil
}

// watch runs fn under WATCH keys, retrying when another client touched them.
func (s *Store) watch(ctx context.Context, fn func(tx *goredis.Tx) error, keys ...string) error {
	var err error
	for i := 0; i < maxWatchRetries; i++ {
		err = s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, goredis.TxFailedErr) {
			return err
		}
	}
	return err
}

func (s *Store) UpdateRetry(ctx context.Context, id string, attempts int, next time.Time, lastError string) error {
	return s.watch(ctx, func(tx *goredis.Tx) error {
		a, err := s.getAction(ctx, tx, id)
		if err != nil {
			return err
		}
		a.Attempts = attempts
		a.NextAttemptAt = next
		a.LastError = lastError
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("marshal action: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, s.actionsKey(), id, data)
			return nil
		})
		return err
	}, s.actionsKey())
}

func (s *Store) MoveToDeadLetter(ctx context.Context, id, code, lastError string, at time.Time) (model.DeadLetter, error) {
	var dl model.DeadLetter
	err := s.watch(ctx, func(tx *goredis.Tx) error {
		if existing, err := tx.HGet(ctx, s.deadLettersKey(), id).Result(); err == nil {
			return json.Unmarshal([]byte(existing), &dl)
		}
		a, err := s.getAction(ctx, tx, id)
		if err != nil {
			return err
		}
		a.LastError = lastError
		dl = model.DeadLetter{Action: a, ErrorCode: code, LastError: lastError, DeadLetteredAt: at}
		data, err := json.Marshal(dl)
		if err != nil {
			return fmt.Errorf("marshal dead letter: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.ZRem(ctx, s.pendingKey(), id)
			pipe.HDel(ctx, s.actionsKey(), id)
			pipe.ZAdd(ctx, s.deadKey(), goredis.Z{Score: float64(a.Seq), Member: id})
			pipe.HSet(ctx, s.deadLettersKey(), id, data)
			return nil
		})
		return err
	}, s.actionsKey(), s.deadLettersKey())
	if err != nil {
		return model.DeadLetter{}, fmt.Errorf("dead-letter %s: %w", id, err)
	}
	return dl, nil
}

func (s *Store) ReadDeadLetters(ctx context.Context) ([]model.DeadLetter, error) {
	ids, err := s.client.ZRange(ctx, s.deadKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read dead-letter order: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	raw, err := s.client.HMGet(ctx, s.deadLettersKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("read dead letters: %w", err)
	}
	out := make([]model.DeadLetter, 0, len(ids))
	for i, v := range raw {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var dl model.DeadLetter
		if err := json.Unmarshal([]byte(str), &dl); err != nil {
			s.logger.Warn("skipping undecodable dead letter", zap.String("action_id", ids[i]), zap.Error(err))
			continue
		}
		out = append(out, dl)
	}
	return out, nil
}

func (s *Store) RequeueDeadLetter(ctx context.Context, id string, seq int64) (model.PendingAction, error) {
	var a model.PendingAction
	err := s.watch(ctx, func(tx *goredis.Tx) error {
		str, err := tx.HGet(ctx, s.deadLettersKey(), id).Result()
		if errors.Is(err, goredis.Nil) {
			return fmt.Errorf("dead letter %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return err
		}
		var dl model.DeadLetter
		if err := json.Unmarshal([]byte(str), &dl); err != nil {
			return fmt.Errorf("decode dead letter: %w", err)
		}
		a = dl.Action
		a.Seq = seq
		a.Attempts = 0
		a.NextAttemptAt = time.Time{}
		a.LastError = ""
		data, err := json.Marshal(a)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.ZRem(ctx, s.deadKey(), id)
			pipe.HDel(ctx, s.deadLettersKey(), id)
			pipe.HSet(ctx, s.actionsKey(), id, data)
			pipe.ZAdd(ctx, s.pendingKey(), goredis.Z{Score: float64(seq), Member: id})
			return nil
		})
		return err
	}, s.deadLettersKey(), s.actionsKey())
	if err != nil {
		return model.PendingAction{}, fmt.Errorf("requeue: %w", err)
	}
	return a, nil
}

// LastSeq returns the highest seq held in either set.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var last int64
	for _, key := range []string{s.pendingKey(), s.deadKey()} {
		top, err := s.client.ZRevRangeWithScores(ctx, key, 0, 0).Result()
		if err != nil {
			return 0, fmt.Errorf("last seq: %w", err)
		}
		if len(top) == 1 && int64(top[0].Score) > last {
			last = int64(top[0].Score)
		}
	}
	return last, nil
}

// Ping checks the Redis connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
