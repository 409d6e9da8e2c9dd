package kvstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"

	"github.com/AakashB275/BrandModel/internal/model"
	"github.com/AakashB275/BrandModel/internal/queue"
)

func newMiniRedisStore(t *testing.T) (*miniredis.Miniredis, *Store) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	s := New(client, "test", zaptest.NewLogger(t))
	t.Cleanup(func() { _ = s.Close() })
	return mr, s
}

var _ queue.Storage = (*Store)(nil)

func TestStore_QueueRoundTrip(t *testing.T) {
	_, s := newMiniRedisStore(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	q, err := queue.New(ctx, s, queue.WithNow(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("queue.New: %v", err)
	}

	first, err := q.Enqueue(ctx, model.KindSendMessage, model.MessagePayload{MatchID: "m1", SenderID: "u1", Text: "one"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	second, err := q.Enqueue(ctx, model.KindSendMessage, model.MessagePayload{MatchID: "m1", SenderID: "u1", Text: "two"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	actions, err := q.Drainable(ctx)
	if err != nil {
		t.Fatalf("drainable: %v", err)
	}
	if len(actions) != 2 || actions[0].ID != first.ID || actions[1].ID != second.ID {
		t.Fatalf("unexpected order: %+v", actions)
	}

	if err := q.MarkFailed(ctx, first.ID, 1, now.Add(2*time.Second), "timeout"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	dl, err := q.MoveToDeadLetter(ctx, first.ID, "PERMANENT", "gone")
	if err != nil {
		t.Fatalf("dead-letter: %v", err)
	}
	if dl.Action.Attempts != 1 || dl.ErrorCode != "PERMANENT" {
		t.Fatalf("unexpected dead letter: %+v", dl)
	}

	actions, _ = q.Drainable(ctx)
	if len(actions) != 1 || actions[0].ID != second.ID {
		t.Fatalf("dead letter still pending: %+v", actions)
	}

	if err := q.Remove(ctx, second.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}

	// A new Queue over the same keys resumes the clock past the dead letter.
	q2, err := queue.New(ctx, s)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	third, err := q2.Enqueue(ctx, model.KindRecordLike, model.LikePayload{ActorID: "u1", TargetID: "u2"})
	if err != nil {
		t.Fatalf("enqueue after reopen: %v", err)
	}
	if third.Seq <= second.Seq {
		t.Fatalf("seq went backwards: %d <= %d", third.Seq, second.Seq)
	}

	requeued, err := q2.RequeueDeadLetter(ctx, first.ID)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if requeued.Seq <= third.Seq || requeued.Attempts != 0 {
		t.Fatalf("requeue did not move to tail: %+v", requeued)
	}
	dls, _ := q2.DeadLetters(ctx)
	if len(dls) != 0 {
		t.Fatalf("dead letter not cleared: %+v", dls)
	}
}

func TestStore_DropsUndecodableRecords(t *testing.T) {
	mr, s := newMiniRedisStore(t)
	ctx := context.Background()

	if _, err := mr.ZAdd("test:pending", 1, "bad"); err != nil {
		t.Fatal(err)
	}
	mr.HSet("test:actions", "bad", "{not json")

	actions, err := s.ReadActions(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(actions) != 0 {
		t.Fatalf("expected empty queue, got %+v", actions)
	}
	if mr.Exists("test:actions") {
		t.Fatalf("corrupt record was not removed")
	}
}

func TestStore_UnknownIDs(t *testing.T) {
	_, s := newMiniRedisStore(t)
	ctx := context.Background()

	if err := s.UpdateRetry(ctx, "nope", 1, time.Now(), "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateRetry(unknown) = %v", err)
	}
	if _, err := s.MoveToDeadLetter(ctx, "nope", "PERMANENT", "x", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("MoveToDeadLetter(unknown) = %v", err)
	}
	if _, err := s.RequeueDeadLetter(ctx, "nope", 5); !errors.Is(err, ErrNotFound) {
		t.Fatalf("RequeueDeadLetter(unknown) = %v", err)
	}
}
