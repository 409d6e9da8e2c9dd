package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/AakashB275/BrandModel/internal/model"
)

func TestAnalytics_BufferTrimsOldest(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	var dropped int64
	for i := 1; i <= 5; i++ {
		ev := model.AnalyticsEvent{
			ID:         fmt.Sprintf("ev-%d", i),
			Name:       "swipe",
			Properties: map[string]any{"n": i},
			RecordedAt: testEpoch,
		}
		n, err := s.AppendAnalytics(ctx, ev, int64(i), 3)
		if err != nil {
			t.Fatalf("AppendAnalytics(%d) failed: %v", i, err)
		}
		dropped += n
	}
	if dropped != 2 {
		t.Errorf("dropped = %d, want 2", dropped)
	}

	events, err := s.ReadAnalytics(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 || events[0].ID != "ev-3" || events[2].ID != "ev-5" {
		t.Fatalf("unexpected buffer: %+v", events)
	}
	if events[0].Properties["n"] != float64(3) {
		t.Errorf("properties not round-tripped: %+v", events[0].Properties)
	}

	limited, err := s.ReadAnalytics(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Errorf("limit ignored: got %d", len(limited))
	}

	if err := s.DeleteAnalytics(ctx, []string{"ev-3", "ev-4"}); err != nil {
		t.Fatal(err)
	}
	n, _ := s.CountAnalytics(ctx)
	if n != 1 {
		t.Errorf("count after delete = %d, want 1", n)
	}
	seq, _ := s.LastAnalyticsSeq(ctx)
	if seq != 5 {
		t.Errorf("LastAnalyticsSeq() = %d, want 5", seq)
	}
}
