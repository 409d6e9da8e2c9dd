package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var start = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func TestFakeClock_Advance(t *testing.T) {
	c := NewFakeClock(start)
	assert.Equal(t, start, c.Now())

	assert.Equal(t, start.Add(90*time.Minute), c.Advance(90*time.Minute))
	assert.Equal(t, start.Add(90*time.Minute), c.Now())
}

func TestFakeClock_NeverMovesBackward(t *testing.T) {
	c := NewFakeClock(start)

	c.Advance(-time.Hour)
	assert.Equal(t, start, c.Now())

	c.Set(start.Add(-time.Minute))
	assert.Equal(t, start, c.Now())

	c.Set(start.Add(time.Minute))
	assert.Equal(t, start.Add(time.Minute), c.Now())
}

func TestFakeClock_NormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	c := NewFakeClock(start.In(loc))
	assert.Equal(t, time.UTC, c.Now().Location())
	assert.True(t, start.Equal(c.Now()))
}

func TestFakeClock_ThreadSafe(t *testing.T) {
	c := NewFakeClock(start)
	const goroutines = 50

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Advance(time.Second)
			_ = c.Now()
		}()
	}
	wg.Wait()

	assert.Equal(t, start.Add(goroutines*time.Second), c.Now())
}
