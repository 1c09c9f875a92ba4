package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestMemory() (*Memory, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	m := NewMemory()
	m.now = clock.now
	return m, clock
}

func TestMemoryAllowsUpToMax(t *testing.T) {
	m, _ := newTestMemory()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := m.Allow(ctx, "tts:203.0.113.9", time.Minute, 3)
		require.NoError(t, err)
		assert.True(t, ok, "call %d", i+1)
	}

	ok, err := m.Allow(ctx, "tts:203.0.113.9", time.Minute, 3)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryWindowSlides(t *testing.T) {
	m, clock := newTestMemory()
	ctx := context.Background()

	ok, _ := m.Allow(ctx, "k", time.Minute, 2)
	assert.True(t, ok)
	clock.advance(30 * time.Second)
	ok, _ = m.Allow(ctx, "k", time.Minute, 2)
	assert.True(t, ok)
	ok, _ = m.Allow(ctx, "k", time.Minute, 2)
	assert.False(t, ok)

	// The first call leaves the window exactly 60s after it was made
	clock.advance(30 * time.Second)
	ok, _ = m.Allow(ctx, "k", time.Minute, 2)
	assert.True(t, ok)
	ok, _ = m.Allow(ctx, "k", time.Minute, 2)
	assert.False(t, ok)
}

func TestMemoryRejectedCallsAreNotRecorded(t *testing.T) {
	m, clock := newTestMemory()
	ctx := context.Background()

	ok, _ := m.Allow(ctx, "k", time.Minute, 1)
	assert.True(t, ok)
	for i := 0; i < 10; i++ {
		clock.advance(time.Second)
		ok, _ = m.Allow(ctx, "k", time.Minute, 1)
		assert.False(t, ok)
	}

	clock.advance(50 * time.Second)
	ok, _ = m.Allow(ctx, "k", time.Minute, 1)
	assert.True(t, ok)
}

func TestMemoryKeysAreIndependent(t *testing.T) {
	m, _ := newTestMemory()
	ctx := context.Background()

	ok, _ := m.Allow(ctx, "llm:1.1.1.1", time.Minute, 1)
	assert.True(t, ok)
	ok, _ = m.Allow(ctx, "tts:1.1.1.1", time.Minute, 1)
	assert.True(t, ok)
	ok, _ = m.Allow(ctx, "llm:2.2.2.2", time.Minute, 1)
	assert.True(t, ok)
	ok, _ = m.Allow(ctx, "llm:1.1.1.1", time.Minute, 1)
	assert.False(t, ok)
}

func TestMemoryNonPositiveMaxDenies(t *testing.T) {
	m, _ := newTestMemory()

	ok, err := m.Allow(context.Background(), "k", time.Minute, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryGCEvictsIdleKeys(t *testing.T) {
	m, clock := newTestMemory()
	ctx := context.Background()

	_, _ = m.Allow(ctx, "old", time.Minute, 5)
	clock.advance(2 * time.Minute)

	m.mu.Lock()
	m.lookups = gcEvery - 1
	m.mu.Unlock()

	_, _ = m.Allow(ctx, "new", time.Minute, 5)
	assert.Equal(t, 1, m.Size())
}

func TestMemoryConcurrentCallersNeverExceedMax(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := m.Allow(ctx, "shared", time.Minute, 10); ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, allowed)
}

func TestPrune(t *testing.T) {
	base := time.Unix(1000, 0)
	stamps := make([]time.Time, 0, 5)
	for i := 0; i < 5; i++ {
		stamps = append(stamps, base.Add(time.Duration(i)*time.Second))
	}

	got := prune(stamps, base.Add(2*time.Second))
	require.Len(t, got, 2)
	assert.Equal(t, base.Add(3*time.Second), got[0], fmt.Sprint(got))
}
