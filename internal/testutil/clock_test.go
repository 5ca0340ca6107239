package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualClock_StartsAtEpoch(t *testing.T) {
	clock := NewManualClock(time.Time{})
	assert.Equal(t, Epoch, clock.Now())
	assert.Zero(t, clock.Elapsed())
}

func TestManualClock_Advance(t *testing.T) {
	clock := NewManualClock(time.Time{})

	clock.Advance(2 * time.Second)
	assert.Equal(t, Epoch.Add(2*time.Second), clock.Now())

	// Never goes backwards
	clock.Advance(-time.Hour)
	clock.Set(Epoch)
	assert.Equal(t, 2*time.Second, clock.Elapsed())

	clock.Reset()
	assert.Equal(t, Epoch, clock.Now())
}

func TestManualClock_ThreadSafe(t *testing.T) {
	clock := NewManualClock(time.Time{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clock.Advance(time.Millisecond)
			_ = clock.Now()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50*time.Millisecond, clock.Elapsed())
}

func TestFixedIDs_Sequence(t *testing.T) {
	ids := NewFixedIDs()
	assert.Equal(t, "00000000-0000-7000-8000-000000000001", ids.NewID())
	assert.Equal(t, "00000000-0000-7000-8000-000000000002", ids.NewID())

	ids.Reset()
	assert.Equal(t, "00000000-0000-7000-8000-000000000001", ids.NewID())
}

func TestFixedIDs_Unique(t *testing.T) {
	ids := NewFixedIDs()
	seen := make(map[string]bool)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id := ids.NewID()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 1000)
}
