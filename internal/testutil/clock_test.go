package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimClock_TickAdvancesByStep(t *testing.T) {
	clock := NewSimClock(100, 10)
	assert.Equal(t, int64(100), clock.Now())

	assert.Equal(t, int64(110), clock.Tick())
	assert.Equal(t, int64(120), clock.Tick())
	assert.Equal(t, int64(120), clock.Now())
}

func TestSimClock_DefaultStep(t *testing.T) {
	clock := NewSimClock(0, 0)
	assert.Equal(t, int64(1), clock.Tick())
	assert.Equal(t, int64(2), clock.Tick())
}

func TestSimClock_Reset(t *testing.T) {
	clock := NewSimClock(0, 1)
	clock.Tick()
	clock.Tick()

	clock.Reset(0)
	assert.Equal(t, int64(0), clock.Now())
	assert.Equal(t, int64(1), clock.Tick())
}

func TestSimClock_ThreadSafe(t *testing.T) {
	clock := NewSimClock(0, 1)
	const workers = 50
	const ticks = 100

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[int64]bool, workers*ticks)

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < ticks; j++ {
				v := clock.Tick()
				mu.Lock()
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, workers*ticks)
	assert.Equal(t, int64(workers*ticks), clock.Now())
}
