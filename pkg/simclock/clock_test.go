package simclock

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSleepUntilAdvancesTime(t *testing.T) {
	c := New()
	c.RegisterActor()
	defer c.UnregisterActor()

	require.Equal(t, Time(0), c.Now())
	err := c.SleepUntil(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, Time(5), c.Now())
}

func TestSleepPastIsNoOp(t *testing.T) {
	c := New()
	c.RegisterActor()
	defer c.UnregisterActor()

	require.NoError(t, c.SleepUntil(context.Background(), -1))
	assert.Equal(t, Time(0), c.Now())
}

// TestConcurrentActorsAdvanceInLockstep exercises the quiescence rule: the
// clock must not advance past the earliest pending wakeup while any actor
// is still running (not yet blocked).
func TestConcurrentActorsAdvanceInLockstep(t *testing.T) {
	c := New()
	const n = 5
	var wg sync.WaitGroup
	order := make([]int, 0, n)
	var mu sync.Mutex

	for i := 0; i < n; i++ {
		c.RegisterActor()
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer c.UnregisterActor()
			// Later-indexed actors sleep longer, so completion order should
			// match registration order (ties broken by registration/seq).
			require.NoError(t, c.SleepUntil(context.Background(), Time(i+1)))
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, Time(n), c.Now())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestSleepUntilCanceledByContext(t *testing.T) {
	c := New()
	c.RegisterActor() // the sleeper
	defer c.UnregisterActor()
	c.RegisterActor() // a second, perpetually-live actor: keeps the clock
	defer c.UnregisterActor() // from advancing to 100 on its own

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.SleepUntil(ctx, 100)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Time(0), c.Now())
}
