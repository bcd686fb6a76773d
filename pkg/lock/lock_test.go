package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "workflow:wf-1", WorkflowKey("wf-1"))
	assert.Equal(t, "run:run-1", RunKey("run-1"))
}

func TestLocal_MutualExclusion(t *testing.T) {
	locker := NewLocal()
	ctx := t.Context()

	var (
		wg      sync.WaitGroup
		holders atomic.Int32
		maxSeen atomic.Int32
	)

	for range 20 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			unlock, err := locker.Lock(ctx, "run:1")
			assert.NoError(t, err)

			current := holders.Add(1)
			if current > maxSeen.Load() {
				maxSeen.Store(current)
			}

			time.Sleep(time.Millisecond)
			holders.Add(-1)
			unlock()
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(1), maxSeen.Load())
	assert.Empty(t, locker.entries)
}

func TestLocal_IndependentKeys(t *testing.T) {
	locker := NewLocal()
	ctx := t.Context()

	unlockA, err := locker.Lock(ctx, "run:a")
	require.NoError(t, err)

	defer unlockA()

	unlockB, err := locker.Lock(ctx, "run:b")
	require.NoError(t, err)
	unlockB()
}

func TestLocal_ContextCancelled(t *testing.T) {
	locker := NewLocal()

	unlock, err := locker.Lock(t.Context(), "workflow:1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	_, err = locker.Lock(ctx, "workflow:1")
	require.ErrorIs(t, err, ErrLockTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()

	again, err := locker.Lock(t.Context(), "workflow:1")
	require.NoError(t, err)
	again()
}
