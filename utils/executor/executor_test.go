package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutor_runsTasks(t *testing.T) {
	e := New("test", 2)
	var n atomic.Int32
	for i := 0; i < 50; i++ {
		require.True(t, e.Execute(func() { n.Add(1) }))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Await(ctx))
	assert.Equal(t, int32(50), n.Load())
	assert.Zero(t, e.Pending())
}

func TestExecutor_boundsConcurrency(t *testing.T) {
	e := New("test", 2)
	var running, peak atomic.Int32
	for i := 0; i < 10; i++ {
		e.Execute(func() {
			cur := running.Add(1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Shutdown(ctx))
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestExecutor_rejectsAfterShutdown(t *testing.T) {
	e := New("test", 1)
	require.NoError(t, e.Shutdown(context.Background()))
	assert.False(t, e.IsAcceptingTasks())
	assert.False(t, e.Execute(func() {}))
}

func TestExecutor_recoversPanic(t *testing.T) {
	e := New("test", 1)
	e.Execute(func() { panic("boom") })

	var ran atomic.Bool
	e.Execute(func() { ran.Store(true) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Await(ctx))
	assert.True(t, ran.Load())
}

func TestExecutor_awaitTimeout(t *testing.T) {
	e := New("test", 1)
	release := make(chan struct{})
	e.Execute(func() { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, e.Shutdown(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, e.Await(context.Background()))
}

func TestExecutor_singleWorkerKeepsOrder(t *testing.T) {
	e := New("test", 1)

	var mu sync.Mutex
	var got []int
	for i := 0; i < 200; i++ {
		i := i
		require.True(t, e.Execute(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Shutdown(ctx))

	require.Len(t, got, 200)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestExecutor_shutdownRunsQueuedTasks(t *testing.T) {
	e := New("test", 1)
	release := make(chan struct{})
	e.Execute(func() { <-release })

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		e.Execute(func() { ran.Add(1) })
	}
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Shutdown(ctx))
	assert.Equal(t, int32(5), ran.Load())
	assert.False(t, e.Execute(func() {}))
}
