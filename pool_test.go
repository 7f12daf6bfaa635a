package stomp

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerPoolRunsSubmittedTasks(t *testing.T) {
	p := newHandlerPool(1, 2)
	defer p.Close(time.Second)

	var n int32
	var wg sync.WaitGroup
	wg.Add(5)
	for i := 0; i < 5; i++ {
		require.True(t, p.Submit(func() {
			atomic.AddInt32(&n, 1)
			wg.Done()
		}))
	}
	wg.Wait()
	assert.EqualValues(t, 5, atomic.LoadInt32(&n))
}

func TestHandlerPoolRecoversFromPanic(t *testing.T) {
	p := newHandlerPool(1, 1)
	defer p.Close(time.Second)

	done := make(chan struct{})
	require.True(t, p.Submit(func() { panic("boom") }))
	require.True(t, p.Submit(func() { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pool did not recover from a panicking task")
	}
}

func TestHandlerPoolCloseWaitsForInFlightTasks(t *testing.T) {
	p := newHandlerPool(1, 1)
	started := make(chan struct{})
	release := make(chan struct{})
	require.True(t, p.Submit(func() {
		close(started)
		<-release
	}))
	<-started
	close(release)
	assert.True(t, p.Close(time.Second))
}

func TestHandlerPoolDefaultsSizingWhenZero(t *testing.T) {
	p := newHandlerPool(0, 0)
	defer p.Close(time.Second)
	assert.Positive(t, p.maxWorkers)
	assert.LessOrEqual(t, p.minWorkers, p.maxWorkers)
}
