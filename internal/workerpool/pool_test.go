package workerpool

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubmitRunsAllTasks(t *testing.T) {
	p := New(4)
	defer p.Shutdown()

	var counter atomic.Int64
	const n = 200
	for i := 0; i < n; i++ {
		p.Submit(func() { counter.Add(1) })
	}

	require.Eventually(t, func() bool {
		return counter.Load() == n
	}, time.Second, time.Millisecond)
}

func TestShutdownDrainsThenStops(t *testing.T) {
	p := New(2)
	var counter atomic.Int64
	for i := 0; i < 10; i++ {
		p.Submit(func() { counter.Add(1) })
	}
	p.Shutdown()
	require.EqualValues(t, 10, counter.Load())

	// Submit after shutdown must not panic or block.
	p.Submit(func() { counter.Add(1) })
	require.EqualValues(t, 10, counter.Load())
}
