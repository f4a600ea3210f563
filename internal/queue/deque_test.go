package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCapacityNeverExceeded(t *testing.T) {
	d := New[int](4)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			_ = d.PushBack(v)
		}(i)
	}

	time.Sleep(10 * time.Millisecond)
	require.LessOrEqual(t, d.Len(), d.Cap())

	for i := 0; i < 10; i++ {
		d.Pop()
	}
	wg.Wait()
}

func TestCloseWakesWaitersImmediately(t *testing.T) {
	d := New[int](1)
	done := make(chan struct{})
	go func() {
		_, ok := d.Pop()
		require.False(t, ok)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	d.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Pop did not unblock after Close")
	}
}

func TestCloseRefusesPush(t *testing.T) {
	d := New[int](4)
	d.Close()
	err := d.PushBack(1)
	require.Error(t, err)
}

func TestPopTimeout(t *testing.T) {
	d := New[int](1)
	start := time.Now()
	_, ok := d.PopTimeout(20 * time.Millisecond)
	require.False(t, ok)
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestFIFOOrder(t *testing.T) {
	d := New[int](8)
	for i := 0; i < 5; i++ {
		require.NoError(t, d.PushBack(i))
	}
	for i := 0; i < 5; i++ {
		v, ok := d.Pop()
		require.True(t, ok)
		require.Equal(t, i, v)
	}
}
