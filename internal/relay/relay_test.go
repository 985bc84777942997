package relay

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelay_DropsNewestWhenFull(t *testing.T) {
	r := New[int](5)

	accepted := 0
	for i := 0; i < 10; i++ {
		if r.Push(i) {
			accepted++
		}
	}

	assert.Equal(t, 5, accepted)
	assert.Equal(t, 5, r.Len())

	s := r.Stats()
	assert.Equal(t, uint64(5), s.Pushed)
	assert.Equal(t, uint64(5), s.Dropped)
	assert.Equal(t, 5, s.HighWater)

	// The oldest five survive in order.
	for want := 0; want < 5; want++ {
		got, ok := r.Pop()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, 0, r.Len())
}

func TestRelay_CapacityClamp(t *testing.T) {
	t.Parallel()
	for _, c := range []int{-3, 0, 1} {
		r := New[string](c)
		assert.Equal(t, 1, r.Cap())
		assert.True(t, r.Push("a"))
		assert.False(t, r.Push("b"))
	}
}

func TestRelay_FIFOAcrossWrap(t *testing.T) {
	r := New[int](3)
	next := 0
	for round := 0; round < 10; round++ {
		for r.Push(next) {
			next++
		}
		v, ok := r.Pop()
		require.True(t, ok)
		assert.Equal(t, next-3, v)
		assert.LessOrEqual(t, r.Len(), r.Cap())
	}
}

func TestRelay_PopBlocksUntilPush(t *testing.T) {
	r := New[int](2)
	got := make(chan int, 1)

	go func() {
		v, ok := r.Pop()
		if ok {
			got <- v
		}
	}()

	select {
	case <-got:
		t.Fatal("Pop returned before anything was pushed")
	case <-time.After(20 * time.Millisecond):
	}

	require.True(t, r.Push(42))
	select {
	case v := <-got:
		assert.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake after Push")
	}
}

func TestRelay_CloseWakesConsumers(t *testing.T) {
	r := New[int](2)

	var wg sync.WaitGroup
	results := make(chan bool, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := r.Pop()
			results <- ok
		}()
	}

	time.Sleep(10 * time.Millisecond)
	r.Close()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not wake blocked Pop calls")
	}

	close(results)
	for ok := range results {
		assert.False(t, ok)
	}
}

func TestRelay_CloseDiscardsQueuedAndRejectsPush(t *testing.T) {
	r := New[int](4)
	r.Push(1)
	r.Push(2)

	r.Close()
	r.Close() // idempotent

	_, ok := r.Pop()
	assert.False(t, ok)
	assert.False(t, r.Push(3))

	_, ok, err := r.TryPop()
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrClosed)

	s := r.Stats()
	assert.True(t, s.Closed)
	assert.Equal(t, uint64(2), s.Discarded)
	assert.Equal(t, uint64(1), s.Rejected)
	assert.Equal(t, 0, s.Len)
}

func TestRelay_TryPop(t *testing.T) {
	r := New[int](2)

	_, ok, err := r.TryPop()
	require.NoError(t, err)
	assert.False(t, ok)

	r.Push(9)
	v, ok, err := r.TryPop()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 9, v)
}

func TestRelay_ProducerNeverBlocks(t *testing.T) {
	r := New[int](1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			r.Push(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("producer blocked on a full relay")
	}
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, uint64(9999), r.Stats().Dropped)
}

func TestRelay_ConcurrentProducerConsumer(t *testing.T) {
	r := New[int](DefaultCapacity)

	var consumed []int
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		for {
			v, ok := r.Pop()
			if !ok {
				return
			}
			consumed = append(consumed, v)
		}
	}()

	for i := 0; i < 1000; i++ {
		r.Push(i)
		assert.LessOrEqual(t, r.Len(), DefaultCapacity)
	}
	// Let the consumer drain before closing.
	require.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, time.Millisecond)
	r.Close()
	<-consumerDone

	for i := 1; i < len(consumed); i++ {
		assert.Less(t, consumed[i-1], consumed[i], "items must stay in push order")
	}
	s := r.Stats()
	assert.Equal(t, s.Pushed, s.Popped)
	assert.Equal(t, uint64(1000), s.Pushed+s.Dropped)
}
