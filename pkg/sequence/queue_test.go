package sequence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue[int]()
	for i := range 5 {
		require.True(t, q.Push(i))
	}
	assert.Equal(t, 5, q.Len())

	for i := range 5 {
		v, err := q.Pop(context.Background())
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
	assert.Zero(t, q.Len())
}

func TestQueuePopReturnsItemAfterCancel(t *testing.T) {
	q := NewQueue[string]()
	q.Push("a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	_, err = q.Pop(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQueuePopWaitsForPush(t *testing.T) {
	q := NewQueue[int]()
	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Push(7)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestQueueCloseWakesAllWaiters(t *testing.T) {
	q := NewQueue[int]()
	errs := make(chan error, 3)
	for range 3 {
		go func() {
			_, err := q.Pop(context.Background())
			errs <- err
		}()
	}

	time.Sleep(20 * time.Millisecond)
	q.Close()
	q.Close()

	for range 3 {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, ErrQueueClosed)
		case <-time.After(time.Second):
			t.Fatal("waiter was not woken")
		}
	}
	assert.False(t, q.Push(1))
	assert.True(t, q.IsClosed())
}
