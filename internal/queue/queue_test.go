package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/mockupdb/mockupdb/internal/message"
	"github.com/mockupdb/mockupdb/internal/queue"
	"github.com/stretchr/testify/require"
)

func TestPeekThenGetReturnsSameItem(t *testing.T) {
	q := queue.New()
	req := &message.Request{Kind: message.KindCommand}
	q.Put(req)

	ctx := context.Background()
	first, err := q.Peek(ctx)
	require.NoError(t, err)
	second, err := q.Peek(ctx)
	require.NoError(t, err)
	third, err := q.Get(ctx)
	require.NoError(t, err)

	require.Same(t, req, first)
	require.Same(t, req, second)
	require.Same(t, req, third)
	require.Equal(t, 0, q.Len())
}

func TestGetBlocksUntilPut(t *testing.T) {
	q := queue.New()
	req := &message.Request{Kind: message.KindCommand}

	done := make(chan *message.Request, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		got, err := q.Get(ctx)
		require.NoError(t, err)
		done <- got
	}()

	time.Sleep(20 * time.Millisecond)
	q.Put(req)

	select {
	case got := <-done:
		require.Same(t, req, got)
	case <-time.After(time.Second):
		t.Fatal("Get did not unblock after Put")
	}
}

func TestGetTimesOut(t *testing.T) {
	q := queue.New()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := q.Get(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFIFOOrder(t *testing.T) {
	q := queue.New()
	first := &message.Request{Kind: message.KindCommand}
	second := &message.Request{Kind: message.KindQuery}
	q.Put(first)
	q.Put(second)

	ctx := context.Background()
	got1, err := q.Get(ctx)
	require.NoError(t, err)
	got2, err := q.Get(ctx)
	require.NoError(t, err)

	require.Same(t, first, got1)
	require.Same(t, second, got2)
}
