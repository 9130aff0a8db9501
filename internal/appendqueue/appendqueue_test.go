package appendqueue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arborstore/tfdb/internal/appendqueue"
)

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	q := appendqueue.New()
	ctx := context.Background()

	cmd := &appendqueue.Command{StreamID: "orders-1", ExpectedVersion: -2}
	require.NoError(t, q.Enqueue(ctx, cmd))
	require.Equal(t, 1, q.Len())

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Same(t, cmd, got)
	require.Equal(t, 0, q.Len())
}

func TestEnqueueRespectsContextCancellation(t *testing.T) {
	q := appendqueue.New()
	for i := 0; i < appendqueue.MaxQueueSize; i++ {
		require.NoError(t, q.Enqueue(context.Background(), &appendqueue.Command{StreamID: "s"}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Enqueue(ctx, &appendqueue.Command{StreamID: "overflow"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDequeueRespectsContextCancellation(t *testing.T) {
	q := appendqueue.New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseUnblocksDequeue(t *testing.T) {
	q := appendqueue.New()
	q.Close()

	_, err := q.Dequeue(context.Background())
	require.Error(t, err)
}

func TestResultDeliveredThroughCommandChannel(t *testing.T) {
	q := appendqueue.New()
	ctx := context.Background()

	resultCh := make(chan appendqueue.Result, 1)
	require.NoError(t, q.Enqueue(ctx, &appendqueue.Command{StreamID: "s", Result: resultCh}))

	cmd, err := q.Dequeue(ctx)
	require.NoError(t, err)
	cmd.Result <- appendqueue.Result{FirstEventNumber: 3}

	res := <-resultCh
	require.Equal(t, int64(3), res.FirstEventNumber)
	require.NoError(t, res.Err)
}
