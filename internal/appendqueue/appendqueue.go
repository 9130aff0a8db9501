// Package appendqueue is the client-facing bounded command queue sitting in
// front of stream appends. It mirrors executor/cache.go's TransactionPipe
// writeChannel, but where that channel is sized so deep that
// writers never observe backpressure, here the bound is deliberately small:
// enqueue cooperatively yields when the queue is full instead of buffering
// without limit.
package appendqueue

import (
	"context"

	"github.com/eapache/channels"

	"github.com/arborstore/tfdb/internal/tferrors"
)

// MaxQueueSize bounds how many outstanding append commands may wait for a
// writer goroutine to drain them.
const MaxQueueSize = 4096

// Command is one pending append request submitted by a caller.
type Command struct {
	StreamID        string
	ExpectedVersion int64
	Events          []EventToWrite
	Result          chan Result
}

// EventToWrite mirrors streamstore.EventToWrite without importing it, so
// this package stays usable by any future dispatcher implementation.
type EventToWrite struct {
	EventID   [16]byte
	EventType string
	Data      []byte
	Metadata  []byte
}

// Result is delivered back to the submitter once a Command drains.
type Result struct {
	FirstEventNumber int64
	Err              error
}

// Queue is a bounded, FIFO command queue. A single drain goroutine owns the
// consuming side; Enqueue may be called concurrently by any number of
// producers.
type Queue struct {
	ch channels.Channel
}

// New creates a queue bounded at MaxQueueSize.
func New() *Queue {
	return &Queue{ch: channels.NewNativeChannel(MaxQueueSize)}
}

// Enqueue blocks until the command is accepted or ctx is done. When the
// queue is full it cooperatively yields to the drain side rather than
// growing without bound, per the bounded-backpressure requirement.
func (q *Queue) Enqueue(ctx context.Context, cmd *Command) error {
	select {
	case q.ch.In() <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue blocks until a command is available or ctx is done. The drain
// loop is expected to call this in a single goroutine per queue.
func (q *Queue) Dequeue(ctx context.Context) (*Command, error) {
	select {
	case v, ok := <-q.ch.Out():
		if !ok {
			return nil, tferrors.InvalidOperation("queue closed")
		}
		return v.(*Command), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len reports the number of commands currently buffered.
func (q *Queue) Len() int {
	return q.ch.Len()
}

// Close closes the underlying channel. Commands already buffered are still
// returned by Dequeue; once they are drained, Dequeue returns a
// closed-queue error. Enqueue after Close panics (send on a closed
// channel).
func (q *Queue) Close() {
	q.ch.Close()
}
