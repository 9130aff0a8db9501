package streamstore

import (
	"context"
	"errors"

	"github.com/arborstore/tfdb/internal/emitter"
	"github.com/arborstore/tfdb/internal/tferrors"
)

// LocalDispatcher implements emitter.Dispatcher directly against a local
// Store, giving the emitted-stream state machine an in-process wiring to
// drive without the out-of-scope TCP/HTTP transport.
type LocalDispatcher struct {
	store *Store
}

// NewLocalDispatcher wraps store as an emitter.Dispatcher.
func NewLocalDispatcher(store *Store) *LocalDispatcher {
	return &LocalDispatcher{store: store}
}

// ReadStreamEventsBackward resolves fromEventNumber == -1 to "from tail" by
// delegating to the stream index, which already treats a negative from as
// the tail per streamindex.Index.Backward.
func (d *LocalDispatcher) ReadStreamEventsBackward(_ context.Context, streamID string, fromEventNumber int64, maxCount int) (emitter.ReadCompleted, error) {
	events, next, isEnd := d.store.ReadStreamBackward(streamID, fromEventNumber, maxCount)
	out := make([]emitter.DispatchedEvent, len(events))
	for i, ev := range events {
		out[i] = emitter.DispatchedEvent{EventNumber: ev.EventNumber, EventType: ev.EventType, Metadata: ev.Metadata}
	}
	return emitter.ReadCompleted{Events: out, NextEventNumber: next, IsEndOfStream: isEnd}, nil
}

// WriteEvents translates an emitter write request into AppendToStream,
// mapping its sentinel error into the Result enum the emitter expects
// instead of propagating a Go error for the routine WrongExpectedVersion
// case.
func (d *LocalDispatcher) WriteEvents(_ context.Context, streamID string, expectedVersion int64, events []emitter.DispatchWrite) (emitter.WriteCompleted, error) {
	towrite := make([]EventToWrite, len(events))
	for i, ev := range events {
		towrite[i] = EventToWrite{EventID: ev.EventID, EventType: ev.EventType, Data: ev.Data, Metadata: ev.Metadata}
	}
	first, err := d.store.AppendToStream(streamID, expectedVersion, towrite)
	if err != nil {
		var wrong tferrors.WrongExpectedVersion
		if errors.As(err, &wrong) {
			return emitter.WriteCompleted{Result: emitter.WrongExpectedVer}, nil
		}
		return emitter.WriteCompleted{}, err
	}
	return emitter.WriteCompleted{Result: emitter.Success, FirstEventNumber: first}, nil
}
