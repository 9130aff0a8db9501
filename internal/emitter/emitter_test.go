package emitter_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/arborstore/tfdb/internal/emitter"
	"github.com/arborstore/tfdb/internal/tferrors"
	"github.com/arborstore/tfdb/internal/wire"
)

// fakeDispatcher is an in-memory Dispatcher backed by a single slice acting
// as one target stream's committed events.
type fakeDispatcher struct {
	events []emitter.DispatchedEvent
	fail   error
	// failWrites, when > 0, makes WriteEvents return fail that many times
	// before succeeding, modeling a transient timeout that clears on retry.
	failWrites int
}

func (f *fakeDispatcher) ReadStreamEventsBackward(_ context.Context, _ string, from int64, maxCount int) (emitter.ReadCompleted, error) {
	// A pending transient write failure (failWrites > 0) does not affect reads.
	if f.fail != nil && f.failWrites == 0 {
		return emitter.ReadCompleted{}, f.fail
	}
	if len(f.events) == 0 {
		return emitter.ReadCompleted{IsEndOfStream: true, NextEventNumber: -1}, nil
	}
	start := len(f.events) - 1
	if from >= 0 {
		for start >= 0 && f.events[start].EventNumber > from {
			start--
		}
	}
	var out []emitter.DispatchedEvent
	i := start
	for i >= 0 && len(out) < maxCount {
		out = append(out, f.events[i])
		i--
	}
	return emitter.ReadCompleted{Events: out, NextEventNumber: int64(i), IsEndOfStream: i < 0}, nil
}

func (f *fakeDispatcher) WriteEvents(_ context.Context, _ string, expected int64, events []emitter.DispatchWrite) (emitter.WriteCompleted, error) {
	if f.failWrites > 0 {
		f.failWrites--
		return emitter.WriteCompleted{}, f.fail
	}
	last := int64(-1)
	if len(f.events) > 0 {
		last = f.events[len(f.events)-1].EventNumber
	}
	if expected != -2 && expected != last {
		return emitter.WriteCompleted{Result: emitter.WrongExpectedVer}, nil
	}
	num := last + 1
	for _, e := range events {
		f.events = append(f.events, emitter.DispatchedEvent{EventNumber: num, EventType: e.EventType, Metadata: e.Metadata})
		num++
	}
	return emitter.WriteCompleted{Result: emitter.Success, FirstEventNumber: last + 1}, nil
}

// fakeSupervisor records the last restart/fail signal it received.
type fakeSupervisor struct {
	restarted bool
	failed    bool
	reason    error
}

func (s *fakeSupervisor) RequestRestart(_ string, reason error) { s.restarted = true; s.reason = reason }
func (s *fakeSupervisor) Fail(_ string, reason error)           { s.failed = true; s.reason = reason }

func projVersion(id string, epoch, version int64) wire.ProjectionVersion {
	return wire.ProjectionVersion{ProjectionID: id, Epoch: epoch, Version: version}
}

func TestStartTransitionsFromCreated(t *testing.T) {
	e := emitter.New("totals", projVersion("totals", 0, 0), "totals-1", &fakeDispatcher{}, &fakeSupervisor{})
	require.Equal(t, emitter.Created, e.State())
	require.NoError(t, e.Start())
	require.Equal(t, emitter.Started, e.State())
	require.Error(t, e.Start(), "starting twice must fail")
}

func TestEmitAndDrainWritesToFreshStream(t *testing.T) {
	disp := &fakeDispatcher{}
	sup := &fakeSupervisor{}
	e := emitter.New("totals", projVersion("totals", 0, 0), "totals-1", disp, sup)
	require.NoError(t, e.Start())

	tag := wire.CheckpointTag{Source: "orders", Sequence: 1}
	var committed int64 = -1
	batch := []*emitter.EmittedEvent{{
		StreamID:    "totals-1",
		EventID:     uuid.New(),
		EventType:   "TotalUpdated",
		Payload:     []byte("1"),
		CausedByTag: tag,
		OnCommitted: func(n int64) { committed = n },
	}}
	require.NoError(t, e.EmitEvents(batch))

	e.Drain(context.Background())

	require.False(t, sup.restarted)
	require.False(t, sup.failed)
	require.Equal(t, int64(1), committed, "a stream-created marker is assumed at position 0")
	require.Len(t, disp.events, 1)
	require.Equal(t, emitter.Started, e.State())
}

func TestEmitRejectsNonIncreasingTag(t *testing.T) {
	disp := &fakeDispatcher{}
	e := emitter.New("totals", projVersion("totals", 0, 0), "totals-1", disp, &fakeSupervisor{})
	require.NoError(t, e.Start())

	tag := wire.CheckpointTag{Sequence: 5}
	batch := func() []*emitter.EmittedEvent {
		return []*emitter.EmittedEvent{{StreamID: "totals-1", EventID: uuid.New(), EventType: "x", CausedByTag: tag}}
	}
	require.NoError(t, e.EmitEvents(batch()))
	e.Drain(context.Background())

	require.Error(t, e.EmitEvents(batch()), "a tag that does not exceed the last accepted tag must be rejected")
}

func TestRecoveryDedupsAlreadyCommittedEvent(t *testing.T) {
	tag := wire.CheckpointTag{Source: "orders", Sequence: 1}
	meta, err := wire.Encode(wire.Metadata{Tag: tag, Projection: projVersion("totals", 0, 0)})
	require.NoError(t, err)

	disp := &fakeDispatcher{events: []emitter.DispatchedEvent{{EventNumber: 0, EventType: "TotalUpdated", Metadata: meta}}}
	sup := &fakeSupervisor{}
	e := emitter.New("totals", projVersion("totals", 0, 0), "totals-1", disp, sup)
	require.NoError(t, e.Start())

	var committed int64 = -1
	batch := []*emitter.EmittedEvent{{
		StreamID:    "totals-1",
		EventID:     uuid.New(),
		EventType:   "TotalUpdated",
		CausedByTag: tag,
		OnCommitted: func(n int64) { committed = n },
	}}
	require.NoError(t, e.EmitEvents(batch))
	e.Drain(context.Background())

	require.False(t, sup.failed)
	require.Equal(t, int64(0), committed)
	require.Len(t, disp.events, 1, "the already-committed event must not be rewritten")
}

func TestRecoveryFailsOnCrossProjectionStream(t *testing.T) {
	meta, err := wire.Encode(wire.Metadata{
		Tag:        wire.CheckpointTag{Sequence: 1},
		Projection: projVersion("other-projection", 0, 0),
	})
	require.NoError(t, err)

	disp := &fakeDispatcher{events: []emitter.DispatchedEvent{{EventNumber: 0, EventType: "X", Metadata: meta}}}
	sup := &fakeSupervisor{}
	e := emitter.New("totals", projVersion("totals", 0, 0), "totals-1", disp, sup)
	require.NoError(t, e.Start())

	batch := []*emitter.EmittedEvent{{StreamID: "totals-1", EventID: uuid.New(), EventType: "X", CausedByTag: wire.CheckpointTag{Sequence: 1}}}
	require.NoError(t, e.EmitEvents(batch))
	e.Drain(context.Background())

	require.True(t, sup.failed)
	require.Equal(t, emitter.Disposed, e.State())
}

func TestWriteRequestsRestartOnExpectedTagMismatch(t *testing.T) {
	disp := &fakeDispatcher{}
	sup := &fakeSupervisor{}
	e := emitter.New("totals", projVersion("totals", 0, 0), "totals-1", disp, sup)
	require.NoError(t, e.Start())

	stale := wire.CheckpointTag{Sequence: 99}
	batch := []*emitter.EmittedEvent{{
		StreamID:    "totals-1",
		EventID:     uuid.New(),
		EventType:   "X",
		CausedByTag: wire.CheckpointTag{Sequence: 1},
		ExpectedTag: &stale,
	}}
	require.NoError(t, e.EmitEvents(batch))
	e.Drain(context.Background())

	require.True(t, sup.restarted)
	require.Equal(t, emitter.Disposed, e.State())
}

func TestFlushRetriesOnTransientTimeoutThenSucceeds(t *testing.T) {
	disp := &fakeDispatcher{fail: tferrors.PrepareTimeout, failWrites: 1}
	sup := &fakeSupervisor{}
	e := emitter.New("totals", projVersion("totals", 0, 0), "totals-1", disp, sup)
	require.NoError(t, e.Start())

	batch := []*emitter.EmittedEvent{{StreamID: "totals-1", EventID: uuid.New(), EventType: "X", CausedByTag: wire.CheckpointTag{Sequence: 1}}}
	require.NoError(t, e.EmitEvents(batch))

	e.Drain(context.Background())
	require.False(t, sup.failed)
	require.False(t, sup.restarted)
	require.Equal(t, emitter.Writing, e.State(), "a transient timeout must leave the emitter mid-write, ready to retry")
	require.Empty(t, disp.events)

	e.Drain(context.Background())
	require.Equal(t, emitter.Started, e.State())
	require.Len(t, disp.events, 1)
}

func TestRequestCheckpointBlocksFurtherEmits(t *testing.T) {
	e := emitter.New("totals", projVersion("totals", 0, 0), "totals-1", &fakeDispatcher{}, &fakeSupervisor{})
	require.NoError(t, e.Start())
	require.NoError(t, e.RequestCheckpoint())
	require.Equal(t, emitter.CheckpointRequested, e.State())

	batch := []*emitter.EmittedEvent{{StreamID: "totals-1", EventID: uuid.New(), EventType: "X", CausedByTag: wire.CheckpointTag{Sequence: 1}}}
	require.Error(t, e.EmitEvents(batch))
}
