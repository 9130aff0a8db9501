// Package emitter is the single-writer sink that projects derived events
// into one target stream with exactly-once-at-recovery semantics. Its
// state machine and one-way shutdown latch mirror executor/wal.go's
// WALFileType: a shutdownPending flag checked by the drain loop and a
// TriggerShutdown/FinishAndWait pair that never reverses once tripped.
package emitter

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/arborstore/tfdb/internal/log"
	"github.com/arborstore/tfdb/internal/tferrors"
	"github.com/arborstore/tfdb/internal/wire"
)

// State is one node of the emitter's lifecycle.
type State int

const (
	Created State = iota
	Started
	Recovering
	Writing
	CheckpointRequested
	Disposed
)

func (s State) String() string {
	switch s {
	case Created:
		return "Created"
	case Started:
		return "Started"
	case Recovering:
		return "Recovering"
	case Writing:
		return "Writing"
	case CheckpointRequested:
		return "CheckpointRequested"
	case Disposed:
		return "Disposed"
	default:
		return "Unknown"
	}
}

// EmittedEvent is one caller-proposed event pending emission.
type EmittedEvent struct {
	StreamID      string
	EventID       uuid.UUID
	EventType     string
	Payload       []byte
	CausedByTag   wire.CheckpointTag
	ExpectedTag   *wire.CheckpointTag
	ExtraMetadata map[string]string
	OnCommitted   func(eventNumber int64)
}

// Result is the outcome of a dispatcher write request.
type Result string

const (
	Success          Result = "Success"
	WrongExpectedVer Result = "WrongExpectedVersion"
	ResultPrepareTO  Result = "PrepareTimeout"
	ResultForwardTO  Result = "ForwardTimeout"
	ResultCommitTO   Result = "CommitTimeout"
)

// WriteCompleted is returned by Dispatcher.WriteEvents.
type WriteCompleted struct {
	Result           Result
	FirstEventNumber int64
}

// ReadCompleted is returned by Dispatcher.ReadStreamEventsBackward.
type ReadCompleted struct {
	Events          []DispatchedEvent
	NextEventNumber int64
	IsEndOfStream   bool
}

// DispatchedEvent is one event as read back from a dispatcher.
type DispatchedEvent struct {
	EventNumber int64
	EventType   string
	Metadata    []byte
}

// DispatchWrite is one event queued for the WriteEvents dispatcher call.
type DispatchWrite struct {
	EventID   uuid.UUID
	EventType string
	Data      []byte
	Metadata  []byte
}

// Dispatcher is the abstract external interface the emitter consumes. A
// single concrete implementation, streamstore.LocalDispatcher, exists in
// this module; the interface itself is defined so a future remote
// transport could satisfy it without the emitter changing.
type Dispatcher interface {
	ReadStreamEventsBackward(ctx context.Context, streamID string, fromEventNumber int64, maxCount int) (ReadCompleted, error)
	WriteEvents(ctx context.Context, streamID string, expectedVersion int64, events []DispatchWrite) (WriteCompleted, error)
}

// Supervisor receives restart/fail signals the emitter itself never
// retries past; it moves to Disposed immediately after signaling either.
type Supervisor interface {
	RequestRestart(projectionID string, reason error)
	Fail(projectionID string, reason error)
}

const (
	noStream      int64 = -1
	any           int64 = -2
	recoveryBatch       = 32
)

// Emitter drives one projection's target stream.
type Emitter struct {
	mu sync.Mutex

	projectionID string
	version      wire.ProjectionVersion
	streamID     string
	dispatcher   Dispatcher
	supervisor   Supervisor

	state             State
	checkpointPending bool

	lastAcceptedTag          *wire.CheckpointTag
	lastSubmittedOrCommitted *wire.CheckpointTag
	lastKnownEventNumber     int64

	recovered      bool
	recoveryTopTag *wire.CheckpointTag

	pending []*EmittedEvent
	stack   []recoveredEvent
}

type recoveredEvent struct {
	eventNumber int64
	eventType   string
	tag         wire.CheckpointTag
	projection  wire.ProjectionVersion
}

// New constructs an emitter in state Created, bound to one target stream.
func New(projectionID string, version wire.ProjectionVersion, streamID string, d Dispatcher, sup Supervisor) *Emitter {
	return &Emitter{
		projectionID:         projectionID,
		version:              version,
		streamID:             streamID,
		dispatcher:           d,
		supervisor:           sup,
		state:                Created,
		lastKnownEventNumber: noStream,
	}
}

// Start transitions Created -> Started. Valid only from Created, and only
// when no checkpoint is pending (trivially true before Start).
func (e *Emitter) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Created {
		return tferrors.InvalidOperation("start: emitter is not in Created state")
	}
	e.state = Started
	return nil
}

// EmitEvents enqueues a batch. Valid in any non-Disposed state while no
// checkpoint is pending. All events must share CausedByTag and StreamID;
// CausedByTag must exceed the last accepted tag (or be >= the very first
// tag this emitter ever saw, enforced by the caller via "from").
func (e *Emitter) EmitEvents(batch []*EmittedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Disposed {
		return tferrors.InvalidOperation("emitEvents: emitter is disposed")
	}
	if e.checkpointPending {
		return tferrors.InvalidOperation("emitEvents: checkpoint is pending")
	}
	if len(batch) == 0 {
		return nil
	}
	tag := batch[0].CausedByTag
	stream := batch[0].StreamID
	for _, ev := range batch {
		if ev.CausedByTag != tag || ev.StreamID != stream {
			return tferrors.InvalidOperation("emitEvents: batch must share causedByTag and streamId")
		}
	}
	if e.lastAcceptedTag != nil && !tag.Greater(*e.lastAcceptedTag) {
		return tferrors.InvalidOperation("emitEvents: causedByTag must exceed the last accepted tag")
	}
	e.lastAcceptedTag = &tag
	e.pending = append(e.pending, batch...)
	return nil
}

// RequestCheckpoint transitions into CheckpointRequested. Valid only when
// started and not already requested.
func (e *Emitter) RequestCheckpoint() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Started && e.state != Recovering && e.state != Writing {
		return tferrors.InvalidOperation("checkpoint: emitter has not started")
	}
	if e.checkpointPending {
		return tferrors.InvalidOperation("checkpoint: already requested")
	}
	e.checkpointPending = true
	e.state = CheckpointRequested
	return nil
}

// Drain processes as much of the pending queue as possible: on the first
// call after Start it performs recovery-mode backward-read dedup, then
// falls through to the normal write path for whatever remains.
func (e *Emitter) Drain(ctx context.Context) {
	e.mu.Lock()
	needsRecovery := !e.recovered && e.state != Disposed
	e.mu.Unlock()

	if needsRecovery {
		if !e.recover(ctx) {
			return
		}
	}
	e.write(ctx)
}

// recover performs a backward scan: read the target stream backwards in
// small batches, parse each event's metadata as a CheckpointTag/
// ProjectionVersion pair, and stop at end-of-stream or a tag older than
// the earliest pending emit. Returns false if the emitter was disposed
// during recovery (cross-projection failure or restart request).
func (e *Emitter) recover(ctx context.Context) bool {
	e.mu.Lock()
	if len(e.pending) == 0 {
		e.mu.Unlock()
		return true
	}
	upTo := e.pending[0].CausedByTag
	e.state = Recovering
	e.mu.Unlock()

	var collected []recoveredEvent
	from := int64(-1)
	firstBatch := true
	streamTail := noStream
	for {
		rc, err := e.dispatcher.ReadStreamEventsBackward(ctx, e.streamID, from, recoveryBatch)
		if err != nil {
			e.handleDispatchError(err)
			return false
		}
		for i, ev := range rc.Events {
			if firstBatch && i == 0 {
				streamTail = ev.EventNumber
			}
			meta, err := wire.Decode(ev.Metadata)
			if err != nil {
				continue // non-projection event (e.g. stream-created marker); skip
			}
			if firstBatch && i == 0 {
				if !e.version.Owns(meta.Projection) {
					e.supervisor.Fail(e.projectionID, tferrors.InvalidOperation("target stream owned by a different projection"))
					e.dispose()
					return false
				}
			}
			if meta.Projection.ProjectionID != e.projectionID || meta.Projection.Version < e.version.Epoch {
				continue
			}
			if meta.Tag.Less(upTo) {
				goto doneScanning
			}
			collected = append(collected, recoveredEvent{
				eventNumber: ev.EventNumber,
				eventType:   ev.EventType,
				tag:         meta.Tag,
				projection:  meta.Projection,
			})
		}
		firstBatch = false
		if rc.IsEndOfStream {
			break
		}
		from = rc.NextEventNumber
	}
doneScanning:

	e.mu.Lock()
	// collected is newest-first (backward scan order); reverse into
	// oldest-first so draining pops the oldest recovered event first.
	e.stack = make([]recoveredEvent, len(collected))
	for i, r := range collected {
		e.stack[len(collected)-1-i] = r
	}
	if len(collected) > 0 {
		top := collected[0].tag // newest qualifying recovered event's tag
		e.recoveryTopTag = &top
	}
	if e.lastKnownEventNumber == noStream {
		e.lastKnownEventNumber = streamTail
	}
	e.recovered = true
	e.mu.Unlock()
	return true
}

// write drains pending, consulting the recovered-event stack first (dedup)
// and falling through to real dispatcher writes once the stack is
// exhausted or the next pending tag exceeds the last committed one.
func (e *Emitter) write(ctx context.Context) {
	e.mu.Lock()
	e.state = Writing
	e.mu.Unlock()

	for {
		e.mu.Lock()
		if len(e.pending) == 0 {
			e.state = Started
			e.mu.Unlock()
			return
		}
		next := e.pending[0]

		if next.ExpectedTag != nil && (e.lastSubmittedOrCommitted == nil || !next.ExpectedTag.Equal(*e.lastSubmittedOrCommitted)) {
			e.mu.Unlock()
			e.supervisor.RequestRestart(e.projectionID, tferrors.RestartRequested("expected tag mismatch"))
			e.dispose()
			return
		}

		if len(e.stack) > 0 && e.recoveryTopTag != nil && !next.CausedByTag.Greater(*e.recoveryTopTag) {
			top := e.stack[0]
			e.stack = e.stack[1:]
			if top.eventType != next.EventType || !top.tag.Equal(next.CausedByTag) {
				e.mu.Unlock()
				e.supervisor.Fail(e.projectionID, tferrors.InvalidOperation("recovered event does not match pending event; projection is non-deterministic"))
				e.dispose()
				return
			}
			e.pending = e.pending[1:]
			e.lastSubmittedOrCommitted = &top.tag
			e.lastKnownEventNumber = top.eventNumber
			evNum := top.eventNumber
			e.mu.Unlock()
			if next.OnCommitted != nil {
				next.OnCommitted(evNum)
			}
			continue
		}
		e.mu.Unlock()

		if !e.flushOne(ctx, next) {
			return
		}
	}
}

// flushOne writes one pending event via the dispatcher, retrying transient
// timeout kinds with the same batch and expected version.
func (e *Emitter) flushOne(ctx context.Context, next *EmittedEvent) bool {
	e.mu.Lock()
	expected := e.lastKnownEventNumber
	e.mu.Unlock()

	metaBytes, err := wire.Encode(wire.Metadata{Tag: next.CausedByTag, Projection: e.version, Extra: next.ExtraMetadata})
	if err != nil {
		e.supervisor.Fail(e.projectionID, err)
		e.dispose()
		return false
	}

	dw := []DispatchWrite{{EventID: next.EventID, EventType: next.EventType, Data: next.Payload, Metadata: metaBytes}}
	wc, err := e.dispatcher.WriteEvents(ctx, e.streamID, expected, dw)
	if err != nil {
		e.handleDispatchError(err)
		return false
	}

	switch wc.Result {
	case Success:
		// stream-created compensation: a fresh stream's first real event
		// lands at firstEventNumber+1 since position 0 is the marker.
		evNum := wc.FirstEventNumber
		if expected == noStream {
			evNum++
		}
		e.mu.Lock()
		e.lastKnownEventNumber = evNum
		e.lastSubmittedOrCommitted = &next.CausedByTag
		e.pending = e.pending[1:]
		e.mu.Unlock()
		if next.OnCommitted != nil {
			next.OnCommitted(evNum)
		}
		return true
	case WrongExpectedVer:
		e.supervisor.RequestRestart(e.projectionID, tferrors.WrongExpectedVersion(e.streamID))
		e.dispose()
		return false
	case ResultPrepareTO, ResultForwardTO, ResultCommitTO:
		log.Warn("emitter: transient write failure for %s, retrying", e.streamID)
		return true // loop will re-attempt the same head-of-queue event
	default:
		e.supervisor.Fail(e.projectionID, tferrors.InvalidOperation("unrecognized dispatcher result "+string(wc.Result)))
		e.dispose()
		return false
	}
}

func (e *Emitter) handleDispatchError(err error) {
	if tferrors.IsTimeout(err) {
		log.Warn("emitter: dispatcher timeout for %s: %v", e.streamID, err)
		return
	}
	e.supervisor.Fail(e.projectionID, err)
	e.dispose()
}

// dispose moves the emitter to Disposed permanently; the emitter never
// retries past a restart/fail signal.
func (e *Emitter) dispose() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = Disposed
}

// State reports the emitter's current lifecycle state.
func (e *Emitter) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}
