// Package streamstore implements the stream-facing surface built atop
// internal/tfdb's raw append-only log: explicit stream creation, the
// expected-version/idempotency contract, forward/backward stream reads,
// and multi-write transactions. Grounded on
// executor/writer.go WriteCSM "look up or create, then write" pattern and
// executor/cache.go's TransactionPipe channel-buffered pending-write
// bookkeeping, adapted from transaction-group scoping to per-call
// transaction-id scoping.
package streamstore

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/arborstore/tfdb/internal/appendqueue"
	"github.com/arborstore/tfdb/internal/log"
	"github.com/arborstore/tfdb/internal/streamindex"
	"github.com/arborstore/tfdb/internal/tfdb"
	"github.com/arborstore/tfdb/internal/tferrors"
)

// Distinguished expected-version values.
const (
	Any          int64 = -2
	NoStream     int64 = -1
	StreamExists int64 = -4
)

// EventToWrite is a caller-supplied event pending append.
type EventToWrite struct {
	EventID   uuid.UUID
	EventType string
	Data      []byte
	Metadata  []byte
}

// Store layers stream semantics over a *tfdb.DB.
type Store struct {
	db    *tfdb.DB
	index *streamindex.Index

	mu      sync.Mutex
	nextTxn int64
	pending map[int64]*pendingTxn
}

type pendingTxn struct {
	streamID        string
	expectedVersion int64
	events          []EventToWrite
}

// New wraps db with stream-level semantics. idx should already be
// populated from db's recovered log (see Rebuild).
func New(db *tfdb.DB, idx *streamindex.Index) *Store {
	return &Store{db: db, index: idx, pending: make(map[int64]*pendingTxn)}
}

// CreateStream is idempotent: creating an existing stream is a no-op, not
// an error, matching executor/writer.go's "file already exists -> ignore"
// tolerance in WriteCSM.
func (s *Store) CreateStream(streamID string) error {
	if s.index.Exists(streamID) {
		return nil
	}
	_, err := s.appendRaw(streamID, 0, uuid.New(), "$stream-created", nil, nil)
	return err
}

// AppendToStream enforces the expected-version/idempotency contract
// exactly: a batch that re-proposes already-committed event IDs at a
// consistent position is deduplicated rather than rejected or duplicated.
func (s *Store) AppendToStream(streamID string, expectedVersion int64, events []EventToWrite) (int64, error) {
	last := s.index.LastEventNumber(streamID) // -1 == NoStream

	switch {
	case expectedVersion == Any:
		if len(events) == 1 && last >= 0 {
			if id, ok := s.eventIDAt(streamID, last); ok && id == events[0].EventID {
				return last, nil // idempotent single-event rewrite at Any
			}
		}
	case expectedVersion == NoStream:
		if last != -1 {
			if s.isIdempotentRewrite(streamID, expectedVersion, last, events) {
				return expectedVersion + 1, nil
			}
			return 0, tferrors.WrongExpectedVersion(streamID)
		}
	case expectedVersion == StreamExists:
		if last == -1 {
			return 0, tferrors.WrongExpectedVersion(streamID)
		}
	default:
		if expectedVersion != last {
			if idempotent := s.isIdempotentRewrite(streamID, expectedVersion, last, events); idempotent {
				return expectedVersion + 1, nil
			}
			return 0, tferrors.WrongExpectedVersion(streamID)
		}
	}

	firstEventNumber := last + 1
	for i, ev := range events {
		evNum := firstEventNumber + int64(i)
		if _, err := s.appendRaw(streamID, evNum, ev.EventID, ev.EventType, ev.Data, ev.Metadata); err != nil {
			return 0, err
		}
	}
	log.Debug("streamstore: appended %d events to %s starting at %d", len(events), streamID, firstEventNumber)
	return firstEventNumber, nil
}

// isIdempotentRewrite checks whether a batch proposed at a stale
// expectedVersion (an event number, or NoStream) exactly reproduces the
// event IDs already committed starting at expectedVersion+1, per the
// event-ID exact-dedup rule.
func (s *Store) isIdempotentRewrite(streamID string, expectedVersion, last int64, events []EventToWrite) bool {
	if expectedVersion < NoStream || expectedVersion+int64(len(events)) > last+1 {
		return false
	}
	for i, ev := range events {
		id, ok := s.eventIDAt(streamID, expectedVersion+1+int64(i))
		if !ok || id != ev.EventID {
			return false
		}
	}
	return true
}

func (s *Store) eventIDAt(streamID string, eventNumber int64) (uuid.UUID, bool) {
	locs, _ := s.index.Forward(streamID, eventNumber, 1)
	if len(locs) == 0 || locs[0].EventNumber != eventNumber {
		return uuid.UUID{}, false
	}
	rec, ok := s.readAt(locs[0].Commit)
	if !ok {
		return uuid.UUID{}, false
	}
	return rec.EventID, true
}

func (s *Store) appendRaw(streamID string, eventNumber int64, eventID uuid.UUID, eventType string, data, metadata []byte) (int64, error) {
	rec := tfdb.Record{
		StreamID:    streamID,
		EventNumber: eventNumber,
		EventID:     eventID,
		EventType:   eventType,
		Data:        data,
		Metadata:    metadata,
	}
	commit, err := s.db.Append(rec.Encode())
	if err != nil {
		return 0, err
	}
	s.index.Append(streamID, eventNumber, commit)
	return commit, nil
}

// ReadStreamForward resolves event locations via the stream index, then
// reads each record from the log.
func (s *Store) ReadStreamForward(streamID string, from int64, maxCount int) ([]tfdb.Record, int64, bool) {
	locs, isEnd := s.index.Forward(streamID, from, maxCount)
	events := make([]tfdb.Record, 0, len(locs))
	for _, loc := range locs {
		if rec, ok := s.readAt(loc.Commit); ok {
			events = append(events, rec)
		}
	}
	next := from + int64(len(locs))
	return events, next, isEnd
}

// ReadStreamBackward mirrors ReadStreamForward in reverse event-number
// order.
func (s *Store) ReadStreamBackward(streamID string, from int64, maxCount int) ([]tfdb.Record, int64, bool) {
	locs, isEnd := s.index.Backward(streamID, from, maxCount)
	events := make([]tfdb.Record, 0, len(locs))
	for _, loc := range locs {
		if rec, ok := s.readAt(loc.Commit); ok {
			events = append(events, rec)
		}
	}
	next := int64(-1)
	if len(locs) > 0 {
		next = locs[len(locs)-1].EventNumber - 1
	}
	return events, next, isEnd
}

func (s *Store) readAt(commit int64) (tfdb.Record, bool) {
	buf, err := s.db.Read(commit, 1<<20)
	if err != nil {
		return tfdb.Record{}, false
	}
	rec, _, err := tfdb.DecodeRecord(buf)
	if err != nil {
		return tfdb.Record{}, false
	}
	return rec, true
}

// StartTransaction begins a buffered multi-write transaction; nothing is
// visible to readers until Commit.
func (s *Store) StartTransaction(streamID string, expectedVersion int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := atomic.AddInt64(&s.nextTxn, 1)
	s.pending[id] = &pendingTxn{streamID: streamID, expectedVersion: expectedVersion}
	return id
}

// TransactionWrite buffers events under txnID without making them visible.
func (s *Store) TransactionWrite(txnID int64, events []EventToWrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	txn, ok := s.pending[txnID]
	if !ok {
		return tferrors.InvalidOperation("unknown transaction")
	}
	txn.events = append(txn.events, events...)
	return nil
}

// TransactionCommit atomically makes all buffered writes visible via a
// single AppendToStream call; a transaction never committed leaves zero
// trace in ReadStreamForward.
func (s *Store) TransactionCommit(txnID int64) (int64, error) {
	s.mu.Lock()
	txn, ok := s.pending[txnID]
	if ok {
		delete(s.pending, txnID)
	}
	s.mu.Unlock()
	if !ok {
		return 0, tferrors.InvalidOperation("unknown transaction")
	}
	return s.AppendToStream(txn.streamID, txn.expectedVersion, txn.events)
}

// DrainLoop is the single message-processing context for this store: it
// pulls one appendqueue.Command at a time and applies it via
// AppendToStream, never re-entering while a command is in flight. This is
// the Go rendering of the single-threaded cooperative per-component model
// described for the core, the same select-loop idiom executor/wal.go's
// SyncWAL uses to drain its own write channel. It returns when ctx is
// done.
func (s *Store) DrainLoop(ctx context.Context, q *appendqueue.Queue) {
	for {
		cmd, err := q.Dequeue(ctx)
		if err != nil {
			return
		}
		towrite := make([]EventToWrite, len(cmd.Events))
		for i, ev := range cmd.Events {
			towrite[i] = EventToWrite{EventID: ev.EventID, EventType: ev.EventType, Data: ev.Data, Metadata: ev.Metadata}
		}
		first, err := s.AppendToStream(cmd.StreamID, cmd.ExpectedVersion, towrite)
		if cmd.Result != nil {
			cmd.Result <- appendqueue.Result{FirstEventNumber: first, Err: err}
		}
	}
}

// Rebuild replays the entire log to populate idx from scratch, as TFDb
// recovery provides no persisted secondary index.
func Rebuild(db *tfdb.DB, idx *streamindex.Index) {
	pos := int64(0)
	for {
		records, next, isEnd := db.ReadAllEventsForward(pos, 1024)
		for _, r := range records {
			idx.Append(r.StreamID, r.EventNumber, pos)
			pos += int64(len(r.Encode()))
		}
		if isEnd || len(records) == 0 {
			break
		}
		pos = next
	}
}
