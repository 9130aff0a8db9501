package streamstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/arborstore/tfdb/internal/appendqueue"
	"github.com/arborstore/tfdb/internal/chunk"
	"github.com/arborstore/tfdb/internal/streamindex"
	"github.com/arborstore/tfdb/internal/streamstore"
	"github.com/arborstore/tfdb/internal/tfdb"
)

func openStore(t *testing.T) *streamstore.Store {
	t.Helper()
	dir := t.TempDir()
	db, err := tfdb.Open(dir, tfdb.Options{ChunkSize: 1 << 20, Naming: chunk.NewVersioned("chunk-")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	idx := streamindex.New()
	return streamstore.New(db, idx)
}

func ev(eventType string, data string) streamstore.EventToWrite {
	return streamstore.EventToWrite{EventID: uuid.New(), EventType: eventType, Data: []byte(data)}
}

func TestAppendToStreamAtNoStream(t *testing.T) {
	s := openStore(t)
	first, err := s.AppendToStream("orders-1", streamstore.NoStream, []streamstore.EventToWrite{ev("created", "a")})
	require.NoError(t, err)
	require.Equal(t, int64(0), first)
}

func TestAppendToStreamRejectsWrongExpectedVersion(t *testing.T) {
	s := openStore(t)
	_, err := s.AppendToStream("orders-1", streamstore.NoStream, []streamstore.EventToWrite{ev("created", "a")})
	require.NoError(t, err)

	_, err = s.AppendToStream("orders-1", streamstore.NoStream, []streamstore.EventToWrite{ev("created", "b")})
	require.Error(t, err)

	_, err = s.AppendToStream("orders-1", 5, []streamstore.EventToWrite{ev("updated", "c")})
	require.Error(t, err)
}

func TestAppendToStreamAnyAppendsSequentially(t *testing.T) {
	s := openStore(t)
	first, err := s.AppendToStream("orders-1", streamstore.Any, []streamstore.EventToWrite{ev("created", "a")})
	require.NoError(t, err)
	require.Equal(t, int64(0), first)

	second, err := s.AppendToStream("orders-1", streamstore.Any, []streamstore.EventToWrite{ev("updated", "b")})
	require.NoError(t, err)
	require.Equal(t, int64(1), second)
}

func TestAppendToStreamAnyIsIdempotentForSameSingleEvent(t *testing.T) {
	s := openStore(t)
	events := []streamstore.EventToWrite{ev("created", "a")}
	first, err := s.AppendToStream("orders-1", streamstore.Any, events)
	require.NoError(t, err)

	again, err := s.AppendToStream("orders-1", streamstore.Any, events)
	require.NoError(t, err)
	require.Equal(t, first, again)

	events2, _, _ := s.ReadStreamForward("orders-1", 0, 10)
	require.Len(t, events2, 1, "the idempotent rewrite must not have appended a duplicate")
}

func TestAppendToStreamDetectsIdempotentRewriteAtStaleVersion(t *testing.T) {
	s := openStore(t)
	batch := []streamstore.EventToWrite{ev("created", "a"), ev("updated", "b")}
	first, err := s.AppendToStream("orders-1", streamstore.NoStream, batch)
	require.NoError(t, err)
	require.Equal(t, int64(0), first)

	// Retry the exact same batch against the original (now stale) expected version.
	again, err := s.AppendToStream("orders-1", streamstore.NoStream, batch)
	require.NoError(t, err)
	require.Equal(t, first, again)

	records, _, _ := s.ReadStreamForward("orders-1", 0, 10)
	require.Len(t, records, 2)
}

func TestAppendToStreamRejectsNonIdempotentStaleVersion(t *testing.T) {
	s := openStore(t)
	_, err := s.AppendToStream("orders-1", streamstore.NoStream, []streamstore.EventToWrite{ev("created", "a")})
	require.NoError(t, err)

	_, err = s.AppendToStream("orders-1", streamstore.NoStream, []streamstore.EventToWrite{ev("created", "different-event")})
	require.Error(t, err)
}

func TestAppendToStreamStreamExistsRequiresPriorEvents(t *testing.T) {
	s := openStore(t)
	_, err := s.AppendToStream("orders-1", streamstore.StreamExists, []streamstore.EventToWrite{ev("created", "a")})
	require.Error(t, err)

	_, err = s.AppendToStream("orders-1", streamstore.NoStream, []streamstore.EventToWrite{ev("created", "a")})
	require.NoError(t, err)

	_, err = s.AppendToStream("orders-1", streamstore.StreamExists, []streamstore.EventToWrite{ev("updated", "b")})
	require.NoError(t, err)
}

func TestReadStreamForwardAndBackward(t *testing.T) {
	s := openStore(t)
	for i := 0; i < 3; i++ {
		_, err := s.AppendToStream("orders-1", streamstore.Any, []streamstore.EventToWrite{ev("e", "x")})
		require.NoError(t, err)
	}

	fwd, next, isEnd := s.ReadStreamForward("orders-1", 0, 10)
	require.Len(t, fwd, 3)
	require.True(t, isEnd)
	require.Equal(t, int64(3), next)

	back, _, isEnd := s.ReadStreamBackward("orders-1", -1, 10)
	require.Len(t, back, 3)
	require.True(t, isEnd)
	require.Equal(t, int64(2), back[0].EventNumber)
}

func TestCreateStreamIsIdempotent(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.CreateStream("orders-1"))
	require.NoError(t, s.CreateStream("orders-1"))

	records, _, _ := s.ReadStreamForward("orders-1", 0, 10)
	require.Len(t, records, 1)
}

func TestTransactionIsInvisibleUntilCommit(t *testing.T) {
	s := openStore(t)
	txn := s.StartTransaction("orders-1", streamstore.NoStream)
	require.NoError(t, s.TransactionWrite(txn, []streamstore.EventToWrite{ev("created", "a")}))
	require.NoError(t, s.TransactionWrite(txn, []streamstore.EventToWrite{ev("updated", "b")}))

	records, _, _ := s.ReadStreamForward("orders-1", 0, 10)
	require.Empty(t, records, "uncommitted writes must not be visible")

	first, err := s.TransactionCommit(txn)
	require.NoError(t, err)
	require.Equal(t, int64(0), first)

	records, _, _ = s.ReadStreamForward("orders-1", 0, 10)
	require.Len(t, records, 2)
}

func TestTransactionCommitUnknownIDFails(t *testing.T) {
	s := openStore(t)
	_, err := s.TransactionCommit(9999)
	require.Error(t, err)
}

func TestDrainLoopAppliesQueuedCommands(t *testing.T) {
	s := openStore(t)
	q := appendqueue.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.DrainLoop(ctx, q)

	resultCh := make(chan appendqueue.Result, 1)
	cmd := &appendqueue.Command{
		StreamID:        "orders-1",
		ExpectedVersion: streamstore.NoStream,
		Events:          []appendqueue.EventToWrite{{EventID: uuid.New(), EventType: "created", Data: []byte("a")}},
		Result:          resultCh,
	}
	require.NoError(t, q.Enqueue(ctx, cmd))

	select {
	case res := <-resultCh:
		require.NoError(t, res.Err)
		require.Equal(t, int64(0), res.FirstEventNumber)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for drain loop result")
	}

	records, _, _ := s.ReadStreamForward("orders-1", 0, 10)
	require.Len(t, records, 1)
}

func TestRebuildReplaysExistingLog(t *testing.T) {
	dir := t.TempDir()
	db, err := tfdb.Open(dir, tfdb.Options{ChunkSize: 1 << 20, Naming: chunk.NewVersioned("chunk-")})
	require.NoError(t, err)

	idx := streamindex.New()
	s := streamstore.New(db, idx)
	_, err = s.AppendToStream("orders-1", streamstore.NoStream, []streamstore.EventToWrite{ev("created", "a")})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db2, err := tfdb.Open(dir, tfdb.Options{ChunkSize: 1 << 20, Naming: chunk.NewVersioned("chunk-")})
	require.NoError(t, err)
	defer db2.Close()

	idx2 := streamindex.New()
	streamstore.Rebuild(db2, idx2)
	require.Equal(t, int64(0), idx2.LastEventNumber("orders-1"))
}
