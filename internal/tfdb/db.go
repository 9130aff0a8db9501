// Package tfdb implements the Chunked Transaction-File Database: a
// segmented, checksummed, append-only log governed by four monotonic
// checkpoints. Open's directory validation/recovery (recover.go) is
// grounded on executor/wal.go's CreateCheckpoint/FlushCommandsToWAL commit
// discipline (commit, then sync, then advance the checkpoint only after
// the write is durable) and on catalog.Directory's sync.RWMutex-guarded
// in-memory tree built from a directory scan (catalog/catalog.go).
package tfdb

import (
	"fmt"
	"sync"
	"time"

	"github.com/arborstore/tfdb/internal/checkpoint"
	"github.com/arborstore/tfdb/internal/chunk"
	"github.com/arborstore/tfdb/internal/log"
	"github.com/arborstore/tfdb/internal/metrics"
	"github.com/arborstore/tfdb/internal/tferrors"
)

// DB is an open chunked transaction-file database. It is always accessed
// through an explicit handle returned by Open - no package-level global
// instance exists, a deliberate deviation from executor.ThisInstance's
// singleton (see DESIGN.md).
type DB struct {
	dir       string
	chunkSize int32
	naming    chunk.NamingStrategy

	writer   checkpoint.Checkpoint
	chaser   checkpoint.Checkpoint
	epoch    checkpoint.Checkpoint
	truncate checkpoint.Checkpoint

	mu     sync.Mutex
	roster *roster
}

// Options controls Open's behavior.
type Options struct {
	ChunkSize  int32
	Naming     chunk.NamingStrategy
	VerifyHash bool
}

// Open validates and recovers dir into a consistent runtime DB. Open-time
// corruption is fatal: the caller receives the wrapped error and must not
// reuse the partially-constructed DB.
func Open(dir string, opts Options) (*DB, error) {
	start := time.Now()
	defer func() { metrics.RecoveryDuration.Observe(time.Since(start).Seconds()) }()

	db := &DB{dir: dir, chunkSize: opts.ChunkSize, naming: opts.Naming}

	var err error
	db.writer, err = checkpoint.Open(checkpoint.Writer, dir+"/"+checkpoint.FileName(checkpoint.Writer),
		checkpoint.InitialValue(checkpoint.Writer), true)
	if err != nil {
		return nil, fmt.Errorf("open writer checkpoint: %w", err)
	}
	db.chaser, err = checkpoint.Open(checkpoint.Chaser, dir+"/"+checkpoint.FileName(checkpoint.Chaser),
		checkpoint.InitialValue(checkpoint.Chaser), true)
	if err != nil {
		return nil, fmt.Errorf("open chaser checkpoint: %w", err)
	}
	db.epoch, err = checkpoint.Open(checkpoint.Epoch, dir+"/"+checkpoint.FileName(checkpoint.Epoch),
		checkpoint.InitialValue(checkpoint.Epoch), true)
	if err != nil {
		return nil, fmt.Errorf("open epoch checkpoint: %w", err)
	}
	db.truncate, err = checkpoint.Open(checkpoint.Truncate, dir+"/"+checkpoint.FileName(checkpoint.Truncate),
		checkpoint.InitialValue(checkpoint.Truncate), true)
	if err != nil {
		return nil, fmt.Errorf("open truncate checkpoint: %w", err)
	}

	w := db.writer.Read()
	if db.chaser.Read() > w || db.epoch.Read() > w {
		return nil, tferrors.NewCorruptDatabase(tferrors.ReaderCheckpointHigherThanWriter,
			fmt.Sprintf("chaser=%d epoch=%d writer=%d", db.chaser.Read(), db.epoch.Read(), w))
	}

	r, err := recoverDirectory(dir, opts.ChunkSize, opts.Naming, w, opts.VerifyHash)
	if err != nil {
		return nil, err
	}
	db.roster = r

	metrics.WriterOffset.Set(float64(w))
	metrics.ChaserOffset.Set(float64(db.chaser.Read()))
	metrics.ChunkCount.Set(float64(r.count()))

	log.Info("tfdb: opened %s at writer=%d chaser=%d chunks=%d", dir, w, db.chaser.Read(), r.count())
	return db, nil
}

// Dir returns the database's backing directory.
func (db *DB) Dir() string { return db.dir }

// ChunkSize returns the configured chunk body capacity.
func (db *DB) ChunkSize() int32 { return db.chunkSize }

// WriterPosition returns the current writer checkpoint value.
func (db *DB) WriterPosition() int64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.writer.Read()
}

// ChaserPosition returns the current chaser checkpoint value.
func (db *DB) ChaserPosition() int64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.chaser.Read()
}

// EpochPosition returns the current epoch checkpoint value.
func (db *DB) EpochPosition() int64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.epoch.Read()
}

// TruncatePosition returns the current truncate checkpoint value.
func (db *DB) TruncatePosition() int64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.truncate.Read()
}

// ChunkCount returns the number of chunks currently tracked in the roster.
func (db *DB) ChunkCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.roster.count()
}

// ChunkRanges returns each tracked chunk's start and end event numbers, in
// ascending start order, for diagnostic reporting.
func (db *DB) ChunkRanges() []ChunkRange {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.roster.ranges()
}

// ChunkRange describes one chunk's covered start/end range for reporting.
type ChunkRange struct {
	Start int32
	End   int32
}

// Close flushes checkpoints and releases chunk file handles.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var firstErr error
	note := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	note(db.writer.Flush())
	note(db.chaser.Flush())
	note(db.epoch.Flush())
	note(db.truncate.Flush())
	note(db.roster.closeAll())
	return firstErr
}
