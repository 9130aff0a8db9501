package tfdb

import (
	"time"

	"github.com/arborstore/tfdb/internal/chunk"
	"github.com/arborstore/tfdb/internal/log"
	"github.com/arborstore/tfdb/internal/metrics"
)

// Append atomically appends record to the ongoing tail chunk, advancing
// the writer checkpoint, and rolls to a new ongoing chunk when the
// current one would overflow. Returns the global log offset the record
// starts at. The roster publishes the new chunk before the writer
// checkpoint advances past the old chunk's capacity, so a reader can never
// observe a writer position beyond what the roster can resolve.
func (db *DB) Append(record []byte) (int64, error) {
	start := time.Now()
	defer func() { metrics.AppendDuration.Observe(time.Since(start).Seconds()) }()

	db.mu.Lock()
	defer db.mu.Unlock()

	tail, err := db.roster.tail()
	if err != nil {
		return 0, err
	}

	if tail.LocalLen()+int32(len(record)) > db.chunkSize {
		if err := tail.Complete(); err != nil {
			return 0, err
		}
		newStart := tail.Header.ChunkStartNumber + 1
		path := db.naming.FilenameFor(db.dir, newStart, 0)
		next, err := chunk.Create(path, newStart, newStart, db.chunkSize)
		if err != nil {
			return 0, err
		}
		db.roster.put(next)
		tail = next
		log.Info("tfdb: rolled to new ongoing chunk start=%d", newStart)
	}

	globalOffset := int64(tail.Header.ChunkStartNumber)*int64(db.chunkSize) + int64(tail.LocalLen())
	if _, err := tail.Append(record); err != nil {
		return 0, err
	}

	newWriter := globalOffset + int64(len(record))
	db.writer.Write(newWriter)
	if err := db.writer.Flush(); err != nil {
		return 0, err
	}
	db.chaser.Write(newWriter)
	if err := db.chaser.Flush(); err != nil {
		return 0, err
	}
	metrics.WriterOffset.Set(float64(newWriter))
	metrics.ChaserOffset.Set(float64(newWriter))

	return globalOffset, nil
}

// Read resolves globalOffset to its owning chunk and returns length bytes
// starting there.
func (db *DB) Read(globalOffset int64, length int32) ([]byte, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	c, localOffset, err := db.roster.getByOffset(globalOffset)
	if err != nil {
		return nil, err
	}
	return c.ReadAt(localOffset, length)
}

// Complete seals the ongoing chunk at chunkStart, if it is still ongoing.
func (db *DB) Complete(chunkStart int32) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	c, err := db.roster.getByNumber(chunkStart)
	if err != nil {
		return err
	}
	if !c.IsOngoing() {
		return nil
	}
	return c.Complete()
}
