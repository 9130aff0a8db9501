// Package checkpoint implements the four monotonic 64-bit counters
// (writer, chaser, epoch, truncate) that govern a transaction-file
// database. The durability dance - seek to start, write, Sync, seek back
// to end - is grounded on executor/wal.go's WALFileType.readStatus/WriteStatus
// in executor/wal.go, which performs the same seek/write/Sync/seek-back
// sequence around a status byte instead of an int64 value.
package checkpoint

import (
	"encoding/binary"
	"fmt"
	"os"
)

// Checkpoint is a durable, monotonic named counter. Read returns the
// cached in-memory value (updated only after a successful Flush) when the
// checkpoint caches writes, or the on-disk value otherwise.
type Checkpoint interface {
	Name() string
	Read() int64
	Write(v int64)
	Flush() error
}

// plainFileCheckpoint is the only variant implemented: no mmap counterpart
// exists, because no library in the retrieved example pack wires memory
// mapping (see DESIGN.md). The interface leaves room for one.
type plainFileCheckpoint struct {
	name    string
	fp      *os.File
	cached  bool
	value   int64 // last flushed value; uncached Read falls back to it on a read error
	pending int64 // value set by Write, not yet flushed
}

// Open opens or creates the checkpoint file at path with initial value
// initial if the file does not yet exist. cached controls whether Read
// returns the last-flushed in-memory value (fast path for hot checkpoints
// like writer/chaser) or always re-reads the file.
func Open(name, path string, initial int64, cached bool) (Checkpoint, error) {
	fp, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint %s: %w", path, err)
	}
	fi, err := fp.Stat()
	if err != nil {
		fp.Close()
		return nil, err
	}
	c := &plainFileCheckpoint{name: name, fp: fp, cached: cached}
	if fi.Size() == 0 {
		c.value = initial
		c.pending = initial
		if err := c.flushLocked(initial); err != nil {
			fp.Close()
			return nil, err
		}
		return c, nil
	}
	v, err := readInt64(fp)
	if err != nil {
		fp.Close()
		return nil, err
	}
	c.value = v
	c.pending = v
	return c, nil
}

func (c *plainFileCheckpoint) Name() string { return c.name }

func (c *plainFileCheckpoint) Read() int64 {
	if c.cached {
		return c.value
	}
	v, err := readInt64(c.fp)
	if err != nil {
		return c.value
	}
	return v
}

// Write stages v; it becomes durable (and visible to other processes/the
// cached Read path) only after Flush. The in-memory cached value updates
// only once the flush to disk has completed.
func (c *plainFileCheckpoint) Write(v int64) {
	c.pending = v
}

func (c *plainFileCheckpoint) Flush() error {
	if err := c.flushLocked(c.pending); err != nil {
		return err
	}
	c.value = c.pending
	return nil
}

func (c *plainFileCheckpoint) flushLocked(v int64) error {
	if _, err := c.fp.Seek(0, os.SEEK_SET); err != nil {
		return fmt.Errorf("seek checkpoint %s: %w", c.name, err)
	}
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(v))
	if _, err := c.fp.Write(buf); err != nil {
		return fmt.Errorf("write checkpoint %s: %w", c.name, err)
	}
	if err := c.fp.Sync(); err != nil {
		return fmt.Errorf("sync checkpoint %s: %w", c.name, err)
	}
	if _, err := c.fp.Seek(0, os.SEEK_END); err != nil {
		return fmt.Errorf("seek checkpoint %s: %w", c.name, err)
	}
	return nil
}

func readInt64(fp *os.File) (int64, error) {
	buf := make([]byte, 8)
	if _, err := fp.ReadAt(buf, 0); err != nil {
		return 0, fmt.Errorf("read checkpoint: %w", err)
	}
	return int64(binary.LittleEndian.Uint64(buf)), nil
}

func (c *plainFileCheckpoint) Close() error {
	return c.fp.Close()
}

// Names of the four distinguished checkpoints a DB directory carries.
const (
	Writer   = "writer"
	Chaser   = "chaser"
	Epoch    = "epoch"
	Truncate = "truncate"
)

// InitialValue returns each distinguished checkpoint's default value at DB
// creation time.
func InitialValue(name string) int64 {
	switch name {
	case Epoch, Truncate:
		return -1
	default:
		return 0
	}
}

// FileName returns the on-disk filename for a distinguished checkpoint,
// e.g. "writer.chk".
func FileName(name string) string {
	return name + ".chk"
}
