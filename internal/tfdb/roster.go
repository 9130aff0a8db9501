package tfdb

import (
	"sort"
	"strconv"
	"sync"

	"github.com/arborstore/tfdb/internal/chunk"
	"github.com/arborstore/tfdb/internal/tferrors"
)

// roster is the in-memory chunk table: the single owner of open *chunk.Chunk
// handles, indexed by start number. Chunks hold no back-pointer to it (per
// a no-back-references design), only their own
// start/end range.
type roster struct {
	mu       sync.RWMutex
	byStart  map[int32]*chunk.Chunk
	starts   []int32 // sorted ascending
	tailOfs  int32   // start number of the current ongoing chunk
	chunkLen int32   // chunkSize, needed to resolve a global offset to a chunk
}

func newRoster(chunkSize int32) *roster {
	return &roster{byStart: make(map[int32]*chunk.Chunk), chunkLen: chunkSize}
}

func (r *roster) put(c *chunk.Chunk) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byStart[c.Header.ChunkStartNumber]; !exists {
		r.starts = append(r.starts, c.Header.ChunkStartNumber)
		sort.Slice(r.starts, func(i, j int) bool { return r.starts[i] < r.starts[j] })
	}
	r.byStart[c.Header.ChunkStartNumber] = c
	if c.IsOngoing() {
		r.tailOfs = c.Header.ChunkStartNumber
	}
}

func (r *roster) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byStart)
}

// getByNumber returns the chunk whose start number is exactly start.
func (r *roster) getByNumber(start int32) (*chunk.Chunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byStart[start]
	if !ok {
		return nil, tferrors.NewCorruptDatabase(tferrors.ChunkNotFound, "no chunk at start "+strconv.Itoa(int(start)))
	}
	return c, nil
}

// getByOffset resolves a global log offset to the chunk covering it, using
// chunkLen to compute the owning start number. Tolerates multi-chunk
// scavenge products (end > start) by scanning the sorted starts when the
// direct division misses, even though the full scavenge-merge algorithm
// itself is out of scope.
func (r *roster) getByOffset(globalOffset int64) (*chunk.Chunk, int32, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	direct := int32(globalOffset / int64(r.chunkLen))
	if c, ok := r.byStart[direct]; ok {
		return c, int32(globalOffset - int64(direct)*int64(r.chunkLen)), nil
	}
	for i := len(r.starts) - 1; i >= 0; i-- {
		s := r.starts[i]
		c := r.byStart[s]
		if s <= direct && direct <= c.Header.ChunkEndNumber {
			return c, int32(globalOffset - int64(s)*int64(r.chunkLen)), nil
		}
	}
	return nil, 0, tferrors.NewCorruptDatabase(tferrors.ChunkNotFound, "no chunk covers offset")
}

// tail returns the current ongoing (appendable) chunk.
func (r *roster) tail() (*chunk.Chunk, error) {
	return r.getByNumber(r.tailOfs)
}

// ranges returns each chunk's start/end range in ascending start order.
func (r *roster) ranges() []ChunkRange {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ChunkRange, 0, len(r.starts))
	for _, s := range r.starts {
		c := r.byStart[s]
		out = append(out, ChunkRange{Start: s, End: c.Header.ChunkEndNumber})
	}
	return out
}

func (r *roster) closeAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, c := range r.byStart {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
