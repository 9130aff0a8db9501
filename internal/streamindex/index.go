// Package streamindex is the in-memory per-stream event-number index built
// during TFDb recovery and maintained incrementally on append. There is no
// secondary index on disk (Non-goal); this cache is rebuilt from the log
// on every open and can never drift from it, grounded on catalog.Directory's
// sync.Map-backed in-memory cache in catalog/catalog.go.
package streamindex

import "sync"

// Location pins one event to its position in the global log.
type Location struct {
	EventNumber int64
	Commit      int64
}

// Index maps stream IDs to their ordered event locations.
type Index struct {
	mu      sync.RWMutex
	streams map[string][]Location
}

func New() *Index {
	return &Index{streams: make(map[string][]Location)}
}

// Append records that streamID's next event number is at commit. Callers
// must call this in append order; the index trusts the caller for
// ordering rather than re-sorting, mirroring the log's own append-order
// guarantee.
func (idx *Index) Append(streamID string, eventNumber, commit int64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.streams[streamID] = append(idx.streams[streamID], Location{EventNumber: eventNumber, Commit: commit})
}

// LastEventNumber returns the highest event number recorded for streamID,
// or -1 (NoStream) if the stream is unknown.
func (idx *Index) LastEventNumber(streamID string) int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	locs := idx.streams[streamID]
	if len(locs) == 0 {
		return -1
	}
	return locs[len(locs)-1].EventNumber
}

// Exists reports whether streamID has ever had an event recorded.
func (idx *Index) Exists(streamID string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.streams[streamID]) > 0
}

// Forward returns up to maxCount locations for streamID starting at
// fromEventNumber (inclusive), in ascending event-number order, plus
// whether the returned slice reaches the stream's current tail.
func (idx *Index) Forward(streamID string, fromEventNumber int64, maxCount int) (locs []Location, isEnd bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	all := idx.streams[streamID]
	start := 0
	for start < len(all) && all[start].EventNumber < fromEventNumber {
		start++
	}
	end := start + maxCount
	if end >= len(all) {
		end = len(all)
		isEnd = true
	}
	out := make([]Location, end-start)
	copy(out, all[start:end])
	return out, isEnd
}

// Backward returns up to maxCount locations for streamID ending at
// fromEventNumber (inclusive, or the tail when fromEventNumber < 0), in
// descending event-number order.
func (idx *Index) Backward(streamID string, fromEventNumber int64, maxCount int) (locs []Location, isEnd bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	all := idx.streams[streamID]
	if len(all) == 0 {
		return nil, true
	}
	startIdx := len(all) - 1
	if fromEventNumber >= 0 {
		for startIdx >= 0 && all[startIdx].EventNumber > fromEventNumber {
			startIdx--
		}
	}
	out := make([]Location, 0, maxCount)
	i := startIdx
	for i >= 0 && len(out) < maxCount {
		out = append(out, all[i])
		i--
	}
	isEnd = i < 0
	return out, isEnd
}
