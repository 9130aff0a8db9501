package tfdb

// ReadAllEventsForward walks the chunk roster directly in commit order,
// independent of any stream, starting at fromPosition. It tolerates
// trailing unparseable/foreign bytes at the current writer frontier by
// stopping there rather than erroring.
func (db *DB) ReadAllEventsForward(fromPosition int64, maxCount int) ([]Record, int64, bool) {
	db.mu.Lock()
	writer := db.writer.Read()
	db.mu.Unlock()

	var out []Record
	pos := fromPosition
	for len(out) < maxCount && pos < writer {
		buf, err := db.Read(pos, minInt32(int32(writer-pos), maxRecordProbe))
		if err != nil {
			break
		}
		rec, n, err := DecodeRecord(buf)
		if err != nil {
			break
		}
		out = append(out, rec)
		pos += int64(n)
	}
	return out, pos, pos >= writer
}

// ReadAllEventsBackward mirrors ReadAllEventsForward but walks the log in
// reverse commit order. Since record boundaries cannot be discovered
// backward without a secondary index (Non-goal: no secondary indexes
// beyond the per-stream index), it first scans forward from position 0
// (up to 1<<20 records) to locate them, then returns the records starting
// at or before fromPosition, newest first. A fromPosition <= 0 returns no
// events and isEndOfStream=true.
func (db *DB) ReadAllEventsBackward(fromPosition int64, maxCount int) ([]Record, int64, bool) {
	if fromPosition <= 0 {
		return nil, 0, true
	}
	forward, _, _ := db.ReadAllEventsForward(0, 1<<20)
	pos := int64(0)
	var located []struct {
		rec Record
		pos int64
	}
	for _, r := range forward {
		located = append(located, struct {
			rec Record
			pos int64
		}{r, pos})
		pos += int64(len(r.Encode()))
	}
	var out []Record
	nextPos := int64(0)
	isEnd := true
	for i := len(located) - 1; i >= 0 && len(out) < maxCount; i-- {
		if located[i].pos > fromPosition {
			continue
		}
		out = append(out, located[i].rec)
		nextPos = located[i].pos
		isEnd = i == 0
	}
	return out, nextPos, isEnd
}

const maxRecordProbe = 1 << 20 // generous upper bound on a single record's encoded size

func minInt32(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}
