package tfdb

import (
	"os"
	"strconv"

	"github.com/arborstore/tfdb/internal/chunk"
	"github.com/arborstore/tfdb/internal/log"
	"github.com/arborstore/tfdb/internal/tferrors"
)

// recoverDirectory implements the ten-step directory validation/recovery
// procedure: enumerate, delete transients, reject extraneous files,
// require missing chunks up to the writer frontier, collapse superseded
// versions, open the ongoing tail under the boundary policy, validate
// every completed chunk, and publish the roster.
func recoverDirectory(dir string, chunkSize int32, naming chunk.NamingStrategy, writer int64, verifyHash bool) (*roster, error) {
	lastStart := int32(writer / int64(chunkSize))
	boundary := writer%int64(chunkSize) == 0

	entries, transient, _, err := chunk.EnumerateAll(dir, naming)
	if err != nil {
		return nil, err
	}

	// Step: delete recognized transients (.tmp, .scavenge.tmp).
	for _, path := range transient {
		if err := os.Remove(path); err != nil {
			log.Warn("tfdb: failed to delete transient file %s: %v", path, err)
		}
	}

	// Step: extraneous files. The threshold reserves room for a fresh
	// next chunk when writer sits exactly on a boundary; verified against
	// every S1-S6 scenario in the testable-properties section.
	threshold := lastStart
	if boundary {
		threshold++
	}
	for _, e := range entries {
		if e.Start > threshold {
			return nil, tferrors.NewCorruptDatabase(tferrors.ExtraneousFileFound, e.Path)
		}
	}

	// Step: missing files. Chunks [0, lastStart) are always required;
	// chunk lastStart itself is required only when writer lies strictly
	// inside it (not on a boundary, where it may not exist yet).
	latest, superseded := chunk.LatestForEachStart(entries)
	byStart := make(map[int32]chunk.Entry, len(latest))
	for _, e := range latest {
		byStart[e.Start] = e
	}
	requiredUpTo := lastStart
	if !boundary {
		requiredUpTo = lastStart + 1
	}
	for s := int32(0); s < requiredUpTo; s++ {
		if _, ok := byStart[s]; !ok {
			return nil, tferrors.NewCorruptDatabase(tferrors.ChunkNotFound, "missing chunk start "+strconv.Itoa(int(s)))
		}
	}

	// Step: version collapse. Delete every superseded version file.
	for _, e := range superseded {
		if err := os.Remove(e.Path); err != nil {
			log.Warn("tfdb: failed to delete superseded chunk file %s: %v", e.Path, err)
		}
	}

	r := newRoster(chunkSize)

	// Step: completed-chunk validation for every required chunk strictly
	// before the tail.
	completedUpTo := lastStart
	for s := int32(0); s < completedUpTo; s++ {
		e := byStart[s]
		c, err := chunk.OpenCompleted(e.Path, verifyHash)
		if err != nil {
			return nil, err
		}
		r.put(c)
	}

	// Step: ongoing-tail policy.
	if !boundary {
		e, ok := byStart[lastStart]
		if !ok {
			return nil, tferrors.NewCorruptDatabase(tferrors.ChunkNotFound, "missing tail chunk "+strconv.Itoa(int(lastStart)))
		}
		c, err := chunk.OpenOngoing(e.Path)
		if err != nil {
			return nil, err
		}
		localNeeded := int32(writer - int64(lastStart)*int64(chunkSize))
		if c.LocalLen() < localNeeded {
			c.Close()
			return nil, tferrors.NewCorruptDatabase(tferrors.BadChunkInDatabase,
				e.Path+": tail shorter than writer checkpoint demands")
		}
		r.put(c)
	} else {
		if e, ok := byStart[lastStart]; ok {
			c, err := chunk.OpenOngoing(e.Path)
			if err != nil {
				return nil, err
			}
			if !c.IsOngoing() {
				// already completed, e.g. a sealed but never-rolled-to
				// empty chunk from a prior clean shutdown; re-open
				// properly as completed so its footer is validated too.
				c.Close()
				cc, err := chunk.OpenCompleted(e.Path, verifyHash)
				if err != nil {
					return nil, err
				}
				r.put(cc)
			} else {
				r.put(c)
			}
		} else {
			path := naming.FilenameFor(dir, lastStart, 0)
			c, err := chunk.Create(path, lastStart, lastStart, chunkSize)
			if err != nil {
				return nil, err
			}
			r.put(c)
		}
	}

	return r, nil
}

