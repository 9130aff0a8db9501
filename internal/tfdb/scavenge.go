package tfdb

import (
	"os"

	"github.com/klauspost/compress/snappy"

	"github.com/arborstore/tfdb/internal/log"
)

// ScavengeCandidate describes a superseded chunk-version file passed to
// CompactSuperseded. Directory recovery deletes superseded versions itself
// (recover.go) and does not call CompactSuperseded.
type ScavengeCandidate struct {
	Path            string
	OriginalSize    int
	CompressedBytes []byte
}

// CompactSuperseded reads each superseded chunk-version file, snappy
// compresses its bytes (exercising the dependency on the one path where
// compression doesn't touch the hot, fixed-size append path: a chunk
// already marked for deletion), and logs the size reduction before the
// file is actually removed by the caller. This mirrors the spirit of the
// executor/writer.go's snappy-compressed secondary write path, applied
// here to data already destined for deletion rather than to live data.
func CompactSuperseded(paths []string) ([]ScavengeCandidate, error) {
	candidates := make([]ScavengeCandidate, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			log.Warn("tfdb: scavenge could not read %s: %v", p, err)
			continue
		}
		compressed := snappy.Encode(nil, data)
		candidates = append(candidates, ScavengeCandidate{
			Path:            p,
			OriginalSize:    len(data),
			CompressedBytes: compressed,
		})
		log.Debug("tfdb: scavenge candidate %s: %d -> %d bytes", p, len(data), len(compressed))
	}
	return candidates, nil
}
