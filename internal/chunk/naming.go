package chunk

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// TransientSuffixes are recognized temporary-file markers deleted during
// recovery rather than treated as extraneous.
var TransientSuffixes = []string{".tmp", ".scavenge.tmp"}

// NamingStrategy maps (start, version) <-> filename and enumerates a
// directory's chunk files. Two concrete strategies exist: Prefix, the
// "prefix.tf-" pattern used in simple/test databases, and Versioned,
// the "chunk-" pattern used by real databases.
type NamingStrategy interface {
	FilenameFor(dir string, start, version int32) string
	// Parse returns the (start, version) encoded by name, and ok=false if
	// name does not match this strategy's pattern at all (a foreign file
	// the directory scan must leave untouched).
	Parse(name string) (start, version int32, ok bool)
}

// Versioned implements the "chunk-{start:06d}.{version:06d}" pattern.
type Versioned struct {
	Prefix string // e.g. "chunk-"
}

func NewVersioned(prefix string) Versioned { return Versioned{Prefix: prefix} }

func (v Versioned) FilenameFor(dir string, start, version int32) string {
	return filepath.Join(dir, fmt.Sprintf("%s%06d.%06d", v.Prefix, start, version))
}

func (v Versioned) Parse(name string) (start, version int32, ok bool) {
	if !strings.HasPrefix(name, v.Prefix) {
		return 0, 0, false
	}
	rest := strings.TrimPrefix(name, v.Prefix)
	parts := strings.SplitN(rest, ".", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	s, err1 := strconv.ParseInt(parts[0], 10, 32)
	ver, err2 := strconv.ParseInt(parts[1], 10, 32)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return int32(s), int32(ver), true
}

// Prefix implements the "{base}-{start:06d}.{version:06d}" pattern used by
// early/test databases, e.g. "prefix.tf-000000.000000".
type Prefix struct {
	Base string // e.g. "prefix.tf"
}

func NewPrefix(base string) Prefix { return Prefix{Base: base} }

func (p Prefix) FilenameFor(dir string, start, version int32) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%06d.%06d", p.Base, start, version))
}

func (p Prefix) Parse(name string) (start, version int32, ok bool) {
	if !strings.HasPrefix(name, p.Base+"-") {
		return 0, 0, false
	}
	rest := strings.TrimPrefix(name, p.Base+"-")
	parts := strings.SplitN(rest, ".", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	s, err1 := strconv.ParseInt(parts[0], 10, 32)
	ver, err2 := strconv.ParseInt(parts[1], 10, 32)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return int32(s), int32(ver), true
}

// Entry is one parsed chunk file on disk.
type Entry struct {
	Start, Version int32
	Path           string
}

// IsTransient reports whether name carries a recognized temporary suffix
// that recovery deletes outright instead of treating as extraneous.
func IsTransient(name string) bool {
	for _, suf := range TransientSuffixes {
		if strings.HasSuffix(name, suf) {
			return true
		}
	}
	return false
}

// EnumerateAll scans dir with the naming strategy, returning every parsed
// chunk file entry. Names the strategy cannot parse (and that are not
// transient) are returned separately as "foreign" files preserved as-is,
// mirroring catalog.Directory.load's os.ReadDir scan-and-classify loop.
func EnumerateAll(dir string, strat NamingStrategy) (entries []Entry, transient, foreign []string, err error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		if IsTransient(name) {
			transient = append(transient, filepath.Join(dir, name))
			continue
		}
		start, version, ok := strat.Parse(name)
		if !ok {
			foreign = append(foreign, filepath.Join(dir, name))
			continue
		}
		entries = append(entries, Entry{Start: start, Version: version, Path: filepath.Join(dir, name)})
	}
	return entries, transient, foreign, nil
}

// LatestForEachStart groups entries by Start and returns only the
// highest-Version entry per Start, sorted by Start ascending, plus every
// lower-versioned entry as "superseded" candidates for deletion.
func LatestForEachStart(entries []Entry) (latest []Entry, superseded []Entry) {
	byStart := make(map[int32][]Entry)
	for _, e := range entries {
		byStart[e.Start] = append(byStart[e.Start], e)
	}
	starts := make([]int32, 0, len(byStart))
	for s := range byStart {
		starts = append(starts, s)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	for _, s := range starts {
		group := byStart[s]
		sort.Slice(group, func(i, j int) bool { return group[i].Version > group[j].Version })
		latest = append(latest, group[0])
		superseded = append(superseded, group[1:]...)
	}
	return latest, superseded
}
