package tfdb_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arborstore/tfdb/internal/chunk"
	"github.com/arborstore/tfdb/internal/tfdb"
	"github.com/arborstore/tfdb/internal/tferrors"
)

func writeCheckpoints(t *testing.T, dir string, writer, chaser, epoch, truncate int64) {
	t.Helper()
	write := func(name string, v int64) {
		buf := make([]byte, 8)
		for i := 0; i < 8; i++ {
			buf[i] = byte(v >> (8 * i))
		}
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".chk"), buf, 0o644))
	}
	write("writer", writer)
	write("chaser", chaser)
	write("epoch", epoch)
	write("truncate", truncate)
}

func makeCompletedChunk(t *testing.T, dir string, naming chunk.NamingStrategy, start int32, fill int) {
	t.Helper()
	path := naming.FilenameFor(dir, start, 0)
	c, err := chunk.Create(path, start, start, 10000)
	require.NoError(t, err)
	_, err = c.Append(make([]byte, fill))
	require.NoError(t, err)
	require.NoError(t, c.Complete())
	require.NoError(t, c.Close())
}

// S1: corrupt-size. A single garbage file where a valid chunk should be.
func TestOpenS1CorruptSize(t *testing.T) {
	dir := t.TempDir()
	naming := chunk.NewPrefix("prefix.tf")
	writeCheckpoints(t, dir, 500, 0, -1, -1)
	path := naming.FilenameFor(dir, 0, 0)
	require.NoError(t, os.WriteFile(path, []byte("this is just some test blahbydy blah"), 0o644))

	_, err := tfdb.Open(dir, tfdb.Options{ChunkSize: 10000, Naming: naming, VerifyHash: false})
	require.Error(t, err)
	var cd *tferrors.CorruptDatabase
	require.True(t, errors.As(err, &cd))
	require.Equal(t, tferrors.BadChunkInDatabase, cd.Cause)
}

// S2: missing-files.
func TestOpenS2MissingFiles(t *testing.T) {
	dir := t.TempDir()
	naming := chunk.NewVersioned("chunk-")
	writeCheckpoints(t, dir, 15000, 0, -1, -1)
	makeCompletedChunk(t, dir, naming, 0, 10000)

	_, err := tfdb.Open(dir, tfdb.Options{ChunkSize: 10000, Naming: naming})
	require.Error(t, err)
	var cd *tferrors.CorruptDatabase
	require.True(t, errors.As(err, &cd))
	require.Equal(t, tferrors.ChunkNotFound, cd.Cause)
}

// S3: exact boundary, next chunk created.
func TestOpenS3BoundaryCreatesNextChunk(t *testing.T) {
	dir := t.TempDir()
	naming := chunk.NewVersioned("chunk-")
	writeCheckpoints(t, dir, 10000, 0, -1, -1)
	makeCompletedChunk(t, dir, naming, 0, 10000)

	db, err := tfdb.Open(dir, tfdb.Options{ChunkSize: 10000, Naming: naming})
	require.NoError(t, err)
	defer db.Close()

	_, err = os.Stat(naming.FilenameFor(dir, 1, 0))
	require.NoError(t, err, "chunk 1 must have been created as the new ongoing tail")
}

// S4: extraneous head.
func TestOpenS4ExtraneousHead(t *testing.T) {
	dir := t.TempDir()
	naming := chunk.NewVersioned("chunk-")
	writeCheckpoints(t, dir, 0, 0, -1, -1)
	makeCompletedChunk(t, dir, naming, 4, 10000)

	_, err := tfdb.Open(dir, tfdb.Options{ChunkSize: 10000, Naming: naming})
	require.Error(t, err)
	var cd *tferrors.CorruptDatabase
	require.True(t, errors.As(err, &cd))
	require.Equal(t, tferrors.ExtraneousFileFound, cd.Cause)
}

// S5: version collapse.
func TestOpenS5VersionCollapse(t *testing.T) {
	dir := t.TempDir()
	naming := chunk.NewVersioned("chunk-")
	writeCheckpoints(t, dir, 350, 0, -1, -1)

	mk := func(start, version int32, size int) {
		path := naming.FilenameFor(dir, start, version)
		c, err := chunk.Create(path, start, start, 100)
		require.NoError(t, err)
		if size > 0 {
			_, err = c.Append(make([]byte, size))
			require.NoError(t, err)
		}
		require.NoError(t, c.Complete())
		require.NoError(t, c.Close())
	}
	mk(0, 0, 100)
	mk(0, 2, 100)
	mk(0, 5, 100)
	mk(1, 0, 100)
	mk(1, 1, 100)
	mk(2, 0, 100)
	mk(3, 7, 100)

	// chunk 3 is the ongoing tail (writer=350 falls inside chunk 3 [300,400)),
	// so it must be opened as ongoing, not completed - create it without Complete.
	tailPath := naming.FilenameFor(dir, 3, 8)
	tailChunk, err := chunk.Create(tailPath, 3, 3, 100)
	require.NoError(t, err)
	_, err = tailChunk.Append(make([]byte, 50))
	require.NoError(t, err)
	require.NoError(t, tailChunk.Close())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "foo"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bla"), []byte("y"), 0o644))

	db, err := tfdb.Open(dir, tfdb.Options{ChunkSize: 100, Naming: naming})
	require.NoError(t, err)
	defer db.Close()

	remaining, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := map[string]bool{}
	for _, e := range remaining {
		names[e.Name()] = true
	}
	// checkpoints plus six survivors: foo, bla and four chunk files
	require.True(t, names["foo"])
	require.True(t, names["bla"])
	require.True(t, names[filepath.Base(naming.FilenameFor(dir, 0, 5))])
	require.True(t, names[filepath.Base(naming.FilenameFor(dir, 1, 1))])
	require.True(t, names[filepath.Base(naming.FilenameFor(dir, 2, 0))])
	require.True(t, names[filepath.Base(naming.FilenameFor(dir, 3, 8))])
	require.False(t, names[filepath.Base(naming.FilenameFor(dir, 0, 0))])
	require.False(t, names[filepath.Base(naming.FilenameFor(dir, 0, 2))])
	require.False(t, names[filepath.Base(naming.FilenameFor(dir, 3, 7))])
}

// S6: transient cleanup.
func TestOpenS6TransientCleanup(t *testing.T) {
	dir := t.TempDir()
	naming := chunk.NewVersioned("chunk-")
	writeCheckpoints(t, dir, 150, 0, -1, -1)
	makeCompletedChunk(t, dir, naming, 0, 100)

	tailPath := naming.FilenameFor(dir, 1, 0)
	tailChunk, err := chunk.Create(tailPath, 1, 1, 100)
	require.NoError(t, err)
	_, err = tailChunk.Append(make([]byte, 50))
	require.NoError(t, err)
	require.NoError(t, tailChunk.Close())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bla"), []byte("z"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bla.tmp"), []byte("z"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bla.scavenge.tmp"), []byte("z"), 0o644))

	db, err := tfdb.Open(dir, tfdb.Options{ChunkSize: 100, Naming: naming})
	require.NoError(t, err)
	defer db.Close()

	_, err = os.Stat(filepath.Join(dir, "bla"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "bla.tmp"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "bla.scavenge.tmp"))
	require.True(t, os.IsNotExist(err))
}

// Property 1: chaser > writer boundary.
func TestOpenRejectsChaserAheadOfWriter(t *testing.T) {
	dir := t.TempDir()
	naming := chunk.NewVersioned("chunk-")
	writeCheckpoints(t, dir, 100, 101, -1, -1)

	_, err := tfdb.Open(dir, tfdb.Options{ChunkSize: 10000, Naming: naming})
	require.Error(t, err)
	var cd *tferrors.CorruptDatabase
	require.True(t, errors.As(err, &cd))
	require.Equal(t, tferrors.ReaderCheckpointHigherThanWriter, cd.Cause)
}

func TestOpenAllowsChaserEqualToWriter(t *testing.T) {
	dir := t.TempDir()
	naming := chunk.NewVersioned("chunk-")
	writeCheckpoints(t, dir, 0, 0, -1, -1)

	db, err := tfdb.Open(dir, tfdb.Options{ChunkSize: 10000, Naming: naming})
	require.NoError(t, err)
	defer db.Close()
}

// Append/read round trip across a roll to a new chunk.
func TestAppendReadRoundTripAcrossRoll(t *testing.T) {
	dir := t.TempDir()
	naming := chunk.NewVersioned("chunk-")
	writeCheckpoints(t, dir, 0, 0, -1, -1)

	db, err := tfdb.Open(dir, tfdb.Options{ChunkSize: 16, Naming: naming})
	require.NoError(t, err)
	defer db.Close()

	off1, err := db.Append([]byte("0123456789"))
	require.NoError(t, err)
	require.Equal(t, int64(0), off1)

	// this append overflows the 16-byte chunk and must roll to a new one
	off2, err := db.Append([]byte("abcdefgh"))
	require.NoError(t, err)
	require.Equal(t, int64(16), off2)

	got1, err := db.Read(off1, 10)
	require.NoError(t, err)
	require.Equal(t, "0123456789", string(got1))

	got2, err := db.Read(off2, 8)
	require.NoError(t, err)
	require.Equal(t, "abcdefgh", string(got2))
}
