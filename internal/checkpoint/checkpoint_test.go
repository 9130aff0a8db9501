package checkpoint_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arborstore/tfdb/internal/checkpoint"
)

func TestOpenCreatesWithInitialValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "epoch.chk")
	cp, err := checkpoint.Open(checkpoint.Epoch, path, checkpoint.InitialValue(checkpoint.Epoch), true)
	require.NoError(t, err)
	require.Equal(t, int64(-1), cp.Read())
}

func TestWriteNotDurableUntilFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "writer.chk")
	cp, err := checkpoint.Open(checkpoint.Writer, path, 0, true)
	require.NoError(t, err)

	cp.Write(100)
	require.Equal(t, int64(0), cp.Read(), "cached read must not observe an unflushed write")

	require.NoError(t, cp.Flush())
	require.Equal(t, int64(100), cp.Read())
}

func TestReopenSeesFlushedValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "writer.chk")
	cp, err := checkpoint.Open(checkpoint.Writer, path, 0, true)
	require.NoError(t, err)
	cp.Write(4096)
	require.NoError(t, cp.Flush())

	cp2, err := checkpoint.Open(checkpoint.Writer, path, 0, true)
	require.NoError(t, err)
	require.Equal(t, int64(4096), cp2.Read())
}
