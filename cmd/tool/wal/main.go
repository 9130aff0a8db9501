// Package wal implements "tool wal", an inspector that opens a database
// directory and prints its four checkpoint values and chunk roster,
// adapted from a WAL-replay debugger into a checkpoint/chunk debugger
// since this store's durable log has no single replayable WAL file the
// way executor.WALFileType does.
package wal

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arborstore/tfdb/internal/chunk"
	"github.com/arborstore/tfdb/internal/log"
	"github.com/arborstore/tfdb/internal/tfdb"
)

const (
	walUsage        = "wal"
	walShortDesc    = "Inspect a database's checkpoints and chunk roster"
	walLongDesc     = "This command opens a database directory and reports its writer/chaser/epoch/truncate checkpoints and chunk ranges"
	walDirPathDesc  = "Path to the database directory"
	defaultChunkLen = 256 * 1024 * 1024
)

var (
	// Cmd is the wal command.
	Cmd = &cobra.Command{
		Use:     walUsage,
		Short:   walShortDesc,
		Long:    walLongDesc,
		Aliases: []string{"checkpoints"},
		Example: "tfdb tool wal --dir ./data",
		RunE:    executeWAL,
	}
	dirPath   string
	chunkSize int32
)

//nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	Cmd.Flags().StringVarP(&dirPath, "dir", "d", "", walDirPathDesc)
	Cmd.Flags().Int32VarP(&chunkSize, "chunk-size", "s", defaultChunkLen, "chunk body capacity used to open the directory")
	if err := Cmd.MarkFlagRequired("dir"); err != nil {
		log.Fatal("%v", err)
	}
}

func executeWAL(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true

	db, err := tfdb.Open(dirPath, tfdb.Options{
		ChunkSize:  chunkSize,
		Naming:     chunk.NewVersioned("chunk-"),
		VerifyHash: false,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	fmt.Printf("directory:       %s\n", db.Dir())
	fmt.Printf("chunk size:      %d\n", db.ChunkSize())
	fmt.Printf("writer:          %d\n", db.WriterPosition())
	fmt.Printf("chaser:          %d\n", db.ChaserPosition())
	fmt.Printf("epoch:           %d\n", db.EpochPosition())
	fmt.Printf("truncate:        %d\n", db.TruncatePosition())
	fmt.Printf("chunks:          %d\n", db.ChunkCount())
	for _, r := range db.ChunkRanges() {
		fmt.Printf("  chunk start=%d end=%d\n", r.Start, r.End)
	}
	return nil
}
