package tool

import (
	"github.com/spf13/cobra"

	"github.com/arborstore/tfdb/cmd/tool/integrity"
	"github.com/arborstore/tfdb/cmd/tool/wal"
)

const (
	toolUsage     = "tool"
	toolShortDesc = "Executes tools as subcommands"
	toolLongDesc  = "This command executes the specified diagnostic tool"
	toolExample   = "tfdb tool wal [flags]"
)

var (
	// Cmd is the tool command.
	Cmd = &cobra.Command{
		Use:        toolUsage,
		Short:      toolShortDesc,
		Long:       toolLongDesc,
		Aliases:    []string{"t"},
		SuggestFor: []string{"wal", "integrity"},
		Example:    toolExample,
	}
)

//nolint:gochecknoinits // cobra's standard way to register subcommands
func init() {
	Cmd.AddCommand(integrity.Cmd)
	Cmd.AddCommand(wal.Cmd)
}
