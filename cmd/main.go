package cmd

import (
	"github.com/spf13/cobra"

	"github.com/arborstore/tfdb/cmd/start"
	"github.com/arborstore/tfdb/cmd/tool"
)

// version is set at build time via -ldflags.
var version = "dev"

var flagPrintVersion bool

// Execute builds the command tree and runs it.
func Execute() error {
	c := &cobra.Command{
		Use: "tfdb",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if flagPrintVersion {
				cmd.Println("version:", version)
				return nil
			}
			return cmd.Usage()
		},
	}

	c.AddCommand(start.Cmd)
	c.AddCommand(tool.Cmd)
	c.Flags().BoolVarP(&flagPrintVersion, "version", "v", false, "show the version info and exit")

	return c.Execute()
}
