package cmd

import (
	"github.com/spf13/cobra"

	"github.com/alpacahq/colstore/cmd/start"
	"github.com/alpacahq/colstore/cmd/tool"
	"github.com/alpacahq/colstore/utils"
	"github.com/alpacahq/colstore/utils/log"
)

// flagPrintVersion set flag to show current colstore version.
var flagPrintVersion bool

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	// c is the root command.
	c := &cobra.Command{
		Use:          "colstore",
		Short:        "Append-only variable length column store with delta replication",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Print version if specified.
			if flagPrintVersion {
				log.Info("version: %+v", utils.Tag)
				log.Info("commit hash: %+v", utils.GitHash)
				log.Info("utc build time: %+v", utils.BuildStamp)
				return nil
			}
			// Print information regarding usage.
			return cmd.Usage()
		},
	}

	// Adds subcommands and version flag.
	c.AddCommand(start.Cmd)
	c.AddCommand(tool.Cmd)
	c.Flags().BoolVarP(&flagPrintVersion, "version", "v", false, "show the version info and exit")
	return c
}

// Execute builds the command tree and executes commands.
func Execute() error {
	return NewRootCommand().Execute()
}
