package tool

import (
	"github.com/spf13/cobra"

	"github.com/alpacahq/colstore/cmd/tool/inspect"
	"github.com/alpacahq/colstore/cmd/tool/integrity"
)

const (
	toolUsage     = "tool"
	toolShortDesc = "Executes tools as subcommands"
	toolLongDesc  = "This command executes the specified tool on a column directory."
	toolExample   = "colstore tool integrity --dir <path>"
)

// Cmd is the tool command.
var Cmd = &cobra.Command{
	Use:        toolUsage,
	Short:      toolShortDesc,
	Long:       toolLongDesc,
	Aliases:    []string{"t"},
	SuggestFor: []string{"inspect", "integrity"},
	Example:    toolExample,
}

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	Cmd.AddCommand(integrity.Cmd)
	Cmd.AddCommand(inspect.Cmd)
}
