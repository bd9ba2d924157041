package tool

import (
	"github.com/spf13/cobra"

	"github.com/ledgerd/bookie/cmd/tool/journaltool"
)

const (
	toolUsage     = "tool"
	toolShortDesc = "Executes tools as subcommands"
	toolLongDesc  = "This command executes the specified offline tool against the files of a stopped bookie."
	toolExample   = "bookie tool journal list --dir <path>"
)

var (
	// Cmd is the tool command.
	Cmd = &cobra.Command{
		Use:        toolUsage,
		Short:      toolShortDesc,
		Long:       toolLongDesc,
		Aliases:    []string{"t"},
		SuggestFor: []string{"journal", "wal"},
		Example:    toolExample,
	}
)

func init() {
	Cmd.AddCommand(journaltool.Cmd)
}
