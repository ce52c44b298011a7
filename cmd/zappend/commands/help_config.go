package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bcdev/zappend/pkg/config"
	"github.com/bcdev/zappend/pkg/zerrors"
)

// printHelpConfig renders the configuration schema and exits the command
// without running the processor (spec §6).
func printHelpConfig(cmd *cobra.Command, format string) error {
	switch format {
	case "json":
		out, err := config.RenderHelpJSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	case "md":
		fmt.Fprint(cmd.OutOrStdout(), config.RenderHelpMarkdown())
		return nil
	default:
		return zerrors.Config("--help-config must be %q or %q, got %q", "json", "md", format)
	}
}
