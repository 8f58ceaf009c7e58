package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// newToolsCmd creates the `kamui tools` command.
func newToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List MCP tools and the permission patterns tried in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg.Logging, os.Stderr)
			pipe := newPipeline(cfg, logger)
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "MCP config: %s\n\n", mcpConfigPath(cfg.Agent))
			fmt.Fprintln(out, "Tools:")
			for _, t := range pipe.tools.Tools() {
				fmt.Fprintf(out, "  %s\n", t)
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Permission patterns:")
			for i, p := range pipe.tools.Patterns() {
				fmt.Fprintf(out, "  %d) %s\n", i+1, p)
			}
			return nil
		},
	}
}
