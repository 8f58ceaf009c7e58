// Package commands implements the kamui CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "kamui",
		Short: "Kamui - chat bridge for the claude CLI",
		Long: `Kamui connects Discord and Slack to the claude CLI. Messages that
mention the bot are answered by the agent, and media it generates is
uploaded back to the conversation.

Examples:
  kamui serve
  kamui serve --platform both
  kamui ask "summarize README.md"
  kamui setup`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newAskCmd(),
		newChatCmd(),
		newHealthCmd(version),
		newSetupCmd(),
		newConfigCmd(),
		newToolsCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
