package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/el-el-san/discord-Kamui-bot/pkg/kamui/config"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// defaultConfigFile is where init and setup write.
const defaultConfigFile = "kamui.yaml"

// newConfigCmd creates the `kamui config` command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration and stored secrets",
		Long: `Inspect the effective configuration and manage tokens kept in the
OS keyring.

Examples:
  kamui config init
  kamui config show
  kamui config set-secret discord_bot_token
  kamui config delete-secret slack_app_token`,
	}

	cmd.AddCommand(
		newConfigInitCmd(),
		newConfigShowCmd(),
		newConfigSetSecretCmd(),
		newConfigDeleteSecretCmd(),
	)
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration to kamui.yaml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			force, _ := cmd.Flags().GetBool("force")
			if _, err := os.Stat(defaultConfigFile); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", defaultConfigFile)
			}
			if err := config.Save(config.Default(), defaultConfigFile); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to ./%s\n", defaultConfigFile)
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "overwrite an existing file")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(config.Redacted(cfg))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if path == "" {
				fmt.Fprintln(out, "# no config file found; showing defaults, env and keyring")
			} else {
				fmt.Fprintf(out, "# %s\n", path)
			}
			_, err = out.Write(data)
			if verr := cfg.Validate(); verr != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "\nwarning: %v\n", verr)
			}
			return err
		},
	}
}

func newConfigSetSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "set-secret <key> [value]",
		Short:     "Store a token in the OS keyring",
		Long:      "Store a token in the OS keyring. Keys: " + strings.Join(config.SecretKeys, ", ") + ". The value is read without echo when omitted.",
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: config.SecretKeys,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !config.KeyringAvailable() {
				return errors.New("OS keyring is not available; use environment variables instead")
			}
			var value string
			if len(args) == 2 {
				value = args[1]
			} else {
				v, err := readSecret(fmt.Sprintf("%s: ", args[0]))
				if err != nil {
					return err
				}
				value = v
			}
			if strings.TrimSpace(value) == "" {
				return errors.New("empty value")
			}
			if err := config.StoreSecret(args[0], value); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s stored in the OS keyring\n", args[0])
			return nil
		},
	}
}

func newConfigDeleteSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "delete-secret <key>",
		Short:     "Remove a token from the OS keyring",
		Args:      cobra.ExactArgs(1),
		ValidArgs: config.SecretKeys,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.DeleteSecret(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s removed from the OS keyring\n", args[0])
			return nil
		},
	}
}

// readSecret prompts on stderr and reads a line without echo.
func readSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no terminal to read the secret from; pass it as an argument")
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}
