package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/el-el-san/discord-Kamui-bot/pkg/kamui/config"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// newSetupCmd creates the `kamui setup` command for interactive configuration.
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Starts an interactive wizard that writes kamui.yaml. Tokens can be
kept in the OS keyring instead of the file.

Examples:
  kamui setup`,
		Args: cobra.NoArgs,
		RunE: runSetup,
	}
}

// setupAnswers holds everything the wizard asks for.
type setupAnswers struct {
	Platform string
	BotName  string

	DiscordToken    string
	DiscordClientID string
	DiscordPrefix   string

	SlackSocketMode    bool
	SlackBotToken      string
	SlackAppToken      string
	SlackSigningSecret string

	EnableProxy bool
	UseKeyring  bool
	Path        string
}

func runSetup(cmd *cobra.Command, _ []string) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return errors.New("setup needs an interactive terminal; use `kamui config init` instead")
	}

	def := config.Default()
	a := setupAnswers{
		Platform:        def.Platform,
		BotName:         def.Discord.BotName,
		DiscordPrefix:   def.Discord.Prefix,
		SlackSocketMode: def.Slack.SocketMode,
		UseKeyring:      config.KeyringAvailable(),
		Path:            defaultConfigFile,
	}
	keyringOK := a.UseKeyring

	usesDiscord := func() bool { return a.Platform != config.PlatformSlack }
	usesSlack := func() bool { return a.Platform != config.PlatformDiscord }

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Platform").
				Options(
					huh.NewOption("Discord", config.PlatformDiscord),
					huh.NewOption("Slack", config.PlatformSlack),
					huh.NewOption("Discord and Slack", config.PlatformBoth),
				).
				Value(&a.Platform),
			huh.NewInput().
				Title("Bot name").
				Value(&a.BotName).
				Validate(required("bot name")),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Discord bot token").
				EchoMode(huh.EchoModePassword).
				Value(&a.DiscordToken).
				Validate(required("token")),
			huh.NewInput().
				Title("Discord application (client) ID").
				Description("Needed to register /ask, /reset and /help. Leave empty to skip.").
				Value(&a.DiscordClientID),
			huh.NewInput().
				Title("Message prefix").
				Value(&a.DiscordPrefix),
		).WithHideFunc(func() bool { return !usesDiscord() }),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Use Socket Mode?").
				Description("Socket Mode needs no public URL. Otherwise the Events API server listens on port 3000.").
				Value(&a.SlackSocketMode),
			huh.NewInput().
				Title("Slack bot token (xoxb-...)").
				EchoMode(huh.EchoModePassword).
				Value(&a.SlackBotToken).
				Validate(required("bot token")),
		).WithHideFunc(func() bool { return !usesSlack() }),
		huh.NewGroup(
			huh.NewInput().
				Title("Slack app-level token (xapp-...)").
				EchoMode(huh.EchoModePassword).
				Value(&a.SlackAppToken).
				Validate(required("app token")),
		).WithHideFunc(func() bool { return !usesSlack() || !a.SlackSocketMode }),
		huh.NewGroup(
			huh.NewInput().
				Title("Slack signing secret").
				EchoMode(huh.EchoModePassword).
				Value(&a.SlackSigningSecret).
				Validate(required("signing secret")),
		).WithHideFunc(func() bool { return !usesSlack() || a.SlackSocketMode }),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Fetch URLs in prompts for the agent?").
				Description("Public http(s) URLs are fetched and inlined. Private addresses are always blocked.").
				Value(&a.EnableProxy),
			huh.NewConfirm().
				Title("Store tokens in the OS keyring?").
				Description("Otherwise they are written to the config file (mode 600).").
				Value(&a.UseKeyring),
			huh.NewInput().
				Title("Config file").
				Value(&a.Path).
				Validate(required("path")),
		),
	)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Fprintln(cmd.OutOrStdout(), "Setup cancelled.")
			return nil
		}
		return fmt.Errorf("setup: %w", err)
	}
	if !keyringOK {
		a.UseKeyring = false
	}

	if _, err := os.Stat(a.Path); err == nil {
		overwrite := false
		err := huh.NewConfirm().
			Title(fmt.Sprintf("%s already exists. Overwrite?", a.Path)).
			Value(&overwrite).
			Run()
		if err != nil || !overwrite {
			fmt.Fprintln(cmd.OutOrStdout(), "Setup cancelled. Existing file kept.")
			return nil
		}
	}

	cfg, secrets := a.toConfig()
	stored := 0
	if a.UseKeyring {
		for key, value := range secrets {
			if err := config.StoreSecret(key, value); err != nil {
				return err
			}
			stored++
		}
	}

	if err := config.Save(cfg, a.Path); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n%s created.\n", a.Path)
	if stored > 0 {
		fmt.Fprintf(out, "%d token(s) stored in the OS keyring.\n", stored)
	}
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Check the agent: kamui health")
	fmt.Fprintln(out, "  2. Start the bridge: kamui serve")
	return nil
}

// toConfig turns the answers into a configuration. When UseKeyring is set the
// tokens are returned separately, keyed by keyring name, and left out of the
// file.
func (a setupAnswers) toConfig() (*config.Config, map[string]string) {
	cfg := config.Default()
	cfg.Platform = a.Platform
	cfg.Discord.BotName = a.BotName
	cfg.Slack.BotName = a.BotName
	cfg.Proxy.Enabled = a.EnableProxy

	secrets := map[string]string{}
	put := func(dst *string, key, value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		if a.UseKeyring {
			secrets[key] = value
			return
		}
		*dst = value
	}

	if a.Platform != config.PlatformSlack {
		cfg.Discord.ClientID = strings.TrimSpace(a.DiscordClientID)
		if a.DiscordPrefix != "" {
			cfg.Discord.Prefix = a.DiscordPrefix
		}
		put(&cfg.Discord.Token, config.SecretDiscordToken, a.DiscordToken)
	}
	if a.Platform != config.PlatformDiscord {
		cfg.Slack.SocketMode = a.SlackSocketMode
		put(&cfg.Slack.BotToken, config.SecretSlackBot, a.SlackBotToken)
		if a.SlackSocketMode {
			put(&cfg.Slack.AppToken, config.SecretSlackApp, a.SlackAppToken)
		} else {
			put(&cfg.Slack.SigningSecret, config.SecretSlackSigning, a.SlackSigningSecret)
		}
	}
	return cfg, secrets
}

// required returns a validator rejecting blank input.
func required(what string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", what)
		}
		return nil
	}
}
