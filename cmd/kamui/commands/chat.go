package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/el-el-san/discord-Kamui-bot/pkg/kamui/bridge"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// newChatCmd creates the `kamui chat` command, an interactive REPL.
func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive conversation with the agent",
		Long: `Start a terminal conversation that continues across prompts.
Type /reset to start over, /help for help and /exit to quit.`,
		Args: cobra.NoArgs,
		RunE: runChat,
	}
}

// replAction is what a line typed at the chat prompt asks for.
type replAction int

const (
	replPrompt replAction = iota
	replSkip
	replReset
	replHelp
	replExit
)

// parseReplLine classifies a chat line.
func parseReplLine(line string) replAction {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "":
		return replSkip
	case "/reset", "リセット":
		return replReset
	case "/help", "ヘルプ":
		return replHelp
	case "/exit", "/quit", "exit", "quit":
		return replExit
	}
	return replPrompt
}

func runChat(cmd *cobra.Command, _ []string) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return errors.New("chat needs an interactive terminal; use `kamui ask` for scripts")
	}

	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg.Logging, os.Stderr)
	pipe := newPipeline(cfg, logger)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "kamui> ",
		HistoryFile:     historyFile(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("starting readline: %w", err)
	}
	defer rl.Close()

	out := rl.Stdout()
	fmt.Fprintf(out, "%s chat. Type /help for commands, /exit to quit.\n", cfg.Discord.BotName)

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		switch parseReplLine(line) {
		case replSkip:
			continue
		case replExit:
			return nil
		case replReset:
			fmt.Fprintln(out, pipe.processor.Reset(cliSession))
			continue
		case replHelp:
			fmt.Fprintln(out, bridge.HelpText("cli", cfg.Discord.BotName, cfg.Discord.Prefix))
			continue
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Bridge.Timeout)
		if err := runPrompt(ctx, pipe.processor, line, out, rl.Stderr()); err != nil {
			logger.Debug("prompt failed", "error", err)
		}
		cancel()
	}
}

// historyFile returns the readline history path, or "" when no home
// directory is available.
func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".kamui_history")
}
