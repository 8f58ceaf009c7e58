package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/el-el-san/discord-Kamui-bot/pkg/kamui/agent"
	"github.com/el-el-san/discord-Kamui-bot/pkg/kamui/bridge"
	"github.com/spf13/cobra"
)

// cliSession is the conversation shared by ask and chat.
const cliSession = "cli:local"

// newAskCmd creates the `kamui ask` command for one-shot prompts.
func newAskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <prompt>",
		Short: "Send a single prompt through the agent pipeline",
		Long: `Run one prompt with the same permission escalation and URL
preprocessing the bridge uses, then print the reply and any saved files.

Examples:
  kamui ask "what changed in the last commit?"
  kamui ask --fresh "start over: list the MCP tools you can use"`,
		Args: cobra.MinimumNArgs(1),
		RunE: runAsk,
	}

	cmd.Flags().Bool("fresh", false, "start a new conversation instead of continuing")
	return cmd
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg.Logging, os.Stderr)
	pipe := newPipeline(cfg, logger)

	if fresh, _ := cmd.Flags().GetBool("fresh"); fresh {
		pipe.processor.Reset(cliSession)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Bridge.Timeout)
	defer cancel()

	return runPrompt(ctx, pipe.processor, strings.Join(args, " "), cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// runPrompt sends prompt to ag and writes the reply to out. Tool notices go
// to progress as they stream.
func runPrompt(ctx context.Context, ag bridge.Agent, prompt string, out, progress io.Writer) error {
	onEvent := func(ev agent.Event) {
		if ev.Kind == agent.EventToolUse {
			fmt.Fprintf(progress, "  %s\n", ev.Text)
		}
	}

	res, err := ag.Process(ctx, cliSession, prompt, onEvent)
	if err != nil {
		fmt.Fprintln(out, agent.UserMessage(err))
		return err
	}

	text := res.Text
	if strings.TrimSpace(text) == "" {
		text = bridge.EmptyResponseMessage
	}
	fmt.Fprintln(out, text)
	for _, f := range res.Files {
		fmt.Fprintf(out, "📎 %s\n", f)
	}
	if res.Outcome == agent.OutcomePartialTimeout {
		fmt.Fprintln(progress, "(the agent timed out; the reply may be incomplete)")
	}
	return nil
}
