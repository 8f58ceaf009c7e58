package commands

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/el-el-san/discord-Kamui-bot/pkg/kamui/agent"
	"github.com/el-el-san/discord-Kamui-bot/pkg/kamui/config"
	"github.com/el-el-san/discord-Kamui-bot/pkg/kamui/httpproxy"
	"github.com/el-el-san/discord-Kamui-bot/pkg/kamui/media"
	"github.com/spf13/cobra"
)

// loadConfig loads the file named by --config, or the first file found by
// config.FindFile. Running without a file is allowed; env and keyring still
// apply.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path == "" {
		path = config.FindFile()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

// newLogger builds the process logger from the logging section. --verbose
// forces debug.
func newLogger(cmd *cobra.Command, cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	level := cfg.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// pipeline is the agent side of the bridge, shared by serve, ask, chat and
// health.
type pipeline struct {
	tools     *agent.ToolSet
	processor *agent.Processor
	finder    *media.Finder
}

// newPipeline wires runner, escalation and prompt preprocessing from cfg.
func newPipeline(cfg *config.Config, logger *slog.Logger) *pipeline {
	extractor := agent.NewExtractor(cfg.Agent.WorkDir, logger)
	runner := agent.NewRunner(cfg.Agent, extractor, logger)
	tools := agent.NewToolSet(mcpConfigPath(cfg.Agent), cfg.Agent.Patterns, logger)
	escalator := agent.NewEscalator(runner, tools, logger)

	var pre agent.Preprocessor
	if cfg.Proxy.Enabled {
		pre = httpproxy.New(cfg.Proxy, logger)
	}

	return &pipeline{
		tools:     tools,
		processor: agent.NewProcessor(escalator, pre, logger),
		finder:    media.NewFinder(cfg.Agent.WorkDir, logger),
	}
}

// mcpConfigPath resolves the MCP config the way the agent process sees it,
// relative to its working directory.
func mcpConfigPath(cfg agent.Config) string {
	path := cfg.MCPConfig
	if path == "" {
		path = agent.DefaultConfig().MCPConfig
	}
	if filepath.IsAbs(path) || cfg.WorkDir == "" {
		return path
	}
	return filepath.Join(cfg.WorkDir, path)
}
