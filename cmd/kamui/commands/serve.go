package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/el-el-san/discord-Kamui-bot/pkg/kamui/bridge"
	"github.com/el-el-san/discord-Kamui-bot/pkg/kamui/channels"
	"github.com/el-el-san/discord-Kamui-bot/pkg/kamui/channels/discord"
	"github.com/el-el-san/discord-Kamui-bot/pkg/kamui/channels/slack"
	"github.com/el-el-san/discord-Kamui-bot/pkg/kamui/config"
	"github.com/el-el-san/discord-Kamui-bot/pkg/kamui/media"
	"github.com/el-el-san/discord-Kamui-bot/pkg/kamui/metrics"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout    = 10 * time.Second
	healthCheckTimeout = 60 * time.Second
	limiterCleanup     = 10 * time.Minute
	limiterMaxIdle     = 30 * time.Minute
)

// newServeCmd creates the `kamui serve` command that runs the bridge.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge on the configured chat platforms",
		Long: `Connect to Discord and/or Slack and answer messages addressed to the
bot with the claude CLI.

Examples:
  kamui serve
  kamui serve --platform slack
  kamui serve --metrics-addr :9090 --config ./kamui.yaml`,
		RunE: runServe,
	}

	cmd.Flags().String("platform", "", "platforms to serve (discord, slack, both)")
	cmd.Flags().String("metrics-addr", "", "listen address for /metrics and /healthz")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	// ── Load config ──
	cfg, path, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if p, _ := cmd.Flags().GetString("platform"); p != "" {
		cfg.Platform = p
	}
	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		cfg.Metrics.Addr = addr
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// ── Configure logger ──
	logger := newLogger(cmd, cfg.Logging, os.Stdout)
	slog.SetDefault(logger)
	if path != "" {
		logger.Info("config loaded", "path", path)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Agent pipeline ──
	pipe := newPipeline(cfg, logger)
	if err := pipe.tools.Watch(ctx); err != nil {
		logger.Warn("mcp config watch disabled", "error", err)
	}

	sweeper := media.NewSweeper(pipe.finder.Dir(), cfg.Media.Sweep, logger)
	if err := sweeper.Start(); err != nil {
		logger.Warn("generated file sweeping disabled", "error", err)
	}

	// ── Register channels ──
	manager := channels.NewManager(logger)
	botName := cfg.Discord.BotName
	for _, name := range cfg.Platforms() {
		var ch channels.Channel
		switch name {
		case config.PlatformDiscord:
			ch = discord.New(cfg.Discord, logger)
		case config.PlatformSlack:
			ch = slack.New(cfg.Slack, logger)
			if cfg.Platform == config.PlatformSlack {
				botName = cfg.Slack.BotName
			}
		}
		if err := manager.Register(ch); err != nil {
			return fmt.Errorf("registering %s: %w", name, err)
		}
		logger.Info("channel registered", "channel", name)
	}

	limiter := bridge.NewRateLimiter(cfg.Bridge.RatePerMinute, cfg.Bridge.RateBurst)
	handler := bridge.NewHandler(bridge.Config{
		BotName:         botName,
		Timeout:         cfg.Bridge.Timeout,
		ChunkDelay:      cfg.Bridge.ChunkDelay,
		DetectionWindow: cfg.Media.DetectionWindow(),
		SendTimeout:     bridge.DefaultConfig().SendTimeout,
		TypingInterval:  bridge.DefaultConfig().TypingInterval,
	}, pipe.processor, manager, pipe.finder, limiter, logger)

	// ── Metrics ──
	var metricsSrv *http.Server
	if cfg.Metrics.Addr != "" {
		metricsSrv, err = startMetrics(cfg.Metrics.Addr, manager, logger)
		if err != nil {
			return err
		}
	}

	// ── Start ──
	if err := manager.Start(ctx); err != nil {
		sweeper.Stop()
		return fmt.Errorf("failed to start: %w", err)
	}

	handlerDone := make(chan struct{})
	go func() {
		defer close(handlerDone)
		handler.Run(ctx, manager.Messages())
	}()

	go func() {
		hctx, hcancel := context.WithTimeout(ctx, healthCheckTimeout)
		defer hcancel()
		if !pipe.processor.Health(hctx) {
			logger.Warn("agent did not pass the startup health check; messages will still be processed")
		}
	}()

	go func() {
		ticker := time.NewTicker(limiterCleanup)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := limiter.Cleanup(limiterMaxIdle); n > 0 {
					logger.Debug("rate limiter entries expired", "removed", n)
				}
			}
		}
	}()

	// ── Wait for shutdown ──
	logger.Info("Kamui running. Press Ctrl+C to stop.",
		"platform", cfg.Platform,
		"tools", len(pipe.tools.Tools()),
		"proxy", cfg.Proxy.Enabled,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")

	done := make(chan struct{})
	go func() {
		cancel()
		<-handlerDone
		manager.Stop()
		sweeper.Stop()
		if metricsSrv != nil {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = metricsSrv.Shutdown(sctx)
			scancel()
		}
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timed out after 10s, forcing exit")
	}

	return nil
}

// startMetrics serves /metrics and a /healthz channel report on addr.
func startMetrics(addr string, manager *channels.Manager, logger *slog.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	srv := &http.Server{
		Handler:           metricsMux(manager),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	logger.Info("metrics listening", "addr", ln.Addr().String())
	return srv, nil
}

// healthReporter is satisfied by channels.Manager.
type healthReporter interface {
	HealthAll() map[string]channels.HealthStatus
}

func metricsMux(health healthReporter) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		report := health.HealthAll()
		status := http.StatusOK
		for _, h := range report {
			if !h.Connected {
				status = http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(report)
	})
	return mux
}
