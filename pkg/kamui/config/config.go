// Package config loads the bridge configuration from YAML, .env files, the
// environment and the OS keyring.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/el-el-san/discord-Kamui-bot/pkg/kamui/agent"
	"github.com/el-el-san/discord-Kamui-bot/pkg/kamui/channels/discord"
	"github.com/el-el-san/discord-Kamui-bot/pkg/kamui/channels/slack"
	"github.com/el-el-san/discord-Kamui-bot/pkg/kamui/httpproxy"
	"github.com/el-el-san/discord-Kamui-bot/pkg/kamui/media"
)

// Platform values.
const (
	PlatformDiscord = "discord"
	PlatformSlack   = "slack"
	PlatformBoth    = "both"
)

// Config is the complete bridge configuration.
type Config struct {
	// Platform selects the chat platforms to serve: discord, slack or both.
	Platform string `yaml:"platform"`

	Discord discord.Config   `yaml:"discord"`
	Slack   slack.Config     `yaml:"slack"`
	Agent   agent.Config     `yaml:"agent"`
	Proxy   httpproxy.Config `yaml:"proxy"`
	Media   MediaConfig      `yaml:"media"`
	Bridge  BridgeConfig     `yaml:"bridge"`
	Logging LoggingConfig    `yaml:"logging"`
	Metrics MetricsConfig    `yaml:"metrics"`
}

// MediaConfig controls generated file delivery and cleanup.
type MediaConfig struct {
	// DetectionMinutes is how recent a file must be to be attached.
	// Zero or less attaches every media file in the work directory.
	DetectionMinutes int `yaml:"detection_minutes"`

	Sweep media.SweepConfig `yaml:"sweep"`
}

// DetectionWindow returns DetectionMinutes as a duration.
func (m MediaConfig) DetectionWindow() time.Duration {
	return time.Duration(m.DetectionMinutes) * time.Minute
}

// BridgeConfig controls message handling.
type BridgeConfig struct {
	// Timeout bounds agent processing per message.
	Timeout time.Duration `yaml:"timeout"`

	// ChunkDelay separates the parts of a split reply.
	ChunkDelay time.Duration `yaml:"chunk_delay"`

	// RatePerMinute limits requests per user. Zero disables limiting.
	RatePerMinute float64 `yaml:"rate_per_minute"`

	// RateBurst is how many requests a user may send at once.
	RateBurst int `yaml:"rate_burst"`
}

// LoggingConfig controls the log handler.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is text or json.
	Format string `yaml:"format"`
}

// SlogLevel parses Level, defaulting to info.
func (l LoggingConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(l.Level))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables it.
	Addr string `yaml:"addr"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Platform: PlatformDiscord,
		Discord:  discord.DefaultConfig(),
		Slack:    slack.DefaultConfig(),
		Agent:    agent.DefaultConfig(),
		Proxy:    httpproxy.DefaultConfig(),
		Media: MediaConfig{
			DetectionMinutes: 30,
			Sweep:            media.DefaultSweepConfig(),
		},
		Bridge: BridgeConfig{
			Timeout:       185 * time.Second,
			ChunkDelay:    time.Second,
			RatePerMinute: 10,
			RateBurst:     3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Platforms returns the channel names enabled by Platform.
func (c *Config) Platforms() []string {
	switch c.Platform {
	case PlatformDiscord:
		return []string{PlatformDiscord}
	case PlatformSlack:
		return []string{PlatformSlack}
	case PlatformBoth:
		return []string{PlatformDiscord, PlatformSlack}
	}
	return nil
}

// Errors.
var (
	ErrInvalidPlatform = errors.New("platform must be discord, slack or both")
	ErrMissingToken    = errors.New("missing token")
)

// Validate checks that the configuration can start the enabled platforms.
func (c *Config) Validate() error {
	var errs []error

	platforms := c.Platforms()
	if len(platforms) == 0 {
		errs = append(errs, fmt.Errorf("%w, got %q", ErrInvalidPlatform, c.Platform))
	}
	for _, p := range platforms {
		switch p {
		case PlatformDiscord:
			if c.Discord.Token == "" {
				errs = append(errs, fmt.Errorf("discord: %w (set DISCORD_BOT_TOKEN)", ErrMissingToken))
			}
		case PlatformSlack:
			if c.Slack.BotToken == "" {
				errs = append(errs, fmt.Errorf("slack: %w (set SLACK_BOT_TOKEN)", ErrMissingToken))
			}
			if c.Slack.SocketMode && c.Slack.AppToken == "" {
				errs = append(errs, fmt.Errorf("slack: socket mode: %w (set SLACK_APP_TOKEN)", ErrMissingToken))
			}
			if !c.Slack.SocketMode && c.Slack.SigningSecret == "" {
				errs = append(errs, fmt.Errorf("slack: events API: %w (set SLACK_SIGNING_SECRET)", ErrMissingToken))
			}
		}
	}

	if strings.TrimSpace(c.Agent.Binary) == "" {
		errs = append(errs, errors.New("agent.binary must not be empty"))
	}
	for i, p := range c.Agent.Patterns {
		if strings.TrimSpace(p) == "" {
			errs = append(errs, fmt.Errorf("agent.patterns[%d] must not be empty", i))
		}
	}
	if c.Bridge.RatePerMinute < 0 {
		errs = append(errs, errors.New("bridge.rate_per_minute must not be negative"))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}
