package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR} and $VAR references in the YAML text.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Z_][A-Z0-9_]*)`)

// candidates are searched in order by FindFile.
var candidates = []string{
	"kamui.yaml",
	"config.yaml",
	"configs/kamui.yaml",
}

// Load builds the configuration. Values are layered from lowest to highest
// priority: defaults, keyring secrets, environment variables and the YAML
// file at path. An empty path skips the file.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	cfg := Default()
	if errs := applyEnv(cfg, os.Getenv); len(errs) > 0 {
		return nil, fmt.Errorf("environment: %w", errors.Join(errs...))
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := parseInto(cfg, data); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	ResolveSecrets(cfg, GetSecret)
	return cfg, nil
}

// Parse decodes YAML over the defaults, expanding environment references.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := parseInto(cfg, data); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseInto(cfg *Config, data []byte) error {
	expanded := expandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return err
	}
	return nil
}

// FindFile returns the first existing candidate, or "" when none exist.
func FindFile() string {
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c
		}
	}
	return ""
}

// Save writes cfg as YAML with owner-only permissions.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config %s: %w", path, err)
	}
	return nil
}

// loadEnvFiles loads .env and .env.local when present. Existing variables
// are never overwritten.
func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

// expandEnvVars replaces ${VAR} and $VAR with their values. Unset variables
// are left as written.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimPrefix(match, "$")
		name = strings.TrimSuffix(strings.TrimPrefix(name, "{"), "}")
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return match
	})
}

// ---------- Environment ----------

// envBinding applies one environment variable to the config.
type envBinding struct {
	name  string
	apply func(cfg *Config, v string) error
}

var envBindings = []envBinding{
	{"BOT_PLATFORM", func(c *Config, v string) error { c.Platform = strings.ToLower(v); return nil }},
	{"DISCORD_BOT_TOKEN", func(c *Config, v string) error { c.Discord.Token = v; return nil }},
	{"DISCORD_CLIENT_ID", func(c *Config, v string) error { c.Discord.ClientID = v; return nil }},
	{"DISCORD_PREFIX", func(c *Config, v string) error { c.Discord.Prefix = v; return nil }},
	{"DISCORD_BOT_NAME", func(c *Config, v string) error { c.Discord.BotName = v; return nil }},
	{"SLACK_BOT_TOKEN", func(c *Config, v string) error { c.Slack.BotToken = v; return nil }},
	{"SLACK_APP_TOKEN", func(c *Config, v string) error { c.Slack.AppToken = v; return nil }},
	{"SLACK_SIGNING_SECRET", func(c *Config, v string) error { c.Slack.SigningSecret = v; return nil }},
	{"SLACK_SOCKET_MODE", func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		c.Slack.SocketMode = b
		return nil
	}},
	{"SLACK_PORT", func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		c.Slack.Port = n
		return nil
	}},
	{"SLACK_BOT_NAME", func(c *Config, v string) error { c.Slack.BotName = v; return nil }},
	{"CLAUDE_TIMEOUT", func(c *Config, v string) error {
		d, err := parseTimeout(v)
		if err != nil {
			return err
		}
		c.Agent.Timeout = d
		return nil
	}},
	{"LOG_LEVEL", func(c *Config, v string) error { c.Logging.Level = v; return nil }},
	{"FILE_DETECTION_MINUTES", func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		c.Media.DetectionMinutes = n
		return nil
	}},
}

// applyEnv overlays environment variables on cfg. Malformed values leave the
// field unchanged and are reported.
func applyEnv(cfg *Config, getenv func(string) string) []error {
	var errs []error
	for _, b := range envBindings {
		v := strings.TrimSpace(getenv(b.name))
		if v == "" {
			continue
		}
		if err := b.apply(cfg, v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.name, err))
		}
	}
	return errs
}

// parseTimeout reads a bare integer as milliseconds and anything else as a
// Go duration.
func parseTimeout(v string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("negative timeout %d", ms)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative timeout %s", d)
	}
	return d, nil
}
