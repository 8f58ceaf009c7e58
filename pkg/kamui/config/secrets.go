package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/zalando/go-keyring"
)

// keyringService is the service name secrets are stored under.
const keyringService = "kamui"

// Secret keys in the keyring.
const (
	SecretDiscordToken = "discord_bot_token"
	SecretSlackBot     = "slack_bot_token"
	SecretSlackApp     = "slack_app_token"
	SecretSlackSigning = "slack_signing_secret"
)

// SecretKeys lists every key ResolveSecrets understands.
var SecretKeys = []string{SecretDiscordToken, SecretSlackBot, SecretSlackApp, SecretSlackSigning}

// ErrUnknownSecret is returned for keys not in SecretKeys.
var ErrUnknownSecret = errors.New("unknown secret")

// KeyringAvailable reports whether the OS keyring can be used.
func KeyringAvailable() bool {
	const probe = "__kamui_probe__"
	if err := keyring.Set(keyringService, probe, "ok"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, probe)
	return true
}

// StoreSecret saves a secret in the OS keyring.
func StoreSecret(key, value string) error {
	if !knownSecret(key) {
		return fmt.Errorf("%w %q", ErrUnknownSecret, key)
	}
	if err := keyring.Set(keyringService, key, strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("storing %s in keyring: %w", key, err)
	}
	return nil
}

// GetSecret reads a secret from the OS keyring. Missing entries return "".
func GetSecret(key string) string {
	v, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return v
}

// DeleteSecret removes a secret from the OS keyring. Missing entries are not
// an error.
func DeleteSecret(key string) error {
	if !knownSecret(key) {
		return fmt.Errorf("%w %q", ErrUnknownSecret, key)
	}
	if err := keyring.Delete(keyringService, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("deleting %s from keyring: %w", key, err)
	}
	return nil
}

// ResolveSecrets fills empty tokens using get.
func ResolveSecrets(cfg *Config, get func(key string) string) {
	fill := func(dst *string, key string) {
		if *dst != "" {
			return
		}
		*dst = get(key)
	}
	fill(&cfg.Discord.Token, SecretDiscordToken)
	fill(&cfg.Slack.BotToken, SecretSlackBot)
	fill(&cfg.Slack.AppToken, SecretSlackApp)
	fill(&cfg.Slack.SigningSecret, SecretSlackSigning)
}

// Redacted returns a copy of cfg with secrets masked.
func Redacted(cfg *Config) *Config {
	c := *cfg
	c.Discord.Token = mask(c.Discord.Token)
	c.Slack.BotToken = mask(c.Slack.BotToken)
	c.Slack.AppToken = mask(c.Slack.AppToken)
	c.Slack.SigningSecret = mask(c.Slack.SigningSecret)
	return &c
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****"
}

func knownSecret(key string) bool {
	return slices.Contains(SecretKeys, key)
}
