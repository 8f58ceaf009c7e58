// Package httpproxy fetches URLs mentioned in a prompt on the agent's behalf
// and inlines the responses, so the agent does not need network tools of its
// own.
package httpproxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/el-el-san/discord-Kamui-bot/pkg/kamui/agent"
	"github.com/el-el-san/discord-Kamui-bot/pkg/kamui/metrics"
)

const (
	// UserAgent is sent with every fetch.
	UserAgent = "Kamui-Bot/1.0"

	// PreviewChars is how much of a body is inlined.
	PreviewChars = 2000

	// Note is prepended when at least one URL was processed.
	Note = "[Note: HTTP requests have been executed by the bot and their responses are included below]\n\n"

	maxRedirects = 5
)

var (
	curlPattern = regexp.MustCompile(`(?i)curl\s+(?:-[a-zA-Z]*\s+)*["']?(https?://[^\s"']+)["']?`)
	barePattern = regexp.MustCompile("(?i)\\b(https?://[^\\s<>\"{}|\\\\^`\\[\\]]+)")
)

// Config holds preprocessor configuration.
type Config struct {
	// Enabled turns fetching on. Disabled preprocessors return prompts as-is.
	Enabled bool `yaml:"enabled"`

	// Timeout bounds each fetch (default 30s).
	Timeout time.Duration `yaml:"timeout"`

	// MaxBodyBytes caps how much of a response body is read (default 1 MiB).
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	GuardConfig `yaml:",inline"`
}

// DefaultConfig returns the disabled default.
func DefaultConfig() Config {
	return Config{
		Timeout:      30 * time.Second,
		MaxBodyBytes: 1 << 20,
	}
}

// Preprocessor rewrites prompts by replacing URL references with fetched
// response blocks. It implements agent.Preprocessor.
type Preprocessor struct {
	cfg    Config
	guard  URLChecker
	client *http.Client
	logger *slog.Logger
}

var _ agent.Preprocessor = (*Preprocessor)(nil)

// New creates a preprocessor guarded by a Guard built from cfg.
func New(cfg Config, logger *slog.Logger) *Preprocessor {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	p := &Preprocessor{
		cfg:    cfg,
		guard:  NewGuard(cfg.GuardConfig, logger),
		logger: logger.With("component", "http_proxy"),
	}
	p.client = &http.Client{
		Timeout: cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return p.guard.Check(req.Context(), req.URL.String())
		},
	}
	return p
}

// match is one URL reference, located by its span in the original prompt.
type match struct {
	url        string
	start, end int
}

// Detect returns the distinct URLs referenced by prompt, curl invocations
// first, in order of appearance.
func Detect(prompt string) []string {
	var urls []string
	for _, m := range detect(prompt) {
		urls = append(urls, m.url)
	}
	return urls
}

func detect(prompt string) []match {
	var found []match
	seen := make(map[string]bool)
	for _, re := range []*regexp.Regexp{curlPattern, barePattern} {
		for _, loc := range re.FindAllStringSubmatchIndex(prompt, -1) {
			u := prompt[loc[2]:loc[3]]
			if seen[u] || overlaps(found, loc[0], loc[1]) {
				continue
			}
			seen[u] = true
			found = append(found, match{url: u, start: loc[0], end: loc[1]})
		}
	}
	return found
}

func overlaps(found []match, start, end int) bool {
	for _, m := range found {
		if start < m.end && m.start < end {
			return true
		}
	}
	return false
}

// splice replaces each match span of prompt with its block. Spans index the
// untouched prompt, so fetched bodies are never searched.
func splice(prompt string, matches []match, blocks []string) string {
	order := make([]int, len(matches))
	for i := range order {
		order[i] = i
	}
	slices.SortFunc(order, func(a, b int) int { return matches[a].start - matches[b].start })

	var b strings.Builder
	last := 0
	for _, i := range order {
		b.WriteString(prompt[last:matches[i].start])
		b.WriteString(blocks[i])
		last = matches[i].end
	}
	b.WriteString(prompt[last:])
	return b.String()
}

// Process implements agent.Preprocessor. Per-URL failures become error blocks
// in the prompt; only a cancelled context is returned as an error.
func (p *Preprocessor) Process(ctx context.Context, prompt string) (string, error) {
	if !p.cfg.Enabled {
		return prompt, nil
	}

	matches := detect(prompt)
	if len(matches) == 0 {
		return agent.Sanitize(prompt), nil
	}

	blocks := make([]string, len(matches))
	for i, m := range matches {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		p.logger.Info("fetching URL for agent", "url", m.url)
		block, err := p.fetch(ctx, m.url)
		if err != nil {
			p.logger.Warn("fetch failed", "url", m.url, "error", err)
			block = errorBlock(m.url, err)
		}
		blocks[i] = block
	}
	out := splice(prompt, matches, blocks)

	p.logger.Info("inlined HTTP responses", "count", len(matches))
	return agent.Sanitize(Note + out), nil
}

func (p *Preprocessor) fetch(ctx context.Context, rawURL string) (string, error) {
	if err := p.guard.Check(ctx, rawURL); err != nil {
		metrics.ProxyFetches.WithLabelValues("blocked").Inc()
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		metrics.ProxyFetches.WithLabelValues("error").Inc()
		return "", err
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		metrics.ProxyFetches.WithLabelValues("error").Inc()
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, p.cfg.MaxBodyBytes))
	if err != nil {
		metrics.ProxyFetches.WithLabelValues("error").Inc()
		return "", fmt.Errorf("reading body: %w", err)
	}
	metrics.ProxyFetches.WithLabelValues("ok").Inc()
	p.logger.Info("fetched URL", "url", rawURL, "status", resp.StatusCode, "bytes", len(data))

	return responseBlock(rawURL, resp, agent.Sanitize(string(data))), nil
}

func responseBlock(rawURL string, resp *http.Response, body string) string {
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "unknown"
	}
	preview := body
	if utf8.RuneCountInString(body) > PreviewChars {
		preview = string([]rune(body)[:PreviewChars]) + "\n... (truncated)"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n\n[HTTP Response from %s]\n", rawURL)
	fmt.Fprintf(&b, "Status: %d %s\n", resp.StatusCode, http.StatusText(resp.StatusCode))
	fmt.Fprintf(&b, "Content-Type: %s\n", contentType)
	fmt.Fprintf(&b, "Content-Length: %d bytes\n\n", len(body))
	b.WriteString("Response Body:\n")
	b.WriteString(preview)
	b.WriteString("\n[End of HTTP Response]\n\n")
	return b.String()
}

func errorBlock(rawURL string, err error) string {
	return fmt.Sprintf("\n\n[HTTP Request Error for %s]\nError: %s\n[End of Error]\n\n", rawURL, err)
}
