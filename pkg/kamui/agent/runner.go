// Package agent drives the external agent CLI: it builds the invocation,
// streams and classifies its line-delimited JSON output, recovers partial
// results on timeout, and escalates through permission patterns.
package agent

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
	"unicode/utf8"

	"golang.org/x/sys/unix"

	"github.com/el-el-san/discord-Kamui-bot/pkg/kamui/metrics"
)

const (
	// TruncationNotice is appended to text recovered from a timed-out attempt.
	TruncationNotice = "\n\n⏱️ [Processing exceeded the time limit, but partial results were recovered]\n\nIf media generation is still running, wait a little and try again."

	// InProgressMessage is returned when a timed-out attempt left nothing to
	// extract.
	InProgressMessage = "⏳ Media generation is still in progress.\n\nThe MCP service is taking a while to respond. Please wait a little and send the request again."
)

// Config holds agent process configuration.
type Config struct {
	// Binary is the agent executable (default "claude").
	Binary string `yaml:"binary"`

	// MCPConfig is the path passed to --mcp-config (default ".mcp.json").
	MCPConfig string `yaml:"mcp_config"`

	// WorkDir is the working directory of the agent process. Decoded media is
	// written here too. Empty means the current directory.
	WorkDir string `yaml:"work_dir"`

	// Timeout overrides the pattern-based timeout policy when non-zero.
	Timeout time.Duration `yaml:"timeout"`

	// MCPTimeout applies when the permission pattern grants MCP tools.
	MCPTimeout time.Duration `yaml:"mcp_timeout"`

	// DefaultTimeout applies to all other patterns.
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	// KillGrace is how long to wait after SIGTERM before the process group
	// is killed outright.
	KillGrace time.Duration `yaml:"kill_grace"`

	// Patterns overrides the permission patterns derived from the MCP config.
	Patterns []string `yaml:"patterns"`

	// Env holds extra environment variables for the child process.
	Env map[string]string `yaml:"env"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Binary:         "claude",
		MCPConfig:      ".mcp.json",
		MCPTimeout:     180 * time.Second,
		DefaultTimeout: 60 * time.Second,
		KillGrace:      5 * time.Second,
	}
}

// childEnv is merged over the parent environment for every attempt.
var childEnv = map[string]string{
	"CI":              "true",
	"NON_INTERACTIVE": "1",
	"FORCE_COLOR":     "0",
}

// Request is one attempt's input. It is built fresh per escalation step.
type Request struct {
	Prompt   string
	Continue bool
	Pattern  string

	// Timeout overrides the runner's policy when non-zero.
	Timeout time.Duration
}

// Outcome is the terminal state of one attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota + 1
	OutcomePartialTimeout
	OutcomeInProgress
	OutcomeFailure
)

// String returns the outcome label used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomePartialTimeout:
		return "partial_timeout"
	case OutcomeInProgress:
		return "in_progress"
	case OutcomeFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// AttemptResult is produced exactly once per spawned process.
type AttemptResult struct {
	Outcome Outcome

	// Output is the raw captured stdout.
	Output string

	// Response is set for every outcome except OutcomeFailure.
	Response *Response

	ExitCode int
	Signal   string
	Stderr   string
	Pattern  string
	Duration time.Duration
}

// Runner spawns the agent CLI for a single attempt.
type Runner struct {
	cfg       Config
	extractor *Extractor
	logger    *slog.Logger
	attempts  atomic.Int64
}

// NewRunner creates a runner. Zero-valued config fields fall back to
// DefaultConfig.
func NewRunner(cfg Config, extractor *Extractor, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Binary == "" {
		cfg.Binary = def.Binary
	}
	if cfg.MCPConfig == "" {
		cfg.MCPConfig = def.MCPConfig
	}
	if cfg.MCPTimeout <= 0 {
		cfg.MCPTimeout = def.MCPTimeout
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = def.DefaultTimeout
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = def.KillGrace
	}
	if extractor == nil {
		extractor = NewExtractor(cfg.WorkDir, logger)
	}
	return &Runner{
		cfg:       cfg,
		extractor: extractor,
		logger:    logger.With("component", "runner"),
	}
}

// Args builds the argument vector for req. The prompt is always the last,
// standalone element; no shell is involved.
func (r *Runner) Args(req Request) []string {
	args := []string{"--print"}
	if req.Continue {
		args = append(args, "-c")
	}
	args = append(args,
		"--output-format", "stream-json",
		"--verbose",
		"--mcp-config", r.cfg.MCPConfig,
		"--allowedTools="+req.Pattern,
		req.Prompt,
	)
	return args
}

// TimeoutFor returns the attempt ceiling for a permission pattern.
func (r *Runner) TimeoutFor(pattern string) time.Duration {
	if r.cfg.Timeout > 0 {
		return r.cfg.Timeout
	}
	if strings.Contains(pattern, "mcp__") {
		return r.cfg.MCPTimeout
	}
	return r.cfg.DefaultTimeout
}

// Run executes one attempt. onEvent, when non-nil, receives stream events
// live in the order the process wrote them. A non-nil error is either
// ErrInvalidInput (nothing was spawned) or a *ProcessError.
func (r *Runner) Run(ctx context.Context, req Request, onEvent func(Event)) (*AttemptResult, error) {
	req.Prompt = Sanitize(req.Prompt)
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrInvalidInput
	}

	n := r.attempts.Add(1)
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.TimeoutFor(req.Pattern)
	}
	logger := r.logger.With("attempt", n, "pattern", truncate(req.Pattern, 60))

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := r.Args(req)
	cmd := exec.CommandContext(runCtx, r.cfg.Binary, args...)
	cmd.Dir = r.cfg.WorkDir
	cmd.Env = r.environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var termOnce sync.Once
	cmd.Cancel = func() error {
		var err error
		termOnce.Do(func() {
			logger.Warn("terminating agent process", "pid", cmd.Process.Pid, "timeout", timeout)
			err = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
		})
		return err
	}
	cmd.WaitDelay = r.cfg.KillGrace

	var stdout, stderr bytes.Buffer
	parser := NewLineParser(func(ev Event) {
		logger.Debug("stream event", "kind", ev.Kind.String(), "preview", truncate(ev.Text, 100))
		if onEvent != nil {
			onEvent(ev)
		}
	})
	cmd.Stdout = io.MultiWriter(&stdout, parser)
	cmd.Stderr = &stderr

	logger.Info("starting agent",
		"binary", r.cfg.Binary,
		"continue", req.Continue,
		"timeout", timeout,
		"prompt_len", len(req.Prompt),
		"argc", len(args),
	)

	start := time.Now()
	err := cmd.Run()
	parser.Flush()

	res := &AttemptResult{
		Output:   stdout.String(),
		Stderr:   stderr.String(),
		Pattern:  req.Pattern,
		Duration: time.Since(start),
	}
	defer func() {
		metrics.AgentAttempts.WithLabelValues(res.Outcome.String()).Inc()
		metrics.AgentAttemptDuration.WithLabelValues(res.Outcome.String()).Observe(res.Duration.Seconds())
	}()

	if err == nil {
		res.Outcome = OutcomeSuccess
		res.Response = r.extractor.Extract(res.Output)
		logger.Info("agent finished", "duration", res.Duration, "stdout_bytes", stdout.Len())
		return res, nil
	}

	res.ExitCode, res.Signal = exitStatus(err)
	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil

	if timedOut {
		logger.Warn("agent timed out, extracting partial output",
			"duration", res.Duration,
			"stdout_bytes", stdout.Len(),
			"stdout_preview", truncate(res.Output, 200),
		)
		if strings.TrimSpace(res.Output) != "" {
			if resp := r.extractor.Extract(res.Output); resp.HasContent() {
				resp.Text += TruncationNotice
				res.Outcome = OutcomePartialTimeout
				res.Response = resp
				return res, nil
			}
		}
		res.Outcome = OutcomeInProgress
		res.Response = &Response{Text: InProgressMessage}
		return res, nil
	}

	res.Outcome = OutcomeFailure
	perr := &ProcessError{
		ExitCode: res.ExitCode,
		Signal:   res.Signal,
		Stderr:   res.Stderr,
		Err:      err,
	}
	switch {
	case IsPermissionError(perr):
		perr.Kind = KindPermissionDenied
	case res.Signal == "SIGTERM" || res.Signal == "SIGKILL":
		perr.Kind = KindTimeout
	default:
		perr.Kind = KindProcessFailure
	}
	logger.Error("agent failed",
		"exit_code", res.ExitCode,
		"signal", res.Signal,
		"kind", perr.Kind.String(),
		"stderr", truncate(res.Stderr, 500),
	)
	return res, perr
}

// environ merges the non-interactive overrides over the parent environment.
func (r *Runner) environ() []string {
	env := os.Environ()
	for k, v := range childEnv {
		env = append(env, k+"="+v)
	}
	for k, v := range r.cfg.Env {
		env = append(env, k+"="+v)
	}
	return env
}

// exitStatus extracts the exit code and terminating signal name. Signalled
// processes report 128+signo, matching shell conventions.
func exitStatus(err error) (int, string) {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return -1, ""
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		sig := ws.Signal()
		return 128 + int(sig), unix.SignalName(sig)
	}
	return exitErr.ExitCode(), ""
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

