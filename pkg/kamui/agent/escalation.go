package agent

import (
	"context"
	"errors"
	"log/slog"

	"github.com/el-el-san/discord-Kamui-bot/pkg/kamui/metrics"
)

// AttemptRunner runs a single attempt. *Runner implements it.
type AttemptRunner interface {
	Run(ctx context.Context, req Request, onEvent func(Event)) (*AttemptResult, error)
}

// PatternSource supplies the ordered permission patterns for a request.
type PatternSource interface {
	Patterns() []string
}

// StaticPatterns is a fixed PatternSource.
type StaticPatterns []string

// Patterns returns the patterns as-is.
func (s StaticPatterns) Patterns() []string { return s }

// ErrNoPatterns is returned when the pattern source is empty.
var ErrNoPatterns = errors.New("agent: no permission patterns configured")

// Escalator tries permission patterns in order, moving to the next one only
// when an attempt fails for permission reasons. Attempts never overlap.
type Escalator struct {
	runner AttemptRunner
	source PatternSource
	logger *slog.Logger
}

// NewEscalator creates an escalation controller.
func NewEscalator(runner AttemptRunner, source PatternSource, logger *slog.Logger) *Escalator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Escalator{
		runner: runner,
		source: source,
		logger: logger.With("component", "escalator"),
	}
}

// Run walks the pattern list. A failure that is not permission-related stops
// immediately and is returned unchanged. A failure on the last pattern is
// wrapped in *ExhaustedError.
func (e *Escalator) Run(ctx context.Context, prompt string, cont bool, onEvent func(Event)) (*AttemptResult, error) {
	patterns := e.source.Patterns()
	if len(patterns) == 0 {
		return nil, ErrNoPatterns
	}

	for i, pattern := range patterns {
		res, err := e.runner.Run(ctx, Request{
			Prompt:   prompt,
			Continue: cont,
			Pattern:  pattern,
		}, onEvent)
		if err == nil {
			if i > 0 {
				e.logger.Info("permission pattern succeeded after escalation", "index", i+1, "of", len(patterns))
			}
			return res, nil
		}
		if errors.Is(err, ErrInvalidInput) {
			return nil, err
		}

		if i == len(patterns)-1 {
			exhausted := &ExhaustedError{
				Attempts: i + 1,
				Category: Categorize(err),
				Err:      err,
			}
			e.logger.Error("all permission patterns failed",
				"attempts", exhausted.Attempts,
				"category", string(exhausted.Category),
				"error", err,
			)
			return nil, exhausted
		}

		if !IsPermissionError(err) {
			e.logger.Error("attempt failed, not retrying", "index", i+1, "error", err)
			return nil, err
		}

		metrics.Escalations.Inc()
		e.logger.Warn("permission pattern failed, escalating",
			"index", i+1,
			"of", len(patterns),
			"error", err,
		)
	}

	// Unreachable: the loop always returns on its last iteration.
	return nil, ErrNoPatterns
}
