package agent

import (
	"context"
	"log/slog"
	"strings"
)

// HealthPrompt is sent by Health.
const HealthPrompt = `Hello, respond with just "OK"`

// ResetMessage confirms a conversation reset.
const ResetMessage = "🔄 Conversation history has been reset. The next message starts a new conversation."

// Preprocessor rewrites a prompt once before the first attempt.
type Preprocessor interface {
	Process(ctx context.Context, prompt string) (string, error)
}

// Result is what a caller gets back from Processor.Process.
type Result struct {
	Text    string
	Files   []string
	Outcome Outcome
}

// Processor runs the full pipeline for a chat request: prompt
// preprocessing, per-session continuation, and permission escalation.
type Processor struct {
	escalator    *Escalator
	preprocessor Preprocessor
	sessions     *Sessions
	logger       *slog.Logger
}

// NewProcessor wires a processor. pre may be nil.
func NewProcessor(esc *Escalator, pre Preprocessor, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		escalator:    esc,
		preprocessor: pre,
		sessions:     NewSessions(),
		logger:       logger.With("component", "processor"),
	}
}

// Process answers prompt within the conversation identified by sessionID.
// Only ErrInvalidInput, *ExhaustedError and non-permission attempt failures
// are returned as errors.
func (p *Processor) Process(ctx context.Context, sessionID, prompt string, onEvent func(Event)) (*Result, error) {
	if strings.TrimSpace(Sanitize(prompt)) == "" {
		return nil, ErrInvalidInput
	}

	if p.preprocessor != nil {
		rewritten, err := p.preprocessor.Process(ctx, prompt)
		if err != nil {
			p.logger.Warn("prompt preprocessing failed, using original prompt",
				"kind", KindNetwork.String(),
				"error", err,
			)
		} else {
			prompt = rewritten
		}
	}

	cont := p.sessions.Continue(sessionID, true)
	if !cont {
		p.logger.Info("starting fresh conversation after reset", "session", sessionID)
	}

	res, err := p.escalator.Run(ctx, prompt, cont, onEvent)
	if err != nil {
		return nil, err
	}

	out := &Result{Outcome: res.Outcome}
	if res.Response != nil {
		out.Text = res.Response.Text
		out.Files = res.Response.SavedFiles
	}
	return out, nil
}

// Reset marks sessionID so its next request starts a new conversation.
func (p *Processor) Reset(sessionID string) string {
	p.sessions.Reset(sessionID)
	p.logger.Info("conversation reset requested", "session", sessionID)
	return ResetMessage
}

// Health runs a trivial prompt through the escalation pipeline without
// continuing any conversation. Failures are logged, never returned.
func (p *Processor) Health(ctx context.Context) bool {
	p.logger.Info("running agent health check")
	res, err := p.escalator.Run(ctx, HealthPrompt, false, nil)
	if err != nil {
		p.logger.Error("agent health check failed", "error", err)
		return false
	}
	if res.Response == nil || strings.TrimSpace(res.Response.Text) == "" {
		p.logger.Warn("agent health check returned an empty response")
		return false
	}
	p.logger.Info("agent is responsive", "outcome", res.Outcome.String())
	return true
}
