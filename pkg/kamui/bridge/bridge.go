// Package bridge connects chat channels to the agent: it decides which
// messages to answer, runs them through the agent, and posts the reply and
// any generated media back to the chat.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/el-el-san/discord-Kamui-bot/pkg/kamui/agent"
	"github.com/el-el-san/discord-Kamui-bot/pkg/kamui/channels"
	"github.com/el-el-san/discord-Kamui-bot/pkg/kamui/media"
	"github.com/el-el-san/discord-Kamui-bot/pkg/kamui/metrics"
)

// User-facing replies produced by the bridge itself.
const (
	EmptyInputMessage    = "Please enter a message."
	EmptyResponseMessage = "Sorry, I could not generate a response."
	RateLimitedMessage   = "⏳ You are sending messages too quickly. Please wait a moment and try again."
)

// Mention patterns per platform.
var (
	discordMention = regexp.MustCompile(`<@!?\d+>`)
	slackMention   = regexp.MustCompile(`<@[A-Z0-9]+(?:\|[^>]+)?>`)
)

// Agent answers prompts within per-session conversations.
type Agent interface {
	Process(ctx context.Context, sessionID, prompt string, onEvent func(agent.Event)) (*agent.Result, error)
	Reset(sessionID string) string
}

// Sender delivers replies to a named channel. *channels.Manager implements it.
type Sender interface {
	Send(ctx context.Context, channelName, to string, msg *channels.OutgoingMessage) error
	SendMedia(ctx context.Context, channelName, to string, media *channels.MediaMessage) error
	Channel(name string) (channels.Channel, bool)
}

// FileSource lists recently generated media. *media.Finder implements it.
type FileSource interface {
	Recent(window time.Duration) ([]media.File, error)
}

// Config controls the handler.
type Config struct {
	// BotName appears in help text.
	BotName string

	// Timeout bounds agent processing per message (default 185s).
	Timeout time.Duration

	// SendTimeout bounds each reply delivery (default 30s).
	SendTimeout time.Duration

	// ChunkDelay separates the parts of a split reply (default 1s).
	ChunkDelay time.Duration

	// DetectionWindow is how recently a file must have been modified to be
	// attached. Zero or less attaches every media file found.
	DetectionWindow time.Duration

	// TypingInterval refreshes typing indicators while the agent works.
	TypingInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BotName:         "Kamui",
		Timeout:         185 * time.Second,
		SendTimeout:     30 * time.Second,
		ChunkDelay:      time.Second,
		DetectionWindow: 30 * time.Minute,
		TypingInterval:  8 * time.Second,
	}
}

// defaultLimits apply to channels that are not registered with the sender.
var defaultLimits = channels.Limits{MessageLength: 2000, FileSize: 8 * 1024 * 1024, FileCount: 10}

// Handler processes incoming chat messages.
type Handler struct {
	cfg     Config
	agent   Agent
	sender  Sender
	files   FileSource
	limiter *RateLimiter
	logger  *slog.Logger

	wg sync.WaitGroup
}

// NewHandler wires a handler. files and limiter may be nil.
func NewHandler(cfg Config, ag Agent, sender Sender, files FileSource, limiter *RateLimiter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BotName == "" {
		cfg.BotName = def.BotName
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if cfg.ChunkDelay < 0 {
		cfg.ChunkDelay = 0
	}
	return &Handler{
		cfg:     cfg,
		agent:   ag,
		sender:  sender,
		files:   files,
		limiter: limiter,
		logger:  logger.With("component", "bridge"),
	}
}

// Run handles messages until in is closed or ctx is cancelled, then waits
// for in-flight messages to finish.
func (h *Handler) Run(ctx context.Context, in <-chan *channels.IncomingMessage) {
	defer h.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			h.wg.Add(1)
			go func() {
				defer h.wg.Done()
				h.Handle(ctx, msg)
			}()
		}
	}
}

// ShouldProcess reports whether msg is addressed to the bot.
func ShouldProcess(msg *channels.IncomingMessage) bool {
	if msg.IsBot || msg.IsSystem || strings.TrimSpace(msg.Content) == "" {
		return false
	}
	return msg.HasPrefix || msg.IsDM || msg.Mentioned || msg.IsSlash
}

// CleanInput strips the prefix or the mentions from msg's content.
func CleanInput(msg *channels.IncomingMessage) string {
	input := msg.Content
	switch {
	case msg.HasPrefix:
		input = strings.TrimPrefix(input, msg.Prefix)
	case msg.Mentioned:
		input = mentionPattern(msg.Channel).ReplaceAllString(input, "")
	}
	return strings.TrimSpace(input)
}

func mentionPattern(channel string) *regexp.Regexp {
	if channel == "slack" {
		return slackMention
	}
	return discordMention
}

// SessionID returns the conversation key for a chat.
func SessionID(msg *channels.IncomingMessage) string {
	return msg.Channel + ":" + msg.ChatID
}

// Handle processes a single message end to end. Failures are reported to the
// chat and logged; nothing is returned.
func (h *Handler) Handle(ctx context.Context, msg *channels.IncomingMessage) {
	if !ShouldProcess(msg) {
		metrics.MessagesHandled.WithLabelValues(msg.Channel, "ignored").Inc()
		return
	}

	logger := h.logger.With(
		"request_id", uuid.NewString(),
		"channel", msg.Channel,
		"chat_id", msg.ChatID,
		"from", msg.From,
	)
	r := NewReplier(h.sender, msg, h.cfg.ChunkDelay, h.cfg.SendTimeout)

	input := CleanInput(msg)
	if input == "" {
		metrics.MessagesHandled.WithLabelValues(msg.Channel, "empty").Inc()
		reply(ctx, logger, r, EmptyInputMessage)
		return
	}
	logger.Info("message received", "user", msg.FromName, "chars", len(input), "slash", msg.IsSlash)

	if h.handleSpecial(ctx, logger, r, msg, input) {
		metrics.MessagesHandled.WithLabelValues(msg.Channel, "command").Inc()
		return
	}

	if !h.limiter.Allow(msg.Channel + ":" + msg.From) {
		logger.Warn("rate limited")
		metrics.MessagesHandled.WithLabelValues(msg.Channel, "limited").Inc()
		reply(ctx, logger, r, RateLimitedMessage)
		return
	}

	metrics.InFlight.Inc()
	defer metrics.InFlight.Dec()

	start := time.Now()
	res, err := h.process(ctx, msg, input)
	if err != nil {
		logger.Error("processing failed", "error", err, "duration", time.Since(start))
		metrics.MessagesHandled.WithLabelValues(msg.Channel, "error").Inc()
		if serr := r.SendError(ctx, err); serr != nil {
			logger.Error("failed to send error reply", "error", serr)
		}
		return
	}
	logger.Info("agent responded",
		"chars", len(res.Text),
		"outcome", res.Outcome.String(),
		"duration", time.Since(start),
	)

	text := res.Text
	if strings.TrimSpace(text) == "" {
		text = EmptyResponseMessage
	}
	if err := r.SendText(ctx, text); err != nil {
		logger.Error("failed to send response", "error", err)
		metrics.MessagesHandled.WithLabelValues(msg.Channel, "error").Inc()
		return
	}
	metrics.MessagesHandled.WithLabelValues(msg.Channel, "ok").Inc()

	if err := h.attachGeneratedFiles(ctx, logger, r, msg.Channel); err != nil {
		logger.Warn("attaching generated files failed", "error", err)
	}
}

// handleSpecial answers reset and help without the agent.
func (h *Handler) handleSpecial(ctx context.Context, logger *slog.Logger, r Replier, msg *channels.IncomingMessage, input string) bool {
	switch strings.ToLower(input) {
	case "/reset", "リセット":
		reply(ctx, logger, r, h.agent.Reset(SessionID(msg)))
		return true
	case "/help", "ヘルプ":
		reply(ctx, logger, r, HelpText(msg.Channel, h.cfg.BotName, msg.Prefix))
		return true
	}
	return false
}

// process runs the agent under the handler timeout, keeping a typing
// indicator alive meanwhile.
func (h *Handler) process(ctx context.Context, msg *channels.IncomingMessage, input string) (*agent.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	stopTyping := h.startTyping(ctx, msg)
	defer stopTyping()

	res, err := h.agent.Process(ctx, SessionID(msg), input, nil)
	if err == nil && res == nil {
		err = errors.New("bridge: agent returned no result")
	}
	return res, err
}

func (h *Handler) startTyping(ctx context.Context, msg *channels.IncomingMessage) func() {
	if h.sender == nil || h.cfg.TypingInterval <= 0 {
		return func() {}
	}
	ch, ok := h.sender.Channel(msg.Channel)
	if !ok {
		return func() {}
	}
	pc, ok := ch.(channels.PresenceChannel)
	if !ok {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(h.cfg.TypingInterval)
		defer ticker.Stop()
		for {
			_ = pc.SendTyping(ctx, msg.ChatID)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// attachGeneratedFiles uploads recently generated media and removes it once
// delivered.
func (h *Handler) attachGeneratedFiles(ctx context.Context, logger *slog.Logger, r Replier, channel string) error {
	if h.files == nil {
		return nil
	}
	recent, err := h.files.Recent(h.cfg.DetectionWindow)
	if err != nil {
		return err
	}
	limits := limitsFor(h.sender, channel)
	files := media.Select(recent, limits.FileSize, limits.FileCount)
	if len(files) == 0 {
		return nil
	}

	summary := media.Summarize(files)
	if err := r.SendFiles(ctx, files, summary.Caption()); err != nil {
		return err
	}
	metrics.FilesDelivered.WithLabelValues(channel).Add(float64(len(files)))
	logger.Info("attached generated files", "count", summary.Count, "size", media.FormatSize(summary.TotalSize))

	if _, err := media.Delete(files, logger); err != nil {
		logger.Warn("failed to remove delivered files", "error", err)
	}
	return nil
}

// reply sends a short message, logging failures.
func reply(ctx context.Context, logger *slog.Logger, r Replier, text string) {
	if err := r.SendText(ctx, text); err != nil {
		logger.Error("failed to send reply", "error", err)
	}
}
