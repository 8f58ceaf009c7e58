// Package slack implements the Slack channel on top of the Slack Web API.
//
// Events arrive either over Socket Mode (a WebSocket opened with the app
// token, no public URL needed) or as signed HTTP requests from the Events
// API. Replies are posted with chat.postMessage and files go through the
// external upload flow.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/el-el-san/discord-Kamui-bot/pkg/kamui/channels"
)

// MetaThread is the IncomingMessage metadata key holding the thread
// timestamp a message was posted in.
const MetaThread = "thread_ts"

// Config holds Slack channel configuration.
type Config struct {
	// BotToken is the Slack Bot User OAuth Token (xoxb-...).
	BotToken string `yaml:"bot_token"`

	// AppToken is the App-Level Token used by Socket Mode (xapp-...).
	AppToken string `yaml:"app_token"`

	// SigningSecret verifies Events API requests when SocketMode is off.
	SigningSecret string `yaml:"signing_secret"`

	// SocketMode receives events over a WebSocket (default true).
	SocketMode bool `yaml:"socket_mode"`

	// Port is where the Events API endpoint listens when SocketMode is off.
	Port int `yaml:"port"`

	// BotName is shown in help text and logs.
	BotName string `yaml:"bot_name"`

	// ReplyInThread answers threaded messages inside their thread.
	ReplyInThread bool `yaml:"reply_in_thread"`

	// APIURL is the Web API base URL (default "https://slack.com/api/").
	APIURL string `yaml:"api_url"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SocketMode:    true,
		Port:          3000,
		BotName:       "Kamui",
		ReplyInThread: true,
		APIURL:        "https://slack.com/api/",
	}
}

// Limits are Slack's per-message limits.
var Limits = channels.Limits{
	MessageLength: 4000,
	FileSize:      1024 * 1024 * 1024,
	FileCount:     20,
}

// Slack implements channels.Channel and channels.MediaChannel.
type Slack struct {
	cfg    Config
	logger *slog.Logger
	client *http.Client

	// botUserID is the bot's own Slack user ID (to ignore own messages).
	botUserID string

	messages chan *channels.IncomingMessage

	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64

	// server serves the Events API when SocketMode is off.
	server *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// New creates a new Slack channel instance.
func New(cfg Config, logger *slog.Logger) *Slack {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.APIURL == "" {
		cfg.APIURL = def.APIURL
	}
	if !strings.HasSuffix(cfg.APIURL, "/") {
		cfg.APIURL += "/"
	}
	if cfg.Port == 0 {
		cfg.Port = def.Port
	}
	if cfg.BotName == "" {
		cfg.BotName = def.BotName
	}
	return &Slack{
		cfg:      cfg,
		logger:   logger.With("component", "slack"),
		client:   &http.Client{Timeout: 60 * time.Second},
		messages: make(chan *channels.IncomingMessage, 256),
	}
}

// ---------- Channel Interface ----------

// Name returns "slack".
func (s *Slack) Name() string { return "slack" }

// Limits returns Slack's message and upload limits.
func (s *Slack) Limits() channels.Limits { return Limits }

// Connect verifies the bot token and starts receiving events.
func (s *Slack) Connect(ctx context.Context) error {
	if s.cfg.BotToken == "" {
		return fmt.Errorf("slack: bot_token is required")
	}
	if s.cfg.SocketMode && s.cfg.AppToken == "" {
		return fmt.Errorf("slack: app_token is required for Socket Mode")
	}
	if !s.cfg.SocketMode && s.cfg.SigningSecret == "" {
		return fmt.Errorf("slack: signing_secret is required for the Events API")
	}
	if s.connected.Load() {
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	identity, err := s.authTest(s.ctx)
	if err != nil {
		s.cancel()
		return fmt.Errorf("slack: auth.test failed: %w", err)
	}
	s.botUserID = identity.UserID
	s.logger.Info("slack: authenticated", "bot", identity.User, "team", identity.Team, "user_id", identity.UserID)

	if s.cfg.SocketMode {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.socketModeLoop()
		}()
	} else if err := s.serveEvents(); err != nil {
		s.cancel()
		return err
	}

	s.connected.Store(true)
	return nil
}

// Disconnect stops receiving events and waits for the receiver to exit.
func (s *Slack) Disconnect() error {
	if s.cancel != nil {
		s.cancel()
	}
	var err error
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.mu.Unlock()
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = srv.Shutdown(shutdownCtx)
		cancel()
	}
	s.wg.Wait()
	s.connected.Store(false)
	s.logger.Info("slack: disconnected")
	return err
}

// Send posts a text message to the specified channel.
func (s *Slack) Send(ctx context.Context, to string, message *channels.OutgoingMessage) error {
	if !s.connected.Load() {
		return channels.ErrChannelDisconnected
	}

	payload := map[string]any{
		"channel": to,
		"text":    message.Content,
	}
	if ts := s.threadOf(message.Metadata); ts != "" {
		payload["thread_ts"] = ts
	}

	if _, err := s.apiCall(ctx, "chat.postMessage", payload); err != nil {
		s.errorCount.Add(1)
		return err
	}
	return nil
}

// Receive returns the incoming messages channel.
func (s *Slack) Receive() <-chan *channels.IncomingMessage {
	return s.messages
}

// IsConnected returns true if the bot is connected.
func (s *Slack) IsConnected() bool { return s.connected.Load() }

// Health returns the channel health status.
func (s *Slack) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := s.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	mode := "events_api"
	if s.cfg.SocketMode {
		mode = "socket_mode"
	}
	return channels.HealthStatus{
		Connected:     s.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(s.errorCount.Load()),
		Details:       map[string]any{"mode": mode},
	}
}

// ---------- MediaChannel Interface ----------

// SendMedia uploads local files and shares them in one message with the
// caption as its comment.
func (s *Slack) SendMedia(ctx context.Context, to string, media *channels.MediaMessage) error {
	if !s.connected.Load() {
		return channels.ErrChannelDisconnected
	}
	if len(media.Files) == 0 {
		return nil
	}

	uploaded := make([]map[string]string, 0, len(media.Files))
	for _, f := range media.Files {
		id, err := s.uploadExternal(ctx, f)
		if err != nil {
			s.errorCount.Add(1)
			return err
		}
		uploaded = append(uploaded, map[string]string{"id": id, "title": f.Name})
	}

	payload := map[string]any{
		"files":      uploaded,
		"channel_id": to,
	}
	if media.Caption != "" {
		payload["initial_comment"] = media.Caption
	}
	if ts := s.threadOf(media.Metadata); ts != "" {
		payload["thread_ts"] = ts
	}
	if _, err := s.apiCall(ctx, "files.completeUploadExternal", payload); err != nil {
		s.errorCount.Add(1)
		return err
	}
	return nil
}

// uploadExternal reserves an upload URL, sends the file body to it, and
// returns the new file's ID.
func (s *Slack) uploadExternal(ctx context.Context, f channels.Attachment) (string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("slack: reading %s: %w", f.Name, err)
	}

	raw, err := s.apiForm(ctx, "files.getUploadURLExternal", url.Values{
		"filename": {f.Name},
		"length":   {strconv.Itoa(len(data))},
	})
	if err != nil {
		return "", err
	}
	var ticket struct {
		UploadURL string `json:"upload_url"`
		FileID    string `json:"file_id"`
	}
	if err := json.Unmarshal(raw, &ticket); err != nil {
		return "", fmt.Errorf("slack: parsing upload ticket: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ticket.UploadURL, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("slack: creating upload request: %w", err)
	}
	contentType := f.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack: uploading %s: %w", f.Name, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("slack: uploading %s: status %d", f.Name, resp.StatusCode)
	}
	return ticket.FileID, nil
}

// ---------- Slack API Types ----------

type slackAuthIdentity struct {
	UserID string `json:"user_id"`
	User   string `json:"user"`
	Team   string `json:"team"`
	TeamID string `json:"team_id"`
}

// slackEvent is the inner event of an events_api envelope or event_callback.
type slackEvent struct {
	Type        string `json:"type"`
	Subtype     string `json:"subtype"`
	User        string `json:"user"`
	Username    string `json:"username"`
	BotID       string `json:"bot_id"`
	Text        string `json:"text"`
	Channel     string `json:"channel"`
	ChannelType string `json:"channel_type"`
	TS          string `json:"ts"`
	ThreadTS    string `json:"thread_ts"`
}

// slashCommand is a slash command invocation.
type slashCommand struct {
	Command     string `json:"command"`
	Text        string `json:"text"`
	UserID      string `json:"user_id"`
	UserName    string `json:"user_name"`
	ChannelID   string `json:"channel_id"`
	ChannelName string `json:"channel_name"`
	TriggerID   string `json:"trigger_id"`
}

// ---------- Event Handling ----------

// userSubtypes are message subtypes that still carry a user's text.
var userSubtypes = map[string]bool{
	"":                 true,
	"file_share":       true,
	"thread_broadcast": true,
	"me_message":       true,
}

// handleEvent converts a message or app_mention event and emits it.
func (s *Slack) handleEvent(ev slackEvent) {
	switch ev.Type {
	case "message", "app_mention":
	default:
		s.logger.Debug("slack: ignoring event", "type", ev.Type)
		return
	}
	if ev.Subtype == "message_changed" || ev.Subtype == "message_deleted" {
		return
	}
	s.emit(s.classifyEvent(ev))
}

func (s *Slack) classifyEvent(ev slackEvent) *channels.IncomingMessage {
	name := ev.Username
	if name == "" {
		name = ev.User
	}
	msg := &channels.IncomingMessage{
		ID:        ev.TS,
		Channel:   "slack",
		From:      ev.User,
		FromName:  name,
		ChatID:    ev.Channel,
		Content:   ev.Text,
		Timestamp: parseSlackTS(ev.TS),
		IsBot:     ev.BotID != "" || (s.botUserID != "" && ev.User == s.botUserID),
		IsSystem:  !userSubtypes[ev.Subtype],
		IsDM:      ev.ChannelType == "im",
		Mentioned: ev.Type == "app_mention",
	}
	if ev.ThreadTS != "" {
		msg.Metadata = map[string]any{MetaThread: ev.ThreadTS}
	}
	return msg
}

// handleCommand converts a slash command and emits it. An empty /ask is
// answered with usage directly.
func (s *Slack) handleCommand(ctx context.Context, cmd slashCommand) {
	name := strings.TrimPrefix(cmd.Command, "/")
	msg := &channels.IncomingMessage{
		ID:        cmd.TriggerID,
		Channel:   "slack",
		From:      cmd.UserID,
		FromName:  cmd.UserName,
		ChatID:    cmd.ChannelID,
		Timestamp: time.Now(),
		IsSlash:   true,
		Command:   name,
	}

	switch name {
	case "ask":
		if strings.TrimSpace(cmd.Text) == "" {
			_, err := s.apiCall(ctx, "chat.postMessage", map[string]any{
				"channel": cmd.ChannelID,
				"text":    "Please enter a question. Usage: `/ask your question`",
			})
			if err != nil {
				s.logger.Warn("slack: failed to post usage", "error", err)
			}
			return
		}
		msg.Content = cmd.Text
	case "reset", "help":
		msg.Content = "/" + name
	default:
		s.logger.Warn("slack: unknown slash command", "command", cmd.Command)
		return
	}
	s.emit(msg)
}

func (s *Slack) emit(msg *channels.IncomingMessage) {
	s.lastMsg.Store(time.Now())
	s.errorCount.Store(0)

	select {
	case s.messages <- msg:
	default:
		s.logger.Warn("slack: message buffer full, dropping message", "msg_ts", msg.ID)
	}
}

// ---------- API Helpers ----------

// apiCall makes a JSON POST to the Slack Web API with the bot token.
func (s *Slack) apiCall(ctx context.Context, method string, payload map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("slack: marshal %s: %w", method, err)
	}
	return s.call(ctx, method, s.cfg.BotToken, "application/json; charset=utf-8", bytes.NewReader(body))
}

// apiForm makes a form-encoded POST to the Slack Web API with the bot token.
func (s *Slack) apiForm(ctx context.Context, method string, form url.Values) (json.RawMessage, error) {
	return s.call(ctx, method, s.cfg.BotToken, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
}

func (s *Slack) call(ctx context.Context, method, token, contentType string, body io.Reader) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.APIURL+method, body)
	if err != nil {
		return nil, fmt.Errorf("slack: creating request for %s: %w", method, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("slack: %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("slack: reading %s response: %w", method, err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("slack: %s: rate limited (retry after %ss)", method, resp.Header.Get("Retry-After"))
	}

	var result struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("slack: decoding %s response: %w", method, err)
	}
	if !result.OK {
		return nil, fmt.Errorf("slack: %s: %s", method, result.Error)
	}
	return respBody, nil
}

// authTest verifies the bot token and returns identity info.
func (s *Slack) authTest(ctx context.Context) (*slackAuthIdentity, error) {
	data, err := s.apiCall(ctx, "auth.test", map[string]any{})
	if err != nil {
		return nil, err
	}
	var identity slackAuthIdentity
	if err := json.Unmarshal(data, &identity); err != nil {
		return nil, fmt.Errorf("slack: parsing auth.test: %w", err)
	}
	return &identity, nil
}

// ---------- Helpers ----------

func (s *Slack) threadOf(meta map[string]any) string {
	if !s.cfg.ReplyInThread || meta == nil {
		return ""
	}
	ts, _ := meta[MetaThread].(string)
	return ts
}

// parseSlackTS converts a Slack timestamp ("1234567890.123456") to time.Time.
func parseSlackTS(ts string) time.Time {
	sec, frac, _ := strings.Cut(ts, ".")
	secs, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var micros int64
	if frac != "" {
		micros, _ = strconv.ParseInt(frac, 10, 64)
	}
	return time.Unix(secs, micros*int64(time.Microsecond))
}

// Compile-time interface verification.
var (
	_ channels.Channel      = (*Slack)(nil)
	_ channels.MediaChannel = (*Slack)(nil)
)
