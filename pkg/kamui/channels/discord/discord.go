// Package discord implements the Discord channel using discordgo.
//
// Features:
//   - Prefix, mention and DM triggered messages
//   - Global /ask, /reset and /help slash commands
//   - Deferred interaction replies with follow-ups for long answers and files
//   - File uploads and typing indicators
//   - Automatic reconnection via discordgo's gateway
package discord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/el-el-san/discord-Kamui-bot/pkg/kamui/channels"
)

// MetaInteraction is the IncomingMessage metadata key holding the pending
// *discordgo.Interaction of a slash command.
const MetaInteraction = "interaction"

// interactionTTL is how long Discord accepts follow-ups for an interaction.
const interactionTTL = 15 * time.Minute

// Config holds Discord channel configuration.
type Config struct {
	// Token is the Discord bot token.
	Token string `yaml:"token"`

	// ClientID is the application ID used to register slash commands.
	// Empty skips registration.
	ClientID string `yaml:"client_id"`

	// Prefix marks messages addressed to the bot (default "!").
	Prefix string `yaml:"prefix"`

	// BotName is shown in help text and logs.
	BotName string `yaml:"bot_name"`

	// SendTyping sends "typing..." indicators while processing.
	SendTyping bool `yaml:"send_typing"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Prefix:     "!",
		BotName:    "Kamui",
		SendTyping: true,
	}
}

// Limits are Discord's per-message limits for regular bots.
var Limits = channels.Limits{
	MessageLength: 2000,
	FileSize:      25 * 1024 * 1024,
	FileCount:     10,
}

// api is the subset of *discordgo.Session the channel uses.
type api interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	FollowupMessageCreate(interaction *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ApplicationCommandBulkOverwrite(appID string, guildID string, commands []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
}

// Discord implements channels.Channel, channels.MediaChannel and
// channels.PresenceChannel.
type Discord struct {
	cfg     Config
	logger  *slog.Logger
	session *discordgo.Session
	api     api

	// botID is the bot's own user ID, known once the gateway is ready.
	botID atomic.Value // string

	messages chan *channels.IncomingMessage

	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64

	// answered records interactions whose deferred reply was already edited,
	// so later sends become follow-ups.
	answeredMu sync.Mutex
	answered   map[string]time.Time

	mu sync.RWMutex
}

// New creates a new Discord channel instance.
func New(cfg Config, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultConfig().Prefix
	}
	if cfg.BotName == "" {
		cfg.BotName = DefaultConfig().BotName
	}
	return &Discord{
		cfg:      cfg,
		logger:   logger.With("component", "discord"),
		messages: make(chan *channels.IncomingMessage, 256),
		answered: make(map[string]time.Time),
	}
}

// ---------- Channel Interface ----------

// Name returns "discord".
func (d *Discord) Name() string { return "discord" }

// Limits returns Discord's message and upload limits.
func (d *Discord) Limits() channels.Limits { return Limits }

// Connect opens the Discord gateway connection and registers slash commands.
func (d *Discord) Connect(ctx context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("discord: bot token is required")
	}

	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsDirectMessages

	session.AddHandler(d.onReady)
	session.AddHandler(d.onMessageCreate)
	session.AddHandler(d.onInteractionCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: opening gateway: %w", err)
	}

	d.mu.Lock()
	d.session = session
	d.api = session
	d.mu.Unlock()
	d.connected.Store(true)

	if user := session.State.User; user != nil {
		d.botID.Store(user.ID)
		d.logger.Info("discord: connected", "bot", user.Username, "id", user.ID, "name", d.cfg.BotName)
	}

	if err := d.registerCommands(ctx); err != nil {
		d.logger.Warn("discord: continuing without slash commands", "error", err)
	}
	return nil
}

// Disconnect closes the Discord gateway connection.
func (d *Discord) Disconnect() error {
	d.mu.Lock()
	session := d.session
	d.session = nil
	d.api = nil
	d.mu.Unlock()

	d.connected.Store(false)
	if session != nil {
		if err := session.Close(); err != nil {
			return fmt.Errorf("discord: closing gateway: %w", err)
		}
	}
	d.logger.Info("discord: disconnected")
	return nil
}

// Send delivers a text message. Replies to a slash command edit the deferred
// response first and use follow-ups afterwards; everything else is posted to
// the channel, referencing ReplyTo when set.
func (d *Discord) Send(ctx context.Context, to string, message *channels.OutgoingMessage) error {
	client := d.client()
	if client == nil {
		return channels.ErrChannelDisconnected
	}

	if it := interactionOf(message.Metadata); it != nil {
		return d.respond(ctx, client, it, message.Content, nil)
	}

	msgSend := &discordgo.MessageSend{Content: message.Content}
	if message.ReplyTo != "" {
		msgSend.Reference = &discordgo.MessageReference{MessageID: message.ReplyTo, ChannelID: to}
	}
	if _, err := client.ChannelMessageSendComplex(to, msgSend, discordgo.WithContext(ctx)); err != nil {
		d.errorCount.Add(1)
		return fmt.Errorf("discord: send message: %w", err)
	}
	return nil
}

// Receive returns the incoming messages channel.
func (d *Discord) Receive() <-chan *channels.IncomingMessage {
	return d.messages
}

// IsConnected returns true if the bot is connected.
func (d *Discord) IsConnected() bool { return d.connected.Load() }

// Health returns the channel health status.
func (d *Discord) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := d.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     d.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(d.errorCount.Load()),
	}
}

// ---------- MediaChannel Interface ----------

// SendMedia uploads local files in a single post. Slash command replies get
// the files as a follow-up.
func (d *Discord) SendMedia(ctx context.Context, to string, media *channels.MediaMessage) error {
	client := d.client()
	if client == nil {
		return channels.ErrChannelDisconnected
	}
	if len(media.Files) == 0 {
		return nil
	}

	files, closeAll, err := openFiles(media.Files)
	if err != nil {
		return err
	}
	defer closeAll()

	if it := interactionOf(media.Metadata); it != nil {
		_, err := client.FollowupMessageCreate(it, true, &discordgo.WebhookParams{
			Content: media.Caption,
			Files:   files,
		}, discordgo.WithContext(ctx))
		if err != nil {
			d.errorCount.Add(1)
			return fmt.Errorf("discord: upload follow-up: %w", err)
		}
		return nil
	}

	msgSend := &discordgo.MessageSend{Content: media.Caption, Files: files}
	if _, err := client.ChannelMessageSendComplex(to, msgSend, discordgo.WithContext(ctx)); err != nil {
		d.errorCount.Add(1)
		return fmt.Errorf("discord: upload files: %w", err)
	}
	return nil
}

// ---------- PresenceChannel Interface ----------

// SendTyping sends a typing indicator to the channel.
func (d *Discord) SendTyping(ctx context.Context, to string) error {
	client := d.client()
	if client == nil || !d.cfg.SendTyping {
		return nil
	}
	return client.ChannelTyping(to, discordgo.WithContext(ctx))
}

// ---------- Slash Commands ----------

// Commands returns the application commands the bot registers.
func Commands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "ask",
			Description: "Ask the agent a question",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "question",
					Description: "What you want to ask",
					Required:    true,
					MaxLength:   2000,
				},
			},
		},
		{
			Name:        "reset",
			Description: "Reset the conversation history",
		},
		{
			Name:        "help",
			Description: "Show how to use the bot",
		},
	}
}

// registerCommands overwrites the global command set. Global commands can
// take up to an hour to propagate.
func (d *Discord) registerCommands(ctx context.Context) error {
	if d.cfg.ClientID == "" {
		d.logger.Warn("discord: client_id not set, skipping slash command registration")
		return nil
	}
	client := d.client()
	if client == nil {
		return channels.ErrChannelDisconnected
	}

	registered, err := client.ApplicationCommandBulkOverwrite(d.cfg.ClientID, "", Commands(), discordgo.WithContext(ctx))
	if err != nil {
		var restErr *discordgo.RESTError
		if errors.As(err, &restErr) && restErr.Message != nil {
			switch restErr.Message.Code {
			case discordgo.ErrCodeMissingAccess:
				d.logger.Info("discord: hint: the bot may be missing required permissions")
			case discordgo.ErrCodeMissingPermissions:
				d.logger.Info("discord: hint: invite the bot with the applications.commands scope")
			}
		}
		return fmt.Errorf("discord: registering slash commands: %w", err)
	}

	names := make([]string, 0, len(registered))
	for _, cmd := range registered {
		names = append(names, "/"+cmd.Name)
	}
	d.logger.Info("discord: slash commands registered", "commands", strings.Join(names, " "))
	return nil
}

// ---------- Event Handlers ----------

func (d *Discord) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	if r.User != nil {
		d.botID.Store(r.User.ID)
	}
	d.connected.Store(true)
}

func (d *Discord) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Message == nil || m.Author == nil {
		return
	}
	d.emit(classifyMessage(m.Message, d.selfID(), d.cfg.Prefix))
}

func (d *Discord) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	// Acknowledge immediately to satisfy Discord's 3s limit.
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}); err != nil {
		d.errorCount.Add(1)
		d.logger.Warn("discord: failed to defer interaction", "command", i.ApplicationCommandData().Name, "error", err)
		return
	}

	msg, reply := classifyInteraction(i.Interaction)
	if reply != "" {
		content := reply
		if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Content: &content}); err != nil {
			d.logger.Warn("discord: failed to answer interaction", "error", err)
		}
		return
	}
	d.markPending(i.Interaction)
	d.emit(msg)
}

// classifyMessage converts a gateway message into an IncomingMessage.
func classifyMessage(m *discordgo.Message, selfID, prefix string) *channels.IncomingMessage {
	name := m.Author.GlobalName
	if name == "" {
		name = m.Author.Username
	}
	return &channels.IncomingMessage{
		ID:        m.ID,
		Channel:   "discord",
		From:      m.Author.ID,
		FromName:  name,
		ChatID:    m.ChannelID,
		Content:   m.Content,
		Timestamp: m.Timestamp,
		IsBot:     m.Author.Bot || (selfID != "" && m.Author.ID == selfID),
		IsSystem:  m.Type != discordgo.MessageTypeDefault && m.Type != discordgo.MessageTypeReply,
		IsDM:      m.GuildID == "",
		Mentioned: mentions(m, selfID),
		HasPrefix: prefix != "" && strings.HasPrefix(m.Content, prefix),
		Prefix:    prefix,
	}
}

func mentions(m *discordgo.Message, selfID string) bool {
	if selfID == "" {
		return false
	}
	for _, u := range m.Mentions {
		if u != nil && u.ID == selfID {
			return true
		}
	}
	return false
}

// classifyInteraction converts a slash command into an IncomingMessage. When
// the command can be answered without the agent, reply is non-empty and msg
// is nil.
func classifyInteraction(i *discordgo.Interaction) (msg *channels.IncomingMessage, reply string) {
	data := i.ApplicationCommandData()

	user := i.User
	if i.Member != nil && i.Member.User != nil {
		user = i.Member.User
	}
	msg = &channels.IncomingMessage{
		ID:        i.ID,
		Channel:   "discord",
		ChatID:    i.ChannelID,
		Timestamp: time.Now(),
		IsDM:      i.GuildID == "",
		IsSlash:   true,
		Command:   data.Name,
		Metadata:  map[string]any{MetaInteraction: i},
	}
	if user != nil {
		msg.From = user.ID
		msg.FromName = user.Username
	}

	switch data.Name {
	case "ask":
		for _, opt := range data.Options {
			if opt.Name == "question" {
				msg.Content = opt.StringValue()
			}
		}
		if strings.TrimSpace(msg.Content) == "" {
			return nil, "Please enter a question."
		}
	case "reset", "help":
		msg.Content = "/" + data.Name
	default:
		return nil, "❌ Unknown command."
	}
	return msg, ""
}

// ---------- Helpers ----------

func (d *Discord) client() api {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.api
}

func (d *Discord) selfID() string {
	if v, ok := d.botID.Load().(string); ok {
		return v
	}
	return ""
}

func (d *Discord) emit(msg *channels.IncomingMessage) {
	d.lastMsg.Store(time.Now())
	d.errorCount.Store(0)

	select {
	case d.messages <- msg:
	default:
		d.logger.Warn("discord: message buffer full, dropping message", "msg_id", msg.ID)
	}
}

// respond edits the deferred reply on first use and posts follow-ups after.
func (d *Discord) respond(ctx context.Context, client api, it *discordgo.Interaction, content string, files []*discordgo.File) error {
	if d.claimEdit(it.ID) {
		_, err := client.InteractionResponseEdit(it, &discordgo.WebhookEdit{Content: &content, Files: files}, discordgo.WithContext(ctx))
		if err != nil {
			d.errorCount.Add(1)
			return fmt.Errorf("discord: edit interaction reply: %w", err)
		}
		return nil
	}
	_, err := client.FollowupMessageCreate(it, true, &discordgo.WebhookParams{Content: content, Files: files}, discordgo.WithContext(ctx))
	if err != nil {
		d.errorCount.Add(1)
		return fmt.Errorf("discord: interaction follow-up: %w", err)
	}
	return nil
}

// markPending records a deferred interaction awaiting its first reply.
func (d *Discord) markPending(it *discordgo.Interaction) {
	d.answeredMu.Lock()
	defer d.answeredMu.Unlock()

	now := time.Now()
	for id, at := range d.answered {
		if now.Sub(at) > interactionTTL {
			delete(d.answered, id)
		}
	}
	delete(d.answered, it.ID)
}

// claimEdit reports whether this is the first reply to the interaction.
func (d *Discord) claimEdit(id string) bool {
	d.answeredMu.Lock()
	defer d.answeredMu.Unlock()
	if _, done := d.answered[id]; done {
		return false
	}
	d.answered[id] = time.Now()
	return true
}

func interactionOf(meta map[string]any) *discordgo.Interaction {
	if meta == nil {
		return nil
	}
	it, _ := meta[MetaInteraction].(*discordgo.Interaction)
	return it
}

// openFiles opens attachments for upload. The returned func closes them.
func openFiles(atts []channels.Attachment) ([]*discordgo.File, func(), error) {
	var closers []io.Closer
	closeAll := func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}

	files := make([]*discordgo.File, 0, len(atts))
	for _, a := range atts {
		f, err := os.Open(a.Path)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("discord: opening %s: %w", a.Name, err)
		}
		closers = append(closers, f)
		files = append(files, &discordgo.File{
			Name:        a.Name,
			ContentType: a.MimeType,
			Reader:      f,
		})
	}
	return files, closeAll, nil
}

// Compile-time interface verification.
var (
	_ channels.Channel         = (*Discord)(nil)
	_ channels.MediaChannel    = (*Discord)(nil)
	_ channels.PresenceChannel = (*Discord)(nil)
	_ api                      = (*discordgo.Session)(nil)
)
