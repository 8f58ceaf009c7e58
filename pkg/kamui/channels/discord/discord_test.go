package discord

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/el-el-san/discord-Kamui-bot/pkg/kamui/channels"
)

type fakeAPI struct {
	mu        sync.Mutex
	sent      []*discordgo.MessageSend
	edits     []string
	followups []*discordgo.WebhookParams
	typing    int
	commands  []*discordgo.ApplicationCommand
	err       error
}

func (f *fakeAPI) ChannelMessageSendComplex(_ string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, data)
	return &discordgo.Message{}, f.err
}

func (f *fakeAPI) ChannelTyping(string, ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing++
	return nil
}

func (f *fakeAPI) InteractionRespond(*discordgo.Interaction, *discordgo.InteractionResponse, ...discordgo.RequestOption) error {
	return nil
}

func (f *fakeAPI) InteractionResponseEdit(_ *discordgo.Interaction, e *discordgo.WebhookEdit, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, *e.Content)
	return &discordgo.Message{}, f.err
}

func (f *fakeAPI) FollowupMessageCreate(_ *discordgo.Interaction, _ bool, p *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.followups = append(f.followups, p)
	return &discordgo.Message{}, f.err
}

func (f *fakeAPI) ApplicationCommandBulkOverwrite(_ string, _ string, cmds []*discordgo.ApplicationCommand, _ ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = cmds
	return cmds, f.err
}

func newTestDiscord(cfg Config) (*Discord, *fakeAPI) {
	d := New(cfg, nil)
	fake := &fakeAPI{}
	d.api = fake
	d.connected.Store(true)
	return d, fake
}

func TestClassifyMessage(t *testing.T) {
	t.Parallel()

	const self = "999"
	tests := []struct {
		name string
		msg  *discordgo.Message
		want channels.IncomingMessage
	}{
		{
			name: "guild prefix",
			msg:  &discordgo.Message{GuildID: "g", Content: "!hello", Author: &discordgo.User{ID: "1"}},
			want: channels.IncomingMessage{HasPrefix: true},
		},
		{
			name: "direct message",
			msg:  &discordgo.Message{Content: "hi", Author: &discordgo.User{ID: "1"}},
			want: channels.IncomingMessage{IsDM: true},
		},
		{
			name: "mention",
			msg: &discordgo.Message{
				GuildID: "g", Content: "<@999> hi", Author: &discordgo.User{ID: "1"},
				Mentions: []*discordgo.User{{ID: "5"}, {ID: self}},
			},
			want: channels.IncomingMessage{Mentioned: true},
		},
		{
			name: "other bot",
			msg:  &discordgo.Message{GuildID: "g", Content: "!x", Author: &discordgo.User{ID: "2", Bot: true}},
			want: channels.IncomingMessage{IsBot: true, HasPrefix: true},
		},
		{
			name: "own message",
			msg:  &discordgo.Message{GuildID: "g", Content: "x", Author: &discordgo.User{ID: self}},
			want: channels.IncomingMessage{IsBot: true},
		},
		{
			name: "pin notice",
			msg:  &discordgo.Message{GuildID: "g", Type: discordgo.MessageTypeChannelPinnedMessage, Author: &discordgo.User{ID: "1"}},
			want: channels.IncomingMessage{IsSystem: true},
		},
		{
			name: "reply is not system",
			msg:  &discordgo.Message{GuildID: "g", Type: discordgo.MessageTypeReply, Content: "ok", Author: &discordgo.User{ID: "1"}},
			want: channels.IncomingMessage{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := classifyMessage(tt.msg, self, "!")
			if got.IsBot != tt.want.IsBot || got.IsSystem != tt.want.IsSystem ||
				got.IsDM != tt.want.IsDM || got.Mentioned != tt.want.Mentioned ||
				got.HasPrefix != tt.want.HasPrefix {
				t.Errorf("classifyMessage() = %+v, want flags %+v", got, tt.want)
			}
			if got.Channel != "discord" || got.Prefix != "!" || got.Content != tt.msg.Content {
				t.Errorf("classifyMessage() = %+v", got)
			}
		})
	}
}

func commandInteraction(name string, opts ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.Interaction {
	return &discordgo.Interaction{
		ID:        "int-1",
		Type:      discordgo.InteractionApplicationCommand,
		ChannelID: "chan",
		GuildID:   "guild",
		Member:    &discordgo.Member{User: &discordgo.User{ID: "u1", Username: "alice"}},
		Data:      discordgo.ApplicationCommandInteractionData{Name: name, Options: opts},
	}
}

func TestClassifyInteraction(t *testing.T) {
	t.Parallel()

	question := func(v string) *discordgo.ApplicationCommandInteractionDataOption {
		return &discordgo.ApplicationCommandInteractionDataOption{
			Name: "question", Type: discordgo.ApplicationCommandOptionString, Value: v,
		}
	}

	tests := []struct {
		name        string
		interaction *discordgo.Interaction
		wantContent string
		wantReply   string
	}{
		{"ask", commandInteraction("ask", question("what is go?")), "what is go?", ""},
		{"ask blank", commandInteraction("ask", question("  ")), "", "Please enter a question."},
		{"reset", commandInteraction("reset"), "/reset", ""},
		{"help", commandInteraction("help"), "/help", ""},
		{"unknown", commandInteraction("dance"), "", "❌ Unknown command."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			msg, reply := classifyInteraction(tt.interaction)
			if reply != tt.wantReply {
				t.Fatalf("reply = %q, want %q", reply, tt.wantReply)
			}
			if reply != "" {
				if msg != nil {
					t.Errorf("msg = %+v, want nil", msg)
				}
				return
			}
			if msg.Content != tt.wantContent || !msg.IsSlash || msg.From != "u1" || msg.ChatID != "chan" {
				t.Errorf("msg = %+v", msg)
			}
			if interactionOf(msg.Metadata) != tt.interaction {
				t.Error("interaction not carried in metadata")
			}
		})
	}
}

func TestSendPlainMessage(t *testing.T) {
	t.Parallel()
	d, fake := newTestDiscord(DefaultConfig())

	err := d.Send(context.Background(), "chan", &channels.OutgoingMessage{Content: "hello", ReplyTo: "m1"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(fake.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(fake.sent))
	}
	if got := fake.sent[0]; got.Content != "hello" || got.Reference == nil || got.Reference.MessageID != "m1" {
		t.Errorf("sent = %+v", got)
	}
}

func TestSendInteractionEditsThenFollowsUp(t *testing.T) {
	t.Parallel()
	d, fake := newTestDiscord(DefaultConfig())
	it := commandInteraction("ask")
	d.markPending(it)
	meta := map[string]any{MetaInteraction: it}

	for _, chunk := range []string{"part one", "part two", "part three"} {
		if err := d.Send(context.Background(), "chan", &channels.OutgoingMessage{Content: chunk, Metadata: meta}); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}

	if len(fake.edits) != 1 || fake.edits[0] != "part one" {
		t.Errorf("edits = %v, want the first chunk only", fake.edits)
	}
	if len(fake.followups) != 2 || fake.followups[1].Content != "part three" {
		t.Errorf("followups = %d, want 2", len(fake.followups))
	}
	if len(fake.sent) != 0 {
		t.Errorf("channel messages = %d, want 0", len(fake.sent))
	}
}

func TestSendMedia(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "out.png")
	if err := os.WriteFile(path, []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}
	files := []channels.Attachment{{Name: "out.png", Path: path, MimeType: "image/png", Size: 3}}

	t.Run("channel post", func(t *testing.T) {
		t.Parallel()
		d, fake := newTestDiscord(DefaultConfig())
		err := d.SendMedia(context.Background(), "chan", &channels.MediaMessage{Caption: "🖼️ Generated files (1):", Files: files})
		if err != nil {
			t.Fatalf("SendMedia() error = %v", err)
		}
		if len(fake.sent) != 1 || len(fake.sent[0].Files) != 1 || fake.sent[0].Files[0].Name != "out.png" {
			t.Errorf("sent = %+v", fake.sent)
		}
	})

	t.Run("interaction follow-up", func(t *testing.T) {
		t.Parallel()
		d, fake := newTestDiscord(DefaultConfig())
		meta := map[string]any{MetaInteraction: commandInteraction("ask")}
		if err := d.SendMedia(context.Background(), "chan", &channels.MediaMessage{Files: files, Metadata: meta}); err != nil {
			t.Fatalf("SendMedia() error = %v", err)
		}
		if len(fake.followups) != 1 || len(fake.followups[0].Files) != 1 {
			t.Errorf("followups = %+v", fake.followups)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		d, _ := newTestDiscord(DefaultConfig())
		missing := []channels.Attachment{{Name: "gone.png", Path: filepath.Join(dir, "gone.png")}}
		if err := d.SendMedia(context.Background(), "chan", &channels.MediaMessage{Files: missing}); err == nil {
			t.Error("expected error for missing file")
		}
	})
}

func TestDisconnectedChannel(t *testing.T) {
	t.Parallel()
	d := New(Config{}, nil)
	ctx := context.Background()

	if err := d.Send(ctx, "c", &channels.OutgoingMessage{Content: "x"}); !errors.Is(err, channels.ErrChannelDisconnected) {
		t.Errorf("Send() error = %v", err)
	}
	if err := d.SendMedia(ctx, "c", &channels.MediaMessage{}); !errors.Is(err, channels.ErrChannelDisconnected) {
		t.Errorf("SendMedia() error = %v", err)
	}
	if err := d.Connect(ctx); err == nil {
		t.Error("Connect() without token should fail")
	}
	if d.Limits() != Limits {
		t.Errorf("Limits() = %+v", d.Limits())
	}
}

func TestRegisterCommands(t *testing.T) {
	t.Parallel()

	d, fake := newTestDiscord(Config{ClientID: "app"})
	if err := d.registerCommands(context.Background()); err != nil {
		t.Fatalf("registerCommands() error = %v", err)
	}
	if len(fake.commands) != 3 {
		t.Fatalf("registered %d commands, want 3", len(fake.commands))
	}
	ask := fake.commands[0]
	if ask.Name != "ask" || len(ask.Options) != 1 || !ask.Options[0].Required || ask.Options[0].MaxLength != 2000 {
		t.Errorf("ask command = %+v", ask)
	}

	skipped, fake2 := newTestDiscord(Config{})
	if err := skipped.registerCommands(context.Background()); err != nil {
		t.Errorf("registerCommands() without client id error = %v", err)
	}
	if fake2.commands != nil {
		t.Error("commands registered without client id")
	}
}

func TestSendTyping(t *testing.T) {
	t.Parallel()
	d, fake := newTestDiscord(Config{SendTyping: true})
	_ = d.SendTyping(context.Background(), "chan")
	off, fakeOff := newTestDiscord(Config{SendTyping: false})
	_ = off.SendTyping(context.Background(), "chan")
	if fake.typing != 1 || fakeOff.typing != 0 {
		t.Errorf("typing = %d/%d, want 1/0", fake.typing, fakeOff.typing)
	}
}
