package bridge

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/el-el-san/discord-Kamui-bot/pkg/kamui/agent"
	"github.com/el-el-san/discord-Kamui-bot/pkg/kamui/channels"
	"github.com/el-el-san/discord-Kamui-bot/pkg/kamui/media"
)

func TestReplierSendText(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{limits: channels.Limits{MessageLength: 10, FileSize: 100, FileCount: 1}}
	r := NewReplier(sender, dm("hi"), 0, time.Second)

	if err := r.SendText(context.Background(), "aaaa\nbbbb\ncccc"); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	got := sender.sent()
	if len(got) != 2 {
		t.Fatalf("sent %d parts: %q", len(got), got)
	}
	if got[0] != "aaaa\nbbbb" {
		t.Errorf("first part = %q", got[0])
	}
	if got[1] != "(cont 2/2)\ncccc" {
		t.Errorf("second part = %q", got[1])
	}
}

func TestReplierDefaultLimits(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	r := NewReplier(sender, dm("hi"), 0, 0)
	text := strings.Repeat("x", defaultLimits.MessageLength)
	if err := r.SendText(context.Background(), text); err != nil {
		t.Fatal(err)
	}
	if n := len(sender.sent()); n != 1 {
		t.Errorf("sent %d parts, want 1 at the default limit", n)
	}
}

func TestReplierSendTextStopsOnCancel(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{limits: channels.Limits{MessageLength: 4}}
	r := NewReplier(sender, dm("hi"), time.Hour, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := r.SendText(ctx, "aaaa\nbbbb"); err == nil {
		t.Fatal("SendText() ignored cancellation between parts")
	}
	if n := len(sender.sent()); n != 1 {
		t.Errorf("sent %d parts before stopping", n)
	}
}

func TestReplierSendError(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	r := NewReplier(sender, dm("hi"), 0, time.Second)
	if err := r.SendError(context.Background(), context.DeadlineExceeded); err != nil {
		t.Fatal(err)
	}
	got := sender.sent()
	if len(got) != 1 || got[0] != agent.UserMessage(context.DeadlineExceeded) {
		t.Errorf("sent %q", got)
	}
}

func TestReplierSendFiles(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	msg := dm("hi")
	msg.Metadata = map[string]any{"k": "v"}
	r := NewReplier(sender, msg, 0, time.Second)

	files := []media.File{
		{Path: "/tmp/a.png", Name: "a.png", Size: 10},
		{Path: "/tmp/b.mp3", Name: "b.mp3", Size: 20},
	}
	if err := r.SendFiles(context.Background(), files, "caption"); err != nil {
		t.Fatal(err)
	}
	if len(sender.media) != 1 {
		t.Fatalf("media messages = %d", len(sender.media))
	}
	m := sender.media[0]
	if m.Caption != "caption" || m.ReplyTo != "m1" || m.Metadata["k"] != "v" {
		t.Errorf("media message = %+v", m)
	}
	if len(m.Files) != 2 || m.Files[0].MimeType != "image/png" || m.Files[1].MimeType != "audio/mpeg" {
		t.Errorf("attachments = %+v", m.Files)
	}
}
