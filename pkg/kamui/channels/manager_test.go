package channels

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeChannel struct {
	name       string
	connectErr error
	in         chan *IncomingMessage

	mu        sync.Mutex
	connected bool
	sent      []string
	media     []*MediaMessage
}

func newFakeChannel(name string, connectErr error) *fakeChannel {
	return &fakeChannel{name: name, connectErr: connectErr, in: make(chan *IncomingMessage, 8)}
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Connect(context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) Disconnect() error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) Send(_ context.Context, to string, msg *OutgoingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to+":"+msg.Content)
	return nil
}

func (f *fakeChannel) Receive() <-chan *IncomingMessage { return f.in }

func (f *fakeChannel) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeChannel) Health() HealthStatus { return HealthStatus{Connected: f.IsConnected()} }

func (f *fakeChannel) Limits() Limits { return Limits{MessageLength: 100} }

type fakeMediaChannel struct{ *fakeChannel }

func (f fakeMediaChannel) SendMedia(_ context.Context, _ string, m *MediaMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.media = append(f.media, m)
	return nil
}

func TestManagerRegisterDuplicate(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)
	if err := m.Register(newFakeChannel("discord", nil)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := m.Register(newFakeChannel("discord", nil)); err == nil {
		t.Error("expected duplicate registration to fail")
	}
	if !m.HasChannels() {
		t.Error("HasChannels() = false")
	}
}

func TestManagerStart(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		errs    []error
		wantErr bool
	}{
		{"none registered", nil, true},
		{"all connect", []error{nil, nil}, false},
		{"one fails", []error{nil, errors.New("bad token")}, false},
		{"all fail", []error{errors.New("a"), errors.New("b")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewManager(nil)
			for i, err := range tt.errs {
				_ = m.Register(newFakeChannel(string(rune('a'+i)), err))
			}
			err := m.Start(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Start() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrNoChannels) {
				t.Errorf("Start() error = %v, want ErrNoChannels", err)
			}
			m.Stop()
		})
	}
}

func TestManagerFanIn(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)
	d := newFakeChannel("discord", nil)
	s := newFakeChannel("slack", nil)
	_ = m.Register(d)
	_ = m.Register(s)
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	d.in <- &IncomingMessage{Channel: "discord", Content: "one"}
	s.in <- &IncomingMessage{Channel: "slack", Content: "two"}

	got := map[string]string{}
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case msg := <-m.Messages():
			got[msg.Channel] = msg.Content
		case <-timeout:
			t.Fatalf("timed out, got %v", got)
		}
	}
	if got["discord"] != "one" || got["slack"] != "two" {
		t.Errorf("messages = %v", got)
	}

	m.Stop()
	m.Stop()
	if _, ok := <-m.Messages(); ok {
		t.Error("Messages() not closed after Stop")
	}
	if d.IsConnected() || s.IsConnected() {
		t.Error("channels still connected after Stop")
	}
}

func TestManagerSend(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)
	text := newFakeChannel("text", nil)
	rich := fakeMediaChannel{newFakeChannel("rich", nil)}
	_ = m.Register(text)
	_ = m.Register(rich)

	ctx := context.Background()
	if err := m.Send(ctx, "text", "c1", &OutgoingMessage{Content: "hi"}); !errors.Is(err, ErrChannelDisconnected) {
		t.Errorf("Send() before Start error = %v", err)
	}
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer m.Stop()

	if err := m.Send(ctx, "text", "c1", &OutgoingMessage{Content: "hi"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(text.sent) != 1 || text.sent[0] != "c1:hi" {
		t.Errorf("sent = %v", text.sent)
	}
	if err := m.Send(ctx, "missing", "c1", &OutgoingMessage{}); !errors.Is(err, ErrChannelNotFound) {
		t.Errorf("Send() to unknown channel error = %v", err)
	}
	if err := m.SendMedia(ctx, "text", "c1", &MediaMessage{}); !errors.Is(err, ErrMediaNotSupported) {
		t.Errorf("SendMedia() on text channel error = %v", err)
	}
	if err := m.SendMedia(ctx, "rich", "c1", &MediaMessage{Caption: "x"}); err != nil {
		t.Errorf("SendMedia() error = %v", err)
	}
	if len(rich.media) != 1 {
		t.Errorf("media = %d, want 1", len(rich.media))
	}

	health := m.HealthAll()
	if !health["text"].Connected || !health["rich"].Connected {
		t.Errorf("HealthAll() = %v", health)
	}
}
