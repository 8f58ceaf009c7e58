package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Manager orchestrates several channels, fanning their incoming messages into
// a single stream and routing replies back to the right platform.
type Manager struct {
	// channels holds every registered channel, keyed by name.
	channels map[string]Channel

	// messages is the aggregated stream of incoming messages.
	messages chan *IncomingMessage

	logger *slog.Logger

	// listenWg tracks listener goroutines so Stop can close messages safely.
	listenWg sync.WaitGroup

	mu       sync.RWMutex
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// NewManager creates a channel manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		channels: make(map[string]Channel),
		messages: make(chan *IncomingMessage, 256),
		logger:   logger.With("component", "channels"),
	}
}

// Register adds a channel. It must be called before Start.
func (m *Manager) Register(ch Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := ch.Name()
	if _, exists := m.channels[name]; exists {
		return fmt.Errorf("channel %q already registered", name)
	}
	m.channels[name] = ch
	m.logger.Info("channel registered", "channel", name)
	return nil
}

// Start connects all registered channels concurrently and begins listening.
// Channels that fail to connect are logged and skipped; Start only fails when
// none connected.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.mu.RLock()
	snapshot := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		snapshot = append(snapshot, ch)
	}
	m.mu.RUnlock()

	if len(snapshot) == 0 {
		return ErrNoChannels
	}

	var (
		g         errgroup.Group
		failMu    sync.Mutex
		failures  []error
		connected []Channel
	)
	for _, ch := range snapshot {
		g.Go(func() error {
			err := ch.Connect(m.ctx)
			failMu.Lock()
			defer failMu.Unlock()
			if err != nil {
				m.logger.Error("failed to connect channel", "channel", ch.Name(), "error", err)
				failures = append(failures, fmt.Errorf("%s: %w", ch.Name(), err))
				return nil
			}
			connected = append(connected, ch)
			return nil
		})
	}
	_ = g.Wait()

	if len(connected) == 0 {
		return fmt.Errorf("%w: %w", ErrNoChannels, errors.Join(failures...))
	}

	for _, ch := range connected {
		m.logger.Info("channel connected", "channel", ch.Name())
		m.listenWg.Add(1)
		go func(c Channel) {
			defer m.listenWg.Done()
			m.listenChannel(c)
		}(ch)
	}

	m.logger.Info("channel manager started", "channels_connected", len(connected))
	return nil
}

// Stop disconnects every channel and closes the aggregated stream once all
// listeners have returned. It is safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		if m.cancel != nil {
			m.cancel()
		}
		m.listenWg.Wait()

		m.mu.RLock()
		for name, ch := range m.channels {
			if err := ch.Disconnect(); err != nil {
				m.logger.Error("failed to disconnect channel", "channel", name, "error", err)
			}
		}
		m.mu.RUnlock()

		close(m.messages)
		m.logger.Info("channel manager stopped")
	})
}

// Messages returns the aggregated stream of incoming messages.
func (m *Manager) Messages() <-chan *IncomingMessage {
	return m.messages
}

// Send sends a text message through the named channel.
func (m *Manager) Send(ctx context.Context, channelName, to string, msg *OutgoingMessage) error {
	ch, err := m.connected(channelName)
	if err != nil {
		return err
	}
	return ch.Send(ctx, to, msg)
}

// SendMedia uploads files through the named channel.
func (m *Manager) SendMedia(ctx context.Context, channelName, to string, media *MediaMessage) error {
	ch, err := m.connected(channelName)
	if err != nil {
		return err
	}
	mc, ok := ch.(MediaChannel)
	if !ok {
		return fmt.Errorf("%s: %w", channelName, ErrMediaNotSupported)
	}
	return mc.SendMedia(ctx, to, media)
}

// Channel returns a channel by name.
func (m *Manager) Channel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// HealthAll returns the health of every registered channel.
func (m *Manager) HealthAll() map[string]HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make(map[string]HealthStatus, len(m.channels))
	for name, ch := range m.channels {
		statuses[name] = ch.Health()
	}
	return statuses
}

// HasChannels returns true if at least one channel is registered.
func (m *Manager) HasChannels() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.channels) > 0
}

func (m *Manager) connected(name string) (Channel, error) {
	ch, ok := m.Channel(name)
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrChannelNotFound)
	}
	if !ch.IsConnected() {
		return nil, fmt.Errorf("%q: %w", name, ErrChannelDisconnected)
	}
	return ch, nil
}

// listenChannel forwards a channel's messages to the aggregated stream.
func (m *Manager) listenChannel(ch Channel) {
	in := ch.Receive()
	for {
		select {
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case m.messages <- msg:
			case <-m.ctx.Done():
				return
			}
		case <-m.ctx.Done():
			return
		}
	}
}
