package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

const (
	maxReconnectDelay = 30 * time.Second
	socketReadLimit   = 1 << 20
	ackTimeout        = 5 * time.Second
)

// errServerDisconnect is returned when Slack asks the client to reconnect.
var errServerDisconnect = errors.New("slack: server requested disconnect")

// envelope is a Socket Mode frame.
type envelope struct {
	Type                   string          `json:"type"`
	EnvelopeID             string          `json:"envelope_id"`
	Payload                json.RawMessage `json:"payload"`
	Reason                 string          `json:"reason"`
	RetryAttempt           int             `json:"retry_attempt"`
	AcceptsResponsePayload bool            `json:"accepts_response_payload"`
}

// socketModeLoop keeps a Socket Mode connection open until the channel is
// disconnected, reconnecting with exponential backoff.
func (s *Slack) socketModeLoop() {
	s.logger.Info("slack: socket mode starting")
	delay := time.Second

	for {
		connected, err := s.connectAndServe(s.ctx)
		if s.ctx.Err() != nil {
			s.logger.Info("slack: socket mode stopped")
			return
		}
		if connected {
			delay = time.Second
		}
		if !errors.Is(err, errServerDisconnect) {
			s.errorCount.Add(1)
		}
		s.logger.Warn("slack: socket mode disconnected", "error", err, "backoff", delay)

		select {
		case <-s.ctx.Done():
			s.logger.Info("slack: socket mode stopped")
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// connectAndServe opens one WebSocket session and processes envelopes until
// it fails or Slack asks for a reconnect.
func (s *Slack) connectAndServe(ctx context.Context) (connected bool, err error) {
	wsURL, err := s.openConnection(ctx)
	if err != nil {
		return false, err
	}

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return false, fmt.Errorf("slack: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(socketReadLimit)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return connected, fmt.Errorf("slack: read: %w", err)
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.Warn("slack: bad socket frame", "error", err)
			continue
		}

		if env.EnvelopeID != "" {
			if err := s.ack(ctx, conn, env.EnvelopeID); err != nil {
				return connected, fmt.Errorf("slack: ack: %w", err)
			}
		}

		switch env.Type {
		case "hello":
			connected = true
			s.errorCount.Store(0)
			s.logger.Info("slack: socket mode connected")

		case "disconnect":
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return connected, fmt.Errorf("%w: %s", errServerDisconnect, env.Reason)

		case "events_api":
			var cb struct {
				Event slackEvent `json:"event"`
			}
			if err := json.Unmarshal(env.Payload, &cb); err != nil {
				s.logger.Warn("slack: bad events_api payload", "error", err)
				continue
			}
			if env.RetryAttempt > 0 {
				s.logger.Debug("slack: skipping redelivered event", "retry", env.RetryAttempt)
				continue
			}
			s.handleEvent(cb.Event)

		case "slash_commands":
			var cmd slashCommand
			if err := json.Unmarshal(env.Payload, &cmd); err != nil {
				s.logger.Warn("slack: bad slash_commands payload", "error", err)
				continue
			}
			go s.handleCommand(ctx, cmd)

		default:
			s.logger.Debug("slack: ignoring envelope", "type", env.Type)
		}
	}
}

// openConnection asks Slack for a Socket Mode WebSocket URL.
func (s *Slack) openConnection(ctx context.Context) (string, error) {
	raw, err := s.call(ctx, "apps.connections.open", s.cfg.AppToken, "application/x-www-form-urlencoded", http.NoBody)
	if err != nil {
		return "", err
	}
	var result struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("slack: parsing apps.connections.open: %w", err)
	}
	if result.URL == "" {
		return "", fmt.Errorf("slack: apps.connections.open returned no url")
	}
	return result.URL, nil
}

func (s *Slack) ack(ctx context.Context, conn *websocket.Conn, envelopeID string) error {
	data, err := json.Marshal(map[string]string{"envelope_id": envelopeID})
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, ackTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
