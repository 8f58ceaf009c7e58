package slack

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	// maxSignatureAge rejects replayed requests.
	maxSignatureAge = 5 * time.Minute
	maxEventBody    = 1 << 20
)

var errBadSignature = errors.New("slack: invalid request signature")

// serveEvents starts the Events API endpoint used when Socket Mode is off.
func (s *Slack) serveEvents() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("slack: listening on port %d: %w", s.cfg.Port, err)
	}
	srv := &http.Server{
		Handler:           s.eventsHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errorCount.Add(1)
			s.logger.Error("slack: events server failed", "error", err)
		}
	}()
	s.logger.Info("slack: events API listening", "port", s.cfg.Port)
	return nil
}

// eventsHandler routes Events API and slash command requests.
func (s *Slack) eventsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /slack/events", s.handleEventsRequest)
	mux.HandleFunc("POST /slack/commands", s.handleCommandRequest)
	return mux
}

func (s *Slack) handleEventsRequest(w http.ResponseWriter, r *http.Request) {
	body, ok := s.verifiedBody(w, r)
	if !ok {
		return
	}

	var cb struct {
		Type      string     `json:"type"`
		Challenge string     `json:"challenge"`
		Event     slackEvent `json:"event"`
	}
	if err := json.Unmarshal(body, &cb); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	switch cb.Type {
	case "url_verification":
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, cb.Challenge)
		return
	case "event_callback":
		if r.Header.Get("X-Slack-Retry-Num") != "" {
			s.logger.Debug("slack: skipping redelivered event", "retry", r.Header.Get("X-Slack-Retry-Num"))
		} else {
			s.handleEvent(cb.Event)
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Slack) handleCommandRequest(w http.ResponseWriter, r *http.Request) {
	body, ok := s.verifiedBody(w, r)
	if !ok {
		return
	}
	form, err := url.ParseQuery(string(body))
	if err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	cmd := slashCommand{
		Command:     form.Get("command"),
		Text:        form.Get("text"),
		UserID:      form.Get("user_id"),
		UserName:    form.Get("user_name"),
		ChannelID:   form.Get("channel_id"),
		ChannelName: form.Get("channel_name"),
		TriggerID:   form.Get("trigger_id"),
	}
	// Acknowledge within Slack's 3s window; the answer is posted later.
	w.WriteHeader(http.StatusOK)
	go s.handleCommand(s.ctx, cmd)
}

// verifiedBody reads the request body and checks its signature, writing an
// error response when it does not verify.
func (s *Slack) verifiedBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
	if err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return nil, false
	}
	err = verifySignature(s.cfg.SigningSecret,
		r.Header.Get("X-Slack-Request-Timestamp"),
		r.Header.Get("X-Slack-Signature"),
		body, time.Now())
	if err != nil {
		s.logger.Warn("slack: rejected request", "path", r.URL.Path, "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	return body, true
}

// verifySignature checks a v0 request signature.
func verifySignature(secret, timestamp, signature string, body []byte, now time.Time) error {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", errBadSignature)
	}
	if age := now.Sub(time.Unix(ts, 0)); age > maxSignatureAge || age < -maxSignatureAge {
		return fmt.Errorf("%w: stale timestamp", errBadSignature)
	}
	if !hmac.Equal([]byte(sign(secret, timestamp, body)), []byte(signature)) {
		return errBadSignature
	}
	return nil
}

func sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + timestamp + ":"))
	mac.Write(body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}
