// Package channels defines the interfaces and types shared by the chat
// platforms the bridge listens on. Each platform (Discord, Slack) implements
// Channel to receive and send messages in a unified way.
package channels

import (
	"context"
	"errors"
	"time"
)

// Channel defines the interface that every chat platform must implement.
type Channel interface {
	// Name returns the channel identifier (e.g. "discord", "slack").
	Name() string

	// Connect establishes the connection to the messaging platform.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// Send sends a text message to the specified chat.
	Send(ctx context.Context, to string, message *OutgoingMessage) error

	// Receive returns a Go channel that emits incoming messages.
	Receive() <-chan *IncomingMessage

	// IsConnected returns true if the channel is connected.
	IsConnected() bool

	// Health returns the channel health status.
	Health() HealthStatus

	// Limits returns the platform's message and upload limits.
	Limits() Limits
}

// MediaChannel extends Channel with file uploads.
type MediaChannel interface {
	Channel

	// SendMedia uploads one or more local files with a caption.
	SendMedia(ctx context.Context, to string, media *MediaMessage) error
}

// PresenceChannel extends Channel with typing indicators.
type PresenceChannel interface {
	Channel

	// SendTyping sends a "typing..." indicator to the chat.
	SendTyping(ctx context.Context, to string) error
}

// IncomingMessage represents a message received from any channel, already
// classified by the adapter that produced it.
type IncomingMessage struct {
	// ID is the unique message identifier in the source channel.
	ID string

	// Channel identifies the source channel (e.g. "discord").
	Channel string

	// From is the sender identifier on the platform.
	From string

	// FromName is the sender display name (if available).
	FromName string

	// ChatID is the channel, group or DM identifier replies go to.
	ChatID string

	// Content is the raw text of the message.
	Content string

	// Timestamp is when the message was sent.
	Timestamp time.Time

	// IsBot is set for messages authored by a bot, including this one.
	IsBot bool

	// IsSystem is set for platform notices such as joins and pins.
	IsSystem bool

	// IsDM is set for direct messages.
	IsDM bool

	// Mentioned is set when the message addresses the bot by mention.
	Mentioned bool

	// HasPrefix is set when Content starts with Prefix.
	HasPrefix bool

	// Prefix is the command prefix the adapter matched, if any.
	Prefix string

	// IsSlash is set for slash command invocations.
	IsSlash bool

	// Command is the slash command name without the slash ("ask", "reset").
	Command string

	// Metadata contains additional channel-specific data needed to reply,
	// such as a pending Discord interaction or a Slack thread.
	Metadata map[string]any
}

// OutgoingMessage represents a message to be sent through a channel.
type OutgoingMessage struct {
	// Content is the text content of the message.
	Content string

	// ReplyTo contains the ID of the message to reply to.
	ReplyTo string

	// Metadata is copied from the IncomingMessage being answered.
	Metadata map[string]any
}

// Attachment is a local file to upload.
type Attachment struct {
	Name     string
	Path     string
	MimeType string
	Size     int64
}

// MediaMessage is a batch of files sent as one post.
type MediaMessage struct {
	// Caption is the text accompanying the files.
	Caption string

	// Files are uploaded in order.
	Files []Attachment

	// ReplyTo contains the ID of the message to reply to.
	ReplyTo string

	// Metadata is copied from the IncomingMessage being answered.
	Metadata map[string]any
}

// Limits describes what a platform accepts in a single post.
type Limits struct {
	// MessageLength is the maximum characters per text message.
	MessageLength int

	// FileSize is the maximum bytes per uploaded file.
	FileSize int64

	// FileCount is the maximum files per post.
	FileCount int
}

// HealthStatus represents the health state of a channel.
type HealthStatus struct {
	Connected     bool           `json:"connected"`
	LastMessageAt time.Time      `json:"last_message_at"`
	ErrorCount    int            `json:"error_count"`
	Details       map[string]any `json:"details,omitempty"`
}

// Errors.
var (
	ErrChannelDisconnected = errors.New("channel is not connected")
	ErrChannelNotFound     = errors.New("channel not registered")
	ErrMediaNotSupported   = errors.New("media not supported by this channel")
	ErrNoChannels          = errors.New("no channel connected")
)
