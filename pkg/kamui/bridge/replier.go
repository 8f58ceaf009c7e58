package bridge

import (
	"context"
	"time"

	"github.com/el-el-san/discord-Kamui-bot/pkg/kamui/agent"
	"github.com/el-el-san/discord-Kamui-bot/pkg/kamui/channels"
	"github.com/el-el-san/discord-Kamui-bot/pkg/kamui/media"
)

// Replier delivers replies to the conversation a message came from. Text is
// split to the platform limit by the replier, not by its callers.
type Replier interface {
	SendText(ctx context.Context, text string) error
	SendFiles(ctx context.Context, files []media.File, caption string) error
	SendError(ctx context.Context, err error) error
}

// channelReplier implements Replier for one incoming message on top of a
// Sender.
type channelReplier struct {
	sender  Sender
	msg     *channels.IncomingMessage
	limits  channels.Limits
	delay   time.Duration
	timeout time.Duration
}

var _ Replier = (*channelReplier)(nil)

// NewReplier returns a Replier answering msg through sender. Limits come from
// the registered channel, falling back to conservative defaults.
func NewReplier(sender Sender, msg *channels.IncomingMessage, chunkDelay, sendTimeout time.Duration) Replier {
	return &channelReplier{
		sender:  sender,
		msg:     msg,
		limits:  limitsFor(sender, msg.Channel),
		delay:   chunkDelay,
		timeout: sendTimeout,
	}
}

// SendText posts text in as many parts as the platform limit requires,
// pausing between parts.
func (r *channelReplier) SendText(ctx context.Context, text string) error {
	chunks := SplitMessage(text, r.limits.MessageLength)
	for i, chunk := range chunks {
		if err := r.send(ctx, continuationPrefix(i, len(chunks))+chunk); err != nil {
			return err
		}
		if i < len(chunks)-1 && r.delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.delay):
			}
		}
	}
	return nil
}

// SendFiles uploads files with caption.
func (r *channelReplier) SendFiles(ctx context.Context, files []media.File, caption string) error {
	atts := make([]channels.Attachment, 0, len(files))
	for _, f := range files {
		atts = append(atts, channels.Attachment{
			Name:     f.Name,
			Path:     f.Path,
			MimeType: media.MimeType(f.Name),
			Size:     f.Size,
		})
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.sender.SendMedia(ctx, r.msg.Channel, r.msg.ChatID, &channels.MediaMessage{
		Caption:  caption,
		Files:    atts,
		ReplyTo:  r.msg.ID,
		Metadata: r.msg.Metadata,
	})
}

// SendError posts the user-facing text for err.
func (r *channelReplier) SendError(ctx context.Context, err error) error {
	return r.send(ctx, agent.UserMessage(err))
}

func (r *channelReplier) send(ctx context.Context, text string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.sender.Send(ctx, r.msg.Channel, r.msg.ChatID, &channels.OutgoingMessage{
		Content:  text,
		ReplyTo:  r.msg.ID,
		Metadata: r.msg.Metadata,
	})
}

func (r *channelReplier) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

// limitsFor returns the limits of the named channel, or defaultLimits when it
// is not registered.
func limitsFor(sender Sender, channel string) channels.Limits {
	if sender != nil {
		if ch, ok := sender.Channel(channel); ok {
			if l := ch.Limits(); l.MessageLength > 0 {
				return l
			}
		}
	}
	return defaultLimits
}
