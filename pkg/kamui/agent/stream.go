package agent

import (
	"bytes"
	"encoding/json"
	"unicode/utf8"
)

// MaxLineLength bounds the size of a record line the parser will consider.
// Longer lines are almost always binary noise.
const MaxLineLength = 50000

// EventKind identifies a decoded stream event.
type EventKind int

const (
	EventAssistantText EventKind = iota + 1
	EventToolUse
	EventToolResult
	EventFinalResult
)

// String returns the event kind name used in logs.
func (k EventKind) String() string {
	switch k {
	case EventAssistantText:
		return "text"
	case EventToolUse:
		return "tool_use"
	case EventToolResult:
		return "tool_result"
	case EventFinalResult:
		return "final_result"
	default:
		return "unknown"
	}
}

// Event is one fragment decoded from the agent's stream-json output.
type Event struct {
	Kind EventKind

	// Text is the fragment text. For EventToolUse it is a human-readable
	// notice naming the tool.
	Text string

	// Tool is the tool name for EventToolUse.
	Tool string
}

type streamRecord struct {
	Type    string         `json:"type"`
	Message *streamMessage `json:"message,omitempty"`
	Result  string         `json:"result,omitempty"`
}

type streamMessage struct {
	Content json.RawMessage `json:"content"`
}

type contentItem struct {
	Type    string          `json:"type"`
	Text    string          `json:"text,omitempty"`
	Name    string          `json:"name,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

// ClassifyLine decodes a single output line into zero or more events. Lines
// with NUL bytes, oversized lines and lines that are not a JSON object are
// ignored, as are records of unknown shape.
func ClassifyLine(line []byte) []Event {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || bytes.IndexByte(line, 0) >= 0 {
		return nil
	}
	if len(line) > MaxLineLength && utf8.RuneCount(line) > MaxLineLength {
		return nil
	}
	if line[0] != '{' || line[len(line)-1] != '}' {
		return nil
	}

	var rec streamRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil
	}

	switch rec.Type {
	case "assistant":
		items, ok := contentList(rec.Message)
		if !ok {
			return nil
		}
		var events []Event
		for _, it := range items {
			switch it.Type {
			case "text":
				if it.Text != "" {
					events = append(events, Event{Kind: EventAssistantText, Text: it.Text})
				}
			case "tool_use":
				events = append(events, Event{Kind: EventToolUse, Tool: it.Name, Text: "🔧 Using tool: " + it.Name})
			}
		}
		return events

	case "user":
		items, ok := contentList(rec.Message)
		if !ok {
			return nil
		}
		var events []Event
		for _, it := range items {
			if it.Type != "tool_result" || len(it.Content) == 0 {
				continue
			}
			for _, nested := range toolResultItems(it.Content) {
				if nested.Type == "text" && nested.Text != "" {
					events = append(events, Event{Kind: EventToolResult, Text: nested.Text})
				}
			}
		}
		return events

	case "result":
		if rec.Result != "" {
			return []Event{{Kind: EventFinalResult, Text: rec.Result}}
		}
	}
	return nil
}

// contentList decodes message.content when it is an array.
func contentList(msg *streamMessage) ([]contentItem, bool) {
	if msg == nil || len(msg.Content) == 0 {
		return nil, false
	}
	var items []contentItem
	if err := json.Unmarshal(msg.Content, &items); err != nil {
		return nil, false
	}
	return items, true
}

// toolResultItems accepts either an array of items or a single item object.
func toolResultItems(raw json.RawMessage) []contentItem {
	var items []contentItem
	if err := json.Unmarshal(raw, &items); err == nil {
		return items
	}
	var single contentItem
	if err := json.Unmarshal(raw, &single); err == nil {
		return []contentItem{single}
	}
	return nil
}

// LineParser is an io.Writer that splits incoming bytes into lines and feeds
// each complete line through ClassifyLine, invoking the callback per event.
// It is not safe for concurrent writes.
type LineParser struct {
	onEvent func(Event)
	buf     []byte

	// discarding is set while the parser drops the rest of an oversized line.
	discarding bool
}

// NewLineParser creates a parser that reports events to fn.
func NewLineParser(fn func(Event)) *LineParser {
	return &LineParser{onEvent: fn}
}

// Write buffers p and dispatches every complete line.
func (p *LineParser) Write(b []byte) (int, error) {
	n := len(b)
	for len(b) > 0 {
		idx := bytes.IndexByte(b, '\n')
		if idx < 0 {
			if !p.discarding {
				p.buf = append(p.buf, b...)
				// A UTF-8 rune is at most four bytes.
				if len(p.buf) > 4*MaxLineLength {
					p.buf = p.buf[:0]
					p.discarding = true
				}
			}
			return n, nil
		}

		if p.discarding {
			p.discarding = false
		} else {
			p.buf = append(p.buf, b[:idx]...)
			p.dispatch(p.buf)
		}
		p.buf = p.buf[:0]
		b = b[idx+1:]
	}
	return n, nil
}

// Flush dispatches a trailing line that was never newline-terminated.
func (p *LineParser) Flush() {
	if !p.discarding && len(p.buf) > 0 {
		p.dispatch(p.buf)
	}
	p.buf = p.buf[:0]
	p.discarding = false
}

func (p *LineParser) dispatch(line []byte) {
	if p.onEvent == nil {
		return
	}
	for _, ev := range ClassifyLine(line) {
		p.onEvent(ev)
	}
}
