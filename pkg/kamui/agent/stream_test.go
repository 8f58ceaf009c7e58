package agent

import (
	"strings"
	"testing"
)

func TestClassifyLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		line string
		want []Event
	}{
		{
			name: "assistant text",
			line: `{"type":"assistant","message":{"content":[{"type":"text","text":"hello"}]}}`,
			want: []Event{{Kind: EventAssistantText, Text: "hello"}},
		},
		{
			name: "assistant text and tool use",
			line: `{"type":"assistant","message":{"content":[{"type":"text","text":"working"},{"type":"tool_use","name":"mcp__t2i"}]}}`,
			want: []Event{
				{Kind: EventAssistantText, Text: "working"},
				{Kind: EventToolUse, Tool: "mcp__t2i", Text: "🔧 Using tool: mcp__t2i"},
			},
		},
		{
			name: "assistant empty text skipped",
			line: `{"type":"assistant","message":{"content":[{"type":"text","text":""}]}}`,
			want: nil,
		},
		{
			name: "tool result array",
			line: `{"type":"user","message":{"content":[{"type":"tool_result","content":[{"type":"text","text":"a"},{"type":"text","text":"b"}]}]}}`,
			want: []Event{{Kind: EventToolResult, Text: "a"}, {Kind: EventToolResult, Text: "b"}},
		},
		{
			name: "tool result single object",
			line: `{"type":"user","message":{"content":[{"type":"tool_result","content":{"type":"text","text":"solo"}}]}}`,
			want: []Event{{Kind: EventToolResult, Text: "solo"}},
		},
		{
			name: "tool result string content ignored",
			line: `{"type":"user","message":{"content":[{"type":"tool_result","content":"plain"}]}}`,
			want: nil,
		},
		{
			name: "user prompt string content ignored",
			line: `{"type":"user","message":{"content":"hi"}}`,
			want: nil,
		},
		{
			name: "final result",
			line: `{"type":"result","subtype":"success","result":"done"}`,
			want: []Event{{Kind: EventFinalResult, Text: "done"}},
		},
		{
			name: "empty final result",
			line: `{"type":"result","result":""}`,
			want: nil,
		},
		{
			name: "system record",
			line: `{"type":"system","subtype":"init"}`,
			want: nil,
		},
		{
			name: "not json",
			line: `Loading MCP servers...`,
			want: nil,
		},
		{
			name: "truncated json",
			line: `{"type":"result","result":"x"`,
			want: nil,
		},
		{
			name: "broken json with braces",
			line: `{"type":"result",,}`,
			want: nil,
		},
		{
			name: "nul byte",
			line: "{\"type\":\"result\",\"result\":\"a\x00b\"}",
			want: nil,
		},
		{
			name: "surrounding whitespace",
			line: "  {\"type\":\"result\",\"result\":\"ok\"}\r",
			want: []Event{{Kind: EventFinalResult, Text: "ok"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ClassifyLine([]byte(tt.line))
			if !equalEvents(got, tt.want) {
				t.Errorf("ClassifyLine() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestClassifyLineRejectsOversizedLines(t *testing.T) {
	t.Parallel()

	long := `{"type":"result","result":"` + strings.Repeat("x", MaxLineLength) + `"}`
	if got := ClassifyLine([]byte(long)); got != nil {
		t.Errorf("expected oversized line to be skipped, got %d events", len(got))
	}

	// Multi-byte text under the rune limit is still accepted.
	wide := `{"type":"result","result":"` + strings.Repeat("あ", MaxLineLength/2) + `"}`
	if got := ClassifyLine([]byte(wide)); len(got) != 1 {
		t.Errorf("expected multi-byte line under the limit to parse, got %d events", len(got))
	}
}

func TestLineParserSplitsAcrossWrites(t *testing.T) {
	t.Parallel()

	var got []Event
	p := NewLineParser(func(ev Event) { got = append(got, ev) })

	input := `{"type":"assistant","message":{"content":[{"type":"text","text":"one"}]}}` + "\n" +
		"noise line\n" +
		`{"type":"result","result":"two"}` + "\n"

	// Feed in small uneven chunks.
	for i := 0; i < len(input); i += 7 {
		end := min(i+7, len(input))
		if _, err := p.Write([]byte(input[i:end])); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	p.Flush()

	want := []Event{
		{Kind: EventAssistantText, Text: "one"},
		{Kind: EventFinalResult, Text: "two"},
	}
	if !equalEvents(got, want) {
		t.Errorf("events = %+v, want %+v", got, want)
	}
}

func TestLineParserFlushesTrailingLine(t *testing.T) {
	t.Parallel()

	var got []Event
	p := NewLineParser(func(ev Event) { got = append(got, ev) })
	p.Write([]byte(`{"type":"result","result":"tail"}`))

	if len(got) != 0 {
		t.Fatalf("expected no events before Flush, got %d", len(got))
	}
	p.Flush()
	if len(got) != 1 || got[0].Text != "tail" {
		t.Errorf("events after Flush = %+v", got)
	}
}

func TestLineParserDiscardsRunawayLine(t *testing.T) {
	t.Parallel()

	var got []Event
	p := NewLineParser(func(ev Event) { got = append(got, ev) })

	junk := strings.Repeat("A", 4*MaxLineLength+10)
	p.Write([]byte(junk))
	p.Write([]byte(junk))
	p.Write([]byte("}\n"))
	p.Write([]byte(`{"type":"result","result":"after"}` + "\n"))
	p.Flush()

	if len(got) != 1 || got[0].Text != "after" {
		t.Errorf("events = %+v, want only the line after the runaway one", got)
	}
}

func equalEvents(a, b []Event) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
