package agent

import (
	"log/slog"
	"os"
	"strings"
	"time"
)

// EmptyResponse is returned when the agent produced neither a final result nor
// assistant text.
const EmptyResponse = "agent returned an empty response."

// Response is the single best answer recovered from one attempt's output.
type Response struct {
	// Text is the headline answer followed by the saved-files summary.
	Text string

	// SavedFiles lists media files decoded from tool results, in the order
	// they were written.
	SavedFiles []string

	// LocalFileHint is the last media-looking filename mentioned by a tool.
	LocalFileHint string
}

// HasContent reports whether extraction found anything other than the empty
// sentinel.
func (r *Response) HasContent() bool {
	return r != nil && strings.TrimSpace(r.Text) != "" && r.Text != EmptyResponse
}

// Extractor turns captured agent output into a Response, persisting embedded
// images into its media directory.
type Extractor struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
	write  func(f *os.File, data []byte) (int, error)
}

// NewExtractor creates an extractor writing decoded media into dir. An empty
// dir means the process working directory.
func NewExtractor(dir string, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		dir:    dir,
		logger: logger.With("component", "extractor"),
		now:    time.Now,
		write:  (*os.File).Write,
	}
}

// Extract scans every line of output. Headline priority is the last final
// result, then the first text item of the last assistant record, then
// EmptyResponse. Malformed lines are skipped.
func (x *Extractor) Extract(output string) *Response {
	var (
		finalResult   string
		lastAssistant string
		resp          = &Response{}
	)

	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		seenText := false
		for _, ev := range ClassifyLine([]byte(line)) {
			switch ev.Kind {
			case EventFinalResult:
				finalResult = ev.Text
			case EventAssistantText:
				if !seenText {
					lastAssistant = ev.Text
					seenText = true
				}
			case EventToolResult:
				x.scanToolResult(ev.Text, resp)
			}
		}
	}

	switch {
	case finalResult != "":
		resp.Text = finalResult
	case lastAssistant != "":
		resp.Text = lastAssistant
	default:
		resp.Text = EmptyResponse
	}

	if len(resp.SavedFiles) > 0 {
		var sb strings.Builder
		sb.WriteString(resp.Text)
		sb.WriteString("\n\n📎 Generated files: \n")
		for _, name := range resp.SavedFiles {
			sb.WriteString(name)
			sb.WriteString("\n")
		}
		if resp.LocalFileHint != "" {
			sb.WriteString("\n💾 Local file: ")
			sb.WriteString(resp.LocalFileHint)
		}
		resp.Text = sb.String()
	}

	return resp
}
