package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies agent pipeline failures.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindPermissionDenied
	KindTimeout
	KindProcessFailure
	KindNetwork
	KindExtraction
)

// String returns the snake_case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindPermissionDenied:
		return "permission_denied"
	case KindTimeout:
		return "timeout"
	case KindProcessFailure:
		return "process_failure"
	case KindNetwork:
		return "network"
	case KindExtraction:
		return "extraction"
	default:
		return "unknown"
	}
}

// ErrInvalidInput is returned when a prompt is empty after sanitization.
var ErrInvalidInput = errors.New("agent: prompt is empty after sanitization")

// ProcessError describes an attempt whose agent process exited unsuccessfully.
type ProcessError struct {
	Kind     Kind
	ExitCode int
	Signal   string
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	detail := strings.TrimSpace(e.Stderr)
	if detail == "" {
		switch {
		case e.Signal != "":
			detail = "signal " + e.Signal
		case e.Err != nil && e.ExitCode < 0:
			detail = e.Err.Error()
		default:
			detail = fmt.Sprintf("code %d", e.ExitCode)
		}
	}
	return "agent execution failed: " + detail
}

func (e *ProcessError) Unwrap() error { return e.Err }

// Category is the coarse bucket used to pick a user-facing hint.
type Category string

const (
	CategoryPermission Category = "permission"
	CategoryTimeout    Category = "timeout"
	CategoryNetwork    Category = "network"
	CategoryMCP        Category = "mcp"
	CategoryUnknown    Category = "unknown"
)

// ExhaustedError is returned when every permission pattern has failed.
type ExhaustedError struct {
	Attempts int
	Category Category
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all permission patterns failed (%d attempts): %s", e.Attempts, e.Hint())
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Hint returns the short category-specific explanation shown to users.
func (e *ExhaustedError) Hint() string {
	switch e.Category {
	case CategoryPermission:
		return "Permission error: the agent is missing the tool permissions this request needs. HTTP requests are fetched by the bot instead."
	case CategoryTimeout:
		return "Timeout: processing took too long. Please try again."
	case CategoryNetwork:
		return "Network error: could not reach the agent service."
	case CategoryMCP:
		return "MCP service error: an external service is having trouble. Please wait a moment and retry."
	default:
		return "An error occurred while processing the request."
	}
}

var permissionKeywords = []string{
	"permission",
	"not allowed",
	"denied",
	"unauthorized",
	"forbidden",
	"access denied",
	"not permitted",
	"command not allowed",
	"tool not allowed",
}

// IsPermissionError reports whether err looks like a tool/capability refusal.
// Both the error message and any captured stderr are inspected.
func IsPermissionError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	var stderr string
	var pe *ProcessError
	if errors.As(err, &pe) {
		stderr = strings.ToLower(pe.Stderr)
	}
	for _, kw := range permissionKeywords {
		if strings.Contains(msg, kw) || strings.Contains(stderr, kw) {
			return true
		}
	}
	return false
}

// Categorize buckets an attempt error for user messaging.
func Categorize(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	if IsPermissionError(err) {
		return CategoryPermission
	}
	var pe *ProcessError
	if errors.As(err, &pe) && pe.Kind == KindTimeout {
		return CategoryTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "sigterm"),
		errors.Is(err, context.DeadlineExceeded):
		return CategoryTimeout
	case strings.Contains(msg, "network"), strings.Contains(msg, "connection"):
		return CategoryNetwork
	case strings.Contains(msg, "mcp"), strings.Contains(msg, "server"):
		return CategoryMCP
	}
	return CategoryUnknown
}

// UserMessage converts any pipeline error into a short string that is safe to
// show in chat. Raw error text never leaks through.
func UserMessage(err error) string {
	var exhausted *ExhaustedError
	var pe *ProcessError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return "⚠️ The message was empty after removing unsupported characters. Please send some text."
	case errors.As(err, &exhausted):
		if exhausted.Attempts > 1 {
			return fmt.Sprintf("❌ %s (%d attempts)", exhausted.Hint(), exhausted.Attempts)
		}
		return "❌ " + exhausted.Hint()
	case errors.Is(err, context.DeadlineExceeded):
		return "⏱️ Processing timed out. Please try again."
	case errors.As(err, &pe):
		if pe.Kind == KindTimeout {
			return "⏱️ Processing timed out. Please try again."
		}
		return "🧠 The agent reported an error. Please try again later."
	}
	if Categorize(err) == CategoryNetwork {
		return "🌐 A network error occurred."
	}
	return "❌ Sorry, something went wrong."
}
