package agent

import "strings"

// Sanitize removes NUL and the C0 control bytes the agent CLI cannot accept as
// an argv element (0x01-0x08, 0x0B, 0x0C, 0x0E-0x1F) plus DEL. Tab, LF and CR
// are kept.
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t', r == '\n', r == '\r':
			return r
		case r < 0x20, r == 0x7F:
			return -1
		}
		return r
	}, s)
}
