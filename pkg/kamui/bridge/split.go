package bridge

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// SplitMessage breaks text into chunks of at most max characters, keeping
// whole lines together where possible. Lines longer than max are cut.
func SplitMessage(text string, max int) []string {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder
	currentLen := 0

	flush := func() {
		if currentLen > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
			currentLen = 0
		}
	}

	for _, line := range strings.Split(text, "\n") {
		lineLen := utf8.RuneCountInString(line)
		if currentLen+lineLen+1 <= max {
			if currentLen > 0 {
				current.WriteByte('\n')
				currentLen++
			}
			current.WriteString(line)
			currentLen += lineLen
			continue
		}

		flush()
		if lineLen > max {
			runes := []rune(line)
			for i := 0; i < len(runes); i += max {
				end := min(i+max, len(runes))
				chunks = append(chunks, string(runes[i:end]))
			}
			continue
		}
		current.WriteString(line)
		currentLen = lineLen
	}
	flush()
	return chunks
}

// continuationPrefix labels chunk i (zero-based) of n.
func continuationPrefix(i, n int) string {
	if i == 0 {
		return ""
	}
	return fmt.Sprintf("(cont %d/%d)\n", i+1, n)
}
