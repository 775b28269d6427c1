package prompt

import "strings"

// PostFilter removes a hallucinated next user turn from generated text by
// cutting at the first user-turn marker, then trims surrounding whitespace.
func PostFilter(text string) string {
	if idx := strings.Index(text, UserLabel+":"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}
