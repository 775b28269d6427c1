package prompt

import (
	"strings"

	"github.com/charla-ai/charla/internal/consts"
)

// IsIncomplete reports whether generated text looks truncated: it ends with
// an ellipsis marker or carries fewer than the minimum word count.
func IsIncomplete(text string) bool {
	trimmed := strings.TrimSpace(text)
	if strings.HasSuffix(trimmed, "...") || strings.HasSuffix(trimmed, "…") {
		return true
	}
	return len(strings.Fields(trimmed)) < consts.MinCompleteWords
}
