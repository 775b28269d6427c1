package prompt

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/charla-ai/charla/internal/session"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// EstimateTokens counts BPE tokens in text using the cl100k_base encoding.
// Counts are approximate for non-OpenAI models but close enough for budget
// checks. Falls back to a rune heuristic if the encoding fails to load.
func EstimateTokens(text string) int {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	if encoding == nil {
		// Roughly four characters per token for latin-script text.
		return (utf8.RuneCountInString(text) + 3) / 4
	}
	return len(encoding.Encode(text, nil, nil))
}

// trimToBudget drops the oldest turns until the rendered turns plus preamble
// fit the token budget. The most recent turn is always kept, even when it
// alone exceeds the budget.
func trimToBudget(history []session.Message, preamble string, budget int) []session.Message {
	if len(history) == 0 {
		return history
	}

	remaining := budget - EstimateTokens(preamble)
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		cost := EstimateTokens(renderTurn(history[i]))
		if remaining-cost < 0 && start < len(history) {
			break
		}
		remaining -= cost
		start = i
	}
	return history[start:]
}

func renderTurn(msg session.Message) string {
	return labelFor(msg.Role) + ": " + strings.TrimSpace(msg.Text) + "\n"
}
