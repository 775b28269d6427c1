package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charla-ai/charla/internal/consts"
	"github.com/charla-ai/charla/internal/llm"
	"github.com/charla-ai/charla/internal/logger"
)

// TitleSuggester proposes short session names from the opening user message.
type TitleSuggester struct {
	client llm.Client
}

// NewTitleSuggester creates a TitleSuggester. A nil client makes it fall
// back to a heuristic derived from the prompt text.
func NewTitleSuggester(client llm.Client) *TitleSuggester {
	return &TitleSuggester{client: client}
}

// Suggest returns a display name for a session whose first user message was
// userPrompt. Provider failures degrade to the heuristic title; Suggest
// itself never fails.
func (ts *TitleSuggester) Suggest(ctx context.Context, userPrompt string) string {
	if ts.client == nil {
		return simpleTitle(userPrompt)
	}

	response, err := ts.client.Generate(ctx, buildTitlePrompt(userPrompt), 60)
	if err != nil {
		logger.Warn("title suggestion failed, using fallback: %v", err)
		return simpleTitle(userPrompt)
	}

	var result struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal([]byte(stripCodeFences(response)), &result); err != nil {
		logger.Warn("could not parse title response, using fallback: %v", err)
		return simpleTitle(userPrompt)
	}
	if strings.TrimSpace(result.Title) == "" {
		return simpleTitle(userPrompt)
	}
	return clampTitle(strings.TrimSpace(result.Title))
}

func buildTitlePrompt(userPrompt string) string {
	var sb strings.Builder
	sb.WriteString("Eres un generador de títulos. Genera un título breve y descriptivo, de máximo ")
	sb.WriteString(fmt.Sprintf("%d caracteres, ", consts.MaxSessionNameLen))
	sb.WriteString("para una conversación que empieza con este mensaje del usuario:\n\n")
	sb.WriteString(userPrompt)
	sb.WriteString("\n\nResponde SOLO con un objeto JSON en este formato exacto, sin markdown ni bloques de código:\n")
	sb.WriteString(`{"title": "tu título aquí"}`)
	return sb.String()
}

// simpleTitle derives a name from the first line of the prompt.
func simpleTitle(userPrompt string) string {
	title := strings.TrimSpace(strings.SplitN(userPrompt, "\n", 2)[0])

	for _, prefix := range []string{"por favor ", "Por favor ", "puedes ", "Puedes ", "podrías ", "Podrías "} {
		title = strings.TrimPrefix(title, prefix)
	}

	if title == "" {
		return "Sesión de Chat"
	}
	runes := []rune(title)
	runes[0] = []rune(strings.ToUpper(string(runes[0])))[0]
	return clampTitle(string(runes))
}

func clampTitle(title string) string {
	runes := []rune(title)
	if len(runes) <= consts.MaxSessionNameLen {
		return title
	}
	return string(runes[:consts.MaxSessionNameLen-3]) + "..."
}

func stripCodeFences(response string) string {
	response = strings.TrimSpace(response)
	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")
	return strings.TrimSpace(response)
}
