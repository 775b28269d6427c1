// Package prompt renders conversation history into generation prompts and
// classifies generated text. Everything here is pure; no I/O.
package prompt

import (
	"strings"

	"github.com/charla-ai/charla/internal/session"
)

// Role labels used in rendered prompts. The assistant marker doubles as the
// open-turn marker the provider continues from; the user marker is the
// boundary the post-filter cuts at.
const (
	UserLabel      = "Usuario"
	AssistantLabel = "IA"
)

const basePreamble = "Eres un asistente amigable y versátil que responde de manera clara y precisa a todas las preguntas. " +
	"Para preguntas relacionadas con apoyo psicológico, responde empáticamente y adaptándote a las necesidades emocionales del usuario. " +
	"Para preguntas generales, proporciona información correcta y amigable. " +
	"Responde con claridad, evitando fragmentos incompletos o repeticiones innecesarias."

// LanguageName maps a configured language code to the name used inside the
// preamble. Unknown codes pass through unchanged.
func LanguageName(code string) string {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "", "es", "es-es", "es-mx":
		return "español"
	case "en", "en-us", "en-gb":
		return "inglés"
	case "de":
		return "alemán"
	case "fr":
		return "francés"
	case "pt", "pt-br":
		return "portugués"
	default:
		return code
	}
}

// Builder renders ordered history into a single prompt string.
type Builder struct {
	language    string
	tokenBudget int // 0 disables history trimming
}

// NewBuilder creates a Builder. language names the reply language inserted
// into the preamble ("español" when empty). tokenBudget, when positive,
// bounds the estimated prompt size by dropping the oldest turns.
func NewBuilder(language string, tokenBudget int) *Builder {
	if strings.TrimSpace(language) == "" {
		language = "español"
	}
	return &Builder{language: language, tokenBudget: tokenBudget}
}

// Build renders the preamble, every turn in original order, and the open
// assistant-turn marker. Deterministic for a given history.
func (b *Builder) Build(history []session.Message) string {
	trimmed := history
	if b.tokenBudget > 0 {
		trimmed = trimToBudget(history, b.preambleFor(history), b.tokenBudget)
	}

	var sb strings.Builder
	sb.WriteString(b.preambleFor(history))
	sb.WriteString("\n")

	for _, msg := range trimmed {
		sb.WriteString(labelFor(msg.Role))
		sb.WriteString(": ")
		sb.WriteString(strings.TrimSpace(msg.Text))
		sb.WriteString("\n")
	}

	sb.WriteString(AssistantLabel)
	sb.WriteString(": ")
	return sb.String()
}

// ContinuationPrompt derives the prompt for the single follow-up call made
// when a response looks truncated.
func ContinuationPrompt(partial string) string {
	return "Continúa: " + partial
}

// preambleFor extends the base preamble with a hint keyed on the latest user
// turn, then pins the reply language.
func (b *Builder) preambleFor(history []session.Message) string {
	var sb strings.Builder
	sb.WriteString(basePreamble)
	sb.WriteString(" ")
	sb.WriteString(hintFor(lastUserText(history)))
	sb.WriteString(" Responde exclusivamente en ")
	sb.WriteString(b.language)
	sb.WriteString(", sin incluir texto en otros idiomas.")
	return sb.String()
}

func lastUserText(history []session.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == session.RoleUser {
			return history[i].Text
		}
	}
	return ""
}

// hintFor mirrors the keyword-driven instruction selection of the original
// assistant: emotional keywords steer the tone of the reply.
func hintFor(userText string) string {
	lower := strings.ToLower(userText)
	switch {
	case strings.Contains(lower, "triste") || strings.Contains(lower, "deprimido"):
		return "Por favor, ofrece consejos prácticos y reconfortantes para alguien que se siente triste. Ayuda al usuario a encontrar formas de sentirse mejor."
	case strings.Contains(lower, "superar") || strings.Contains(lower, "ayuda"):
		return "Brinda pasos claros y consejos específicos sobre cómo superar una situación difícil o emocional."
	case strings.Contains(lower, "solo"):
		return "Responde con empatía y sugiere formas de conectarse con los demás o mejorar el estado emocional."
	default:
		return "Responde de forma empática y adaptada al contexto del usuario."
	}
}

func labelFor(role session.Role) string {
	if role == session.RoleAssistant {
		return AssistantLabel
	}
	return UserLabel
}
