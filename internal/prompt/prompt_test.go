package prompt

import (
	"strings"
	"testing"

	"github.com/charla-ai/charla/internal/session"
)

func TestIsIncomplete(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"This is a longer sentence with plenty of words and punctuation that reads as a finished thought.", false},
		{"Hi there...", true},
		{"Okay", true},
		{"Una respuesta completa con suficientes palabras para superar el umbral mínimo de quince palabras en total aquí.", false},
		{"Una respuesta larga con muchas palabras que sin embargo termina en puntos suspensivos y queda abierta al final...", true},
		{"Termina con elipsis tipográfica aunque tenga bastantes palabras acumuladas en la oración completa que sigue y sigue…", true},
		{"", true},
		{"   Hi there...   ", true},
	}
	for _, tt := range tests {
		if got := IsIncomplete(tt.text); got != tt.want {
			t.Errorf("IsIncomplete(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestPostFilterCutsHallucinatedTurn(t *testing.T) {
	in := "Claro, puedo ayudarte con eso.\nUsuario: ¿y qué más?\nIA: también"
	got := PostFilter(in)
	want := "Claro, puedo ayudarte con eso."
	if got != want {
		t.Errorf("PostFilter = %q, want %q", got, want)
	}
}

func TestPostFilterTrimsWhitespace(t *testing.T) {
	if got := PostFilter("  hola  \n"); got != "hola" {
		t.Errorf("PostFilter = %q, want %q", got, "hola")
	}
}

func TestPostFilterNoMarker(t *testing.T) {
	if got := PostFilter("respuesta sin marcador"); got != "respuesta sin marcador" {
		t.Errorf("PostFilter = %q", got)
	}
}

func TestBuildRendersTurnsInOrder(t *testing.T) {
	b := NewBuilder("", 0)
	history := []session.Message{
		{Role: session.RoleUser, Text: "Hola"},
		{Role: session.RoleAssistant, Text: "¡Hola! ¿Cómo estás?"},
		{Role: session.RoleUser, Text: "Bien, gracias"},
	}

	p := b.Build(history)

	if !strings.HasSuffix(p, "IA: ") {
		t.Errorf("prompt must end with the open assistant marker, got %q", p)
	}
	iHola := strings.Index(p, "Usuario: Hola\n")
	iReply := strings.Index(p, "IA: ¡Hola! ¿Cómo estás?\n")
	iBien := strings.Index(p, "Usuario: Bien, gracias\n")
	if iHola < 0 || iReply < 0 || iBien < 0 {
		t.Fatalf("missing turns in prompt:\n%s", p)
	}
	if !(iHola < iReply && iReply < iBien) {
		t.Errorf("turns out of order in prompt:\n%s", p)
	}
	if !strings.Contains(p, "asistente amigable") {
		t.Errorf("missing preamble in prompt:\n%s", p)
	}
}

func TestBuildEmptyHistory(t *testing.T) {
	p := NewBuilder("español", 0).Build(nil)
	if !strings.HasSuffix(p, "IA: ") {
		t.Errorf("prompt must end with the open assistant marker, got %q", p)
	}
}

func TestBuildSelectsEmotionalHint(t *testing.T) {
	b := NewBuilder("", 0)
	p := b.Build([]session.Message{{Role: session.RoleUser, Text: "Me siento muy triste hoy"}})
	if !strings.Contains(p, "se siente triste") {
		t.Errorf("expected sadness hint in prompt:\n%s", p)
	}

	p = b.Build([]session.Message{{Role: session.RoleUser, Text: "Me siento muy solo"}})
	if !strings.Contains(p, "conectarse con los demás") {
		t.Errorf("expected loneliness hint in prompt:\n%s", p)
	}
}

func TestBuildLanguagePinned(t *testing.T) {
	p := NewBuilder("inglés", 0).Build(nil)
	if !strings.Contains(p, "Responde exclusivamente en inglés") {
		t.Errorf("expected language directive in prompt:\n%s", p)
	}
}

func TestContinuationPrompt(t *testing.T) {
	if got := ContinuationPrompt("Claro, puedo"); got != "Continúa: Claro, puedo" {
		t.Errorf("ContinuationPrompt = %q", got)
	}
}

func TestEstimateTokensMonotonic(t *testing.T) {
	short := EstimateTokens("hola")
	long := EstimateTokens(strings.Repeat("palabras y más palabras ", 50))
	if short <= 0 {
		t.Errorf("short estimate = %d, want > 0", short)
	}
	if long <= short {
		t.Errorf("long estimate %d not greater than short %d", long, short)
	}
}

func TestBuildTrimsOldestTurnsUnderBudget(t *testing.T) {
	history := []session.Message{
		{Role: session.RoleUser, Text: strings.Repeat("relleno antiguo ", 200)},
		{Role: session.RoleAssistant, Text: strings.Repeat("respuesta antigua ", 200)},
		{Role: session.RoleUser, Text: "pregunta reciente"},
	}

	p := NewBuilder("", 200).Build(history)

	if !strings.Contains(p, "Usuario: pregunta reciente") {
		t.Errorf("most recent turn must survive trimming:\n%s", p)
	}
	if strings.Contains(p, "relleno antiguo") {
		t.Errorf("oldest turn should have been trimmed:\n%s", p)
	}
}

func TestBuildNoTrimWhenBudgetUnset(t *testing.T) {
	history := []session.Message{
		{Role: session.RoleUser, Text: strings.Repeat("relleno ", 500)},
		{Role: session.RoleUser, Text: "reciente"},
	}
	p := NewBuilder("", 0).Build(history)
	if !strings.Contains(p, "relleno") {
		t.Error("zero budget must keep the full history")
	}
}
