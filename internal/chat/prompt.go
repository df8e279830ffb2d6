// Package chat implements the context-augmented prompt assembly and
// conversation persistence pipeline: given a user and a new message, it
// builds a single prompt embedding system instructions, a bounded window
// of prior turns, and accumulated user preferences, forwards it to a
// completion backend, and durably records the resulting turn.
package chat

import (
	"encoding/json"
	"strings"

	"github.com/contextchat/contextchat/internal/database"
)

// Section headers embedded in every assembled prompt.
const (
	historySectionHeader    = "Previous conversation:"
	preferenceSectionHeader = "User preferences:"
)

// Settings carries caller-supplied generation configuration. It is not
// persisted server-side; front-ends without a settings surface fall back
// to configured defaults.
type Settings struct {
	SystemInstructions string
	PromptPrefix       string
	Temperature        float32 `validate:"min=0,max=1"`
}

// PromptRequest is the composed completion request: the fully assembled
// prompt text plus generation parameters.
type PromptRequest struct {
	Text        string
	Temperature float32
}

// Compose assembles a completion request from settings, conversation
// history (most-recent-first, as returned by the store), learned
// preferences, and the new message. It is a pure function: no store or
// network access, byte-identical output for identical inputs.
func Compose(settings Settings, history []database.Message, preferences database.PreferenceMap, message string) PromptRequest {
	var b strings.Builder

	b.WriteString(settings.SystemInstructions)

	b.WriteString("\n\n")
	b.WriteString(historySectionHeader)
	b.WriteString("\n")
	if len(history) > 0 {
		b.WriteString(strings.Join(renderHistory(history), "\n"))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(preferenceSectionHeader)
	b.WriteString("\n")
	b.WriteString(serializePreferences(preferences))

	b.WriteString("\n\n")
	b.WriteString(settings.PromptPrefix)
	b.WriteString(message)

	return PromptRequest{
		Text:        b.String(),
		Temperature: settings.Temperature,
	}
}

// renderHistory reverses the most-recent-first window into chronological
// order and renders each entry as "<AI|User>: <content>".
func renderHistory(history []database.Message) []string {
	lines := make([]string, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		role := "User"
		if m.IsAI {
			role = "AI"
		}
		lines = append(lines, role+": "+m.Content)
	}
	return lines
}

// serializePreferences renders the preference map as canonical
// key-ordered JSON. encoding/json sorts map keys, which is what makes
// the composed prompt stable across runs.
func serializePreferences(preferences database.PreferenceMap) string {
	if len(preferences) == 0 {
		return "{}"
	}
	data, err := json.Marshal(preferences)
	if err != nil {
		// Preference values come from JSON columns or the inference step,
		// both of which are marshalable; this path guards hand-built maps.
		return "{}"
	}
	return string(data)
}
