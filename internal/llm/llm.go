// ABOUTME: Conversation turns, the receptionist prompt, and no-answer detection
// ABOUTME: Shared by the Gemini client and the engine's per-session history

package llm

import (
	"errors"
	"strings"
)

// ErrDisabled is returned by a client that has no credentials configured.
var ErrDisabled = errors.New("llm disabled")

// Role is the speaker of a conversation turn.
type Role string

const (
	RoleCaller    Role = "caller"
	RoleAssistant Role = "assistant"
)

// Turn is one utterance in a caller's conversation.
type Turn struct {
	Role Role
	Text string
}

// NoAnswer is the exact reply the model is told to give when it does not know.
const NoAnswer = "UNKNOWN"

// SystemPrompt frames the model as the front desk. Anything it is unsure of
// must come back as NoAnswer so the question escalates to a person.
const SystemPrompt = `You are a professional salon receptionist answering a caller on the phone.
Answer briefly and warmly, in one or two spoken sentences with no markdown.
Only answer questions you can answer from general courtesy or from the conversation so far.
Never invent prices, opening hours, staff names, availability, or policies.
If you do not know the answer, or the caller needs a person, reply with exactly: UNKNOWN`

// IsNoAnswer reports whether a model reply should be treated as no answer.
func IsNoAnswer(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return true
	}
	t = strings.Trim(t, ".!\"' ")
	if strings.EqualFold(t, NoAnswer) {
		return true
	}
	// The model sometimes paraphrases the escalation line instead of using the marker
	return strings.Contains(strings.ToLower(t), "check with my supervisor")
}
