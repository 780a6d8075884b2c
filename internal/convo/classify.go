// Package convo implements the support conversation state machine.
package convo

import "strings"

// Kind classifies inbound content for the state machine.
type Kind string

const (
	KindGreeting       Kind = "greeting"
	KindQuestion       Kind = "question"
	KindEscalation     Kind = "escalation"
	KindClosing        Kind = "closing"
	KindUnclassifiable Kind = "unclassifiable"
)

var greetings = []string{
	"hi", "hello", "hey", "good morning", "good afternoon", "good evening",
	"salem", "salam",
}

var escalationPhrases = []string{
	"talk to a human", "speak to a human", "real person", "human agent",
	"talk to an agent", "speak to an agent", "talk to someone", "operator",
	"escalate", "manager",
}

// urgentKeywords flag an escalation as urgent; these mirror the categories
// the support desk treats as emergencies.
var urgentKeywords = []string{
	"flood", "flooding", "fire", "gas leak", "burst pipe", "emergency",
	"urgent", "danger", "dangerous",
}

var closingPhrases = []string{
	"thanks, that's all", "that's all", "bye", "goodbye", "problem solved",
	"it's fixed", "all good now", "no more questions", "close my request",
}

// Classify maps inbound text to a content kind.
//
// The rules are deliberately coarse: a greeting must be the whole message
// (a question that opens with "hi" is a question), escalation phrases win
// over question marks, and anything with enough words or a question mark
// counts as a question. Short fragments that match nothing are
// unclassifiable.
func Classify(text string) Kind {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return KindUnclassifiable
	}

	stripped := strings.Trim(t, "!.,?")
	for _, g := range greetings {
		if stripped == g {
			return KindGreeting
		}
	}

	for _, p := range closingPhrases {
		if stripped == p || strings.HasPrefix(t, p) {
			return KindClosing
		}
	}

	for _, p := range escalationPhrases {
		if strings.Contains(t, p) {
			return KindEscalation
		}
	}

	if strings.Contains(t, "?") || len(strings.Fields(t)) >= 3 {
		return KindQuestion
	}

	return KindUnclassifiable
}

// Urgent reports whether the text mentions an emergency condition.
// Urgent escalations raise an operational alert in addition to the
// normal state transition.
func Urgent(text string) bool {
	t := strings.ToLower(text)
	for _, kw := range urgentKeywords {
		if strings.Contains(t, kw) {
			return true
		}
	}
	return false
}
