package policy

import "strings"

// Intent is the coarse category of a chat message.
type Intent string

const (
	IntentEmergency Intent = "emergency"
	IntentBooking   Intent = "booking"
	IntentGeneral   Intent = "general"
)

type intentRule struct {
	intent   Intent
	keywords []string
}

// Rule order is significant: the first rule with a matching keyword wins.
var intentRules = []intentRule{
	{intent: IntentEmergency, keywords: []string{"emergency", "help"}},
	{intent: IntentBooking, keywords: []string{"schedule", "book"}},
}

// Vocabulary lists every keyword the classifier reacts to, in rule order.
func Vocabulary() []string {
	var out []string
	for _, rule := range intentRules {
		out = append(out, rule.keywords...)
	}
	return out
}

// ClassifyIntent matches message against the vocabulary, case-insensitively
// and by substring.
func ClassifyIntent(message string) Intent {
	in := strings.ToLower(message)
	if strings.TrimSpace(in) == "" {
		return IntentGeneral
	}
	for _, rule := range intentRules {
		for _, kw := range rule.keywords {
			if strings.Contains(in, kw) {
				return rule.intent
			}
		}
	}
	return IntentGeneral
}

// MatchKeywords returns the vocabulary entries contained in message, in the
// order they first appear in the vocabulary.
func MatchKeywords(message string) []string {
	in := strings.ToLower(message)
	var out []string
	for _, kw := range Vocabulary() {
		if strings.Contains(in, kw) {
			out = append(out, kw)
		}
	}
	return out
}
