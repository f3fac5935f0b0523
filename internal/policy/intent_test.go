package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyIntentEmergencyWins(t *testing.T) {
	cases := []string{
		"EMERGENCY on the highway",
		"I need help, my car broke down",
		"please book a slot, this is an emergency",
		"Can you help me schedule a service?",
	}
	for _, msg := range cases {
		assert.Equal(t, IntentEmergency, ClassifyIntent(msg), msg)
	}
}

func TestClassifyIntentBooking(t *testing.T) {
	cases := []string{
		"I want to Schedule an oil change",
		"can I book for tomorrow",
		"rebooking please",
	}
	for _, msg := range cases {
		assert.Equal(t, IntentBooking, ClassifyIntent(msg), msg)
	}
}

func TestClassifyIntentGeneral(t *testing.T) {
	assert.Equal(t, IntentGeneral, ClassifyIntent(""))
	assert.Equal(t, IntentGeneral, ClassifyIntent("   "))
	assert.Equal(t, IntentGeneral, ClassifyIntent("what are your opening hours?"))
}

func TestMatchKeywordsVocabularyOrder(t *testing.T) {
	got := MatchKeywords("Book now! HELP, and schedule the emergency visit")
	assert.Equal(t, []string{"emergency", "help", "schedule", "book"}, got)
	assert.Empty(t, MatchKeywords("hello there"))
}

func TestVocabulary(t *testing.T) {
	assert.Equal(t, []string{"emergency", "help", "schedule", "book"}, Vocabulary())
}
