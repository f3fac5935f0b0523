package responder

import (
	"context"
	"time"

	"github.com/ent0n29/garagechat/internal/policy"
)

const (
	EmergencyReply = "I understand this is urgent. I'm connecting you with our emergency roadside assistance team right away. If you are in immediate danger, please call your local emergency number."
	BookingReply   = "I'd be happy to help you schedule a service. What type of service do you need, and when would you like to bring your vehicle in?"
	GreetingReply  = "Hello! I'm your vehicle services assistant. I can help you with:\n" +
		"- Booking a service or repair\n" +
		"- Emergency roadside assistance\n" +
		"- Questions about your vehicle\n" +
		"- Insurance and claims\n" +
		"How can I help you today?"
)

// KeywordResponder answers from a fixed table keyed by message intent.
type KeywordResponder struct {
	obs Observer
}

func NewKeywordResponder(obs Observer) *KeywordResponder {
	return &KeywordResponder{obs: obs}
}

func (k *KeywordResponder) Generate(_ context.Context, message string, _ Context) string {
	started := time.Now()
	reply := KeywordReply(message)
	if k.obs != nil {
		k.obs.ObserveGenerate(SourceKeyword, OutcomeOK, time.Since(started))
	}
	return reply
}

// KeywordReply maps message to its canned reply.
func KeywordReply(message string) string {
	switch policy.ClassifyIntent(message) {
	case policy.IntentEmergency:
		return EmergencyReply
	case policy.IntentBooking:
		return BookingReply
	default:
		return GreetingReply
	}
}
