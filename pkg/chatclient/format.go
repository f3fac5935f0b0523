package chatclient

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/ent0n29/garagechat/internal/policy"
)

const (
	maxMessageRunes = 1000
	defaultSummary  = "General conversation"
)

// HumanizeTimestamp renders an epoch-millisecond timestamp relative to now.
func HumanizeTimestamp(ts int64, now time.Time) string {
	t := time.UnixMilli(ts)
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	default:
		return t.In(now.Location()).Format("Jan 2, 2006")
	}
}

// Sanitize strips angle brackets, trims and caps the message length.
func Sanitize(input string) string {
	out := strings.TrimSpace(strings.NewReplacer("<", "", ">", "").Replace(input))
	if r := []rune(out); len(r) > maxMessageRunes {
		out = string(r[:maxMessageRunes])
	}
	return out
}

// ExtractKeywords lists the service keywords mentioned in text.
func ExtractKeywords(text string) []string {
	return lo.Uniq(policy.MatchKeywords(text))
}

// Summarize joins the first n distinct keywords found across messages.
func Summarize(messages []Message, n int) string {
	keywords := lo.Uniq(lo.FlatMap(messages, func(m Message, _ int) []string {
		return ExtractKeywords(m.Content)
	}))
	if n > 0 && len(keywords) > n {
		keywords = keywords[:n]
	}
	if len(keywords) == 0 {
		return defaultSummary
	}
	return strings.Join(keywords, ", ")
}
