package composer

import (
	"fmt"
	"strings"

	"github.com/ellachat/ella/pkg/emotion"
	"github.com/ellachat/ella/pkg/memory"
)

// nameSeedQuery is embedded instead of the message when the user asks for a
// name we do not know, pulling up turns where they introduced themselves.
const nameSeedQuery = "my name is"

var playfulTags = []string{
	"😜",
	"hehe ✨",
	"(just saying! 😉)",
	"~ your fav companion 💫",
}

var followUps = []string{
	"What about you?",
	"Tell me more?",
	"How are you feeling about it?",
	"What's been on your mind lately?",
}

// promptInput is everything a system prompt is built from.
type promptInput struct {
	persona   string
	profile   memory.UserProfile
	emotion   emotion.Label
	recalled  []memory.RecalledTurn
	nameQuery bool
	// callback is the past user line worth referencing, if any.
	callback string
}

func buildSystemPrompt(in promptInput) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(in.persona))
	b.WriteString("\n\n")

	if in.profile.Name != "" {
		fmt.Fprintf(&b, "The user's name is %s.\n", in.profile.Name)
	} else {
		b.WriteString("You don't know the user's name yet.\n")
	}
	if in.nameQuery {
		if in.profile.Name != "" {
			fmt.Fprintf(&b, "They are asking what their name is. Tell them it's %s.\n", in.profile.Name)
		} else {
			b.WriteString("They are asking what their name is. Admit you don't know and ask them.\n")
		}
	}
	if len(in.profile.Likes) > 0 {
		fmt.Fprintf(&b, "They like: %s.\n", strings.Join(in.profile.Likes, ", "))
	}
	if len(in.profile.Dislikes) > 0 {
		fmt.Fprintf(&b, "They dislike: %s.\n", strings.Join(in.profile.Dislikes, ", "))
	}
	fmt.Fprintf(&b, "The user's current mood: %s.\n", in.emotion)

	if len(in.recalled) > 0 {
		b.WriteString("\nRelevant past conversation:\n")
		for _, t := range in.recalled {
			fmt.Fprintf(&b, "User: %s | Bot: %s\n", oneLine(t.Message), oneLine(t.Response))
		}
	}
	if in.callback != "" {
		fmt.Fprintf(&b, "\nIf it fits, naturally bring up that they once said: %q\n", in.callback)
	}
	return strings.TrimRight(b.String(), "\n")
}

// pickCallback returns the most relevant past user line when it clears
// minScore and is not the current message.
func pickCallback(recalled []memory.RecalledTurn, message string, minScore float64) string {
	if len(recalled) == 0 {
		return ""
	}
	best := recalled[0]
	for _, t := range recalled[1:] {
		if t.Score > best.Score {
			best = t
		}
	}
	if best.Score < minScore || strings.EqualFold(strings.TrimSpace(best.Message), strings.TrimSpace(message)) {
		return ""
	}
	return oneLine(best.Message)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// decorate applies at most one of the playful tag and the follow-up question.
// roll is uniform in [0, 1): [0, p) tags, [p, p+q) asks, the rest leaves the
// reply alone.
func decorate(reply string, roll float64, pick func(n int) int, s Settings) string {
	switch {
	case roll < s.PlayfulProbability:
		return joinReply(reply, playfulTags[pick(len(playfulTags))])
	case roll < s.PlayfulProbability+s.FollowUpProbability:
		return joinReply(reply, followUps[pick(len(followUps))])
	default:
		return reply
	}
}

func joinReply(reply, suffix string) string {
	if reply == "" {
		return suffix
	}
	return reply + " " + suffix
}

// wordCount approximates tokens by whitespace-delimited words.
func wordCount(s string) int {
	return len(strings.Fields(s))
}

// estimateCost prices one generation call.
func estimateCost(system, message, raw string, s Settings) float64 {
	in := wordCount(system) + wordCount(message)
	return float64(in)*s.InputTokenRate + float64(wordCount(raw))*s.OutputTokenRate
}
