// Package emotion maps a message to a coarse emotional label and overlays a
// matching tone on replies.
package emotion

import "strings"

// Label is a coarse emotional state.
type Label string

const (
	Happy   Label = "happy"
	Sad     Label = "sad"
	Angry   Label = "angry"
	Neutral Label = "neutral"
)

type rule struct {
	label    Label
	keywords []string
	suffix   string
}

// rules are checked in order; the first label with a matching keyword wins.
var rules = []rule{
	{
		label:    Happy,
		keywords: []string{"excited", "amazing", "fantastic", "great", "love", "joy"},
		suffix:   "✨ OMG, I love that energy!",
	},
	{
		label:    Sad,
		keywords: []string{"upset", "hurt", "lonely", "cry", "depressed", "bad"},
		suffix:   "💖 Hey, you got this! I'm here for you.",
	},
	{
		label:    Angry,
		keywords: []string{"mad", "frustrated", "hate", "annoyed", "furious"},
		suffix:   "😤 Okay, deep breaths! What's really bothering you?",
	},
}

// Detect classifies text. Matching is case-insensitive substring search.
func Detect(text string) Label {
	if text == "" {
		return Neutral
	}
	lower := strings.ToLower(text)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return r.label
			}
		}
	}
	return Neutral
}

// ApplyTone appends the tone suffix for label. Neutral replies are unchanged.
func ApplyTone(reply string, label Label) string {
	for _, r := range rules {
		if r.label != label {
			continue
		}
		if reply == "" {
			return r.suffix
		}
		return reply + " " + r.suffix
	}
	return reply
}

// Valid reports whether l is one of the known labels.
func (l Label) Valid() bool {
	switch l {
	case Happy, Sad, Angry, Neutral:
		return true
	}
	return false
}

// Parse converts s to a Label, falling back to Neutral.
func Parse(s string) Label {
	if l := Label(strings.ToLower(strings.TrimSpace(s))); l.Valid() {
		return l
	}
	return Neutral
}

func (l Label) String() string { return string(l) }
