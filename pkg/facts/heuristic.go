package facts

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"
)

// trigger is a phrase that introduces a preference. itemBefore is set for
// postfix phrasing ("mujhe chai pasand hai") where the item precedes it.
type trigger struct {
	phrase     string
	dislike    bool
	itemBefore bool
}

// preferenceTriggers are scanned in order and the first match wins. Negated
// phrases come first so "don't like" is never read as "like".
var preferenceTriggers = []trigger{
	{phrase: "pasand nahi hai", dislike: true, itemBefore: true},
	{phrase: "pasand nahi", dislike: true, itemBefore: true},
	{phrase: "psnd nahi hai", dislike: true, itemBefore: true},
	{phrase: "psnd nahi", dislike: true, itemBefore: true},
	{phrase: "don't like", dislike: true},
	{phrase: "dont like", dislike: true},
	{phrase: "do not like", dislike: true},
	{phrase: "can't stand", dislike: true},
	{phrase: "dislike", dislike: true},
	{phrase: "hate", dislike: true},
	{phrase: "pasand hai", itemBefore: true},
	{phrase: "psnd hai", itemBefore: true},
	{phrase: "pasand", itemBefore: true},
	{phrase: "psnd", itemBefore: true},
	{phrase: "fond of"},
	{phrase: "love"},
	{phrase: "like"},
	{phrase: "enjoy"},
}

// fillerWords are trimmed from both ends of an extracted item.
var fillerWords = map[string]struct{}{
	"mujhe": {}, "muje": {}, "mujhko": {}, "mereko": {}, "yaar": {}, "yar": {},
	"hai": {}, "bahut": {}, "bohot": {}, "bhi": {}, "toh": {},
	"i": {}, "i'm": {}, "really": {}, "so": {}, "very": {}, "much": {},
	"a": {}, "lot": {}, "too": {}, "also": {}, "just": {}, "totally": {},
	"the": {}, "to": {}, "my": {},
}

// namePatterns introduce a first name that follows them.
var namePatterns = []string{
	"my name is",
	"my name's",
	"you can call me",
	"call me",
	"i am called",
	"i'm called",
	"mera naam",
	"naam hai",
}

// notNames rejects common words that follow a name pattern in other senses.
var notNames = map[string]struct{}{
	"not": {}, "a": {}, "an": {}, "the": {}, "so": {}, "very": {}, "just": {},
	"crazy": {}, "back": {}, "later": {}, "maybe": {}, "when": {}, "if": {},
	"kya": {}, "hai": {}, "what": {},
}

var nameQueryPhrases = []string{
	"what's my name",
	"whats my name",
	"what is my name",
	"do you know my name",
	"do you remember my name",
	"remember my name",
	"mera naam kya",
	"who am i",
}

// clauseBreaks end the clause an item is taken from.
var clauseBreaks = []string{".", "!", "?", ",", ";", " but ", " because ", " lekin "}

// Heuristic extracts facts with fixed keyword rules. It is stateless and safe
// for concurrent use.
type Heuristic struct{}

// NewHeuristic returns a rule-based extractor.
func NewHeuristic() *Heuristic { return &Heuristic{} }

// ExtractName looks for an explicit self-introduction.
func (Heuristic) ExtractName(_ context.Context, text string) (string, bool) {
	norm := normalize(text)
	for _, pattern := range namePatterns {
		idx := findPhrase(norm, pattern)
		if idx < 0 {
			continue
		}
		rest := strings.Fields(norm[idx+len(pattern):])
		if len(rest) == 0 {
			continue
		}
		candidate := strings.TrimFunc(rest[0], func(r rune) bool {
			return !unicode.IsLetter(r) && r != '-' && r != '\''
		})
		if candidate == "" || !isNameToken(candidate) {
			continue
		}
		if _, bad := notNames[candidate]; bad {
			continue
		}
		return titleCase(candidate), true
	}
	return "", false
}

// ExtractPreferences applies the first matching trigger and returns at most
// one item.
func (Heuristic) ExtractPreferences(_ context.Context, text string) Preferences {
	norm := normalize(text)
	if norm == "" {
		return Preferences{}
	}

	for _, tr := range preferenceTriggers {
		idx := findPhrase(norm, tr.phrase)
		if idx < 0 {
			continue
		}

		var item string
		if tr.itemBefore {
			item = lastClause(norm[:idx])
		} else {
			item = firstClause(norm[idx+len(tr.phrase):])
		}
		item = trimFillers(item)
		if item == "" {
			return Preferences{}
		}
		if tr.dislike {
			return Preferences{Dislikes: []string{item}}
		}
		return Preferences{Likes: []string{item}}
	}
	return Preferences{}
}

// IsNameQuery reports whether the user is asking for their own name.
func (Heuristic) IsNameQuery(_ context.Context, text string) bool {
	norm := normalize(text)
	for _, phrase := range nameQueryPhrases {
		if findPhrase(norm, phrase) >= 0 {
			return true
		}
	}
	return false
}

func normalize(text string) string {
	text = strings.NewReplacer("’", "'", "‘", "'").Replace(text)
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// findPhrase returns the byte index of the first occurrence of phrase that
// sits on word boundaries, or -1.
func findPhrase(s, phrase string) int {
	offset := 0
	for {
		i := strings.Index(s[offset:], phrase)
		if i < 0 {
			return -1
		}
		start := offset + i
		end := start + len(phrase)
		if boundaryBefore(s, start) && boundaryAfter(s, end) {
			return start
		}
		offset = start + 1
	}
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func firstClause(s string) string {
	cut := len(s)
	for _, br := range clauseBreaks {
		if i := strings.Index(s, br); i >= 0 && i < cut {
			cut = i
		}
	}
	return s[:cut]
}

func lastClause(s string) string {
	start := 0
	for _, br := range clauseBreaks {
		if i := strings.LastIndex(s, br); i >= 0 && i+len(br) > start {
			start = i + len(br)
		}
	}
	return s[start:]
}

func trimFillers(s string) string {
	words := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || (unicode.IsPunct(r) && r != '\'' && r != '-')
	})
	for len(words) > 0 {
		if _, ok := fillerWords[words[0]]; !ok {
			break
		}
		words = words[1:]
	}
	for len(words) > 0 {
		if _, ok := fillerWords[words[len(words)-1]]; !ok {
			break
		}
		words = words[:len(words)-1]
	}
	return strings.Join(words, " ")
}

func isNameToken(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && r != '-' && r != '\'' {
			return false
		}
	}
	return true
}

func titleCase(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}
