package facts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ellachat/ella/pkg/llm"
	"github.com/ellachat/ella/pkg/logger"
	"github.com/ellachat/ella/pkg/retry"
)

const (
	preferencesPrompt = `Extract the user's stated likes and dislikes from their message.
Respond with JSON only, exactly in this shape: {"likes": ["..."], "dislikes": ["..."]}.
Use short noun phrases. Use empty arrays when nothing is stated.`

	namePrompt = `If the user's message states their own first name, reply with that name only.
Otherwise reply with NONE.`

	nameQueryPrompt = `Is the user asking what their own name is? Answer yes or no.`
)

// MalformedExtractionError reports a delegated extraction reply that could not
// be parsed into Preferences.
type MalformedExtractionError struct {
	Raw   string
	Cause error
}

func (e *MalformedExtractionError) Error() string {
	return fmt.Sprintf("malformed extraction reply: %v", e.Cause)
}

func (e *MalformedExtractionError) Unwrap() error { return e.Cause }

// Delegated asks a language model to extract facts. Each call is retried under
// the configured policy. Exhausted retries and unparseable replies yield no
// facts, and name-query detection defaults to false.
type Delegated struct {
	gen    llm.Generator
	policy retry.Policy
	log    logger.Logger
}

// NewDelegated returns an extractor backed by gen.
func NewDelegated(gen llm.Generator, policy retry.Policy, log logger.Logger) *Delegated {
	if log == nil {
		log = logger.Nop()
	}
	return &Delegated{gen: gen, policy: policy, log: log.With("component", "facts")}
}

// ExtractName asks for a bare first name.
func (d *Delegated) ExtractName(ctx context.Context, text string) (string, bool) {
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	raw, err := d.ask(ctx, namePrompt, text, 10)
	if err != nil {
		d.log.WarnContext(ctx, "name extraction failed", "error", err)
		return "", false
	}

	name := strings.Trim(strings.TrimSpace(raw), `."'`)
	if name == "" || strings.EqualFold(name, "none") || strings.ContainsAny(name, " \n\t") || !isNameToken(name) {
		return "", false
	}
	return titleCase(name), true
}

// ExtractPreferences asks for a JSON likes/dislikes object.
func (d *Delegated) ExtractPreferences(ctx context.Context, text string) Preferences {
	if strings.TrimSpace(text) == "" {
		return Preferences{}
	}
	raw, err := d.ask(ctx, preferencesPrompt, text, 100)
	if err != nil {
		d.log.WarnContext(ctx, "preference extraction failed", "error", err)
		return Preferences{}
	}

	prefs, err := ParsePreferences(raw)
	if err != nil {
		d.log.WarnContext(ctx, "discarding malformed extraction", "error", err)
		return Preferences{}
	}
	return prefs
}

// IsNameQuery asks a yes/no question. Any failure answers false.
func (d *Delegated) IsNameQuery(ctx context.Context, text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	raw, err := d.ask(ctx, nameQueryPrompt, text, 3)
	if err != nil {
		d.log.WarnContext(ctx, "name query detection failed", "error", err)
		return false
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(raw)), "yes")
}

func (d *Delegated) ask(ctx context.Context, system, text string, maxTokens int) (string, error) {
	return retry.DoValue(ctx, d.policy, func(ctx context.Context) (string, error) {
		return d.gen.Generate(ctx, llm.Request{
			System:    system,
			User:      text,
			MaxTokens: maxTokens,
		})
	})
}

// ParsePreferences validates a delegated extraction reply. Markdown code
// fences are tolerated. At least one of likes or dislikes must be present and
// each must be an array of strings; blank entries are dropped.
func ParsePreferences(raw string) (Preferences, error) {
	body := stripCodeFence(raw)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return Preferences{}, &MalformedExtractionError{Raw: raw, Cause: err}
	}

	likesRaw, hasLikes := fields["likes"]
	dislikesRaw, hasDislikes := fields["dislikes"]
	if !hasLikes && !hasDislikes {
		return Preferences{}, &MalformedExtractionError{Raw: raw, Cause: errors.New("missing likes and dislikes")}
	}

	var prefs Preferences
	var err error
	if hasLikes {
		if prefs.Likes, err = stringList(likesRaw); err != nil {
			return Preferences{}, &MalformedExtractionError{Raw: raw, Cause: fmt.Errorf("likes: %w", err)}
		}
	}
	if hasDislikes {
		if prefs.Dislikes, err = stringList(dislikesRaw); err != nil {
			return Preferences{}, &MalformedExtractionError{Raw: raw, Cause: fmt.Errorf("dislikes: %w", err)}
		}
	}
	return prefs, nil
}

func stringList(raw json.RawMessage) ([]string, error) {
	if string(raw) == "null" {
		return nil, nil
	}
	var items []string
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	out := items[:0]
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
