// Package memory holds what the companion remembers about each user: the
// in-process profile cache, its optional durable fact store, the long-term
// turn history in a vector store, and the writer that records new turns.
package memory

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/ellachat/ella/pkg/emotion"
	"github.com/ellachat/ella/pkg/vectorstore"
	"github.com/lithammer/shortuuid/v4"
)

// Sentinel errors for the memory system.
var (
	ErrInvalidUserKey = errors.New("memory: invalid user key")
	ErrNoHistory      = errors.New("memory: no history available")
	ErrMalformedTurn  = errors.New("memory: malformed turn")
)

// Metadata keys of a stored turn.
const (
	KeyUserKey   = "user_key"
	KeyMessage   = "message"
	KeyResponse  = "response"
	KeyEmotion   = "emotion"
	KeyTimestamp = "timestamp"
	KeyName      = "name"
	KeyLikes     = "likes"
	KeyDislikes  = "dislikes"
)

// UserProfile is the accumulated structured knowledge about one user.
type UserProfile struct {
	UserKey  string   `json:"user_key"`
	Name     string   `json:"name,omitempty"`
	Likes    []string `json:"likes"`
	Dislikes []string `json:"dislikes"`
}

// Clone returns a deep copy. Nil lists become empty lists.
func (p UserProfile) Clone() UserProfile {
	out := p
	out.Likes = append(make([]string, 0, len(p.Likes)), p.Likes...)
	out.Dislikes = append(make([]string, 0, len(p.Dislikes)), p.Dislikes...)
	return out
}

// HasFacts reports whether any fact is known.
func (p UserProfile) HasFacts() bool {
	return p.Name != "" || len(p.Likes) > 0 || len(p.Dislikes) > 0
}

// ProfileUpdate is a set of facts to merge into a profile.
type ProfileUpdate struct {
	Name     string
	Likes    []string
	Dislikes []string
}

// Empty reports whether the update carries no fact.
func (u ProfileUpdate) Empty() bool {
	return u.Name == "" && len(u.Likes) == 0 && len(u.Dislikes) == 0
}

// apply merges u into p: likes and dislikes are appended if absent, keeping
// first-seen order, and a non-empty name replaces the old one.
func (p *UserProfile) apply(u ProfileUpdate) (changed bool) {
	if u.Name != "" && u.Name != p.Name {
		p.Name = u.Name
		changed = true
	}
	var grew bool
	p.Likes, grew = appendAbsent(p.Likes, u.Likes)
	changed = changed || grew
	p.Dislikes, grew = appendAbsent(p.Dislikes, u.Dislikes)
	return changed || grew
}

func appendAbsent(list, items []string) ([]string, bool) {
	grew := false
	for _, item := range items {
		if item == "" || slices.Contains(list, item) {
			continue
		}
		list = append(list, item)
		grew = true
	}
	return list, grew
}

// Turn is one recorded exchange with the profile as it stood when written.
type Turn struct {
	ID        string
	UserKey   string
	Message   string
	Response  string
	Emotion   emotion.Label
	Embedding []float32
	Timestamp time.Time
	Profile   UserProfile
}

// NewTurnID returns the user key plus a random suffix.
func NewTurnID(userKey string) string {
	return userKey + "-" + shortuuid.New()
}

// Metadata renders the turn as vector store metadata.
func (t Turn) Metadata() map[string]any {
	p := t.Profile.Clone()
	return map[string]any{
		KeyUserKey:   t.UserKey,
		KeyMessage:   t.Message,
		KeyResponse:  t.Response,
		KeyEmotion:   string(t.Emotion),
		KeyTimestamp: t.Timestamp.UTC().Format(time.RFC3339Nano),
		KeyName:      p.Name,
		KeyLikes:     p.Likes,
		KeyDislikes:  p.Dislikes,
	}
}

// TurnFromMatch decodes a query result. Every key must be present with the
// expected type; the embedding is not returned by queries and stays nil.
func TurnFromMatch(m vectorstore.Match) (Turn, error) {
	md := m.Metadata
	str := func(key string) (string, error) {
		v, ok := md[key].(string)
		if !ok {
			return "", fmt.Errorf("%w: %s: missing or not a string", ErrMalformedTurn, key)
		}
		return v, nil
	}
	list := func(key string) ([]string, error) {
		switch v := md[key].(type) {
		case []string:
			return slices.Clone(v), nil
		case []any:
			out := make([]string, 0, len(v))
			for _, item := range v {
				s, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("%w: %s: non-string item", ErrMalformedTurn, key)
				}
				out = append(out, s)
			}
			return out, nil
		case nil:
			if _, present := md[key]; present {
				return []string{}, nil
			}
		}
		return nil, fmt.Errorf("%w: %s: missing or not a list", ErrMalformedTurn, key)
	}

	t := Turn{ID: m.ID}
	var err error
	if t.UserKey, err = str(KeyUserKey); err != nil {
		return Turn{}, err
	}
	if t.Message, err = str(KeyMessage); err != nil {
		return Turn{}, err
	}
	if t.Response, err = str(KeyResponse); err != nil {
		return Turn{}, err
	}
	label, err := str(KeyEmotion)
	if err != nil {
		return Turn{}, err
	}
	t.Emotion = emotion.Parse(label)

	ts, err := str(KeyTimestamp)
	if err != nil {
		return Turn{}, err
	}
	if t.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
		return Turn{}, fmt.Errorf("%w: timestamp: %v", ErrMalformedTurn, err)
	}

	t.Profile.UserKey = t.UserKey
	if t.Profile.Name, err = str(KeyName); err != nil {
		return Turn{}, err
	}
	if t.Profile.Likes, err = list(KeyLikes); err != nil {
		return Turn{}, err
	}
	if t.Profile.Dislikes, err = list(KeyDislikes); err != nil {
		return Turn{}, err
	}
	return t, nil
}
