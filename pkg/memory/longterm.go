package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/ellachat/ella/pkg/logger"
	"github.com/ellachat/ella/pkg/vectorstore"
)

// RecalledTurn is a stored turn with its similarity to the query.
type RecalledTurn struct {
	Turn
	Score float64
}

// LongTermMemory stores turns in a vector store, one record per turn,
// filtered by user key on the way out.
type LongTermMemory struct {
	store vectorstore.Store
	log   logger.Logger
}

// NewLongTermMemory wraps store.
func NewLongTermMemory(store vectorstore.Store, log logger.Logger) *LongTermMemory {
	if log == nil {
		log = logger.Nop()
	}
	return &LongTermMemory{store: store, log: log}
}

// Recall returns up to topK of the user's turns most similar to vector. Store
// failures are logged and reported as ErrNoHistory; malformed records are
// skipped.
func (m *LongTermMemory) Recall(ctx context.Context, userKey string, vector []float32, topK int) ([]RecalledTurn, error) {
	if userKey == "" {
		return nil, ErrInvalidUserKey
	}
	matches, err := m.store.Query(ctx, vector, topK, vectorstore.Filter{KeyUserKey: userKey})
	if err != nil {
		m.log.WarnContext(ctx, "long-term memory: query failed", "user_key", userKey, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrNoHistory, err)
	}

	turns := make([]RecalledTurn, 0, len(matches))
	for _, match := range matches {
		t, err := TurnFromMatch(match)
		if err != nil {
			m.log.WarnContext(ctx, "long-term memory: skipping malformed turn", "id", match.ID, "error", err)
			continue
		}
		turns = append(turns, RecalledTurn{Turn: t, Score: match.Score})
	}
	return turns, nil
}

// Save upserts a turn.
func (m *LongTermMemory) Save(ctx context.Context, t Turn) error {
	if t.UserKey == "" {
		return ErrInvalidUserKey
	}
	if err := m.store.Upsert(ctx, t.ID, t.Embedding, t.Metadata()); err != nil {
		return fmt.Errorf("save turn %s: %w", t.ID, err)
	}
	return nil
}

// History returns the user's turns oldest first. A positive limit keeps the
// newest limit turns.
func (m *LongTermMemory) History(ctx context.Context, userKey string, limit int) ([]Turn, error) {
	if userKey == "" {
		return nil, ErrInvalidUserKey
	}
	matches, err := m.store.List(ctx, vectorstore.Filter{KeyUserKey: userKey}, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoHistory, err)
	}

	turns := make([]Turn, 0, len(matches))
	for _, match := range matches {
		t, err := TurnFromMatch(match)
		if err != nil {
			m.log.WarnContext(ctx, "long-term memory: skipping malformed turn", "id", match.ID, "error", err)
			continue
		}
		turns = append(turns, t)
	}
	sort.SliceStable(turns, func(i, j int) bool { return turns[i].Timestamp.Before(turns[j].Timestamp) })
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}

// Forget deletes all of the user's turns.
func (m *LongTermMemory) Forget(ctx context.Context, userKey string) (int, error) {
	if userKey == "" {
		return 0, ErrInvalidUserKey
	}
	n, err := m.store.Delete(ctx, vectorstore.Filter{KeyUserKey: userKey})
	if err != nil {
		return 0, fmt.Errorf("forget %s: %w", userKey, err)
	}
	return n, nil
}

// LatestProfile returns the profile snapshot of the user's newest stored
// turn. ok is false when nothing is stored.
func (m *LongTermMemory) LatestProfile(ctx context.Context, userKey string) (UserProfile, bool, error) {
	turns, err := m.History(ctx, userKey, 1)
	if err != nil || len(turns) == 0 {
		return UserProfile{}, false, err
	}
	p := turns[0].Profile.Clone()
	p.UserKey = userKey
	return p, true, nil
}
