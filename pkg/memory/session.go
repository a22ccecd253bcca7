package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/ellachat/ella/pkg/logger"
)

// SessionMemory maps user keys to profiles. It is the authoritative read path
// for facts while the process lives; the long-term store and the optional
// FactStore let it be rebuilt after a restart.
type SessionMemory struct {
	mu      sync.RWMutex
	entries map[string]*sessionEntry

	store FactStore
	log   logger.Logger
}

// sessionEntry serializes merges for one user.
type sessionEntry struct {
	mu      sync.Mutex
	profile UserProfile
	// loaded is set once the FactStore copy, if any, has been merged in.
	loaded bool
}

// NewSessionMemory creates an empty cache. store may be nil.
func NewSessionMemory(store FactStore, log logger.Logger) *SessionMemory {
	if log == nil {
		log = logger.Nop()
	}
	return &SessionMemory{
		entries: make(map[string]*sessionEntry),
		store:   store,
		log:     log,
	}
}

func (s *SessionMemory) lookup(userKey string) *sessionEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[userKey]
}

func (s *SessionMemory) entry(userKey string) *sessionEntry {
	if e := s.lookup(userKey); e != nil {
		return e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[userKey]; ok {
		return e
	}
	e := &sessionEntry{profile: UserProfile{UserKey: userKey, Likes: []string{}, Dislikes: []string{}}}
	s.entries[userKey] = e
	return e
}

// loadLocked merges the FactStore copy into e. Callers hold e.mu.
func (s *SessionMemory) loadLocked(ctx context.Context, userKey string, e *sessionEntry) {
	if e.loaded {
		return
	}
	e.loaded = true
	if s.store == nil {
		return
	}
	stored, ok, err := s.store.Get(ctx, userKey)
	if err != nil {
		s.log.WarnContext(ctx, "session memory: fact store read failed", "user_key", userKey, "error", err)
		return
	}
	if ok {
		e.profile.apply(ProfileUpdate{Name: stored.Name, Likes: stored.Likes, Dislikes: stored.Dislikes})
	}
}

// Get returns the profile for userKey. The boolean is false when nothing is
// known about the user, in which case the profile is empty.
func (s *SessionMemory) Get(ctx context.Context, userKey string) (UserProfile, bool) {
	if e := s.lookup(userKey); e != nil {
		e.mu.Lock()
		defer e.mu.Unlock()
		s.loadLocked(ctx, userKey, e)
		return e.profile.Clone(), true
	}

	empty := UserProfile{UserKey: userKey, Likes: []string{}, Dislikes: []string{}}
	if s.store == nil {
		return empty, false
	}
	stored, ok, err := s.store.Get(ctx, userKey)
	if err != nil {
		s.log.WarnContext(ctx, "session memory: fact store read failed", "user_key", userKey, "error", err)
		return empty, false
	}
	if !ok {
		return empty, false
	}
	stored.UserKey = userKey
	s.Seed(ctx, stored)
	return s.Get(ctx, userKey)
}

// Merge applies update to the user's profile, creating it if needed, and
// returns the result. Merges on one key are serialized; merges on different
// keys do not contend.
func (s *SessionMemory) Merge(ctx context.Context, userKey string, update ProfileUpdate) UserProfile {
	e := s.entry(userKey)
	e.mu.Lock()
	defer e.mu.Unlock()

	first := !e.loaded
	s.loadLocked(ctx, userKey, e)
	if e.profile.apply(update) || first {
		s.persistLocked(ctx, e)
	}
	return e.profile.Clone()
}

// persistLocked writes through to the FactStore. Callers hold e.mu.
func (s *SessionMemory) persistLocked(ctx context.Context, e *sessionEntry) {
	if s.store == nil {
		return
	}
	if err := s.store.Put(ctx, e.profile.Clone()); err != nil {
		s.log.WarnContext(ctx, "session memory: fact store write failed", "user_key", e.profile.UserKey, "error", err)
	}
}

// Seed installs profile when the user has no entry yet and reports whether
// it did. Used to rebuild the cache from stored turns.
func (s *SessionMemory) Seed(ctx context.Context, profile UserProfile) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[profile.UserKey]; ok {
		return false
	}
	s.entries[profile.UserKey] = &sessionEntry{profile: profile.Clone(), loaded: true}
	return true
}

// Reset forgets the user in the cache and the FactStore.
func (s *SessionMemory) Reset(ctx context.Context, userKey string) error {
	s.mu.Lock()
	delete(s.entries, userKey)
	s.mu.Unlock()

	if s.store == nil {
		return nil
	}
	return s.store.Delete(ctx, userKey)
}

// Len returns the number of cached users.
func (s *SessionMemory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Keys returns the cached user keys in sorted order.
func (s *SessionMemory) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys
}
