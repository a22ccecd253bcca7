// Package companion is the surface the transport layers talk to: it turns a
// (user, message) pair into a reply and exposes the per-user and system
// operations around it.
package companion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ellachat/ella/config"
	"github.com/ellachat/ella/pkg/composer"
	"github.com/ellachat/ella/pkg/emotion"
	"github.com/ellachat/ella/pkg/llm"
	"github.com/ellachat/ella/pkg/logger"
	"github.com/ellachat/ella/pkg/memory"
)

var (
	// ErrInvalidUserKey is returned for an empty user key.
	ErrInvalidUserKey = errors.New("companion: user key is required")
	// ErrModelNotSwappable is returned when the generator cannot change model.
	ErrModelNotSwappable = errors.New("companion: generator does not support changing the model")
)

// Result is the reply to one message.
type Result struct {
	ReplyText   string        `json:"response"`
	Emotion     emotion.Label `json:"emotion"`
	RunningCost float64       `json:"cost"`
}

// Stats describe the service since start or the last ResetStats.
type Stats struct {
	Uptime              time.Duration
	RequestCount        int64
	TotalUsers          int
	CachedEmbeddings    int
	CachedResponses     int
	PendingWrites       int
	TotalCost           float64
	AverageResponseTime time.Duration
}

// ExportedTurn is a stored exchange in an export.
type ExportedTurn struct {
	ID        string        `json:"id"`
	Message   string        `json:"message"`
	Response  string        `json:"response"`
	Emotion   emotion.Label `json:"emotion"`
	Timestamp time.Time     `json:"timestamp"`
}

// UserExport is everything remembered about one user.
type UserExport struct {
	Profile memory.UserProfile `json:"profile"`
	Known   bool               `json:"known"`
	Turns   []ExportedTurn     `json:"turns"`
}

// SettingsUpdate changes generation settings at runtime. Nil fields are kept.
type SettingsUpdate struct {
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Model       *string  `json:"model_name,omitempty"`
}

// Components are the parts a Service is assembled from.
type Components struct {
	Composer   *composer.Composer
	Session    *memory.SessionMemory
	LongTerm   *memory.LongTermMemory
	Writer     *memory.Writer
	Embeddings interface{ Len() int }
	Generator  llm.Generator
	Logger     logger.Logger
	// Closers are closed in order after the writer drains.
	Closers []io.Closer
}

// Service owns every cache and counter of one companion instance.
type Service struct {
	c   Components
	log logger.Logger

	statsMu   sync.Mutex
	startedAt time.Time

	requests     atomic.Int64
	latencyNanos atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

// New assembles a Service.
func New(c Components) *Service {
	log := c.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Service{c: c, log: log, startedAt: time.Now()}
}

// GenerateReply answers message for userKey. The only error is an invalid
// user key; every other failure degrades inside the reply.
func (s *Service) GenerateReply(ctx context.Context, userKey, message string) (Result, error) {
	userKey = strings.TrimSpace(userKey)
	if userKey == "" {
		return Result{}, ErrInvalidUserKey
	}

	start := time.Now()
	reply := s.c.Composer.Respond(ctx, userKey, message)
	s.requests.Add(1)
	s.latencyNanos.Add(int64(time.Since(start)))

	s.log.DebugContext(ctx, "companion: reply generated",
		"user_key", userKey,
		"emotion", reply.Emotion,
		"cached", reply.Cached,
		"fallback", reply.Fallback,
		"duration", time.Since(start),
	)
	return Result{ReplyText: reply.Text, Emotion: reply.Emotion, RunningCost: reply.RunningCost}, nil
}

// Stats returns current counters.
func (s *Service) Stats() Stats {
	s.statsMu.Lock()
	started := s.startedAt
	s.statsMu.Unlock()

	st := Stats{
		Uptime:          time.Since(started),
		RequestCount:    s.requests.Load(),
		TotalUsers:      s.c.Session.Len(),
		CachedResponses: s.c.Composer.ResponseCache().Len(),
		PendingWrites:   s.c.Writer.Pending(),
		TotalCost:       s.c.Composer.RunningCost(),
	}
	if s.c.Embeddings != nil {
		st.CachedEmbeddings = s.c.Embeddings.Len()
	}
	if st.RequestCount > 0 {
		st.AverageResponseTime = time.Duration(s.latencyNanos.Load() / st.RequestCount)
	}
	return st
}

// ResetStats restarts uptime and the request counters. Cost and caches are
// kept.
func (s *Service) ResetStats() {
	s.statsMu.Lock()
	s.startedAt = time.Now()
	s.statsMu.Unlock()
	s.requests.Store(0)
	s.latencyNanos.Store(0)
}

// Profile returns what is known about userKey, recovering it from stored
// turns when session memory has no entry.
func (s *Service) Profile(ctx context.Context, userKey string) (memory.UserProfile, bool, error) {
	if userKey == "" {
		return memory.UserProfile{}, false, ErrInvalidUserKey
	}
	if p, ok := s.c.Session.Get(ctx, userKey); ok {
		return p, true, nil
	}
	p, ok, err := s.c.LongTerm.LatestProfile(ctx, userKey)
	if err != nil {
		return memory.UserProfile{}, false, err
	}
	if !ok {
		return memory.UserProfile{UserKey: userKey, Likes: []string{}, Dislikes: []string{}}, false, nil
	}
	s.c.Session.Seed(ctx, p)
	return p, true, nil
}

// RefreshUser merges the newest stored snapshot into session memory.
func (s *Service) RefreshUser(ctx context.Context, userKey string) (memory.UserProfile, error) {
	if userKey == "" {
		return memory.UserProfile{}, ErrInvalidUserKey
	}
	turns, err := s.c.LongTerm.History(ctx, userKey, 1)
	if err != nil {
		return memory.UserProfile{}, err
	}
	var update memory.ProfileUpdate
	if len(turns) > 0 {
		snap := turns[0].Profile
		update = memory.ProfileUpdate{Name: snap.Name, Likes: snap.Likes, Dislikes: snap.Dislikes}
	}
	return s.c.Session.Merge(ctx, userKey, update), nil
}

// UpdateProfile merges explicitly supplied facts into the user's profile.
// Stored snapshots are restored first so the update extends what is already
// known. Likes and dislikes are trimmed and lower-cased like extracted ones.
func (s *Service) UpdateProfile(ctx context.Context, userKey string, u memory.ProfileUpdate) (memory.UserProfile, error) {
	if userKey == "" {
		return memory.UserProfile{}, ErrInvalidUserKey
	}
	if _, _, err := s.Profile(ctx, userKey); err != nil {
		return memory.UserProfile{}, err
	}
	update := memory.ProfileUpdate{
		Name:     strings.TrimSpace(u.Name),
		Likes:    normalizeItems(u.Likes),
		Dislikes: normalizeItems(u.Dislikes),
	}
	p := s.c.Session.Merge(ctx, userKey, update)
	s.log.InfoContext(ctx, "companion: profile updated", "user_key", userKey)
	return p, nil
}

func normalizeItems(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.ToLower(strings.TrimSpace(item)); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// ResetUser forgets the user's profile and stored turns and reports how many
// turns were removed. Cached replies and embeddings are content-keyed and
// stay.
func (s *Service) ResetUser(ctx context.Context, userKey string) (int, error) {
	if userKey == "" {
		return 0, ErrInvalidUserKey
	}
	var errs []error
	if err := s.c.Session.Reset(ctx, userKey); err != nil {
		errs = append(errs, err)
	}
	n, err := s.c.LongTerm.Forget(ctx, userKey)
	if err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return n, fmt.Errorf("reset user %s: %w", userKey, errors.Join(errs...))
	}
	s.log.InfoContext(ctx, "companion: user reset", "user_key", userKey, "turns", n)
	return n, nil
}

// ExportUser returns the profile and full turn history of a user.
func (s *Service) ExportUser(ctx context.Context, userKey string) (UserExport, error) {
	profile, known, err := s.Profile(ctx, userKey)
	if err != nil && !errors.Is(err, memory.ErrNoHistory) {
		return UserExport{}, err
	}
	turns, err := s.c.LongTerm.History(ctx, userKey, 0)
	if err != nil {
		return UserExport{}, err
	}

	out := UserExport{Profile: profile, Known: known, Turns: make([]ExportedTurn, 0, len(turns))}
	for _, t := range turns {
		out.Turns = append(out.Turns, ExportedTurn{
			ID:        t.ID,
			Message:   t.Message,
			Response:  t.Response,
			Emotion:   t.Emotion,
			Timestamp: t.Timestamp,
		})
	}
	return out, nil
}

// SearchResult is one page of a user search.
type SearchResult struct {
	Total   int                  `json:"total"`
	Offset  int                  `json:"offset"`
	Limit   int                  `json:"limit"`
	Results []memory.UserProfile `json:"results"`
}

// SearchUsers pages through session users whose name, likes or dislikes
// contain query, case-insensitively. Users are visited in key order.
func (s *Service) SearchUsers(ctx context.Context, query string, offset, limit int) SearchResult {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}
	needle := strings.ToLower(strings.TrimSpace(query))

	var matches []memory.UserProfile
	for _, key := range s.c.Session.Keys() {
		p, ok := s.c.Session.Get(ctx, key)
		if ok && profileMatches(p, needle) {
			matches = append(matches, p)
		}
	}

	out := SearchResult{Total: len(matches), Offset: offset, Limit: limit, Results: []memory.UserProfile{}}
	if offset < len(matches) {
		out.Results = matches[offset:min(offset+limit, len(matches))]
	}
	return out
}

func profileMatches(p memory.UserProfile, needle string) bool {
	if needle == "" || strings.Contains(strings.ToLower(p.Name), needle) {
		return true
	}
	for _, list := range [][]string{p.Likes, p.Dislikes} {
		for _, item := range list {
			if strings.Contains(strings.ToLower(item), needle) {
				return true
			}
		}
	}
	return false
}

// Settings returns the current composer settings.
func (s *Service) Settings() composer.Settings {
	return s.c.Composer.Settings()
}

// Model returns the generation model, or "" when the generator does not say.
func (s *Service) Model() string {
	if m, ok := s.c.Generator.(llm.ModelSetter); ok {
		return m.Model()
	}
	return ""
}

// UpdateSettings changes temperature, reply length or model.
func (s *Service) UpdateSettings(ctx context.Context, u SettingsUpdate) (composer.Settings, error) {
	var setter llm.ModelSetter
	if u.Model != nil {
		var ok bool
		if setter, ok = s.c.Generator.(llm.ModelSetter); !ok {
			return s.Settings(), ErrModelNotSwappable
		}
		if strings.TrimSpace(*u.Model) == "" {
			return s.Settings(), errors.New("companion: model must not be empty")
		}
	}

	settings, err := s.c.Composer.UpdateSettings(func(cs *composer.Settings) {
		if u.Temperature != nil {
			cs.Temperature = *u.Temperature
		}
		if u.MaxTokens != nil {
			cs.MaxTokens = *u.MaxTokens
		}
	})
	if err != nil {
		return settings, err
	}
	if setter != nil {
		setter.SetModel(strings.TrimSpace(*u.Model))
	}
	s.log.InfoContext(ctx, "companion: settings updated",
		"temperature", settings.Temperature, "max_tokens", settings.MaxTokens, "model", s.Model())
	return settings, nil
}

// ApplyHotReload installs the reloadable part of a new configuration.
func (s *Service) ApplyHotReload(ctx context.Context, h config.HotReloadableConfig) error {
	if m, ok := s.c.Generator.(llm.ModelSetter); ok && h.Model != "" {
		m.SetModel(h.Model)
	}
	_, err := s.c.Composer.UpdateSettings(func(cs *composer.Settings) {
		cs.Temperature = h.Temperature
		cs.MaxTokens = h.MaxTokens
		cs.TopK = h.TopK
		cs.CallbackMinScore = h.CallbackMinScore
		cs.PlayfulProbability = h.PlayfulProbability
		cs.FollowUpProbability = h.FollowUpProbability
	})
	return err
}

// Close drains pending writes and releases backends.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.c.Writer.Close()
		var errs []error
		for _, c := range s.c.Closers {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// CacheSizes reports the embedding and response cache sizes.
func (s *Service) CacheSizes() (embeddings, responses int) {
	st := s.Stats()
	return st.CachedEmbeddings, st.CachedResponses
}

// PendingWrites reports memory writes not yet applied.
func (s *Service) PendingWrites() int { return s.c.Writer.Pending() }

// TotalUsers reports how many users session memory holds.
func (s *Service) TotalUsers() int { return s.c.Session.Len() }
