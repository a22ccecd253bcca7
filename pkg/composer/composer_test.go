package composer

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ellachat/ella/pkg/embedding"
	"github.com/ellachat/ella/pkg/emotion"
	"github.com/ellachat/ella/pkg/facts"
	"github.com/ellachat/ella/pkg/llm"
	"github.com/ellachat/ella/pkg/logger"
	"github.com/ellachat/ella/pkg/memory"
	"github.com/ellachat/ella/pkg/retry"
	"github.com/ellachat/ella/pkg/vectorstore"
	vsmemory "github.com/ellachat/ella/pkg/vectorstore/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGenerator records requests and answers with a fixed text.
type fakeGenerator struct {
	mu       sync.Mutex
	requests []llm.Request
	reply    string
	err      error
}

func (g *fakeGenerator) Generate(_ context.Context, req llm.Request) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

func (g *fakeGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

func (g *fakeGenerator) last() llm.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[len(g.requests)-1]
}

// countingEmbedder records embedded texts.
type countingEmbedder struct {
	inner embedding.Service
	mu    sync.Mutex
	texts []string
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.texts = append(e.texts, text)
	e.mu.Unlock()
	return e.inner.Embed(ctx, text)
}

// countingStore counts queries.
type countingStore struct {
	*vsmemory.Store
	mu      sync.Mutex
	queries int
}

func (s *countingStore) Query(ctx context.Context, vector []float32, topK int, filter vectorstore.Filter) ([]vectorstore.Match, error) {
	s.mu.Lock()
	s.queries++
	s.mu.Unlock()
	return s.Store.Query(ctx, vector, topK, filter)
}

type fixture struct {
	gen      *fakeGenerator
	embedder *countingEmbedder
	store    *countingStore
	session  *memory.SessionMemory
	longTerm *memory.LongTermMemory
	composer *Composer
}

func testSettings() Settings {
	return Settings{
		Persona:          "You are Ella.",
		Temperature:      0.7,
		MaxTokens:        150,
		TopK:             5,
		CallbackMinScore: 0.75,
		InputTokenRate:   0.001,
		OutputTokenRate:  0.002,
		FallbackReply:    "Sorry, try again.",
	}
}

func newFixture(t *testing.T, mutate ...func(*Settings)) *fixture {
	t.Helper()
	f := &fixture{
		gen:      &fakeGenerator{reply: "Hello there friend"},
		embedder: &countingEmbedder{inner: embedding.NewHash(64)},
		store:    &countingStore{Store: vsmemory.New(0)},
	}
	f.session = memory.NewSessionMemory(nil, logger.Nop())
	f.longTerm = memory.NewLongTermMemory(f.store, logger.Nop())
	extractor := facts.NewHeuristic()
	writer := memory.NewWriter(f.session, f.longTerm, extractor, f.embedder)

	settings := testSettings()
	for _, m := range mutate {
		m(&settings)
	}

	c, err := New(Deps{
		Generator: f.gen,
		Embedder:  f.embedder,
		Extractor: extractor,
		Session:   f.session,
		LongTerm:  f.longTerm,
		Writer:    writer,
	}, settings,
		WithRetryPolicy(retry.Policy{MaxAttempts: 2, Delay: time.Millisecond}),
		WithLogger(logger.Nop()),
		WithRand(rand.New(rand.NewPCG(1, 2))),
	)
	require.NoError(t, err)
	f.composer = c
	return f
}

func TestRespond_CachesIdenticalMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.composer.Respond(ctx, "u1", "tell me a joke")
	second := f.composer.Respond(ctx, "u1", "tell me a joke")

	assert.Equal(t, first.Text, second.Text)
	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, first.RunningCost, second.RunningCost)
	assert.Equal(t, 1, f.gen.calls())
	assert.Equal(t, 1, f.composer.ResponseCache().Len())

	other := f.composer.Respond(ctx, "u2", "tell me a joke")
	assert.False(t, other.Cached, "the cache is keyed by user too")
}

func TestRespond_NameQueryShortCircuits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.session.Merge(ctx, "u1", memory.ProfileUpdate{Name: "Asha"})

	reply := f.composer.Respond(ctx, "u1", "what's my name?")

	assert.False(t, reply.Fallback)
	assert.Contains(t, f.gen.last().System, "Asha")
	assert.Zero(t, f.store.queries, "no similarity query")
	assert.NotContains(t, f.embedder.texts, nameSeedQuery)
}

func TestRespond_UnknownNameUsesSeedQuery(t *testing.T) {
	f := newFixture(t)

	f.composer.Respond(context.Background(), "u1", "what's my name?")

	require.NotEmpty(t, f.embedder.texts)
	assert.Equal(t, nameSeedQuery, f.embedder.texts[0])
	assert.Equal(t, 1, f.store.queries)
	assert.Contains(t, f.gen.last().System, "don't know the user's name")
}

func TestRespond_FallbackOnGenerationFailure(t *testing.T) {
	f := newFixture(t)
	f.gen.err = errors.New("provider down")
	ctx := context.Background()

	reply := f.composer.Respond(ctx, "u1", "i love pizza")

	assert.True(t, reply.Fallback)
	assert.Equal(t, "Sorry, try again.", reply.Text)
	assert.Equal(t, emotion.Happy, reply.Emotion)
	assert.Zero(t, reply.RunningCost)
	assert.Equal(t, 2, f.gen.calls(), "retried under the policy")

	p, ok := f.session.Get(ctx, "u1")
	require.True(t, ok)
	assert.Equal(t, []string{"pizza"}, p.Likes, "facts are still learned")
	assert.Zero(t, f.store.Len(), "fallback turns are not stored")

	again := f.composer.Respond(ctx, "u1", "i love pizza")
	assert.False(t, again.Cached, "fallback replies are not cached")
}

func TestRespond_RecoversProfileFromLongTermMemory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	vec, err := f.embedder.inner.Embed(ctx, "my name is asha and i love chai")
	require.NoError(t, err)
	require.NoError(t, f.longTerm.Save(ctx, memory.Turn{
		ID:        "u1-old",
		UserKey:   "u1",
		Message:   "my name is asha and i love chai",
		Response:  "Nice to meet you!",
		Emotion:   emotion.Happy,
		Embedding: vec,
		Timestamp: time.Now().Add(-time.Hour),
		Profile:   memory.UserProfile{UserKey: "u1", Name: "Asha", Likes: []string{"chai"}},
	}))

	f.composer.Respond(ctx, "u1", "my name is asha and i love chai, remember?")

	system := f.gen.last().System
	assert.Contains(t, system, "The user's name is Asha.")
	assert.Contains(t, system, "They like: chai.")
	assert.Contains(t, system, "User: my name is asha and i love chai | Bot: Nice to meet you!")

	p, ok := f.session.Get(ctx, "u1")
	require.True(t, ok)
	assert.Equal(t, "Asha", p.Name, "session memory is seeded")
}

func TestRespond_RecoversNewestProfileNotMostSimilar(t *testing.T) {
	f := newFixture(t, func(s *Settings) { s.TopK = 1 })
	ctx := context.Background()

	save := func(id, message string, age time.Duration, profile memory.UserProfile) {
		vec, err := f.embedder.inner.Embed(ctx, message)
		require.NoError(t, err)
		profile.UserKey = "u1"
		require.NoError(t, f.longTerm.Save(ctx, memory.Turn{
			ID:        id,
			UserKey:   "u1",
			Message:   message,
			Response:  "Noted!",
			Emotion:   emotion.Neutral,
			Embedding: vec,
			Timestamp: time.Now().Add(-age),
			Profile:   profile,
		}))
	}
	save("u1-a", "i love pizza", 2*time.Hour, memory.UserProfile{Likes: []string{"pizza"}})
	save("u1-b", "my name is asha", time.Hour, memory.UserProfile{Name: "Asha", Likes: []string{"pizza"}})

	f.composer.Respond(ctx, "u1", "pizza tonight i love pizza")

	system := f.gen.last().System
	assert.Contains(t, system, "User: i love pizza | Bot: Noted!", "most similar turn is recalled")
	assert.Contains(t, system, "The user's name is Asha.")

	p, ok := f.session.Get(ctx, "u1")
	require.True(t, ok)
	assert.Equal(t, "Asha", p.Name)
	assert.Contains(t, p.Likes, "pizza")

	queries := f.store.queries
	f.composer.Respond(ctx, "u1", "what's my name?")
	assert.Contains(t, f.gen.last().System, "Asha")
	assert.NotContains(t, f.gen.last().System, "don't know the user's name")
	assert.Equal(t, queries, f.store.queries, "known name skips recall")
}

func TestRespond_NameQueryAfterRestartUsesStoredName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	vec, err := f.embedder.inner.Embed(ctx, "call me asha")
	require.NoError(t, err)
	require.NoError(t, f.longTerm.Save(ctx, memory.Turn{
		ID:        "u1-a",
		UserKey:   "u1",
		Message:   "call me asha",
		Response:  "Hi Asha!",
		Emotion:   emotion.Neutral,
		Embedding: vec,
		Timestamp: time.Now().Add(-time.Hour),
		Profile:   memory.UserProfile{UserKey: "u1", Name: "Asha"},
	}))

	f.composer.Respond(ctx, "u1", "what's my name?")

	assert.Contains(t, f.gen.last().System, "Asha")
	assert.Zero(t, f.store.queries)
}

func TestRespond_PromptCarriesHistoryAndMood(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.composer.Respond(ctx, "u1", "i hate rainy mondays")
	f.composer.Respond(ctx, "u1", "rainy mondays again")

	req := f.gen.last()
	assert.Equal(t, "rainy mondays again", req.User)
	assert.InDelta(t, 0.7, req.Temperature, 1e-6)
	assert.Equal(t, 150, req.MaxTokens)
	assert.Contains(t, req.System, "You are Ella.")
	assert.Contains(t, req.System, "User: i hate rainy mondays | Bot: ")
	assert.Contains(t, req.System, "They dislike: rainy mondays.")
	assert.Contains(t, req.System, "The user's current mood: neutral.")
}

func TestRespond_AppliesToneAndCost(t *testing.T) {
	f := newFixture(t)

	reply := f.composer.Respond(context.Background(), "u1", "i love pizza")

	assert.Equal(t, emotion.ApplyTone("Hello there friend", emotion.Happy), reply.Text)
	assert.Equal(t, emotion.Happy, reply.Emotion)

	system := f.gen.last().System
	want := float64(wordCount(system)+3)*0.001 + 3*0.002
	assert.InDelta(t, want, reply.RunningCost, 1e-12)
	assert.InDelta(t, want, f.composer.RunningCost(), 1e-12)
}

func TestRespond_EmptyMessage(t *testing.T) {
	f := newFixture(t)

	var reply Reply
	require.NotPanics(t, func() { reply = f.composer.Respond(context.Background(), "u1", "") })
	assert.Equal(t, emotion.Neutral, reply.Emotion)
	assert.NotEmpty(t, reply.Text)
}

func TestRespond_ConcurrentUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, user := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			f.composer.Respond(ctx, user, "i love "+user+"-food")
		}(user)
	}
	wg.Wait()

	for _, user := range []string{"a", "b", "c", "d"} {
		p, ok := f.session.Get(ctx, user)
		require.True(t, ok)
		assert.Equal(t, []string{user + "-food"}, p.Likes)
	}
}

func TestUpdateSettings(t *testing.T) {
	f := newFixture(t)

	updated, err := f.composer.UpdateSettings(func(s *Settings) { s.Temperature = 0.2 })
	require.NoError(t, err)
	assert.Equal(t, 0.2, updated.Temperature)

	f.composer.Respond(context.Background(), "u1", "hello")
	assert.InDelta(t, 0.2, f.gen.last().Temperature, 1e-6)

	_, err = f.composer.UpdateSettings(func(s *Settings) { s.PlayfulProbability, s.FollowUpProbability = 0.7, 0.7 })
	assert.Error(t, err)
	assert.Equal(t, 0.2, f.composer.Settings().Temperature, "rejected updates leave settings alone")
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Deps{}, testSettings())
	assert.Error(t, err)

	f := newFixture(t)
	bad := testSettings()
	bad.FallbackReply = ""
	_, err = New(f.composer.deps, bad)
	assert.ErrorContains(t, err, "fallback reply")
}

func TestDecorate(t *testing.T) {
	s := Settings{PlayfulProbability: 0.2, FollowUpProbability: 0.3}
	first := func(int) int { return 0 }

	assert.Equal(t, "hi "+playfulTags[0], decorate("hi", 0.0, first, s))
	assert.Equal(t, "hi "+playfulTags[0], decorate("hi", 0.19, first, s))
	assert.Equal(t, "hi "+followUps[0], decorate("hi", 0.2, first, s))
	assert.Equal(t, "hi "+followUps[0], decorate("hi", 0.49, first, s))
	assert.Equal(t, "hi", decorate("hi", 0.5, first, s))

	// only one decoration is ever applied
	for roll := 0.0; roll < 1; roll += 0.01 {
		out := decorate("hi", roll, first, s)
		assert.False(t, strings.Contains(out, playfulTags[0]) && strings.Contains(out, followUps[0]))
	}
}

func TestPickCallback(t *testing.T) {
	turns := []memory.RecalledTurn{
		{Turn: memory.Turn{Message: "i adopted a cat"}, Score: 0.9},
		{Turn: memory.Turn{Message: "it rained"}, Score: 0.5},
	}
	assert.Equal(t, "i adopted a cat", pickCallback(turns, "how is my cat", 0.75))
	assert.Empty(t, pickCallback(turns, "how is my cat", 0.95))
	assert.Empty(t, pickCallback(turns, "I adopted a cat", 0.75), "never calls back to the same line")
	assert.Empty(t, pickCallback(nil, "x", 0))
}

func TestBuildSystemPrompt_Callback(t *testing.T) {
	prompt := buildSystemPrompt(promptInput{
		persona:  "Persona.",
		profile:  memory.UserProfile{Name: "Ravi"},
		emotion:  emotion.Sad,
		callback: "i adopted a cat",
	})
	assert.True(t, strings.HasPrefix(prompt, "Persona."))
	assert.Contains(t, prompt, "The user's current mood: sad.")
	assert.Contains(t, prompt, `"i adopted a cat"`)
}

func TestCostMeterIsMonotonic(t *testing.T) {
	var m CostMeter
	assert.Equal(t, 0.5, m.Add(0.5))
	assert.Equal(t, 0.5, m.Add(-1))
	assert.Equal(t, 0.75, m.Add(0.25))
}

func TestSettingsValidate(t *testing.T) {
	assert.NoError(t, testSettings().Validate())

	s := testSettings()
	s.MaxTokens = 0
	s.Temperature = 5
	err := s.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max tokens")
	assert.Contains(t, err.Error(), "temperature")
}
