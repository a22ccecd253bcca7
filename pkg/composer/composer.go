// Package composer turns a user message into a persona reply: it gathers the
// user's profile and relevant past turns, asks the language model once,
// decorates the answer, accounts its cost and hands the exchange to the
// memory writer.
package composer

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ellachat/ella/pkg/embedding"
	"github.com/ellachat/ella/pkg/emotion"
	"github.com/ellachat/ella/pkg/facts"
	"github.com/ellachat/ella/pkg/llm"
	"github.com/ellachat/ella/pkg/logger"
	"github.com/ellachat/ella/pkg/memory"
	"github.com/ellachat/ella/pkg/retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Reply sources reported to a Recorder.
const (
	SourceCache    = "cache"
	SourceModel    = "model"
	SourceFallback = "fallback"
)

// Recorder observes composed replies.
type Recorder interface {
	ObserveReply(source string, latency time.Duration)
	SetRunningCost(total float64)
}

type nopRecorder struct{}

func (nopRecorder) ObserveReply(string, time.Duration) {}
func (nopRecorder) SetRunningCost(float64)             {}

// Reply is the outcome of Respond.
type Reply struct {
	Text        string
	Emotion     emotion.Label
	Cached      bool
	Fallback    bool
	RunningCost float64
}

// Deps are the collaborators a Composer needs.
type Deps struct {
	Generator llm.Generator
	Embedder  embedding.Service
	Extractor facts.Extractor
	Session   *memory.SessionMemory
	LongTerm  *memory.LongTermMemory
	Writer    *memory.Writer
}

func (d Deps) validate() error {
	switch {
	case d.Generator == nil:
		return errors.New("composer: generator is required")
	case d.Embedder == nil:
		return errors.New("composer: embedder is required")
	case d.Extractor == nil:
		return errors.New("composer: extractor is required")
	case d.Session == nil || d.LongTerm == nil || d.Writer == nil:
		return errors.New("composer: memory components are required")
	}
	return nil
}

// Composer produces replies. All caches and counters belong to the instance.
type Composer struct {
	deps     Deps
	settings atomic.Pointer[Settings]
	policy   retry.Policy

	cache *ResponseCache
	cost  *CostMeter

	randMu sync.Mutex
	rand   *rand.Rand

	log    logger.Logger
	rec    Recorder
	tracer trace.Tracer
}

// Option configures a Composer.
type Option func(*Composer)

// WithRetryPolicy sets the policy around generation calls.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Composer) { c.policy = p }
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(c *Composer) { c.log = log }
}

// WithRecorder sets the reply recorder.
func WithRecorder(rec Recorder) Option {
	return func(c *Composer) { c.rec = rec }
}

// WithRand sets the source for decoration rolls.
func WithRand(r *rand.Rand) Option {
	return func(c *Composer) { c.rand = r }
}

// New creates a Composer.
func New(deps Deps, settings Settings, opts ...Option) (*Composer, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	c := &Composer{
		deps:   deps,
		policy: retry.Default,
		cache:  NewResponseCache(),
		cost:   &CostMeter{},
		rand:   rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		log:    logger.Nop(),
		rec:    nopRecorder{},
		tracer: otel.Tracer("github.com/ellachat/ella/pkg/composer"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.settings.Store(&settings)
	return c, nil
}

// Settings returns the current settings.
func (c *Composer) Settings() Settings {
	return *c.settings.Load()
}

// UpdateSettings applies fn to a copy of the current settings and installs
// the result if it validates. Concurrent updates are serialized by retrying
// against the latest value.
func (c *Composer) UpdateSettings(fn func(*Settings)) (Settings, error) {
	for {
		current := c.settings.Load()
		next := *current
		fn(&next)
		if err := next.Validate(); err != nil {
			return *current, err
		}
		if c.settings.CompareAndSwap(current, &next) {
			return next, nil
		}
	}
}

// ResponseCache returns the reply cache.
func (c *Composer) ResponseCache() *ResponseCache { return c.cache }

// RunningCost returns the accumulated generation cost.
func (c *Composer) RunningCost() float64 { return c.cost.Total() }

// Respond produces the reply to message. It always returns a reply; when the
// model cannot be reached the configured fallback text is used.
func (c *Composer) Respond(ctx context.Context, userKey, message string) Reply {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "composer.respond", trace.WithAttributes(
		attribute.String("user_key", userKey),
	))
	defer span.End()

	if hit, ok := c.cache.get(userKey, message); ok {
		span.SetAttributes(attribute.String("reply.source", SourceCache))
		c.rec.ObserveReply(SourceCache, time.Since(start))
		return Reply{Text: hit.text, Emotion: hit.emotion, Cached: true, RunningCost: c.cost.Total()}
	}

	settings := c.Settings()
	label := emotion.Detect(message)
	profile, known := c.deps.Session.Get(ctx, userKey)
	if !known {
		profile = c.restoreProfile(ctx, userKey, profile)
	}
	nameQuery := c.deps.Extractor.IsNameQuery(ctx, message)

	var recalled []memory.RecalledTurn
	if !(nameQuery && profile.Name != "") {
		recalled = c.recall(ctx, userKey, message, nameQuery, settings.TopK)
	}

	system := buildSystemPrompt(promptInput{
		persona:   settings.Persona,
		profile:   profile,
		emotion:   label,
		recalled:  recalled,
		nameQuery: nameQuery,
		callback:  pickCallback(recalled, message, settings.CallbackMinScore),
	})
	span.SetAttributes(
		attribute.String("emotion", string(label)),
		attribute.Bool("name_query", nameQuery),
		attribute.Int("recalled", len(recalled)),
	)

	raw, err := retry.DoValue(ctx, c.policy, func(ctx context.Context) (string, error) {
		return c.deps.Generator.Generate(ctx, llm.Request{
			System:      system,
			User:        message,
			Temperature: float32(settings.Temperature),
			MaxTokens:   settings.MaxTokens,
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		span.SetAttributes(attribute.String("reply.source", SourceFallback))
		c.log.ErrorContext(ctx, "composer: generation failed, using fallback", "user_key", userKey, "error", err)
		c.deps.Writer.Observe(ctx, userKey, message)
		c.rec.ObserveReply(SourceFallback, time.Since(start))
		return Reply{Text: settings.FallbackReply, Emotion: label, Fallback: true, RunningCost: c.cost.Total()}
	}

	text := emotion.ApplyTone(c.decorate(raw, settings), label)
	total := c.cost.Add(estimateCost(system, message, raw, settings))
	c.rec.SetRunningCost(total)

	stored := c.cache.put(userKey, message, cachedReply{text: text, emotion: label})
	c.deps.Writer.Record(ctx, memory.Exchange{
		UserKey: userKey,
		Message: message,
		Reply:   stored.text,
		Emotion: label,
	})

	span.SetAttributes(attribute.String("reply.source", SourceModel))
	c.rec.ObserveReply(SourceModel, time.Since(start))
	return Reply{Text: stored.text, Emotion: stored.emotion, RunningCost: total}
}

// restoreProfile seeds session memory from the newest stored turn. Failures
// leave the user unknown.
func (c *Composer) restoreProfile(ctx context.Context, userKey string, empty memory.UserProfile) memory.UserProfile {
	snapshot, ok, err := c.deps.LongTerm.LatestProfile(ctx, userKey)
	if err != nil {
		c.log.WarnContext(ctx, "composer: profile recovery failed", "user_key", userKey, "error", err)
		return empty
	}
	if !ok || !snapshot.HasFacts() {
		return empty
	}
	c.deps.Session.Seed(ctx, snapshot)
	c.log.DebugContext(ctx, "composer: profile recovered from long-term memory", "user_key", userKey)
	return snapshot
}

// recall fetches the user's most similar past turns. Failures degrade to no
// history.
func (c *Composer) recall(ctx context.Context, userKey, message string, nameQuery bool, topK int) []memory.RecalledTurn {
	if topK <= 0 {
		return nil
	}
	query := message
	if nameQuery {
		query = nameSeedQuery
	}

	vector, err := c.deps.Embedder.Embed(ctx, query)
	if err != nil {
		c.log.WarnContext(ctx, "composer: embedding failed, answering without history", "user_key", userKey, "error", err)
		return nil
	}
	recalled, err := c.deps.LongTerm.Recall(ctx, userKey, vector, topK)
	if err != nil {
		c.log.WarnContext(ctx, "composer: recall failed, answering without history", "user_key", userKey, "error", err)
		return nil
	}
	return recalled
}

func (c *Composer) decorate(raw string, s Settings) string {
	c.randMu.Lock()
	defer c.randMu.Unlock()
	return decorate(raw, c.rand.Float64(), c.rand.IntN, s)
}
