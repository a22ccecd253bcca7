package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/ellachat/ella/pkg/embedding"
	"github.com/ellachat/ella/pkg/emotion"
	"github.com/ellachat/ella/pkg/facts"
	"github.com/ellachat/ella/pkg/logger"
	"github.com/ellachat/ella/pkg/worker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Write outcomes reported to a WriteRecorder.
const (
	OutcomeStored        = "stored"
	OutcomeEmbedSkipped  = "embedding_skipped"
	OutcomeStoreFailed   = "store_failed"
	OutcomeQueueRejected = "queue_rejected"
)

// WriteRecorder observes memory write outcomes.
type WriteRecorder interface {
	ObserveMemoryWrite(outcome string)
}

type nopWriteRecorder struct{}

func (nopWriteRecorder) ObserveMemoryWrite(string) {}

// Exchange is one message and the reply given to it.
type Exchange struct {
	UserKey string
	Message string
	Reply   string
	Emotion emotion.Label
}

// Writer learns facts from each exchange and appends it to long-term memory.
// Fact learning and turn persistence fail independently.
type Writer struct {
	session   *SessionMemory
	longTerm  *LongTermMemory
	extractor facts.Extractor
	embedder  embedding.Service

	pool      *worker.Pool
	workers   int
	queueSize int

	log    logger.Logger
	rec    WriteRecorder
	now    func() time.Time
	tracer trace.Tracer
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithAsync runs writes on a worker pool instead of inline. Non-positive
// workers keep writes inline.
func WithAsync(workers, queueSize int) WriterOption {
	return func(w *Writer) {
		w.workers, w.queueSize = workers, queueSize
	}
}

// WithWriterLogger sets the logger.
func WithWriterLogger(log logger.Logger) WriterOption {
	return func(w *Writer) { w.log = log }
}

// WithWriteRecorder sets the outcome recorder.
func WithWriteRecorder(rec WriteRecorder) WriterOption {
	return func(w *Writer) { w.rec = rec }
}

// WithClock overrides the turn timestamp source.
func WithClock(now func() time.Time) WriterOption {
	return func(w *Writer) { w.now = now }
}

// NewWriter creates a Writer. Without WithAsync, writes run inline.
func NewWriter(session *SessionMemory, longTerm *LongTermMemory, extractor facts.Extractor, embedder embedding.Service, opts ...WriterOption) *Writer {
	w := &Writer{
		session:   session,
		longTerm:  longTerm,
		extractor: extractor,
		embedder:  embedder,
		log:       logger.Nop(),
		rec:       nopWriteRecorder{},
		now:       time.Now,
		tracer:    otel.Tracer("github.com/ellachat/ella/pkg/memory"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.workers > 0 {
		w.pool = worker.New("memory-writer", w.workers, w.queueSize, w.log)
		w.pool.Start()
	}
	return w
}

// Async reports whether writes run in the background.
func (w *Writer) Async() bool { return w.pool != nil }

// Record learns facts from the message and persists the turn.
func (w *Writer) Record(ctx context.Context, ex Exchange) {
	w.dispatch(ctx, ex.UserKey, func(ctx context.Context) { w.record(ctx, ex) })
}

// Observe learns facts from the message without persisting a turn.
func (w *Writer) Observe(ctx context.Context, userKey, message string) {
	w.dispatch(ctx, userKey, func(ctx context.Context) { w.learn(ctx, userKey, message) })
}

func (w *Writer) dispatch(ctx context.Context, userKey string, fn func(context.Context)) {
	detached := context.WithoutCancel(ctx)
	if w.pool == nil {
		fn(detached)
		return
	}
	if err := w.pool.Submit(func(context.Context) { fn(detached) }); err != nil {
		w.rec.ObserveMemoryWrite(OutcomeQueueRejected)
		w.log.WarnContext(ctx, "memory writer: write dropped", "user_key", userKey, "error", err)
	}
}

func (w *Writer) record(ctx context.Context, ex Exchange) {
	ctx, span := w.tracer.Start(ctx, "memory.record", trace.WithAttributes(
		attribute.String("user_key", ex.UserKey),
	))
	defer span.End()

	profile := w.learn(ctx, ex.UserKey, ex.Message)

	vector, err := w.embedder.Embed(ctx, ex.Message)
	if err != nil {
		w.rec.ObserveMemoryWrite(OutcomeEmbedSkipped)
		span.SetStatus(codes.Error, "embedding unavailable")
		w.log.WarnContext(ctx, "memory writer: embedding failed, turn not stored", "user_key", ex.UserKey, "error", err)
		return
	}

	turn := Turn{
		ID:        NewTurnID(ex.UserKey),
		UserKey:   ex.UserKey,
		Message:   ex.Message,
		Response:  ex.Reply,
		Emotion:   ex.Emotion,
		Embedding: vector,
		Timestamp: w.now(),
		Profile:   profile,
	}
	if err := w.longTerm.Save(ctx, turn); err != nil {
		w.rec.ObserveMemoryWrite(OutcomeStoreFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "store failed")
		w.log.ErrorContext(ctx, "memory writer: turn dropped", "user_key", ex.UserKey, "turn_id", turn.ID, "error", err)
		return
	}
	w.rec.ObserveMemoryWrite(OutcomeStored)
	w.log.DebugContext(ctx, "memory writer: turn stored", "user_key", ex.UserKey, "turn_id", turn.ID)
}

// learn merges the message's facts into session memory and returns the
// resulting profile. A panicking extractor leaves the profile unchanged.
func (w *Writer) learn(ctx context.Context, userKey, message string) (profile UserProfile) {
	defer func() {
		if r := recover(); r != nil {
			w.log.ErrorContext(ctx, "memory writer: fact extraction panicked", "user_key", userKey, "panic", fmt.Sprint(r))
			profile = w.session.Merge(ctx, userKey, ProfileUpdate{})
		}
	}()

	var update ProfileUpdate
	if name, ok := w.extractor.ExtractName(ctx, message); ok {
		update.Name = name
	}
	prefs := w.extractor.ExtractPreferences(ctx, message)
	update.Likes = prefs.Likes
	update.Dislikes = prefs.Dislikes

	if !update.Empty() {
		w.log.DebugContext(ctx, "memory writer: learned facts", "user_key", userKey,
			"name", update.Name, "likes", update.Likes, "dislikes", update.Dislikes)
	}
	return w.session.Merge(ctx, userKey, update)
}

// Pending returns the number of queued background writes.
func (w *Writer) Pending() int {
	if w.pool == nil {
		return 0
	}
	return w.pool.Pending()
}

// Close waits for queued writes to finish.
func (w *Writer) Close() {
	if w.pool != nil {
		w.pool.Stop()
	}
}
