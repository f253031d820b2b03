// Package assistant orchestrates voice requests end to end. It receives
// transcripts, runs them through a [Processor], merges the reply into the
// rolling conversation context, and optionally hands the reply text to a
// speech queue for synthesis.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/voicewire/voicewire/internal/observe"
	"github.com/voicewire/voicewire/internal/session"
	"github.com/voicewire/voicewire/internal/speech/synth"
)

var (
	// ErrShutdown is returned when a request arrives after Shutdown.
	ErrShutdown = errors.New("assistant: shut down")

	// ErrRateLimited is returned when the request rate limit is exceeded.
	ErrRateLimited = errors.New("assistant: rate limit exceeded")

	// ErrUnknownRequest is returned by GetResult and Cancel for IDs that
	// were never issued or have already been collected.
	ErrUnknownRequest = errors.New("assistant: unknown request")
)

const (
	defaultMaxConcurrent = 4
	defaultRatePerSecond = 5
	defaultRateBurst     = 10
	defaultSpeakTimeout  = 20 * time.Second
	apologySpeakTimeout  = 10 * time.Second

	// defaultRetention is how long a finished result stays collectable when
	// nobody calls GetResult for it. sweepInterval is how often the sweeper
	// checks.
	defaultRetention = 300 * time.Second
	sweepInterval    = 30 * time.Second

	// Priorities for queued speech. Replies speak ahead of apologies.
	replyPriority   = 1
	apologyPriority = 2
)

// Context keys merged into the conversation context after each request.
const (
	ctxKeyLastQuery     = "last_query"
	ctxKeyLastResponse  = "last_response"
	ctxKeyLastProcessed = "last_processed_time"
)

// apologies holds the canned failure responses keyed by language.
var apologies = map[string]string{
	"english":  "I apologize, but I encountered an error while processing your request. Please try again.",
	"hindi":    "क्षमा करें, आपके अनुरोध को प्रोसेस करने में त्रुटि हुई है। कृपया पुनः प्रयास करें।",
	"hinglish": "Sorry, आपके request को process करने में error हुई है। Please फिर से try करें।",
}

// Reply is the outcome of a processed query. Language is always set to the
// detected input language, including on error returns, so callers can pick
// failure wording that matches the user.
type Reply struct {
	Text     string
	Language string
}

// Processor turns a transcript into a reply. Implementations receive a
// snapshot of the conversation context and must be safe for concurrent use.
type Processor interface {
	ProcessQuery(ctx context.Context, input string, convContext map[string]string) (Reply, error)
}

// Speaker enqueues text for synthesis and blocks until audio is ready.
// Satisfied by [github.com/voicewire/voicewire/internal/speech/dispatch.Queue].
type Speaker interface {
	Speak(text string, priority int, timeout time.Duration, opts ...synth.SubmitOption) (string, error)
	Stop()
}

// Result is the terminal state of a single request.
type Result struct {
	ID        string
	Query     string
	Text      string
	Language  string
	AudioFile string
	Err       error

	// TimedOut is set when GetResult gave up waiting. The request keeps
	// running in the background; its result is simply no longer collectable.
	TimedOut bool

	Duration time.Duration
}

// Stats is a point-in-time snapshot of orchestrator activity.
type Stats struct {
	Processed int
	Failed    int
	Cancelled int
	Active    int
	Shutdown  bool
}

// request tracks one in-flight transcription.
type request struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{} // closed exactly once when result is set
	result Result

	// finished is set under the assistant mutex when the result lands; the
	// sweeper uses it to age out results nobody collects.
	finished time.Time

	// started flips under the assistant mutex just before the processor
	// call. Cancel only succeeds while it is still false.
	started bool
}

// Assistant coordinates the full request lifecycle: admission control,
// processing, context merge, speech, and result collection.
//
// All exported methods are safe for concurrent use.
type Assistant struct {
	processor Processor
	queue     Speaker       // may be nil: text-only mode
	store     session.Store // may be nil: no persistence

	sem     *semaphore.Weighted
	maxSlot int64
	limiter *rate.Limiter

	speakTimeout time.Duration
	retention    time.Duration
	metrics      *observe.Metrics
	log          *slog.Logger

	counter atomic.Uint64

	mu          sync.Mutex
	convContext map[string]string
	requests    map[string]*request
	shutdown    bool
	processed   int
	failed      int
	cancelled   int

	closed chan struct{}
	wg     sync.WaitGroup
}

// Option configures an [Assistant] during construction.
type Option func(*Assistant)

// WithMaxConcurrent bounds the number of requests processed in parallel.
// The default is 4. Submissions beyond the bound queue on the pool rather
// than being rejected.
func WithMaxConcurrent(n int) Option {
	return func(a *Assistant) {
		if n > 0 {
			a.maxSlot = int64(n)
		}
	}
}

// WithRateLimit sets the sustained request rate and burst allowance.
// The defaults are 5 requests per second with a burst of 10.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(a *Assistant) {
		a.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithSpeakTimeout sets how long a request waits for reply audio before
// giving up on synthesis. The default is 20 seconds. The reply text is
// still delivered when synthesis times out.
func WithSpeakTimeout(d time.Duration) Option {
	return func(a *Assistant) {
		if d > 0 {
			a.speakTimeout = d
		}
	}
}

// WithRetention sets how long a finished result stays collectable when no
// GetResult arrives for it. The default is 300 seconds.
func WithRetention(d time.Duration) Option {
	return func(a *Assistant) {
		if d > 0 {
			a.retention = d
		}
	}
}

// WithStore persists each completed request's response keyed by request ID.
func WithStore(s session.Store) Option {
	return func(a *Assistant) { a.store = s }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Assistant) { a.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *Assistant) {
		if l != nil {
			a.log = l
		}
	}
}

// New creates an Assistant. The processor must not be nil. A nil queue is
// valid and disables audio output; a nil store disables persistence.
func New(processor Processor, queue Speaker, opts ...Option) (*Assistant, error) {
	if processor == nil {
		return nil, errors.New("assistant: processor must not be nil")
	}

	a := &Assistant{
		processor:    processor,
		queue:        queue,
		maxSlot:      defaultMaxConcurrent,
		limiter:      rate.NewLimiter(defaultRatePerSecond, defaultRateBurst),
		speakTimeout: defaultSpeakTimeout,
		retention:    defaultRetention,
		metrics:      observe.DefaultMetrics(),
		log:          slog.Default(),
		convContext:  make(map[string]string),
		requests:     make(map[string]*request),
		closed:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.sem = semaphore.NewWeighted(a.maxSlot)

	a.wg.Add(1)
	go a.sweep()

	return a, nil
}

// HandleTranscription submits a transcript for processing and returns the
// request ID immediately. The actual work runs on the bounded pool; use
// [Assistant.GetResult] to collect the outcome.
//
// Returns [ErrShutdown] after Shutdown and [ErrRateLimited] when the
// request rate limit is exceeded.
func (a *Assistant) HandleTranscription(ctx context.Context, transcript string, includeAudio bool) (string, error) {
	a.mu.Lock()
	if a.shutdown {
		a.mu.Unlock()
		return "", ErrShutdown
	}
	if !a.limiter.Allow() {
		a.mu.Unlock()
		return "", ErrRateLimited
	}

	id := fmt.Sprintf("req_%d", a.counter.Add(1))

	reqCtx, cancel := context.WithCancel(ctx)
	req := &request{
		id:     id,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	a.requests[id] = req
	a.wg.Add(1)
	a.mu.Unlock()

	go a.process(reqCtx, req, transcript, includeAudio)

	return id, nil
}

// process runs one request to completion. The pool slot is acquired here,
// inside the goroutine, so HandleTranscription never blocks on a full pool.
func (a *Assistant) process(ctx context.Context, req *request, transcript string, includeAudio bool) {
	defer a.wg.Done()

	start := time.Now()
	a.metrics.ActiveRequests.Add(ctx, 1)
	defer a.metrics.ActiveRequests.Add(ctx, -1)

	if err := a.sem.Acquire(ctx, 1); err != nil {
		a.finish(ctx, req, Result{ID: req.id, Query: transcript, Err: err, Duration: time.Since(start)}, "cancelled")
		return
	}
	defer a.sem.Release(1)

	// Transition to started and snapshot the conversation context in one
	// lock acquisition. Cancel loses the race once started is set.
	a.mu.Lock()
	if ctx.Err() != nil {
		a.mu.Unlock()
		a.finish(ctx, req, Result{ID: req.id, Query: transcript, Err: ctx.Err(), Duration: time.Since(start)}, "cancelled")
		return
	}
	req.started = true
	snapshot := make(map[string]string, len(a.convContext))
	for k, v := range a.convContext {
		snapshot[k] = v
	}
	a.mu.Unlock()

	reply, err := a.processor.ProcessQuery(ctx, transcript, snapshot)
	if err != nil {
		a.apologize(ctx, req, transcript, reply.Language, err, includeAudio, start)
		return
	}

	res := Result{
		ID:       req.id,
		Query:    transcript,
		Text:     reply.Text,
		Language: reply.Language,
	}

	a.mu.Lock()
	a.convContext[ctxKeyLastQuery] = transcript
	a.convContext[ctxKeyLastResponse] = reply.Text
	a.convContext[ctxKeyLastProcessed] = time.Now().UTC().Format(time.RFC3339)
	a.mu.Unlock()

	if includeAudio && a.queue != nil {
		plain := StripHTML(reply.Text)
		artifact, speakErr := a.queue.Speak(plain, replyPriority, a.speakTimeout)
		if speakErr != nil {
			a.log.Warn("reply synthesis failed", "request_id", req.id, "error", speakErr)
		} else {
			res.AudioFile = artifact
		}
	}

	if a.store != nil {
		stored := session.Response{Text: res.Text, AudioFile: res.AudioFile, Timestamp: time.Now().UTC()}
		if putErr := a.store.Put(ctx, req.id, stored); putErr != nil {
			a.log.Warn("session persist failed", "request_id", req.id, "error", putErr)
		}
	}

	res.Duration = time.Since(start)
	a.finish(ctx, req, res, "completed")
}

// apologize records a processor failure as a spoken-language apology. The
// apology audio is best effort: synthesis failure never masks the original
// error.
func (a *Assistant) apologize(ctx context.Context, req *request, transcript, language string, cause error, includeAudio bool, start time.Time) {
	text, ok := apologies[language]
	if !ok {
		language = "english"
		text = apologies[language]
	}

	res := Result{
		ID:       req.id,
		Query:    transcript,
		Text:     text,
		Language: language,
		Err:      cause,
	}

	a.log.Error("query processing failed", "request_id", req.id, "error", cause)

	if includeAudio && a.queue != nil && ctx.Err() == nil {
		if artifact, err := a.queue.Speak(text, apologyPriority, apologySpeakTimeout); err == nil {
			res.AudioFile = artifact
		}
	}

	res.Duration = time.Since(start)
	a.finish(ctx, req, res, "failed")
}

// finish publishes the result and closes the request's done channel.
func (a *Assistant) finish(ctx context.Context, req *request, res Result, status string) {
	a.mu.Lock()
	req.result = res
	req.finished = time.Now()
	switch status {
	case "completed":
		a.processed++
	case "cancelled":
		a.cancelled++
	default:
		a.failed++
	}
	a.mu.Unlock()
	close(req.done)

	a.metrics.RequestDuration.Record(ctx, res.Duration.Seconds(),
		metric.WithAttributes(observe.Attr("status", status)))
	a.metrics.RecordAssistantRequest(ctx, status)
}

// GetResult blocks until the request identified by id completes or timeout
// elapses. On timeout the returned Result has TimedOut set and the request
// keeps running; a later GetResult for the same ID can still collect it
// until the retention window elapses. Collecting a completed result
// removes it.
func (a *Assistant) GetResult(id string, timeout time.Duration) (Result, error) {
	a.mu.Lock()
	req, ok := a.requests[id]
	a.mu.Unlock()
	if !ok {
		return Result{}, ErrUnknownRequest
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-req.done:
		a.mu.Lock()
		delete(a.requests, id)
		a.mu.Unlock()
		return req.result, nil
	case <-timer.C:
		return Result{ID: id, TimedOut: true}, nil
	}
}

// PurgeFinished evicts finished requests older than the retention window.
// A later GetResult for an evicted ID returns [ErrUnknownRequest]. Returns
// the number of evicted requests.
func (a *Assistant) PurgeFinished() int {
	cutoff := time.Now().Add(-a.retention)

	a.mu.Lock()
	defer a.mu.Unlock()
	purged := 0
	for id, req := range a.requests {
		select {
		case <-req.done:
		default:
			continue
		}
		if req.finished.After(cutoff) {
			continue
		}
		delete(a.requests, id)
		purged++
	}
	if purged > 0 {
		a.log.Debug("purged uncollected results", "count", purged)
	}
	return purged
}

// sweep runs PurgeFinished on a ticker until Shutdown.
func (a *Assistant) sweep() {
	defer a.wg.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.closed:
			return
		case <-ticker.C:
			a.PurgeFinished()
		}
	}
}

// Cancel aborts a request that has not started processing yet. It returns
// true when the cancellation took effect; once the processor call is
// underway the request runs to completion and Cancel returns false.
func (a *Assistant) Cancel(id string) bool {
	a.mu.Lock()
	req, ok := a.requests[id]
	if !ok || req.started {
		a.mu.Unlock()
		return false
	}
	a.mu.Unlock()

	req.cancel()
	return true
}

// SetRateLimit replaces the admission rate and burst on the live limiter.
// In-flight requests are unaffected.
func (a *Assistant) SetRateLimit(perSecond float64, burst int) {
	a.limiter.SetLimit(rate.Limit(perSecond))
	a.limiter.SetBurst(burst)
}

// SetContext stores a conversation context entry visible to subsequent
// requests.
func (a *Assistant) SetContext(key, value string) {
	a.mu.Lock()
	a.convContext[key] = value
	a.mu.Unlock()
}

// ContextSnapshot returns a copy of the current conversation context.
func (a *Assistant) ContextSnapshot() map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]string, len(a.convContext))
	for k, v := range a.convContext {
		out[k] = v
	}
	return out
}

// Stats reports orchestrator activity counters.
func (a *Assistant) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	active := 0
	for _, req := range a.requests {
		select {
		case <-req.done:
		default:
			active++
		}
	}
	return Stats{
		Processed: a.processed,
		Failed:    a.failed,
		Cancelled: a.cancelled,
		Active:    active,
		Shutdown:  a.shutdown,
	}
}

// Shutdown stops the orchestrator: new submissions are rejected, in-flight
// request contexts are cancelled, the speech queue is stopped, and the pool
// is drained. It returns ctx.Err when the drain outlives ctx.
func (a *Assistant) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if a.shutdown {
		a.mu.Unlock()
		return nil
	}
	a.shutdown = true
	close(a.closed)
	cancels := make([]context.CancelFunc, 0, len(a.requests))
	for _, req := range a.requests {
		cancels = append(cancels, req.cancel)
	}
	a.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}

	if a.queue != nil {
		a.queue.Stop()
	}

	drained := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("assistant: shutdown: %w", ctx.Err())
	}
}
