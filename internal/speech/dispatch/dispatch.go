// Package dispatch schedules spoken output. It wraps the synthesis manager
// with an explicit priority queue: higher-priority announcements are rendered
// first, ties resolve in submission order, and a single dispatcher goroutine
// feeds tasks to the synthesizer one at a time.
//
// Completion is signalled through a shared condition variable so synchronous
// callers can block with a deadline, re-checking task state on every wake.
package dispatch

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voicewire/voicewire/internal/observe"
	"github.com/voicewire/voicewire/internal/speech/synth"
)

const (
	// DefaultMaxSize is the queued-request cap.
	DefaultMaxSize = 50

	// DefaultSynthesisTimeout bounds how long the dispatcher waits for one
	// synthesis to finish before marking it failed.
	DefaultSynthesisTimeout = 60 * time.Second

	// itemRetention is how long terminal queue entries stay queryable.
	itemRetention = 300 * time.Second
)

// Sentinel errors.
var (
	// ErrQueueFull is returned when the pending queue is at capacity.
	ErrQueueFull = errors.New("dispatch: queue full")

	// ErrStopped is returned when the queue is no longer dispatching.
	ErrStopped = errors.New("dispatch: queue stopped")

	// ErrTimeout is returned by Speak when the deadline passes before the
	// request reaches a terminal state.
	ErrTimeout = errors.New("dispatch: timed out waiting for speech")
)

// Synthesizer is the subset of the synthesis manager the queue drives.
// *synth.Manager satisfies it.
type Synthesizer interface {
	Submit(text string, opts ...synth.SubmitOption) (string, error)
	AwaitResult(id string, timeout time.Duration) (string, bool)
}

// CompletionCallback observes queue entries reaching a terminal state.
type CompletionCallback func(id string, status synth.Status, artifact string, err error)

// item is one queued speech request.
type item struct {
	id       string
	text     string
	priority int
	seq      uint64
	opts     []synth.SubmitOption

	status   synth.Status
	artifact string
	err      error
	doneAt   time.Time
}

// itemHeap orders by priority descending, then insertion sequence ascending.
type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(*item)) }
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Queue is the priority speech scheduler.
type Queue struct {
	synth   Synthesizer
	metrics *observe.Metrics

	maxSize      int
	synthTimeout time.Duration

	mu        sync.Mutex
	cond      *sync.Cond
	pending   itemHeap
	items     map[string]*item
	seq       uint64
	callbacks []CompletionCallback
	active    int
	stopping  bool

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// Option configures a Queue during construction.
type Option func(*Queue)

// WithMaxSize caps the number of pending requests.
func WithMaxSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxSize = n
		}
	}
}

// WithSynthesisTimeout bounds each dispatched synthesis.
func WithSynthesisTimeout(d time.Duration) Option {
	return func(q *Queue) { q.synthTimeout = d }
}

// WithMetrics attaches a metrics recorder. Defaults to
// [observe.DefaultMetrics] when unset.
func WithMetrics(m *observe.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// New creates a Queue dispatching into s. Call Start to begin dispatching.
func New(s Synthesizer, opts ...Option) *Queue {
	q := &Queue{
		synth:        s,
		maxSize:      DefaultMaxSize,
		synthTimeout: DefaultSynthesisTimeout,
		items:        make(map[string]*item),
	}
	q.cond = sync.NewCond(&q.mu)
	for _, o := range opts {
		o(q)
	}
	if q.metrics == nil {
		q.metrics = observe.DefaultMetrics()
	}
	return q
}

// Start launches the dispatcher goroutine. Safe to call multiple times.
func (q *Queue) Start() {
	q.startOnce.Do(func() {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.dispatch()
		}()
	})
}

// Stop halts dispatching and wakes all blocked waiters. Idempotent; blocks
// until the dispatcher goroutine has exited. Queued requests that were never
// dispatched are marked failed with ErrStopped.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.stopping = true
		var terminal []*item
		for q.pending.Len() > 0 {
			it := heap.Pop(&q.pending).(*item)
			if it.status != synth.StatusPending {
				continue
			}
			q.recordTerminalLocked(it, synth.StatusFailed, "", ErrStopped)
			terminal = append(terminal, it)
		}
		q.cond.Broadcast()
		q.mu.Unlock()
		if n := len(terminal); n > 0 {
			q.metrics.SpeechQueueDepth.Add(context.Background(), -int64(n))
		}
		q.notify(terminal...)
	})
	q.wg.Wait()
}

// SpeakAsync enqueues text for synthesis at the given priority and returns
// the queue entry ID immediately. Returns ErrQueueFull when the pending
// queue is at capacity and ErrStopped after Stop.
func (q *Queue) SpeakAsync(text string, priority int, opts ...synth.SubmitOption) (string, error) {
	q.mu.Lock()
	if q.stopping {
		q.mu.Unlock()
		return "", ErrStopped
	}
	if q.pendingLenLocked() >= q.maxSize {
		q.mu.Unlock()
		return "", ErrQueueFull
	}

	q.purgeTerminalLocked()

	q.seq++
	it := &item{
		id:       fmt.Sprintf("speech_%d", q.seq),
		text:     text,
		priority: priority,
		seq:      q.seq,
		opts:     opts,
		status:   synth.StatusPending,
	}
	q.items[it.id] = it
	heap.Push(&q.pending, it)
	q.cond.Broadcast()
	q.mu.Unlock()

	q.metrics.SpeechQueueDepth.Add(context.Background(), 1)
	slog.Debug("dispatch: enqueued speech", "id", it.id, "priority", priority)
	return it.id, nil
}

// Speak enqueues text and blocks until the request completes, fails, or the
// timeout elapses. Returns the artifact path on success.
func (q *Queue) Speak(text string, priority int, timeout time.Duration, opts ...synth.SubmitOption) (string, error) {
	id, err := q.SpeakAsync(text, priority, opts...)
	if err != nil {
		return "", err
	}

	deadline := time.Now().Add(timeout)
	// The condition variable has no timed wait; this timer guarantees a
	// wake-up at the deadline.
	timer := time.AfterFunc(timeout, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer timer.Stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		it := q.items[id]
		if it == nil {
			return "", ErrTimeout
		}
		switch it.status {
		case synth.StatusCompleted:
			return it.artifact, nil
		case synth.StatusFailed:
			return "", it.err
		case synth.StatusCancelled:
			return "", ErrCancelledSpeech
		}
		if time.Now().After(deadline) {
			return "", ErrTimeout
		}
		q.cond.Wait()
	}
}

// ErrCancelledSpeech is returned by Speak when the entry was cancelled while
// queued.
var ErrCancelledSpeech = errors.New("dispatch: speech cancelled")

// Status returns the entry's state, or synth.StatusUnknown for unknown IDs.
func (q *Queue) Status(id string) synth.Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	if it, ok := q.items[id]; ok {
		return it.status
	}
	return synth.StatusUnknown
}

// Cancel marks a still-pending entry cancelled. The heap entry is skipped
// lazily when the dispatcher reaches it. Returns false once dispatch began.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	it := q.items[id]
	if it == nil || it.status != synth.StatusPending {
		q.mu.Unlock()
		return false
	}
	q.recordTerminalLocked(it, synth.StatusCancelled, "", ErrCancelledSpeech)
	q.cond.Broadcast()
	q.mu.Unlock()

	q.metrics.SpeechQueueDepth.Add(context.Background(), -1)
	q.notify(it)
	return true
}

// AddCompletionCallback registers a callback invoked after each entry
// reaches a terminal state. Callbacks run on the goroutine that recorded the
// transition; panics are recovered and logged.
func (q *Queue) AddCompletionCallback(cb CompletionCallback) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.callbacks = append(q.callbacks, cb)
}

// QueueLen returns the number of pending entries.
func (q *Queue) QueueLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pendingLenLocked()
}

// ActiveCount returns the number of entries being synthesized right now
// (0 or 1: the dispatcher is single-threaded).
func (q *Queue) ActiveCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// dispatch is the single dispatcher loop.
func (q *Queue) dispatch() {
	for {
		q.mu.Lock()
		for q.pending.Len() == 0 && !q.stopping {
			q.cond.Wait()
		}
		if q.stopping {
			q.mu.Unlock()
			return
		}
		it := heap.Pop(&q.pending).(*item)
		if it.status != synth.StatusPending {
			// Cancelled while queued.
			q.mu.Unlock()
			continue
		}
		it.status = synth.StatusProcessing
		q.active++
		q.mu.Unlock()

		q.metrics.SpeechQueueDepth.Add(context.Background(), -1)
		artifact, err := q.render(it)

		q.mu.Lock()
		q.active--
		if err != nil {
			q.recordTerminalLocked(it, synth.StatusFailed, "", err)
		} else {
			q.recordTerminalLocked(it, synth.StatusCompleted, artifact, nil)
		}
		q.cond.Broadcast()
		q.mu.Unlock()

		q.notify(it)
	}
}

// render submits one entry to the synthesizer and waits for its result.
func (q *Queue) render(it *item) (string, error) {
	taskID, err := q.synth.Submit(it.text, it.opts...)
	if err != nil {
		return "", fmt.Errorf("dispatch: submit: %w", err)
	}
	if taskID == "" {
		return "", errors.New("dispatch: synthesizer skipped empty text")
	}
	artifact, ok := q.synth.AwaitResult(taskID, q.synthTimeout)
	if !ok {
		return "", fmt.Errorf("dispatch: synthesis %s did not complete", taskID)
	}
	return artifact, nil
}

// recordTerminalLocked sets an entry's terminal state. Caller holds q.mu.
func (q *Queue) recordTerminalLocked(it *item, status synth.Status, artifact string, err error) {
	it.status = status
	it.artifact = artifact
	it.err = err
	it.doneAt = time.Now()
}

// notify runs completion callbacks for terminal entries, isolating panics.
func (q *Queue) notify(items ...*item) {
	q.mu.Lock()
	callbacks := make([]CompletionCallback, len(q.callbacks))
	copy(callbacks, q.callbacks)
	q.mu.Unlock()

	for _, it := range items {
		for i, cb := range callbacks {
			func() {
				defer func() {
					if r := recover(); r != nil {
						slog.Error("dispatch: completion callback panicked",
							"callback", i, "id", it.id, "panic", r)
					}
				}()
				cb(it.id, it.status, it.artifact, it.err)
			}()
		}
	}
}

// pendingLenLocked counts live entries in the heap. Caller holds q.mu.
func (q *Queue) pendingLenLocked() int {
	n := 0
	for _, it := range q.pending {
		if it.status == synth.StatusPending {
			n++
		}
	}
	return n
}

// purgeTerminalLocked drops terminal entries past retention so the item map
// stays bounded. Caller holds q.mu.
func (q *Queue) purgeTerminalLocked() {
	cutoff := time.Now().Add(-itemRetention)
	for id, it := range q.items {
		if it.status.Terminal() && !it.doneAt.IsZero() && it.doneAt.Before(cutoff) {
			delete(q.items, id)
		}
	}
}
