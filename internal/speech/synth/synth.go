// Package synth manages text-to-speech work: it assigns task IDs, renders
// audio through a tts.Provider on a bounded worker pool, persists artifacts
// to disk, and retains task results for a fixed window so callers can poll
// for completion.
//
// Submission is non-blocking. Language and speaker overrides are local to
// each submission so concurrent submits with different voices never interfere
// with one another.
package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/voicewire/voicewire/internal/observe"
	"github.com/voicewire/voicewire/pkg/provider/tts"
)

const (
	// DefaultWorkers is the synthesis worker pool size.
	DefaultWorkers = 3

	// DefaultRetention is how long terminal tasks stay queryable.
	DefaultRetention = 300 * time.Second

	// DefaultRequestTimeout bounds a single synthesis API call.
	DefaultRequestTimeout = 60 * time.Second

	// awaitPollInterval is the polling cadence of AwaitResult.
	awaitPollInterval = 100 * time.Millisecond

	// janitorInterval is how often expired tasks are purged.
	janitorInterval = 30 * time.Second
)

// Sentinel errors.
var (
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("synth: manager closed")

	// ErrCancelled marks a task cancelled before completion.
	ErrCancelled = errors.New("synth: task cancelled")
)

// Status is the lifecycle state of a synthesis task.
type Status string

// Task statuses. Unknown is reported for IDs the manager does not track.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusUnknown    Status = "unknown"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Task is the tracked state of one synthesis request.
type Task struct {
	ID        string
	Text      string
	Status    Status
	AudioFile string
	Err       error
	CreatedAt time.Time
}

// Stats is a point-in-time summary of tracked tasks.
type Stats struct {
	Total      int
	Pending    int
	Processing int
	Completed  int
	Failed     int
	Cancelled  int
}

// Manager tracks synthesis tasks and runs the worker pool.
type Manager struct {
	provider tts.Provider
	metrics  *observe.Metrics

	artifactsDir    string
	retention       time.Duration
	requestTimeout  time.Duration
	defaultLanguage string
	defaultSpeaker  string

	slots   chan struct{}
	counter atomic.Uint64

	mu    sync.Mutex
	tasks map[string]*Task

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

// Option configures a Manager during construction.
type Option func(*Manager)

// WithWorkers sets the worker pool size. The default is DefaultWorkers.
func WithWorkers(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.slots = make(chan struct{}, n)
		}
	}
}

// WithArtifactsDir sets where rendered audio files are written.
func WithArtifactsDir(dir string) Option {
	return func(m *Manager) { m.artifactsDir = dir }
}

// WithRetention sets how long terminal tasks stay queryable.
func WithRetention(d time.Duration) Option {
	return func(m *Manager) { m.retention = d }
}

// WithDefaultLanguage sets the fallback language when detection is
// inconclusive. The default is LanguageEnglish.
func WithDefaultLanguage(lang string) Option {
	return func(m *Manager) { m.defaultLanguage = lang }
}

// WithDefaultSpeaker sets the fallback speaker used when a submission does
// not name one. Unknown speakers fall back to the language's built-in
// default at resolution time.
func WithDefaultSpeaker(speaker string) Option {
	return func(m *Manager) { m.defaultSpeaker = strings.ToLower(speaker) }
}

// WithRequestTimeout bounds each synthesis API call.
func WithRequestTimeout(d time.Duration) Option {
	return func(m *Manager) { m.requestTimeout = d }
}

// WithMetrics attaches a metrics recorder. Defaults to
// [observe.DefaultMetrics] when unset.
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = met }
}

// submitConfig holds per-submission overrides.
type submitConfig struct {
	language string
	speaker  string
}

// SubmitOption overrides defaults for a single Submit call.
type SubmitOption func(*submitConfig)

// WithLanguage forces the synthesis language for this task only, skipping
// script detection.
func WithLanguage(lang string) SubmitOption {
	return func(c *submitConfig) { c.language = lang }
}

// WithSpeaker selects a speaker from the language's voice table for this
// task only.
func WithSpeaker(speaker string) SubmitOption {
	return func(c *submitConfig) { c.speaker = strings.ToLower(speaker) }
}

// New creates a Manager rendering audio with provider. The artifacts
// directory is created if missing.
func New(provider tts.Provider, opts ...Option) (*Manager, error) {
	m := &Manager{
		provider:        provider,
		artifactsDir:    filepath.Join(os.TempDir(), "voicewire"),
		retention:       DefaultRetention,
		requestTimeout:  DefaultRequestTimeout,
		defaultLanguage: LanguageEnglish,
		slots:           make(chan struct{}, DefaultWorkers),
		tasks:           make(map[string]*Task),
		closed:          make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	if err := os.MkdirAll(m.artifactsDir, 0o755); err != nil {
		return nil, fmt.Errorf("synth: create artifacts dir: %w", err)
	}

	m.wg.Add(1)
	go m.janitor()
	return m, nil
}

// Submit registers a synthesis task and dispatches it to the worker pool.
// It never blocks on synthesis. Whitespace-only text is skipped without
// creating a task: the returned ID is empty and the error nil.
func (m *Manager) Submit(text string, opts ...SubmitOption) (string, error) {
	select {
	case <-m.closed:
		return "", ErrClosed
	default:
	}
	if strings.TrimSpace(text) == "" {
		slog.Warn("synth: skipping empty submission")
		return "", nil
	}

	cfg := submitConfig{}
	for _, o := range opts {
		o(&cfg)
	}

	id := fmt.Sprintf("tts_%d_%d", m.counter.Add(1), time.Now().UnixMilli())
	task := &Task{ID: id, Text: text, Status: StatusPending, CreatedAt: time.Now()}

	m.mu.Lock()
	m.tasks[id] = task
	m.mu.Unlock()

	m.wg.Add(1)
	go m.work(id, text, cfg)

	slog.Debug("synth: task submitted", "task_id", id, "chars", len(text))
	return id, nil
}

// work renders one task on a pool slot.
func (m *Manager) work(id, text string, cfg submitConfig) {
	defer m.wg.Done()

	select {
	case m.slots <- struct{}{}:
		defer func() { <-m.slots }()
	case <-m.closed:
		m.finish(id, "", ErrClosed)
		return
	}

	// Pending → processing; a cancel that won the race ends the task here.
	m.mu.Lock()
	task := m.tasks[id]
	if task == nil || task.Status != StatusPending {
		m.mu.Unlock()
		return
	}
	task.Status = StatusProcessing
	defLang, defSpeaker := m.defaultLanguage, m.defaultSpeaker
	m.mu.Unlock()

	ctx := context.Background()
	m.metrics.ActiveSyntheses.Add(ctx, 1)
	defer m.metrics.ActiveSyntheses.Add(ctx, -1)

	language := cfg.language
	if language == "" {
		language = DetectLanguage(text, defLang)
	}
	speaker := cfg.speaker
	if speaker == "" {
		speaker = defSpeaker
	}
	voiceID := ResolveVoice(language, speaker)

	reqCtx, cancel := context.WithTimeout(ctx, m.requestTimeout)
	defer cancel()

	start := time.Now()
	audio, err := m.provider.Synthesize(reqCtx, text, voiceID)
	m.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		m.metrics.RecordProviderError(ctx, "tts", "synthesize")
		m.finish(id, "", fmt.Errorf("synth: synthesize: %w", err))
		return
	}

	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	path := filepath.Join(m.artifactsDir, id+"_"+suffix+".mp3")
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		m.finish(id, "", fmt.Errorf("synth: write artifact: %w", err))
		return
	}
	m.finish(id, path, nil)
}

// finish records a terminal result unless the task already reached one
// (e.g., cancelled mid-render; its artifact is removed).
func (m *Manager) finish(id, path string, err error) {
	ctx := context.Background()

	m.mu.Lock()
	task := m.tasks[id]
	if task == nil || task.Status.Terminal() {
		m.mu.Unlock()
		if path != "" {
			os.Remove(path)
		}
		return
	}
	if err != nil {
		task.Status = StatusFailed
		task.Err = err
	} else {
		task.Status = StatusCompleted
		task.AudioFile = path
	}
	status := task.Status
	m.mu.Unlock()

	m.metrics.RecordSynthesisTask(ctx, string(status))
	if err != nil {
		slog.Error("synth: task failed", "task_id", id, "error", err)
	} else {
		slog.Info("synth: task completed", "task_id", id, "artifact", path)
	}
}

// Status returns the task's current lifecycle state, or StatusUnknown for
// untracked IDs.
func (m *Manager) Status(id string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if task, ok := m.tasks[id]; ok {
		return task.Status
	}
	return StatusUnknown
}

// Result returns the task's artifact path and recorded error.
func (m *Manager) Result(id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if task, ok := m.tasks[id]; ok {
		return task.AudioFile, task.Err
	}
	return "", nil
}

// AwaitResult polls until the task reaches a terminal state or timeout
// elapses. It returns the artifact path and true on completion; failed,
// cancelled, unknown and timed-out tasks all return ("", false).
func (m *Manager) AwaitResult(id string, timeout time.Duration) (string, bool) {
	deadline := time.Now().Add(timeout)
	for {
		m.mu.Lock()
		task := m.tasks[id]
		var status Status = StatusUnknown
		var path string
		if task != nil {
			status = task.Status
			path = task.AudioFile
		}
		m.mu.Unlock()

		switch status {
		case StatusCompleted:
			return path, true
		case StatusFailed, StatusCancelled:
			return "", false
		}

		if time.Now().After(deadline) {
			return "", false
		}
		time.Sleep(awaitPollInterval)
	}
}

// Cancel moves a non-terminal task to cancelled so waiters fail fast.
// Returns false for terminal or unknown tasks.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	task := m.tasks[id]
	if task == nil || task.Status.Terminal() {
		m.mu.Unlock()
		return false
	}
	task.Status = StatusCancelled
	task.Err = ErrCancelled
	m.mu.Unlock()

	m.metrics.RecordSynthesisTask(context.Background(), string(StatusCancelled))
	slog.Info("synth: task cancelled", "task_id", id)
	return true
}

// SetDefaultVoice updates the fallback language and speaker used by
// subsequent submissions. An empty language keeps the current one.
func (m *Manager) SetDefaultVoice(language, speaker string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if language != "" {
		m.defaultLanguage = language
	}
	m.defaultSpeaker = strings.ToLower(speaker)
}

// Stats summarises the tracked task map.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{Total: len(m.tasks)}
	for _, task := range m.tasks {
		switch task.Status {
		case StatusPending:
			s.Pending++
		case StatusProcessing:
			s.Processing++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		case StatusCancelled:
			s.Cancelled++
		}
	}
	return s
}

// PurgeExpired evicts terminal tasks older than the retention window. Task
// age comes from the ID's embedded timestamp; IDs that cannot be parsed are
// treated as expired. Returns the number of evicted tasks.
func (m *Manager) PurgeExpired() int {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	purged := 0
	for id, task := range m.tasks {
		if !task.Status.Terminal() {
			continue
		}
		if created, ok := parseTaskTime(id); ok && now.Sub(created) <= m.retention {
			continue
		}
		delete(m.tasks, id)
		purged++
	}
	if purged > 0 {
		slog.Debug("synth: purged expired tasks", "count", purged)
	}
	return purged
}

// janitor runs PurgeExpired on a ticker until Close.
func (m *Manager) janitor() {
	defer m.wg.Done()
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.closed:
			return
		case <-ticker.C:
			m.PurgeExpired()
		}
	}
}

// Close stops accepting submissions and waits for in-flight workers and the
// janitor to exit. Safe to call multiple times.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.closed)
	})
	m.wg.Wait()
}

// parseTaskTime extracts the creation time embedded in a task ID.
func parseTaskTime(id string) (time.Time, bool) {
	parts := strings.Split(id, "_")
	if len(parts) != 3 || parts[0] != "tts" {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}
