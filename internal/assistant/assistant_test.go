package assistant

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/voicewire/voicewire/internal/speech/synth"
)

// fakeProcessor implements Processor with a configurable function and
// records every query it receives.
type fakeProcessor struct {
	mu      sync.Mutex
	queries []string
	fn      func(ctx context.Context, input string, convContext map[string]string) (Reply, error)
}

func (p *fakeProcessor) ProcessQuery(ctx context.Context, input string, convContext map[string]string) (Reply, error) {
	p.mu.Lock()
	p.queries = append(p.queries, input)
	p.mu.Unlock()
	if p.fn != nil {
		return p.fn(ctx, input, convContext)
	}
	return Reply{Text: "ok", Language: "english"}, nil
}

func (p *fakeProcessor) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queries)
}

type speakCall struct {
	text     string
	priority int
}

// fakeSpeaker writes each spoken text to a file under dir and returns the
// path, mimicking the artifact contract of the dispatch queue.
type fakeSpeaker struct {
	dir string

	mu      sync.Mutex
	calls   []speakCall
	stopped bool
	err     error
}

func (s *fakeSpeaker) Speak(text string, priority int, timeout time.Duration, opts ...synth.SubmitOption) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, speakCall{text: text, priority: priority})
	n := len(s.calls)
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return "", err
	}

	path := filepath.Join(s.dir, "speech_"+strconv.Itoa(n)+".mp3")
	if werr := os.WriteFile(path, []byte("audio:"+text), 0o644); werr != nil {
		return "", werr
	}
	return path, nil
}

func (s *fakeSpeaker) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

func (s *fakeSpeaker) lastCall(t *testing.T) speakCall {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		t.Fatal("no speak calls recorded")
	}
	return s.calls[len(s.calls)-1]
}

func TestHandleTranscription_EndToEnd(t *testing.T) {
	proc := &fakeProcessor{fn: func(ctx context.Context, input string, convContext map[string]string) (Reply, error) {
		return Reply{Text: "The rate is 8%.", Language: "english"}, nil
	}}
	speaker := &fakeSpeaker{dir: t.TempDir()}

	a, err := New(proc, speaker)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	id, err := a.HandleTranscription(context.Background(), "What is the interest rate?", true)
	if err != nil {
		t.Fatalf("HandleTranscription: %v", err)
	}
	if id != "req_1" {
		t.Errorf("request id = %q, want req_1", id)
	}

	res, err := a.GetResult(id, 2*time.Second)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if res.TimedOut {
		t.Fatal("result timed out")
	}
	if res.Err != nil {
		t.Fatalf("result error: %v", res.Err)
	}
	if res.Text != "The rate is 8%." {
		t.Errorf("text = %q", res.Text)
	}
	if res.AudioFile == "" {
		t.Fatal("expected audio file")
	}
	data, err := os.ReadFile(res.AudioFile)
	if err != nil {
		t.Fatalf("audio file not readable: %v", err)
	}
	if len(data) == 0 {
		t.Error("audio file is empty")
	}
	if call := speaker.lastCall(t); call.priority != replyPriority {
		t.Errorf("speak priority = %d, want %d", call.priority, replyPriority)
	}

	snap := a.ContextSnapshot()
	if snap["last_query"] != "What is the interest rate?" {
		t.Errorf("last_query = %q", snap["last_query"])
	}
	if snap["last_response"] != "The rate is 8%." {
		t.Errorf("last_response = %q", snap["last_response"])
	}
	if snap["last_processed_time"] == "" {
		t.Error("last_processed_time not set")
	}
}

func TestProcessorError_ApologyInDetectedLanguage(t *testing.T) {
	cause := errors.New("model unavailable")
	proc := &fakeProcessor{fn: func(ctx context.Context, input string, convContext map[string]string) (Reply, error) {
		return Reply{Language: "hindi"}, cause
	}}
	speaker := &fakeSpeaker{dir: t.TempDir()}

	a, err := New(proc, speaker)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	id, err := a.HandleTranscription(context.Background(), "ब्याज दर क्या है?", true)
	if err != nil {
		t.Fatalf("HandleTranscription: %v", err)
	}
	res, err := a.GetResult(id, 2*time.Second)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if !errors.Is(res.Err, cause) {
		t.Errorf("result error = %v, want %v", res.Err, cause)
	}
	if res.Text != apologies["hindi"] {
		t.Errorf("apology text = %q", res.Text)
	}
	if res.Language != "hindi" {
		t.Errorf("language = %q, want hindi", res.Language)
	}
	call := speaker.lastCall(t)
	if call.priority != apologyPriority {
		t.Errorf("apology priority = %d, want %d", call.priority, apologyPriority)
	}
	if call.text != apologies["hindi"] {
		t.Errorf("spoken apology = %q", call.text)
	}

	// Failed queries never pollute the conversation context.
	if snap := a.ContextSnapshot(); snap["last_query"] != "" {
		t.Errorf("context updated on failure: %v", snap)
	}
}

func TestProcessorError_UnknownLanguageFallsBackToEnglish(t *testing.T) {
	proc := &fakeProcessor{fn: func(ctx context.Context, input string, convContext map[string]string) (Reply, error) {
		return Reply{}, errors.New("boom")
	}}
	a, err := New(proc, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	id, _ := a.HandleTranscription(context.Background(), "hello", false)
	res, err := a.GetResult(id, 2*time.Second)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if res.Text != apologies["english"] {
		t.Errorf("apology text = %q", res.Text)
	}
	if res.Language != "english" {
		t.Errorf("language = %q", res.Language)
	}
}

func TestHandleTranscription_RateLimited(t *testing.T) {
	a, err := New(&fakeProcessor{}, nil, WithRateLimit(0.001, 1))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := a.HandleTranscription(context.Background(), "first", false); err != nil {
		t.Fatalf("first submission: %v", err)
	}
	if _, err := a.HandleTranscription(context.Background(), "second", false); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestHandleTranscription_AfterShutdown(t *testing.T) {
	speaker := &fakeSpeaker{dir: t.TempDir()}
	a, err := New(&fakeProcessor{}, speaker)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if _, err := a.HandleTranscription(context.Background(), "late", false); !errors.Is(err, ErrShutdown) {
		t.Fatalf("expected ErrShutdown, got %v", err)
	}

	speaker.mu.Lock()
	stopped := speaker.stopped
	speaker.mu.Unlock()
	if !stopped {
		t.Error("queue not stopped during shutdown")
	}

	// Shutdown is idempotent.
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestGetResult_TimeoutLeavesWorkRunning(t *testing.T) {
	release := make(chan struct{})
	proc := &fakeProcessor{fn: func(ctx context.Context, input string, convContext map[string]string) (Reply, error) {
		<-release
		return Reply{Text: "late answer", Language: "english"}, nil
	}}
	a, err := New(proc, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	id, _ := a.HandleTranscription(context.Background(), "slow", false)

	res, err := a.GetResult(id, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if !res.TimedOut {
		t.Fatal("expected timed-out result")
	}

	close(release)

	res, err = a.GetResult(id, 2*time.Second)
	if err != nil {
		t.Fatalf("second GetResult: %v", err)
	}
	if res.TimedOut || res.Text != "late answer" {
		t.Errorf("result = %+v", res)
	}

	// Collected results are removed.
	if _, err := a.GetResult(id, 10*time.Millisecond); !errors.Is(err, ErrUnknownRequest) {
		t.Fatalf("expected ErrUnknownRequest after collection, got %v", err)
	}
}

func TestPurgeFinished_EvictsUncollectedResults(t *testing.T) {
	release := make(chan struct{})
	proc := &fakeProcessor{fn: func(ctx context.Context, input string, convContext map[string]string) (Reply, error) {
		if input == "slow" {
			<-release
		}
		return Reply{Text: "ok", Language: "english"}, nil
	}}
	a, err := New(proc, nil, WithRetention(250*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer close(release)

	// One request finishes without ever being collected, one stays in flight.
	done, _ := a.HandleTranscription(context.Background(), "fast", false)
	inflight, _ := a.HandleTranscription(context.Background(), "slow", false)

	deadline := time.Now().Add(2 * time.Second)
	for a.Stats().Processed == 0 {
		if time.Now().After(deadline) {
			t.Fatal("request never finished")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if n := a.PurgeFinished(); n != 0 {
		t.Fatalf("purged %d results inside the retention window", n)
	}

	time.Sleep(300 * time.Millisecond)
	if n := a.PurgeFinished(); n != 1 {
		t.Fatalf("PurgeFinished = %d, want 1", n)
	}
	if _, err := a.GetResult(done, 10*time.Millisecond); !errors.Is(err, ErrUnknownRequest) {
		t.Fatalf("expected ErrUnknownRequest after purge, got %v", err)
	}

	// The in-flight request survived the sweep.
	if res, err := a.GetResult(inflight, 50*time.Millisecond); err != nil || !res.TimedOut {
		t.Fatalf("in-flight request: res=%+v err=%v", res, err)
	}
}

func TestGetResult_UnknownID(t *testing.T) {
	a, err := New(&fakeProcessor{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := a.GetResult("req_999", 10*time.Millisecond); !errors.Is(err, ErrUnknownRequest) {
		t.Fatalf("expected ErrUnknownRequest, got %v", err)
	}
}

func TestCancel_BeforeProcessingStarts(t *testing.T) {
	blocker := make(chan struct{})
	proc := &fakeProcessor{fn: func(ctx context.Context, input string, convContext map[string]string) (Reply, error) {
		<-blocker
		return Reply{Text: "done", Language: "english"}, nil
	}}
	a, err := New(proc, nil, WithMaxConcurrent(1))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	first, _ := a.HandleTranscription(context.Background(), "hold the slot", false)

	// Wait until the first request owns the pool slot.
	deadline := time.Now().Add(2 * time.Second)
	for proc.callCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first request never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	second, _ := a.HandleTranscription(context.Background(), "never runs", false)
	if !a.Cancel(second) {
		t.Fatal("Cancel returned false for a pending request")
	}

	res, err := a.GetResult(second, 2*time.Second)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if res.Err == nil {
		t.Error("cancelled request has nil error")
	}

	close(blocker)
	if _, err := a.GetResult(first, 2*time.Second); err != nil {
		t.Fatalf("GetResult first: %v", err)
	}

	if got := proc.callCount(); got != 1 {
		t.Errorf("processor called %d times, want 1", got)
	}
	if a.Cancel(first) {
		t.Error("Cancel succeeded on a completed request")
	}

	stats := a.Stats()
	if stats.Processed != 1 || stats.Cancelled != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestStripHTML(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"plain text", "plain text"},
		{"<p>The rate is <b>8%</b>.</p>", "The rate is 8% ."},
		{"a &amp; b", "a & b"},
		{"line<br/>break", "line break"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := StripHTML(tc.in); got != tc.want {
			t.Errorf("StripHTML(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
