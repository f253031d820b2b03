package transcribe

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/voicewire/voicewire/pkg/audio"
	sttmock "github.com/voicewire/voicewire/pkg/provider/stt/mock"
)

// voicedPCM returns n bytes of constant-amplitude 16-bit samples loud enough
// to pass the voice-ratio gate.
func voicedPCM(n int) []byte {
	pcm := make([]byte, n)
	for i := 0; i+1 < n; i += 2 {
		binary.LittleEndian.PutUint16(pcm[i:], uint16(int16(3000)))
	}
	return pcm
}

// utterance wraps pcm in an Utterance with the default format.
func utterance(pcm []byte) audio.Utterance {
	return audio.Utterance{PCM: pcm, Format: audio.DefaultFormat, Start: time.Now()}
}

// waitSignal fails the test if ch does not receive within two seconds.
func waitSignal(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("expected transcript %q, got %q", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handler")
	}
}

func TestWorker_TranscribesAndFansOut(t *testing.T) {
	provider := &sttmock.Provider{}
	provider.TranscribeResult.Text = "what is the interest rate"

	in := make(chan audio.Utterance, 4)
	w := New(provider, in)

	first := make(chan string, 1)
	second := make(chan string, 1)
	order := make(chan int, 2)
	w.OnTranscript(func(text string, _ audio.Utterance) {
		order <- 1
		first <- text
	})
	w.OnTranscript(func(text string, _ audio.Utterance) {
		order <- 2
		second <- text
	})

	w.Start()
	defer w.Stop()

	in <- utterance(voicedPCM(audio.DefaultFormat.BytesPerSecond()))

	waitSignal(t, first, "what is the interest rate")
	waitSignal(t, second, "what is the interest rate")
	if a, b := <-order, <-order; a != 1 || b != 2 {
		t.Errorf("handlers ran out of registration order: %d then %d", a, b)
	}
	if provider.CallCount() != 1 {
		t.Errorf("expected 1 transcription call, got %d", provider.CallCount())
	}
}

func TestWorker_SkipsShortUtterance(t *testing.T) {
	provider := &sttmock.Provider{}
	provider.TranscribeResult.Text = "ok"

	in := make(chan audio.Utterance, 4)
	w := New(provider, in)

	done := make(chan string, 2)
	w.OnTranscript(func(text string, _ audio.Utterance) { done <- text })

	w.Start()
	defer w.Stop()

	// Half a second: below the minimum duration gate.
	in <- utterance(voicedPCM(audio.DefaultFormat.BytesPerSecond() / 2))
	// Sentinel that passes all gates.
	in <- utterance(voicedPCM(audio.DefaultFormat.BytesPerSecond()))

	waitSignal(t, done, "ok")
	if provider.CallCount() != 1 {
		t.Errorf("expected short utterance to be skipped, got %d calls", provider.CallCount())
	}
}

func TestWorker_UnmeasurableDurationFailsOpen(t *testing.T) {
	provider := &sttmock.Provider{}
	provider.TranscribeResult.Text = "ok"

	in := make(chan audio.Utterance, 4)
	w := New(provider, in)

	done := make(chan string, 1)
	w.OnTranscript(func(text string, _ audio.Utterance) { done <- text })

	w.Start()
	defer w.Stop()

	// A zero-value format makes the duration unmeasurable. The gate lets
	// the utterance through rather than rejecting it as too short.
	in <- audio.Utterance{PCM: voicedPCM(4096), Format: audio.Format{}}

	waitSignal(t, done, "ok")
	if provider.CallCount() != 1 {
		t.Errorf("expected unmeasurable utterance to reach the provider, got %d calls", provider.CallCount())
	}
}

func TestWorker_SkipsLowVoiceRatio(t *testing.T) {
	provider := &sttmock.Provider{}
	provider.TranscribeResult.Text = "ok"

	in := make(chan audio.Utterance, 4)
	w := New(provider, in)

	done := make(chan string, 2)
	w.OnTranscript(func(text string, _ audio.Utterance) { done <- text })

	w.Start()
	defer w.Stop()

	// One second of silence: measurable and entirely below threshold.
	in <- utterance(make([]byte, audio.DefaultFormat.BytesPerSecond()))
	in <- utterance(voicedPCM(audio.DefaultFormat.BytesPerSecond()))

	waitSignal(t, done, "ok")
	if provider.CallCount() != 1 {
		t.Errorf("expected silent utterance to be skipped, got %d calls", provider.CallCount())
	}
}

func TestWorker_HandlerPanicDoesNotStopFeed(t *testing.T) {
	provider := &sttmock.Provider{}
	provider.TranscribeResult.Text = "still here"

	in := make(chan audio.Utterance, 4)
	w := New(provider, in)

	done := make(chan string, 2)
	w.OnTranscript(func(string, audio.Utterance) { panic("boom") })
	w.OnTranscript(func(text string, _ audio.Utterance) { done <- text })

	w.Start()
	defer w.Stop()

	in <- utterance(voicedPCM(audio.DefaultFormat.BytesPerSecond()))
	waitSignal(t, done, "still here")

	// Worker keeps consuming after the panic.
	in <- utterance(voicedPCM(audio.DefaultFormat.BytesPerSecond()))
	waitSignal(t, done, "still here")
}

func TestWorker_PauseDiscards(t *testing.T) {
	provider := &sttmock.Provider{}
	provider.TranscribeResult.Text = "resumed"

	in := make(chan audio.Utterance)
	w := New(provider, in)

	var got []string
	w.OnTranscript(func(text string, _ audio.Utterance) { got = append(got, text) })

	// Drive the handler directly so pause state transitions are exact.
	w.Pause()
	if !w.Paused() {
		t.Fatal("expected worker to report paused")
	}
	w.handle(utterance(voicedPCM(audio.DefaultFormat.BytesPerSecond())))

	w.Resume()
	w.handle(utterance(voicedPCM(audio.DefaultFormat.BytesPerSecond())))

	if provider.CallCount() != 1 {
		t.Errorf("expected paused utterance to be discarded, got %d calls", provider.CallCount())
	}
	if len(got) != 1 || got[0] != "resumed" {
		t.Errorf("unexpected deliveries: %v", got)
	}
}

func TestWorker_EmptyTranscriptNotDelivered(t *testing.T) {
	provider := &sttmock.Provider{}

	in := make(chan audio.Utterance, 4)
	w := New(provider, in)

	done := make(chan string, 2)
	w.OnTranscript(func(text string, _ audio.Utterance) { done <- text })

	w.Start()
	defer w.Stop()

	in <- utterance(voicedPCM(audio.DefaultFormat.BytesPerSecond()))

	select {
	case got := <-done:
		t.Fatalf("expected no delivery for empty transcript, got %q", got)
	case <-time.After(200 * time.Millisecond):
	}
	if provider.CallCount() != 1 {
		t.Errorf("expected 1 transcription call, got %d", provider.CallCount())
	}
}

func TestWorker_StopIdempotent(t *testing.T) {
	provider := &sttmock.Provider{}
	in := make(chan audio.Utterance)
	w := New(provider, in)
	w.Start()
	w.Stop()
	w.Stop()
}
