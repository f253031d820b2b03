package app

import (
	"context"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/voicewire/voicewire/internal/assistant"
	"github.com/voicewire/voicewire/internal/config"
	"github.com/voicewire/voicewire/internal/session"
	"github.com/voicewire/voicewire/pkg/audio"
	audiomock "github.com/voicewire/voicewire/pkg/audio/mock"
	llmmock "github.com/voicewire/voicewire/pkg/provider/llm/mock"
	"github.com/voicewire/voicewire/pkg/provider/stt"
	sttmock "github.com/voicewire/voicewire/pkg/provider/stt/mock"
	ttsmock "github.com/voicewire/voicewire/pkg/provider/tts/mock"
)

// echoProcessor replies with a fixed answer for any query.
type echoProcessor struct {
	text string
}

func (p *echoProcessor) ProcessQuery(ctx context.Context, input string, convContext map[string]string) (assistant.Reply, error) {
	return assistant.Reply{Text: p.text, Language: "english"}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Audio:     config.AudioConfig{WindowSeconds: 1},
		Synthesis: config.SynthesisConfig{Workers: 2, ArtifactsDir: t.TempDir()},
		Assistant: config.AssistantConfig{MaxConcurrent: 2},
	}
}

// voicedFrame returns PCM with constant amplitude well above the voice gate.
func voicedFrame(samples int) []byte {
	frame := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(frame[i*2:], 3000)
	}
	return frame
}

func TestNew_RequiresProviders(t *testing.T) {
	cfg := testConfig(t)

	if _, err := New(context.Background(), cfg, nil); err == nil {
		t.Error("expected error for nil providers")
	}
	if _, err := New(context.Background(), cfg, &Providers{TTS: &ttsmock.Provider{}}); err == nil {
		t.Error("expected error for missing LLM provider")
	}
	if _, err := New(context.Background(), cfg, &Providers{LLM: &llmmock.Provider{}}); err == nil {
		t.Error("expected error for missing TTS provider")
	}
}

func TestApp_DirectSubmission(t *testing.T) {
	cfg := testConfig(t)
	store := session.NewMemStore()
	defer store.Close()

	a, err := New(context.Background(), cfg, &Providers{
		LLM: &llmmock.Provider{},
		TTS: &ttsmock.Provider{SynthesizeResult: []byte("mp3")},
	},
		WithProcessor(&echoProcessor{text: "The rate is 8%."}),
		WithSessionStore(store),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		a.Run(ctx)
	}()

	id, err := a.Assistant().HandleTranscription(context.Background(), "What is the interest rate?", true)
	if err != nil {
		t.Fatalf("HandleTranscription: %v", err)
	}
	res, err := a.Assistant().GetResult(id, 5*time.Second)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if res.Text != "The rate is 8%." {
		t.Errorf("text = %q", res.Text)
	}
	if res.AudioFile == "" {
		t.Fatal("no audio file")
	}
	if _, err := os.Stat(res.AudioFile); err != nil {
		t.Errorf("audio file missing: %v", err)
	}

	// The response was persisted under the request ID.
	stored, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("store.Get: %v", err)
	}
	if stored.Text != "The rate is 8%." || stored.AudioFile != res.AudioFile {
		t.Errorf("stored = %+v", stored)
	}

	cancel()
	<-runDone
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	// The injected store stays open after shutdown.
	if _, err := store.Exists(context.Background(), id); err != nil {
		t.Errorf("injected store closed by app: %v", err)
	}
}

func TestApp_CapturePipelineEndToEnd(t *testing.T) {
	cfg := testConfig(t)

	dev := audiomock.NewDevice(audio.DefaultFormat)
	// One second of voiced audio at 16 kHz mono, split into 8 frames.
	for i := 0; i < 8; i++ {
		dev.QueueFrames(voicedFrame(2000))
	}

	store := session.NewMemStore()
	defer store.Close()

	a, err := New(context.Background(), cfg, &Providers{
		LLM:    &llmmock.Provider{},
		STT:    &sttmock.Provider{TranscribeResult: stt.Transcript{Text: "What is the interest rate?"}},
		TTS:    &ttsmock.Provider{SynthesizeResult: []byte("mp3")},
		Device: dev,
	},
		WithProcessor(&echoProcessor{text: "The rate is 8%."}),
		WithSessionStore(store),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	// The captured utterance flows through transcription to the assistant
	// and lands in the session store.
	deadline := time.Now().Add(10 * time.Second)
	for {
		if stored, err := store.Get(context.Background(), "req_1"); err == nil {
			if stored.Text != "The rate is 8%." {
				t.Errorf("stored text = %q", stored.Text)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("pipeline never produced a stored response")
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if dev.CloseCallCount == 0 {
		t.Error("device not closed during shutdown")
	}
}

func TestApp_HealthEndpoints(t *testing.T) {
	cfg := testConfig(t)

	a, err := New(context.Background(), cfg, &Providers{
		LLM: &llmmock.Provider{},
		TTS: &ttsmock.Provider{SynthesizeResult: []byte("mp3")},
	}, WithProcessor(&echoProcessor{text: "ok"}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	mux := http.NewServeMux()
	a.Health().Register(mux)

	for _, path := range []string{"/healthz", "/readyz", "/statusz"} {
		req := httptest.NewRequest("GET", path, nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d", path, rec.Code)
		}
	}
}

func TestApp_ShutdownIdempotent(t *testing.T) {
	cfg := testConfig(t)

	a, err := New(context.Background(), cfg, &Providers{
		LLM: &llmmock.Provider{},
		TTS: &ttsmock.Provider{},
	}, WithProcessor(&echoProcessor{text: "ok"}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}

	if _, err := a.Assistant().HandleTranscription(context.Background(), "late", false); err == nil {
		t.Error("submission accepted after shutdown")
	}
}
