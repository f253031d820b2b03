package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// ---- Construction ----

func TestNew_MissingAPIKey(t *testing.T) {
	_, err := New("")
	if err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestNew_Options(t *testing.T) {
	p, err := New("xi-test", WithModel("eleven_flash_v2_5"), WithOutputFormat("pcm_16000"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != "eleven_flash_v2_5" {
		t.Errorf("expected model eleven_flash_v2_5, got %s", p.model)
	}
	if p.outputFormat != "pcm_16000" {
		t.Errorf("expected output format pcm_16000, got %s", p.outputFormat)
	}
}

// ---- URL construction ----

func TestBuildURLForVoice(t *testing.T) {
	url := buildURLForVoice(wsEndpointFmt, "voice-abc123", "eleven_multilingual_v2", "mp3_44100_128")
	if !strings.Contains(url, "voice-abc123") {
		t.Errorf("URL should contain voice ID, got: %s", url)
	}
	if !strings.Contains(url, "eleven_multilingual_v2") {
		t.Errorf("URL should contain model ID, got: %s", url)
	}
	if !strings.Contains(url, "mp3_44100_128") {
		t.Errorf("URL should contain output format, got: %s", url)
	}
	if !strings.HasPrefix(url, "wss://") {
		t.Errorf("URL should be a WebSocket URL, got: %s", url)
	}
}

// ---- Voice list response parsing ----

func TestConvertVoices(t *testing.T) {
	raw := []byte(`{
		"voices": [
			{
				"voice_id": "abc123",
				"name": "Neerja",
				"category": "premade",
				"labels": {"language": "en-IN"}
			},
			{
				"voice_id": "def456",
				"name": "Madhur",
				"category": "premade",
				"labels": {}
			}
		]
	}`)

	var vr voicesResponse
	if err := json.Unmarshal(raw, &vr); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	voices := convertVoices(vr)
	if len(voices) != 2 {
		t.Fatalf("expected 2 voices, got %d", len(voices))
	}
	if voices[0].ID != "abc123" || voices[0].Name != "Neerja" {
		t.Errorf("unexpected first voice: %+v", voices[0])
	}
	if voices[0].Language != "en-IN" {
		t.Errorf("expected language en-IN, got %q", voices[0].Language)
	}
	if voices[1].Language != "" {
		t.Errorf("expected empty language, got %q", voices[1].Language)
	}
}

// ---- Synthesize round trip ----

// stubStreamServer speaks just enough of the stream-input protocol to test
// Synthesize: BOI, one text message, EOS, then two audio chunks back.
func stubStreamServer(t *testing.T, chunks [][]byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		// BOI must carry the API key.
		_, boiRaw, err := conn.Read(ctx)
		if err != nil {
			t.Errorf("read BOI: %v", err)
			return
		}
		var boi boiMessage
		if err := json.Unmarshal(boiRaw, &boi); err != nil {
			t.Errorf("unmarshal BOI: %v", err)
			return
		}
		if boi.XiAPIKey != "xi-test" {
			t.Errorf("expected xi_api_key xi-test, got %q", boi.XiAPIKey)
		}

		// Drain text and EOS messages.
		for {
			_, raw, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var msg textMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				continue
			}
			if msg.Text == "" {
				break
			}
		}

		for i, chunk := range chunks {
			resp := audioResponse{
				Audio:   base64.StdEncoding.EncodeToString(chunk),
				IsFinal: i == len(chunks)-1,
			}
			raw, _ := json.Marshal(resp)
			if err := conn.Write(ctx, websocket.MessageText, raw); err != nil {
				return
			}
		}
	}))
}

func TestSynthesize_CollectsAllChunks(t *testing.T) {
	srv := stubStreamServer(t, [][]byte{[]byte("chunk-a"), []byte("chunk-b")})
	defer srv.Close()

	p, err := New("xi-test", WithEndpoint(srv.URL+"/tts/%s?model=%s&fmt=%s"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	audio, err := p.Synthesize(ctx, "hello world", "voice-1")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(audio) != "chunk-achunk-b" {
		t.Errorf("expected concatenated chunks, got %q", audio)
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	p, err := New("xi-test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Synthesize(context.Background(), "", "voice-1"); err == nil {
		t.Fatal("expected error for empty text")
	}
}

func TestSynthesize_EmptyVoice(t *testing.T) {
	p, err := New("xi-test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Synthesize(context.Background(), "hello", ""); err == nil {
		t.Fatal("expected error for empty voice ID")
	}
}
