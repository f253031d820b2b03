package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validYAML = `
server:
  listen_addr: ":8080"
  log_level: info
providers:
  llm:
    name: groq
    api_key: gsk-test
    model: llama-3.3-70b-versatile
  stt:
    name: groq
    api_key: gsk-test
  tts:
    name: elevenlabs
    api_key: xi-test
  search:
    name: exa
    api_key: exa-test
audio:
  sample_rate: 16000
  channels: 1
  use_vad: true
  vad:
    threshold: 0.02
synthesis:
  workers: 3
  queue_size: 50
  default_language: english
assistant:
  max_concurrent: 4
  rate_per_second: 5
session:
  backend: memory
`

func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"GROQ_API_KEY", "ELEVENLABS_API_KEY", "EXA_API_KEY"} {
		t.Setenv(key, "")
	}
}

func TestLoadFromReader_Valid(t *testing.T) {
	clearProviderEnv(t)

	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Providers.LLM.Model != "llama-3.3-70b-versatile" {
		t.Errorf("llm model = %q", cfg.Providers.LLM.Model)
	}
	if !cfg.Audio.UseVAD {
		t.Error("use_vad not parsed")
	}
	if cfg.Session.Backend != SessionMemory {
		t.Errorf("session backend = %q", cfg.Session.Backend)
	}
}

func TestLoadFromReader_RejectsUnknownFields(t *testing.T) {
	clearProviderEnv(t)

	_, err := LoadFromReader(strings.NewReader("server:\n  listne_addr: \":8080\"\n"))
	if err == nil {
		t.Fatal("expected error for misspelled field")
	}
}

func TestLoadFromReader_EnvOverridesEmptyKeys(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("GROQ_API_KEY", "gsk-from-env")
	t.Setenv("ELEVENLABS_API_KEY", "xi-from-env")

	yaml := `
providers:
  llm:
    name: groq
  stt:
    name: groq
  tts:
    name: elevenlabs
    api_key: xi-from-file
`
	cfg, err := LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Providers.LLM.APIKey != "gsk-from-env" {
		t.Errorf("llm api key = %q, want env value", cfg.Providers.LLM.APIKey)
	}
	if cfg.Providers.STT.APIKey != "gsk-from-env" {
		t.Errorf("stt api key = %q, want env value", cfg.Providers.STT.APIKey)
	}
	// File value wins over the environment.
	if cfg.Providers.TTS.APIKey != "xi-from-file" {
		t.Errorf("tts api key = %q, want file value", cfg.Providers.TTS.APIKey)
	}
}

func TestLoadFromReader_MissingLLMKeyFails(t *testing.T) {
	clearProviderEnv(t)

	_, err := LoadFromReader(strings.NewReader("providers:\n  llm:\n    name: groq\n"))
	if err == nil {
		t.Fatal("expected error for missing LLM api key")
	}
	if !strings.Contains(err.Error(), "providers.llm.api_key") {
		t.Errorf("error = %v", err)
	}
}

func TestValidate_JoinsAllFailures(t *testing.T) {
	cfg := &Config{
		Server:    ServerConfig{LogLevel: "verbose"},
		Audio:     AudioConfig{SampleRate: -1, VAD: VADConfig{Threshold: 1.5}},
		Synthesis: SynthesisConfig{Workers: -2, DefaultLanguage: "french"},
		Session:   SessionConfig{Backend: "cassandra"},
	}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{
		"server.log_level",
		"audio.sample_rate",
		"audio.vad.threshold",
		"synthesis.workers",
		"synthesis.default_language",
		"session.backend",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error missing %q: %v", want, err)
		}
	}
}

func TestValidate_BackendRequiresAddress(t *testing.T) {
	err := Validate(&Config{Session: SessionConfig{Backend: SessionRedis}})
	if err == nil || !strings.Contains(err.Error(), "session.redis_addr") {
		t.Errorf("expected redis_addr error, got %v", err)
	}

	err = Validate(&Config{Session: SessionConfig{Backend: SessionPostgres}})
	if err == nil || !strings.Contains(err.Error(), "session.postgres_dsn") {
		t.Errorf("expected postgres_dsn error, got %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected os.ErrNotExist, got %v", err)
	}
}

func TestLoad_FromFile(t *testing.T) {
	clearProviderEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Synthesis.Workers != 3 {
		t.Errorf("synthesis.workers = %d", cfg.Synthesis.Workers)
	}
}
