package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":    {"openai", "groq"},
	"stt":    {"groq"},
	"tts":    {"elevenlabs"},
	"search": {"exa"},
}

// envKeys maps provider kinds to the environment variable consulted when the
// configured api_key is empty.
var envKeys = map[string]string{
	"llm":    "GROQ_API_KEY",
	"stt":    "GROQ_API_KEY",
	"tts":    "ELEVENLABS_API_KEY",
	"search": "EXA_API_KEY",
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with environment overrides applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment overrides
// for empty API keys, and validates the result. Unknown YAML fields are
// rejected. Useful in tests where configs are constructed from string
// literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides fills empty provider API keys from their conventional
// environment variables. Keys set in the file always win.
func applyEnvOverrides(cfg *Config) {
	entries := map[string]*ProviderEntry{
		"llm":    &cfg.Providers.LLM,
		"stt":    &cfg.Providers.STT,
		"tts":    &cfg.Providers.TTS,
		"search": &cfg.Providers.Search,
	}
	for kind, entry := range entries {
		if entry.APIKey != "" {
			continue
		}
		if v := os.Getenv(envKeys[kind]); v != "" {
			entry.APIKey = v
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("search", cfg.Providers.Search.Name)
	for _, fb := range cfg.Providers.LLM.Fallbacks {
		validateProviderName("llm", fb.Name)
	}
	for _, fb := range cfg.Providers.STT.Fallbacks {
		validateProviderName("stt", fb.Name)
	}
	for _, fb := range cfg.Providers.TTS.Fallbacks {
		validateProviderName("tts", fb.Name)
	}

	// A configured LLM provider without credentials cannot start at all.
	if cfg.Providers.LLM.Name != "" && cfg.Providers.LLM.APIKey == "" {
		errs = append(errs, fmt.Errorf("providers.llm.api_key is required when providers.llm.name is set (or set %s)", envKeys["llm"]))
	}
	if cfg.Providers.TTS.Name != "" && cfg.Providers.TTS.APIKey == "" {
		slog.Warn("providers.tts.api_key is empty; synthesis will fail until a key is provided")
	}
	if cfg.Providers.Search.Name == "" {
		slog.Warn("providers.search is not configured; replies will not be grounded in web results")
	}

	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must not be negative", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels < 0 || cfg.Audio.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is out of range [0, 2]", cfg.Audio.Channels))
	}
	if t := cfg.Audio.VAD.Threshold; t < 0 || t >= 1 {
		errs = append(errs, fmt.Errorf("audio.vad.threshold %.3f is out of range [0, 1)", t))
	}

	if t := cfg.Correction.PhoneticThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("correction.phonetic_threshold %.3f is out of range [0, 1]", t))
	}
	if t := cfg.Correction.FuzzyThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("correction.fuzzy_threshold %.3f is out of range [0, 1]", t))
	}

	if cfg.Synthesis.Workers < 0 {
		errs = append(errs, fmt.Errorf("synthesis.workers %d must not be negative", cfg.Synthesis.Workers))
	}
	if cfg.Synthesis.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("synthesis.queue_size %d must not be negative", cfg.Synthesis.QueueSize))
	}
	switch cfg.Synthesis.DefaultLanguage {
	case "", "english", "hindi":
	default:
		errs = append(errs, fmt.Errorf("synthesis.default_language %q is invalid; valid values: english, hindi", cfg.Synthesis.DefaultLanguage))
	}

	if cfg.Assistant.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("assistant.max_concurrent %d must not be negative", cfg.Assistant.MaxConcurrent))
	}
	if cfg.Assistant.RatePerSecond < 0 {
		errs = append(errs, fmt.Errorf("assistant.rate_per_second %.2f must not be negative", cfg.Assistant.RatePerSecond))
	}

	if cfg.Session.Backend != "" && !cfg.Session.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("session.backend %q is invalid; valid values: memory, postgres, redis", cfg.Session.Backend))
	}
	if cfg.Session.Backend == SessionPostgres && cfg.Session.PostgresDSN == "" {
		errs = append(errs, fmt.Errorf("session.postgres_dsn is required when session.backend is postgres"))
	}
	if cfg.Session.Backend == SessionRedis && cfg.Session.RedisAddr == "" {
		errs = append(errs, fmt.Errorf("session.redis_addr is required when session.backend is redis"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

// loadFromBytes parses and validates an in-memory config document.
func loadFromBytes(data []byte) (*Config, error) {
	return LoadFromReader(bytes.NewReader(data))
}
