// Command voicewire is the main entry point for the voicewire voice
// assistant server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voicewire/voicewire/internal/app"
	"github.com/voicewire/voicewire/internal/config"
	"github.com/voicewire/voicewire/internal/observe"
	"github.com/voicewire/voicewire/internal/resilience"
	"github.com/voicewire/voicewire/pkg/provider/llm"
	oallm "github.com/voicewire/voicewire/pkg/provider/llm/openai"
	"github.com/voicewire/voicewire/pkg/provider/search"
	"github.com/voicewire/voicewire/pkg/provider/search/exa"
	"github.com/voicewire/voicewire/pkg/provider/stt"
	"github.com/voicewire/voicewire/pkg/provider/stt/groq"
	"github.com/voicewire/voicewire/pkg/provider/tts"
	"github.com/voicewire/voicewire/pkg/provider/tts/elevenlabs"
)

// groqBaseURL is Groq's OpenAI-compatible chat endpoint, used when the
// config selects the groq LLM backend without an explicit base_url.
const groqBaseURL = "https://api.groq.com/openai/v1"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicewire: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicewire: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	levelVar := new(slog.LevelVar)
	levelVar.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar})))

	slog.Info("voicewire starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "voicewire"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── HTTP server: health + metrics ─────────────────────────────────────────
	srv := startHTTPServer(cfg, application)

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.Empty() {
			return
		}
		if d.LogLevelChanged {
			levelVar.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.VoiceChanged || d.RateChanged {
			application.Reconfigure(new)
			slog.Info("pipeline reconfigured",
				"voice_changed", d.VoiceChanged, "rate_changed", d.RateChanged)
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
		}
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the provider factories that ship with
// voicewire into reg. Each factory receives a config.ProviderEntry and
// constructs a provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai and groq share the OpenAI-compatible chat API; groq only differs
	// in its base URL.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})
	reg.RegisterLLM("groq", func(entry config.ProviderEntry) (llm.Provider, error) {
		baseURL := entry.BaseURL
		if baseURL == "" {
			baseURL = groqBaseURL
		}
		return oallm.New(entry.APIKey, entry.Model, oallm.WithBaseURL(baseURL))
	})

	// ── STT ───────────────────────────────────────────────────────────────────
	reg.RegisterSTT("groq", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []groq.Option
		if entry.Model != "" {
			opts = append(opts, groq.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, groq.WithBaseURL(entry.BaseURL))
		}
		return groq.New(entry.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────
	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	// ── Search ────────────────────────────────────────────────────────────────
	reg.RegisterSearch("exa", func(entry config.ProviderEntry) (search.Provider, error) {
		var opts []exa.Option
		if entry.BaseURL != "" {
			opts = append(opts, exa.WithEndpoint(entry.BaseURL))
		}
		return exa.New(entry.APIKey, opts...)
	})
}

// buildProviders instantiates the providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to
// consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("unknown llm provider — skipping", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		} else {
			ps.LLM = wrapLLM(p, cfg.Providers.LLM, reg)
			slog.Info("provider created", "kind", "llm", "name", name)
		}
	}

	if name := cfg.Providers.STT.Name; name != "" {
		p, err := reg.CreateSTT(cfg.Providers.STT)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("unknown stt provider — skipping", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", name, err)
		} else {
			ps.STT = wrapSTT(p, cfg.Providers.STT, reg)
			slog.Info("provider created", "kind", "stt", "name", name)
		}
	}

	if name := cfg.Providers.TTS.Name; name != "" {
		p, err := reg.CreateTTS(cfg.Providers.TTS)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("unknown tts provider — skipping", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", name, err)
		} else {
			ps.TTS = wrapTTS(p, cfg.Providers.TTS, reg)
			slog.Info("provider created", "kind", "tts", "name", name)
		}
	}

	if name := cfg.Providers.Search.Name; name != "" {
		p, err := reg.CreateSearch(cfg.Providers.Search)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("unknown search provider — skipping", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create search provider %q: %w", name, err)
		} else {
			ps.Search = p
			slog.Info("provider created", "kind", "search", "name", name)
		}
	}

	return ps, nil
}

// wrapLLM chains configured fallback backends behind the primary. Fallbacks
// that fail to construct are skipped so one bad entry does not take the
// whole provider down.
func wrapLLM(primary llm.Provider, entry config.ProviderEntry, reg *config.Registry) llm.Provider {
	if len(entry.Fallbacks) == 0 {
		return primary
	}
	chain := resilience.NewLLM(entry.Name, primary)
	for _, fb := range entry.Fallbacks {
		p, err := reg.CreateLLM(fb)
		if err != nil {
			slog.Warn("skipping llm fallback", "name", fb.Name, "err", err)
			continue
		}
		chain.Add(fb.Name, p)
		slog.Info("fallback registered", "kind", "llm", "name", fb.Name)
	}
	return chain
}

func wrapSTT(primary stt.Provider, entry config.ProviderEntry, reg *config.Registry) stt.Provider {
	if len(entry.Fallbacks) == 0 {
		return primary
	}
	chain := resilience.NewSTT(entry.Name, primary)
	for _, fb := range entry.Fallbacks {
		p, err := reg.CreateSTT(fb)
		if err != nil {
			slog.Warn("skipping stt fallback", "name", fb.Name, "err", err)
			continue
		}
		chain.Add(fb.Name, p)
		slog.Info("fallback registered", "kind", "stt", "name", fb.Name)
	}
	return chain
}

func wrapTTS(primary tts.Provider, entry config.ProviderEntry, reg *config.Registry) tts.Provider {
	if len(entry.Fallbacks) == 0 {
		return primary
	}
	chain := resilience.NewTTS(entry.Name, primary)
	for _, fb := range entry.Fallbacks {
		p, err := reg.CreateTTS(fb)
		if err != nil {
			slog.Warn("skipping tts fallback", "name", fb.Name, "err", err)
			continue
		}
		chain.Add(fb.Name, p)
		slog.Info("fallback registered", "kind", "tts", "name", fb.Name)
	}
	return chain
}

// ── HTTP server ───────────────────────────────────────────────────────────────

// startHTTPServer serves /healthz, /readyz, /statusz and /metrics. Returns
// nil when no listen address is configured.
func startHTTPServer(cfg *config.Config, application *app.App) *http.Server {
	addr := cfg.Server.ListenAddr
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	application.Health().Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "err", err)
		}
	}()
	return srv
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        voicewire — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("Search", cfg.Providers.Search.Name, "")
	fmt.Printf("║  Session backend : %-19s ║\n", sessionBackend(cfg))
	fmt.Printf("║  TTS workers     : %-19d ║\n", cfg.Synthesis.Workers)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

func sessionBackend(cfg *config.Config) string {
	if cfg.Session.Backend == "" {
		return string(config.SessionMemory)
	}
	return string(cfg.Session.Backend)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
