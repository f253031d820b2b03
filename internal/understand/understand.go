// Package understand implements the query-understanding stage of the voice
// pipeline: language detection, search-intent extraction, web context
// assembly, and language-enforced completion.
package understand

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/voicewire/voicewire/internal/assistant"
	"github.com/voicewire/voicewire/internal/observe"
	"github.com/voicewire/voicewire/pkg/provider/llm"
	"github.com/voicewire/voicewire/pkg/provider/search"
)

// Compile-time check that *LanguageProcessor satisfies [assistant.Processor].
var _ assistant.Processor = (*LanguageProcessor)(nil)

const (
	defaultMaxWebResults = 3

	// Completion parameters for the main reply.
	replyTemperature = 0.7
	replyMaxTokens   = 4096

	// Completion parameters for the intent-extraction call. Low temperature
	// keeps the JSON output stable.
	intentTemperature = 0.1
	intentMaxTokens   = 150
)

// searchIntent is the JSON shape returned by the intent-extraction call.
type searchIntent struct {
	OriginalQuery  string   `json:"original_query"`
	Intent         string   `json:"intent"`
	CleanedQuery   string   `json:"cleaned_query"`
	SearchKeywords []string `json:"search_keywords"`
}

// LanguageProcessor answers user queries through an LLM, optionally grounded
// in live web search results, with replies held to the language of the
// incoming query.
//
// Safe for concurrent use; the processor carries no per-query state.
type LanguageProcessor struct {
	llm      llm.Provider
	searcher search.Provider // may be nil: no web context

	responseLanguage string
	allowMixed       bool
	maxWebResults    int

	metrics *observe.Metrics
	log     *slog.Logger
}

// Option configures a [LanguageProcessor] during construction.
type Option func(*LanguageProcessor)

// WithSearcher enables web-context assembly through the given search
// provider. Without it queries are answered from model knowledge alone.
func WithSearcher(s search.Provider) Option {
	return func(p *LanguageProcessor) { p.searcher = s }
}

// WithResponseLanguage pins the reply language instead of detecting it from
// each query. The default is [LanguageAuto].
func WithResponseLanguage(language string) Option {
	return func(p *LanguageProcessor) {
		if language != "" {
			p.responseLanguage = language
		}
	}
}

// WithAllowMixed controls whether Hindi replies may carry common English
// words. The default is true; disabling it turns on the pure-Hindi
// correction round-trip.
func WithAllowMixed(allow bool) Option {
	return func(p *LanguageProcessor) { p.allowMixed = allow }
}

// WithMaxWebResults caps how many search results feed the web context.
// The default is 3.
func WithMaxWebResults(n int) Option {
	return func(p *LanguageProcessor) {
		if n > 0 {
			p.maxWebResults = n
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *LanguageProcessor) { p.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(p *LanguageProcessor) {
		if l != nil {
			p.log = l
		}
	}
}

// New creates a LanguageProcessor backed by the given LLM provider.
func New(provider llm.Provider, opts ...Option) (*LanguageProcessor, error) {
	if provider == nil {
		return nil, errors.New("understand: llm provider must not be nil")
	}

	p := &LanguageProcessor{
		llm:              provider,
		responseLanguage: LanguageAuto,
		allowMixed:       true,
		maxWebResults:    defaultMaxWebResults,
		metrics:          observe.DefaultMetrics(),
		log:              slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// ProcessQuery answers a single query. The returned reply always carries the
// resolved language, including on error, so callers can phrase failure
// messages to match the user.
func (p *LanguageProcessor) ProcessQuery(ctx context.Context, input string, convContext map[string]string) (assistant.Reply, error) {
	language := p.responseLanguage
	if language == LanguageAuto {
		language = DetectLanguage(input)
	}

	webContext := p.webContext(ctx, input)

	req := llm.CompletionRequest{
		SystemPrompt: systemPrompt(language, p.allowMixed),
		Messages: []llm.Message{
			{Role: "user", Content: formatInput(input, convContext, language, p.allowMixed, webContext)},
		},
		Temperature: replyTemperature,
		MaxTokens:   replyMaxTokens,
	}

	resp, err := p.complete(ctx, req)
	if err != nil {
		return assistant.Reply{Language: language}, fmt.Errorf("understand: complete query: %w", err)
	}

	text := p.enforceLanguage(ctx, strings.TrimSpace(resp.Content), language, input, webContext)

	return assistant.Reply{Text: text, Language: language}, nil
}

// enforceLanguage checks that a reply matches the resolved language and runs
// at most one correction round-trip when it does not. Correction failures
// fall back to the original reply rather than failing the query.
func (p *LanguageProcessor) enforceLanguage(ctx context.Context, text, language, input, webContext string) string {
	var system string
	switch {
	case language == LanguageHindi && !p.allowMixed && !containsDevanagari(text):
		system = hindiEnforcementSystem
	case language == LanguageHinglish && !isMixedScript(text):
		system = hinglishEnforcementSystem
	default:
		return text
	}

	resp, err := p.complete(ctx, llm.CompletionRequest{
		SystemPrompt: system,
		Messages: []llm.Message{
			{Role: "user", Content: correctionPrompt(language, input, webContext)},
		},
		Temperature: replyTemperature,
		MaxTokens:   replyMaxTokens,
	})
	if err != nil {
		p.log.Warn("language correction failed, keeping original reply", "language", language, "error", err)
		return text
	}
	return strings.TrimSpace(resp.Content)
}

// searchQuery rewrites the raw input into a search-engine-friendly query via
// a JSON-mode LLM call. Any failure falls back to the raw input.
func (p *LanguageProcessor) searchQuery(ctx context.Context, input string) string {
	resp, err := p.complete(ctx, llm.CompletionRequest{
		SystemPrompt: intentSystemPrompt,
		Messages:     []llm.Message{{Role: "user", Content: input}},
		Temperature:  intentTemperature,
		MaxTokens:    intentMaxTokens,
		JSONMode:     true,
	})
	if err != nil {
		p.log.Warn("intent extraction failed, using raw query", "error", err)
		return input
	}

	var intent searchIntent
	if err := json.Unmarshal([]byte(resp.Content), &intent); err != nil {
		p.log.Warn("intent extraction returned invalid JSON, using raw query", "error", err)
		return input
	}
	if cleaned := strings.TrimSpace(intent.CleanedQuery); cleaned != "" {
		return cleaned
	}
	return input
}

// webContext assembles the real-time web context block for a query. Every
// collaborator failure degrades to an empty block; web context is an
// enrichment, never a dependency.
func (p *LanguageProcessor) webContext(ctx context.Context, input string) string {
	if p.searcher == nil {
		return ""
	}

	query := p.searchQuery(ctx, input)
	results, err := p.searcher.Search(ctx, query, p.maxWebResults)
	if err != nil {
		p.metrics.RecordProviderError(ctx, "search", "search")
		p.log.Warn("web search failed, answering without web context", "error", err)
		return ""
	}
	p.metrics.RecordProviderRequest(ctx, "search", "search", "ok")
	if len(results) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n\n=== REAL-TIME WEB CONTEXT ===\n")
	fmt.Fprintf(&b, "[Retrieved current information for: %s]\n\n", input)
	for i, r := range results {
		if i >= p.maxWebResults {
			break
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, r.Title)
		if r.Text != "" {
			fmt.Fprintf(&b, "   %s\n", r.Text)
		}
		for _, h := range r.Highlights {
			fmt.Fprintf(&b, "   - %s\n", h)
		}
		if r.URL != "" {
			fmt.Fprintf(&b, "   [Source: %s]\n", r.URL)
		}
	}
	b.WriteString("\n[Use this current information to answer the user's question directly and confidently]\n")

	return b.String()
}

// complete runs one LLM call with latency and error accounting.
func (p *LanguageProcessor) complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	start := time.Now()
	resp, err := p.llm.Complete(ctx, req)
	p.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		p.metrics.RecordProviderError(ctx, "llm", "complete")
		return nil, err
	}
	p.metrics.RecordProviderRequest(ctx, "llm", "complete", "ok")
	return resp, nil
}
