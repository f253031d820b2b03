package understand

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/voicewire/voicewire/pkg/provider/llm"
	llmmock "github.com/voicewire/voicewire/pkg/provider/llm/mock"
	"github.com/voicewire/voicewire/pkg/provider/search"
	searchmock "github.com/voicewire/voicewire/pkg/provider/search/mock"
)

func TestNew_RequiresProvider(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error for nil provider")
	}
}

func TestProcessQuery_WebGroundedEnglish(t *testing.T) {
	llmp := &llmmock.Provider{
		CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			if req.JSONMode {
				return &llm.CompletionResponse{Content: `{"cleaned_query": "current home loan interest rates"}`}, nil
			}
			return &llm.CompletionResponse{Content: "The rate is 8%."}, nil
		},
	}
	searcher := &searchmock.Provider{
		SearchResults: []search.Result{
			{Title: "Loan rates 2026", URL: "https://example.com/rates", Text: "Rates start at 8%.", Highlights: []string{"8% onwards"}},
		},
	}

	p, err := New(llmp, WithSearcher(searcher))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	convContext := map[string]string{"last_query": "hello"}
	reply, err := p.ProcessQuery(context.Background(), "What is the interest rate?", convContext)
	if err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}
	if reply.Text != "The rate is 8%." {
		t.Errorf("reply text = %q", reply.Text)
	}
	if reply.Language != LanguageEnglish {
		t.Errorf("language = %q, want english", reply.Language)
	}

	// The search ran on the extracted intent, not the raw query.
	if searcher.CallCount() != 1 {
		t.Fatalf("search called %d times, want 1", searcher.CallCount())
	}
	call := searcher.SearchCalls[0]
	if call.Query != "current home loan interest rates" {
		t.Errorf("search query = %q", call.Query)
	}
	if call.Limit != defaultMaxWebResults {
		t.Errorf("search limit = %d, want %d", call.Limit, defaultMaxWebResults)
	}

	// Two LLM calls: intent extraction, then the grounded completion.
	if llmp.CallCount() != 2 {
		t.Fatalf("llm called %d times, want 2", llmp.CallCount())
	}
	final := llmp.CompleteCalls[1].Req
	userMsg := final.Messages[0].Content
	if !strings.Contains(userMsg, "=== REAL-TIME WEB CONTEXT ===") {
		t.Error("user message missing web context block")
	}
	if !strings.Contains(userMsg, "Rates start at 8%.") {
		t.Error("user message missing search result text")
	}
	if !strings.Contains(userMsg, "last_query: hello") {
		t.Error("user message missing conversation context")
	}
	if !strings.Contains(final.SystemPrompt, "Always respond in English only") {
		t.Error("system prompt missing language instruction")
	}
}

func TestProcessQuery_IntentExtractionFailureUsesRawQuery(t *testing.T) {
	llmp := &llmmock.Provider{
		CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			if req.JSONMode {
				return nil, errors.New("intent model down")
			}
			return &llm.CompletionResponse{Content: "answer"}, nil
		},
	}
	searcher := &searchmock.Provider{}

	p, err := New(llmp, WithSearcher(searcher))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := p.ProcessQuery(context.Background(), "raw query text", nil); err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}
	if searcher.SearchCalls[0].Query != "raw query text" {
		t.Errorf("search query = %q, want raw query text", searcher.SearchCalls[0].Query)
	}
}

func TestProcessQuery_SearchFailureDegradesToNoContext(t *testing.T) {
	llmp := &llmmock.Provider{
		CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			if req.JSONMode {
				return &llm.CompletionResponse{Content: `{"cleaned_query": "q"}`}, nil
			}
			return &llm.CompletionResponse{Content: "best effort answer"}, nil
		},
	}
	searcher := &searchmock.Provider{SearchErr: errors.New("search down")}

	p, err := New(llmp, WithSearcher(searcher))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	reply, err := p.ProcessQuery(context.Background(), "anything", nil)
	if err != nil {
		t.Fatalf("ProcessQuery failed despite degraded search: %v", err)
	}
	if reply.Text != "best effort answer" {
		t.Errorf("reply = %q", reply.Text)
	}

	final := llmp.CompleteCalls[llmp.CallCount()-1].Req
	if strings.Contains(final.Messages[0].Content, "REAL-TIME WEB CONTEXT") {
		t.Error("web context block present after search failure")
	}
}

func TestProcessQuery_NoSearcherSkipsIntentCall(t *testing.T) {
	llmp := &llmmock.Provider{CompleteResult: &llm.CompletionResponse{Content: "plain answer"}}

	p, err := New(llmp)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	reply, err := p.ProcessQuery(context.Background(), "hello", nil)
	if err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}
	if reply.Text != "plain answer" {
		t.Errorf("reply = %q", reply.Text)
	}
	if llmp.CallCount() != 1 {
		t.Errorf("llm called %d times, want 1", llmp.CallCount())
	}
}

func TestProcessQuery_LLMErrorCarriesDetectedLanguage(t *testing.T) {
	llmp := &llmmock.Provider{CompleteErr: errors.New("model unavailable")}

	p, err := New(llmp)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	reply, err := p.ProcessQuery(context.Background(), "ब्याज दर क्या है", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if reply.Language != LanguageHindi {
		t.Errorf("language = %q, want hindi", reply.Language)
	}
}

func TestProcessQuery_HindiCorrectionRoundTrip(t *testing.T) {
	var calls atomic.Int32
	llmp := &llmmock.Provider{
		CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			if calls.Add(1) == 1 {
				// Wrong language on the first pass.
				return &llm.CompletionResponse{Content: "The rate is 8%."}, nil
			}
			return &llm.CompletionResponse{Content: "दर 8% है।"}, nil
		},
	}

	p, err := New(llmp, WithAllowMixed(false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	reply, err := p.ProcessQuery(context.Background(), "ब्याज दर क्या है", nil)
	if err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}
	if reply.Text != "दर 8% है।" {
		t.Errorf("reply = %q, want corrected Hindi", reply.Text)
	}
	if llmp.CallCount() != 2 {
		t.Fatalf("llm called %d times, want 2", llmp.CallCount())
	}
	correction := llmp.CompleteCalls[1].Req
	if correction.SystemPrompt != hindiEnforcementSystem {
		t.Errorf("correction system prompt = %q", correction.SystemPrompt)
	}
	if !strings.Contains(correction.Messages[0].Content, "ब्याज दर क्या है") {
		t.Error("correction prompt missing original query")
	}
}

func TestProcessQuery_HinglishCorrectionRoundTrip(t *testing.T) {
	var calls atomic.Int32
	llmp := &llmmock.Provider{
		CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			if calls.Add(1) == 1 {
				return &llm.CompletionResponse{Content: "Your loan is approved."}, nil
			}
			return &llm.CompletionResponse{Content: "आपका loan approve हो गया।"}, nil
		},
	}

	p, err := New(llmp)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	reply, err := p.ProcessQuery(context.Background(), "mera loan approve hua kya batao", nil)
	if err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}
	if reply.Language != LanguageHinglish {
		t.Fatalf("language = %q, want hinglish", reply.Language)
	}
	if reply.Text != "आपका loan approve हो गया।" {
		t.Errorf("reply = %q, want corrected Hinglish", reply.Text)
	}
}

func TestProcessQuery_CorrectionFailureKeepsOriginalReply(t *testing.T) {
	var calls atomic.Int32
	llmp := &llmmock.Provider{
		CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			if calls.Add(1) == 1 {
				return &llm.CompletionResponse{Content: "English only reply"}, nil
			}
			return nil, errors.New("correction failed")
		},
	}

	p, err := New(llmp, WithAllowMixed(false), WithResponseLanguage(LanguageHindi))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	reply, err := p.ProcessQuery(context.Background(), "whatever", nil)
	if err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}
	if reply.Text != "English only reply" {
		t.Errorf("reply = %q, want original kept", reply.Text)
	}
}
