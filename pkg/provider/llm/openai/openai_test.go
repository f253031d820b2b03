package openai

import (
	"testing"

	"github.com/voicewire/voicewire/pkg/provider/llm"
)

// TestConvertMessage_System checks that system role is converted correctly.
func TestConvertMessage_System(t *testing.T) {
	param, err := convertMessage(llm.Message{Role: "system", Content: "You are helpful."})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if param.OfSystem == nil {
		t.Fatal("expected OfSystem to be set")
	}
}

// TestConvertMessage_User checks that user role is converted correctly.
func TestConvertMessage_User(t *testing.T) {
	param, err := convertMessage(llm.Message{Role: "user", Content: "Hello!"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if param.OfUser == nil {
		t.Fatal("expected OfUser to be set")
	}
}

// TestConvertMessage_Assistant checks that assistant role is converted.
func TestConvertMessage_Assistant(t *testing.T) {
	param, err := convertMessage(llm.Message{Role: "assistant", Content: "Hi there!"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if param.OfAssistant == nil {
		t.Fatal("expected OfAssistant to be set")
	}
}

// TestConvertMessage_UnknownRole checks that unknown roles return an error.
func TestConvertMessage_UnknownRole(t *testing.T) {
	_, err := convertMessage(llm.Message{Role: "tool", Content: "result"})
	if err == nil {
		t.Fatal("expected error for unsupported role, got nil")
	}
}

// TestBuildParams_JSONMode checks that JSON mode sets the response format.
func TestBuildParams_JSONMode(t *testing.T) {
	p := &Provider{model: "llama-3.3-70b-versatile"}
	params, err := p.buildParams(llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "Reply in JSON."}},
		JSONMode: true,
	})
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	if params.ResponseFormat.OfJSONObject == nil {
		t.Fatal("expected JSON object response format")
	}
}

// TestBuildParams_SystemPromptFirst checks that the system prompt is the
// leading message.
func TestBuildParams_SystemPromptFirst(t *testing.T) {
	p := &Provider{model: "llama-3.3-70b-versatile"}
	params, err := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "Be brief.",
		Messages:     []llm.Message{{Role: "user", Content: "Hi"}},
	})
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(params.Messages))
	}
	if params.Messages[0].OfSystem == nil {
		t.Fatal("expected first message to be the system prompt")
	}
}

// TestBuildParams_NoMessages checks that an empty request is rejected.
func TestBuildParams_NoMessages(t *testing.T) {
	p := &Provider{model: "llama-3.3-70b-versatile"}
	if _, err := p.buildParams(llm.CompletionRequest{}); err == nil {
		t.Fatal("expected error for request without messages")
	}
}

// TestNew_MissingAPIKey ensures constructor rejects an empty API key.
func TestNew_MissingAPIKey(t *testing.T) {
	_, err := New("", "llama-3.3-70b-versatile")
	if err == nil {
		t.Fatal("expected error for empty API key")
	}
}

// TestNew_MissingModel ensures constructor rejects an empty model.
func TestNew_MissingModel(t *testing.T) {
	_, err := New("gsk-test", "")
	if err == nil {
		t.Fatal("expected error for empty model")
	}
}

// TestNew_Options checks that optional settings are accepted without error.
func TestNew_Options(t *testing.T) {
	_, err := New("gsk-test", "llama-3.3-70b-versatile",
		WithBaseURL("https://api.groq.com/openai/v1"),
	)
	if err != nil {
		t.Fatalf("unexpected error with valid options: %v", err)
	}
}
