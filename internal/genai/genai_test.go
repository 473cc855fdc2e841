package genai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openai/openai-go"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp   openai.ChatCompletion
	err    error
	params []openai.ChatCompletionNewParams
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	m.params = append(m.params, params)
	return m.resp, m.err
}

func reply(content string) openai.ChatCompletion {
	return openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func newTestClient(m *mockChatService) *Client {
	return &Client{chat: m, model: DefaultModel, temperature: DefaultTemperature}
}

func TestClassify_Success(t *testing.T) {
	mock := &mockChatService{resp: reply("  **Theft**.\nExplanation follows")}
	client := newTestClient(mock)

	out, err := client.Classify(context.Background(), "someone took my bike")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "Theft" {
		t.Errorf("expected 'Theft', got '%s'", out)
	}
	if len(mock.params) != 1 || len(mock.params[0].Messages) != 2 {
		t.Fatalf("expected one request with system and user messages, got %+v", mock.params)
	}
	if mock.params[0].Model != DefaultModel {
		t.Errorf("expected model %s, got %s", DefaultModel, mock.params[0].Model)
	}
}

func TestClassify_EmptyLabel(t *testing.T) {
	client := newTestClient(&mockChatService{resp: reply("  ")})
	if _, err := client.Classify(context.Background(), "x"); err == nil {
		t.Error("expected error for empty label")
	}
}

func TestClassify_ServiceError(t *testing.T) {
	client := newTestClient(&mockChatService{err: errors.New("service failure")})
	_, err := client.Classify(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestLegalBasis_NoChoices(t *testing.T) {
	client := newTestClient(&mockChatService{resp: openai.ChatCompletion{Choices: []openai.ChatCompletionChoice{}}})
	_, err := client.LegalBasis(context.Background(), "Theft", "bike stolen")
	if !errors.Is(err, ErrNoChoicesReturned) {
		t.Errorf("expected no choices returned error, got %v", err)
	}
}

func TestAnswer_Success(t *testing.T) {
	client := newTestClient(&mockChatService{resp: reply("You can file an RTI with /rti.\n")})
	out, err := client.Answer(context.Background(), "how do I get records?")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "You can file an RTI with /rti." {
		t.Errorf("unexpected answer %q", out)
	}
}

func TestNewClient_NoKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewClient()
	if err == nil {
		t.Error("expected error when API key not provided, got nil")
	}
}

func TestNewClient_WithKey(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"), WithModel("gpt-4o"), WithTemperature(0.5))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli.model != "gpt-4o" || cli.temperature != 0.5 {
		t.Errorf("options not applied: model=%s temperature=%v", cli.model, cli.temperature)
	}
}
