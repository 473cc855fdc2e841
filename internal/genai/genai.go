// Package genai provides the AI-backed operations of CivicPipe using the
// OpenAI chat completions API: incident classification, legal-basis lookup,
// and general question answering.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ErrNoChoicesReturned is returned when the completion carries no choices.
var ErrNoChoicesReturned = errors.New("no choices returned")

// Default generation settings.
const (
	DefaultModel       = openai.ChatModelGPT4oMini
	DefaultTemperature = 0.2
)

const classifySystemPrompt = `You classify incident descriptions written by members of the public in India.
Respond with ONLY the complaint type, two to four words, no punctuation
(for example: Theft, Fraud, Harassment, Cyber Crime, Domestic Violence, Property Dispute).`

const legalBasisSystemPrompt = `You are a legal assistant for India. Given a complaint type and description,
list the applicable sections of the Bharatiya Nyaya Sanhita and other relevant
acts, one per line, each with a short explanation. Keep it under 800 characters.`

const assistantSystemPrompt = `You are CivicPipe, a legal information assistant for people in India.
Answer clearly and practically. Mention the /complaint, /rti and /traffic
commands when the user wants to file something. Keep responses under 2500 characters.`

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// completionsAdapter adapts the SDK completions service to chatService.
type completionsAdapter struct {
	svc *openai.ChatCompletionService
}

func (a completionsAdapter) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := a.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey      string
	Model       string
	Temperature float64
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temp float64) Option {
	return func(o *Opts) { o.Temperature = temp }
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	chat        chatService
	model       string
	temperature float64
}

// NewClient initializes a GenAI client. The API key falls back to OPENAI_API_KEY.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Model: DefaultModel, Temperature: DefaultTemperature}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	slog.Debug("GenAI client initialized", "model", cfg.Model, "temperature", cfg.Temperature)
	return &Client{chat: completionsAdapter{svc: &cli.Chat.Completions}, model: cfg.Model, temperature: cfg.Temperature}, nil
}

func (c *Client) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Model:       c.model,
		Temperature: openai.Float(c.temperature),
	}
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Classify returns a short complaint-type label for an incident description.
func (c *Client) Classify(ctx context.Context, description string) (string, error) {
	out, err := c.complete(ctx, classifySystemPrompt, fmt.Sprintf("Incident:\n%q", description))
	if err != nil {
		slog.Error("GenAI Classify failed", "error", err)
		return "", fmt.Errorf("failed to classify description: %w", err)
	}
	label := cleanLabel(out)
	if label == "" {
		return "", fmt.Errorf("failed to classify description: empty label")
	}
	slog.Debug("GenAI Classify succeeded", "label", label)
	return label, nil
}

// LegalBasis returns the statutory provisions applicable to a complaint.
func (c *Client) LegalBasis(ctx context.Context, category, description string) (string, error) {
	out, err := c.complete(ctx, legalBasisSystemPrompt, fmt.Sprintf("Complaint type: %s\nDescription: %s", category, description))
	if err != nil {
		slog.Error("GenAI LegalBasis failed", "error", err, "category", category)
		return "", fmt.Errorf("failed to determine legal basis: %w", err)
	}
	return out, nil
}

// Answer responds to a free-form question from a user outside any flow.
func (c *Client) Answer(ctx context.Context, question string) (string, error) {
	out, err := c.complete(ctx, assistantSystemPrompt, question)
	if err != nil {
		slog.Error("GenAI Answer failed", "error", err)
		return "", fmt.Errorf("failed to answer question: %w", err)
	}
	return out, nil
}

// cleanLabel keeps the first line of a model reply and strips decoration.
func cleanLabel(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.Trim(strings.TrimSpace(s), "*\"'.` ")
}
