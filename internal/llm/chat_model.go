// Package llm talks to an OpenAI-compatible chat completion endpoint and
// turns resume text into loosely structured candidate fields.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"resume-intake/internal/tracing"
)

const (
	DefaultBaseURL = "https://api.groq.com/openai/v1"
	DefaultModel   = "qwen/qwen3-32b"
)

// ErrMissingAPIKey is a configuration error raised at construction.
var ErrMissingAPIKey = errors.New("llm api key is not configured")

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float32      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// ChatModel is an eino chat model backed by an OpenAI-compatible
// /chat/completions endpoint. Only Generate is supported.
type ChatModel struct {
	apiKey     string
	modelName  string
	endpoint   string
	httpClient *http.Client
	log        zerolog.Logger
}

var _ model.BaseChatModel = (*ChatModel)(nil)

// ChatModelOption configures a ChatModel.
type ChatModelOption func(*ChatModel)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) ChatModelOption {
	return func(m *ChatModel) {
		m.httpClient = c
	}
}

// WithModelLogger sets the model logger.
func WithModelLogger(l zerolog.Logger) ChatModelOption {
	return func(m *ChatModel) {
		m.log = l
	}
}

// NewChatModel returns a client for baseURL (for example
// https://api.groq.com/openai/v1). Empty model and base URL fall back to the
// defaults; an empty API key fails.
func NewChatModel(apiKey, modelName, baseURL string, opts ...ChatModelOption) (*ChatModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if strings.TrimSpace(modelName) == "" {
		modelName = DefaultModel
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}

	m := &ChatModel{
		apiKey:     apiKey,
		modelName:  modelName,
		endpoint:   strings.TrimRight(baseURL, "/") + "/chat/completions",
		httpClient: &http.Client{},
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Generate sends messages and returns the first choice. Temperature, max
// tokens and model come from the eino common options.
func (m *ChatModel) Generate(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	options := model.GetCommonOptions(&model.Options{Model: &m.modelName}, opts...)

	req := chatRequest{
		Model:       m.modelName,
		Messages:    make([]chatMessage, 0, len(messages)),
		Temperature: options.Temperature,
		MaxTokens:   options.MaxTokens,
	}
	if options.Model != nil && *options.Model != "" {
		req.Model = *options.Model
	}
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		req.Messages = append(req.Messages, chatMessage{Role: string(msg.Role), Content: msg.Content})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send chat request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read chat response: %w", err)
	}
	m.log.Debug().
		Str("model", req.Model).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("chat completion")

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chat completion failed with status %s: %s", resp.Status, tracing.TruncateString(string(respBody), tracing.DefaultMaxLength))
	}

	var out chatResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("chat completion error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}

	choice := out.Choices[0].Message
	role := schema.RoleType(choice.Role)
	if role == "" {
		role = schema.Assistant
	}
	return &schema.Message{Role: role, Content: choice.Content}, nil
}

// Stream is not supported by this client.
func (m *ChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming is not supported")
}
