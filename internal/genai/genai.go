// Package genai provides tool-calling chat completions using the OpenAI API.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Default generation settings.
const (
	DefaultModel       = string(openai.ChatModelGPT4oMini)
	DefaultTemperature = 0.2
	DefaultMaxTokens   = 1024
)

// ErrNoChoicesReturned is returned when the API answers without a choice.
var ErrNoChoicesReturned = errors.New("no choices returned")

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// completionsAdapter adapts the SDK's completion service to chatService.
type completionsAdapter struct {
	svc openai.ChatCompletionService
}

func (a *completionsAdapter) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := a.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// ClientInterface is what the agent runner needs from a model client.
type ClientInterface interface {
	GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	GenerateWithTools(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*ToolCallResponse, error)
}

// FunctionCall is the function part of a tool call.
type FunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// ToolCallResponse is a completion that may carry tool calls.
type ToolCallResponse struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int64
	DebugMode   bool
	StateDir    string
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

// WithMaxTokens caps completion tokens.
func WithMaxTokens(n int64) Option {
	return func(o *Opts) { o.MaxTokens = n }
}

// WithDebugMode writes every request and response under <stateDir>/debug.
func WithDebugMode(enabled bool) Option {
	return func(o *Opts) { o.DebugMode = enabled }
}

// WithStateDir sets the directory debug logs are written to.
func WithStateDir(dir string) Option {
	return func(o *Opts) { o.StateDir = dir }
}

// Client wraps the OpenAI ChatCompletion service.
type Client struct {
	chat        chatService
	model       string
	temperature float64
	maxTokens   int64
	debugMode   bool
	stateDir    string
}

// NewClient initializes a GenAI client. The API key falls back to OPENAI_API_KEY.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Model:       DefaultModel,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return &Client{
		chat:        &completionsAdapter{svc: cli.Chat.Completions},
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		debugMode:   cfg.DebugMode,
		stateDir:    cfg.StateDir,
	}, nil
}

func (c *Client) params(messages []openai.ChatCompletionMessageParamUnion) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(c.maxTokens)
	}
	return params
}

// GeneratePromptWithContext answers a single system + user prompt.
func (c *Client) GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params := c.params([]openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt),
		openai.UserMessage(userPrompt),
	})
	resp, err := c.chat.Create(ctx, params)
	c.writeDebugLog("GeneratePromptWithContext", params, resp, err)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateWithTools runs one completion with the given tools available.
func (c *Client) GenerateWithTools(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*ToolCallResponse, error) {
	params := c.params(messages)
	if len(tools) > 0 {
		params.Tools = tools
	}
	resp, err := c.chat.Create(ctx, params)
	c.writeDebugLog("GenerateWithTools", params, resp, err)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoChoicesReturned
	}

	msg := resp.Choices[0].Message
	out := &ToolCallResponse{Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		args := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(args) {
			args = json.RawMessage("{}")
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: FunctionCall{
				Name:      tc.Function.Name,
				Arguments: args,
			},
		})
	}
	slog.Debug("GenAI.GenerateWithTools: completion received", "model", c.model, "toolCalls", len(out.ToolCalls), "contentLength", len(out.Content))
	return out, nil
}

// writeDebugLog records one API exchange as a JSON file when debug mode is on.
func (c *Client) writeDebugLog(method string, params openai.ChatCompletionNewParams, resp openai.ChatCompletion, callErr error) {
	if !c.debugMode || c.stateDir == "" {
		return
	}
	debugDir := filepath.Join(c.stateDir, "debug")
	if err := os.MkdirAll(debugDir, 0o755); err != nil {
		slog.Warn("GenAI.writeDebugLog: failed to create debug dir", "dir", debugDir, "error", err)
		return
	}

	entry := map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"method":    method,
		"model":     c.model,
		"params":    params,
		"response":  resp,
	}
	if callErr != nil {
		entry["error"] = callErr.Error()
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.Warn("GenAI.writeDebugLog: marshal failed", "error", err)
		return
	}
	name := fmt.Sprintf("%s_%s.json", time.Now().UTC().Format("20060102T150405.000000000"), method)
	if err := os.WriteFile(filepath.Join(debugDir, name), data, 0o644); err != nil {
		slog.Warn("GenAI.writeDebugLog: write failed", "error", err)
	}
}
