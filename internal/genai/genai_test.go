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

var _ ClientInterface = (*Client)(nil)

func TestGeneratePrompt_Success(t *testing.T) {
	mockResp := openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: "Hello World"}},
		},
	}
	client := &Client{chat: &mockChatService{resp: mockResp}, model: "test-model"}
	out, err := client.GeneratePromptWithContext(context.Background(), "system prompt", "user prompt")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "Hello World" {
		t.Errorf("expected 'Hello World', got '%s'", out)
	}
}

func TestGeneratePrompt_ServiceError(t *testing.T) {
	client := &Client{chat: &mockChatService{err: errors.New("service failure")}}
	_, err := client.GeneratePromptWithContext(context.Background(), "sys", "usr")
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestGeneratePrompt_NoChoices(t *testing.T) {
	mockResp := openai.ChatCompletion{Choices: []openai.ChatCompletionChoice{}}
	client := &Client{chat: &mockChatService{resp: mockResp}}
	_, err := client.GeneratePromptWithContext(context.Background(), "sys", "usr")
	if err != ErrNoChoicesReturned {
		t.Errorf("expected no choices returned error, got %v", err)
	}
}

func TestGenerateWithTools_ParsesToolCalls(t *testing.T) {
	mockResp := openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Content: "",
				ToolCalls: []openai.ChatCompletionMessageToolCall{
					{ID: "call_1", Function: openai.ChatCompletionMessageToolCallFunction{Name: "current_time", Arguments: `{"timezone":"UTC"}`}},
					{ID: "call_2", Function: openai.ChatCompletionMessageToolCallFunction{Name: "echo_text", Arguments: `not json`}},
				},
			},
		}},
	}
	svc := &mockChatService{resp: mockResp}
	client := &Client{chat: svc, model: "test-model", maxTokens: 50}
	tools := []openai.ChatCompletionToolParam{{Type: "function"}}

	resp, err := client.GenerateWithTools(context.Background(), []openai.ChatCompletionMessageParamUnion{openai.UserMessage("hi")}, tools)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.ToolCalls) != 2 {
		t.Fatalf("expected 2 tool calls, got %d", len(resp.ToolCalls))
	}
	if resp.ToolCalls[0].Function.Name != "current_time" || string(resp.ToolCalls[0].Function.Arguments) != `{"timezone":"UTC"}` {
		t.Errorf("unexpected first tool call %+v", resp.ToolCalls[0])
	}
	if string(resp.ToolCalls[1].Function.Arguments) != "{}" {
		t.Errorf("invalid arguments should become {}, got %s", resp.ToolCalls[1].Function.Arguments)
	}
	if len(svc.params) != 1 || len(svc.params[0].Tools) != 1 {
		t.Errorf("expected tools forwarded to the request")
	}
}

func TestGenerateWithTools_Error(t *testing.T) {
	client := &Client{chat: &mockChatService{err: errors.New("rate limited")}}
	if _, err := client.GenerateWithTools(context.Background(), nil, nil); err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("expected wrapped error, got %v", err)
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
	cli, err := NewClient(WithAPIKey("test-key"), WithModel("gpt-test"))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli == nil || cli.model != "gpt-test" {
		t.Errorf("expected configured client, got %+v", cli)
	}
}
