package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/AckPipe/internal/clock"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"
)

// Tool is a function the model may call during a run.
type Tool interface {
	Name() string
	GetToolDefinition() openai.ChatCompletionToolParam
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// ToolRegistry holds the tools offered to the model.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolRegistry creates a registry holding tools.
func NewToolRegistry(tools ...Tool) *ToolRegistry {
	r := &ToolRegistry{tools: make(map[string]Tool)}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// NewDefaultToolRegistry creates a registry with the built-in tools.
func NewDefaultToolRegistry(clk clock.Clock) *ToolRegistry {
	return NewToolRegistry(NewCurrentTimeTool(clk), NewEchoTextTool())
}

// Register adds t, replacing any tool with the same name.
func (r *ToolRegistry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns the tool called name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns the tool definitions sorted by name.
func (r *ToolRegistry) Definitions() []openai.ChatCompletionToolParam {
	r.mu.RLock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)

	defs := make([]openai.ChatCompletionToolParam, 0, len(names))
	for _, name := range names {
		if t, ok := r.Get(name); ok {
			defs = append(defs, t.GetToolDefinition())
		}
	}
	return defs
}

// CurrentTimeTool reports the current time in a requested time zone.
type CurrentTimeTool struct {
	clock clock.Clock
}

// NewCurrentTimeTool creates the current_time tool.
func NewCurrentTimeTool(clk clock.Clock) *CurrentTimeTool {
	if clk == nil {
		clk = clock.Real()
	}
	return &CurrentTimeTool{clock: clk}
}

func (t *CurrentTimeTool) Name() string { return "current_time" }

func (t *CurrentTimeTool) GetToolDefinition() openai.ChatCompletionToolParam {
	return openai.ChatCompletionToolParam{
		Type: "function",
		Function: shared.FunctionDefinitionParam{
			Name:        t.Name(),
			Description: openai.String("Get the current date and time, optionally in a specific IANA time zone."),
			Parameters: shared.FunctionParameters{
				"type": "object",
				"properties": map[string]interface{}{
					"timezone": map[string]interface{}{
						"type":        "string",
						"description": "IANA time zone name such as Europe/Berlin. Defaults to UTC.",
					},
				},
			},
		},
	}
}

func (t *CurrentTimeTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Timezone string `json:"timezone"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &params); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
	}
	loc := time.UTC
	if tz := strings.TrimSpace(params.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return "", fmt.Errorf("unknown time zone %q", tz)
		}
		loc = l
	}
	return t.clock.Now().In(loc).Format(time.RFC1123), nil
}

// EchoTextTool returns its input, optionally upper-cased.
type EchoTextTool struct{}

// NewEchoTextTool creates the echo_text tool.
func NewEchoTextTool() *EchoTextTool { return &EchoTextTool{} }

func (t *EchoTextTool) Name() string { return "echo_text" }

func (t *EchoTextTool) GetToolDefinition() openai.ChatCompletionToolParam {
	return openai.ChatCompletionToolParam{
		Type: "function",
		Function: shared.FunctionDefinitionParam{
			Name:        t.Name(),
			Description: openai.String("Repeat a piece of text back verbatim."),
			Parameters: shared.FunctionParameters{
				"type": "object",
				"properties": map[string]interface{}{
					"text": map[string]interface{}{
						"type":        "string",
						"description": "The text to echo",
					},
					"uppercase": map[string]interface{}{
						"type":        "boolean",
						"description": "Return the text in upper case",
					},
				},
				"required": []string{"text"},
			},
		},
	}
}

func (t *EchoTextTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Text      string `json:"text"`
		Uppercase bool   `json:"uppercase"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if params.Text == "" {
		return "", fmt.Errorf("text is required")
	}
	if params.Uppercase {
		return strings.ToUpper(params.Text), nil
	}
	return params.Text, nil
}
