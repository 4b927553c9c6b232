// Package agent runs one model conversation per inbound message and reports
// its progress through a feedback session.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/AckPipe/internal/clock"
	"github.com/BTreeMap/AckPipe/internal/feedback"
	"github.com/BTreeMap/AckPipe/internal/genai"
	"github.com/BTreeMap/AckPipe/internal/messaging"
	"github.com/BTreeMap/AckPipe/internal/models"
	"github.com/BTreeMap/AckPipe/internal/store"
	"github.com/BTreeMap/AckPipe/internal/typing"
	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"
)

const (
	// NoReplySentinel is the reply a model gives when it chooses not to answer.
	NoReplySentinel = "NO_REPLY"
	// DefaultMaxToolRounds bounds model round trips per run.
	DefaultMaxToolRounds = 5
	// ToolPhaseEnd marks a finished tool call.
	ToolPhaseEnd = "end"
	// DefaultSystemPrompt is used when no system prompt is configured.
	DefaultSystemPrompt = "You are a helpful assistant replying in a chat. Keep answers short. " +
		"Reply with exactly NO_REPLY if the message needs no answer."
	bookkeepingTimeout = 5 * time.Second
)

// ErrToolRoundsExceeded is returned when the model keeps calling tools.
var ErrToolRoundsExceeded = errors.New("tool round limit exceeded")

// Opts holds runner configuration.
type Opts struct {
	SystemPrompt  string
	MaxToolRounds int
	Feedback      feedback.Config
	TypingTTL     time.Duration
	Clock         clock.Clock
	Dispatch      feedback.Dispatcher
}

// Option configures a Runner.
type Option func(*Opts)

// WithSystemPrompt sets the system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(o *Opts) { o.SystemPrompt = prompt }
}

// WithMaxToolRounds bounds model round trips per run.
func WithMaxToolRounds(n int) Option {
	return func(o *Opts) { o.MaxToolRounds = n }
}

// WithFeedbackConfig sets the reaction and status configuration.
func WithFeedbackConfig(cfg feedback.Config) Option {
	return func(o *Opts) { o.Feedback = cfg }
}

// WithTypingTTL sets how long the typing indicator survives without progress.
func WithTypingTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.TypingTTL = ttl }
}

// WithClock injects the clock used by sessions, typing and tools.
func WithClock(clk clock.Clock) Option {
	return func(o *Opts) { o.Clock = clk }
}

// WithDispatcher overrides the per-run effect queue feedback and typing
// calls go through.
func WithDispatcher(d feedback.Dispatcher) Option {
	return func(o *Opts) { o.Dispatch = d }
}

// Runner consumes inbound messages and answers each in its own run.
type Runner struct {
	msg      messaging.Service
	ai       genai.ClientInterface
	dedup    store.DedupRepo
	sessions *feedback.Registry
	tools    *ToolRegistry
	cfg      Opts
	wg       sync.WaitGroup
}

// NewRunner creates a runner. dedup and tools may be nil.
func NewRunner(msg messaging.Service, ai genai.ClientInterface, dedup store.DedupRepo, sessions *feedback.Registry, tools *ToolRegistry, opts ...Option) *Runner {
	cfg := Opts{
		SystemPrompt:  DefaultSystemPrompt,
		MaxToolRounds: DefaultMaxToolRounds,
		Feedback:      feedback.DefaultConfig(),
		TypingTTL:     typing.DefaultTTL,
		Clock:         clock.Real(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = DefaultMaxToolRounds
	}
	if sessions == nil {
		sessions = feedback.NewRegistry()
	}
	if tools == nil {
		tools = NewToolRegistry()
	}
	return &Runner{msg: msg, ai: ai, dedup: dedup, sessions: sessions, tools: tools, cfg: cfg}
}

// Sessions returns the registry of in-flight sessions.
func (r *Runner) Sessions() *feedback.Registry {
	return r.sessions
}

// Run handles inbound messages until ctx is cancelled or the inbound channel
// closes, then waits for in-flight runs.
func (r *Runner) Run(ctx context.Context) error {
	inbound := r.msg.Inbound()
	defer r.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Runner.Run: context cancelled, waiting for in-flight runs")
			return nil
		case m, ok := <-inbound:
			if !ok {
				slog.Info("Runner.Run: inbound channel closed")
				return nil
			}
			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				if err := r.HandleMessage(ctx, m); err != nil {
					slog.Warn("Runner.Run: run failed", "chat", m.ChatID, "message", m.MessageID, "error", err)
				}
			}()
		}
	}
}

// IsNoReply reports whether a model reply means "do not answer".
func IsNoReply(reply string) bool {
	reply = strings.TrimSpace(reply)
	return reply == "" || reply == NoReplySentinel
}

// HandleMessage runs the model for one inbound message and drives its
// feedback session through the run.
func (r *Runner) HandleMessage(ctx context.Context, m models.InboundMessage) error {
	if r.dedup != nil {
		fresh, err := r.dedup.RecordInbound(ctx, m.ChatID, m.MessageID, m.SenderID)
		if err != nil {
			slog.Warn("Runner.HandleMessage: dedup record failed, processing anyway", "chat", m.ChatID, "message", m.MessageID, "error", err)
		} else if !fresh {
			slog.Info("Runner.HandleMessage: duplicate message skipped", "chat", m.ChatID, "message", m.MessageID)
			return nil
		}
	}

	runID := uuid.NewString()
	log := slog.With("run", runID, "chat", m.ChatID, "message", m.MessageID)

	var queue *feedback.EffectQueue
	dispatch := r.cfg.Dispatch
	if dispatch == nil {
		queue = feedback.NewEffectQueue()
		dispatch = queue.Dispatch
	}

	sess := feedback.New(m.ChatID, m.MessageID, r.cfg.Feedback, feedback.Deps{
		Reactions: r.msg,
		Messages:  r.msg,
		Clock:     r.cfg.Clock,
		Dispatch:  dispatch,
		RunID:     runID,
	})
	r.sessions.Add(sess)
	defer r.sessions.Remove(m.ChatID, m.MessageID)
	if queue != nil {
		// Drained before the session is dropped and before Run returns.
		defer queue.Wait()
	}

	tc := typing.New(m.ChatID, r.msg, r.cfg.TypingTTL, r.cfg.Clock, typing.WithDispatcher(dispatch))
	tc.Start()
	defer tc.Stop()
	sess.SetTypingController(tc)

	log.Info("Runner.HandleMessage: run started")
	sess.OnRunStart()

	reply, err := r.generate(ctx, sess, m)
	if err != nil {
		log.Error("Runner.HandleMessage: run failed", "error", err)
		sess.OnError()
		r.markProcessed(m, store.OutcomeError)
		return err
	}

	if IsNoReply(reply) {
		log.Info("Runner.HandleMessage: run finished without reply")
		sess.OnNoReply()
		r.markProcessed(m, store.OutcomeNoReply)
		return nil
	}

	if _, err := r.msg.PostMessage(ctx, m.ChatID, reply, m.MessageID); err != nil {
		log.Error("Runner.HandleMessage: reply delivery failed", "error", err)
		sess.OnError()
		r.markProcessed(m, store.OutcomeError)
		return fmt.Errorf("deliver reply: %w", err)
	}
	log.Info("Runner.HandleMessage: reply delivered", "replyLength", len(reply))
	sess.OnReplyDelivered()
	r.markProcessed(m, store.OutcomeReplied)
	return nil
}

// generate runs the model, executing requested tools until it answers.
func (r *Runner) generate(ctx context.Context, sess *feedback.Session, m models.InboundMessage) (string, error) {
	if r.ai == nil {
		return "", fmt.Errorf("no model client configured")
	}
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(r.cfg.SystemPrompt),
		openai.UserMessage(m.Body),
	}
	tools := r.tools.Definitions()

	for round := 0; round < r.cfg.MaxToolRounds; round++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		resp, err := r.ai.GenerateWithTools(ctx, messages, tools)
		if err != nil {
			return "", err
		}
		if len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}
		messages = r.executeToolCalls(ctx, sess, resp, messages)
	}
	return "", ErrToolRoundsExceeded
}

// executeToolCalls runs every tool call of resp and appends the assistant
// turn and tool results to messages.
func (r *Runner) executeToolCalls(ctx context.Context, sess *feedback.Session, resp *genai.ToolCallResponse, messages []openai.ChatCompletionMessageParamUnion) []openai.ChatCompletionMessageParamUnion {
	var toolCalls []openai.ChatCompletionMessageToolCallParam
	for _, tc := range resp.ToolCalls {
		toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
			ID:   tc.ID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Function.Name,
				Arguments: string(tc.Function.Arguments),
			},
		})
	}
	assistant := openai.ChatCompletionAssistantMessageParam{
		Content: openai.ChatCompletionAssistantMessageParamContentUnion{
			OfString: param.NewOpt(resp.Content),
		},
		ToolCalls: toolCalls,
	}
	messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})

	for _, tc := range resp.ToolCalls {
		name := tc.Function.Name
		sess.OnToolEvent(feedback.ToolPhaseStart, name)

		var result string
		tool, ok := r.tools.Get(name)
		if !ok {
			slog.Warn("Runner.executeToolCalls: unknown tool", "tool", name, "chat", sess.ChatID())
			result = fmt.Sprintf("Error: unknown tool %q", name)
		} else if out, err := tool.Execute(ctx, tc.Function.Arguments); err != nil {
			slog.Debug("Runner.executeToolCalls: tool failed", "tool", name, "error", err)
			result = fmt.Sprintf("Error: %v", err)
		} else {
			result = out
		}
		if result == "" {
			result = "Tool executed successfully"
		}

		sess.OnToolEvent(ToolPhaseEnd, name)
		messages = append(messages, openai.ToolMessage(result, tc.ID))
	}
	return messages
}

func (r *Runner) markProcessed(m models.InboundMessage, outcome store.Outcome) {
	if r.dedup == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), bookkeepingTimeout)
	defer cancel()
	if err := r.dedup.MarkProcessed(ctx, m.ChatID, m.MessageID, outcome); err != nil {
		slog.Warn("Runner.markProcessed: failed", "chat", m.ChatID, "message", m.MessageID, "error", err)
	}
}
