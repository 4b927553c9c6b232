// Package feedback reflects the lifecycle of an agent run back onto the chat
// message that triggered it.
//
// A Session owns two best-effort visual channels on one message: an emoji
// reaction that tracks the run state (processing, tools, done) and an
// optional status message that is posted after a delay and edited as tools
// run. Transport calls are queued in the order hooks made them and never
// awaited by the hook; failures are logged and dropped so feedback can never
// stall or fail the run it reports on.
//
// Once a terminal hook (OnReplyDelivered, OnNoReply, OnError) has run the
// session is sealed and every further hook is a no-op. The done-marker
// removal timer is the only action allowed to fire after sealing.
package feedback

import (
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/AckPipe/internal/clock"
)

// ToolPhaseStart is the tool event phase that moves a session into the
// tools state.
const ToolPhaseStart = "start"

// TypingSignal keeps the chat typing indicator alive.
type TypingSignal interface {
	RefreshTypingTTL()
}

// Dispatcher runs a network effect. Effects must be issued in the order
// they were dispatched. The default is a per-session EffectQueue; tests pass
// Sync.
type Dispatcher func(fn func())

// Sync runs effects inline.
func Sync(fn func()) { fn() }

// effect is a deferred transport call prepared under the session lock.
type effect func()

// Deps are the collaborators a Session drives.
type Deps struct {
	Reactions   ReactionTransport
	Messages    MessageTransport
	Clock       clock.Clock
	Dispatch    Dispatcher
	CallTimeout time.Duration
	// RunID labels the session in snapshots and logs.
	RunID       string
}

// Session is the feedback state machine for one originating message. Hooks
// are expected to be called sequentially by one run; the internal lock only
// orders them against timer callbacks and late network completions.
type Session struct {
	chatID    string
	messageID string
	runID     string
	cfg       Config

	clock     clock.Clock
	dispatch  Dispatcher
	queue     *EffectQueue
	reactions reactionDriver
	status    statusDriver

	mu              sync.Mutex
	state           State
	sealed          bool
	statusMessageID string
	lastToolName    string
	typing          TypingSignal
	statusTimer     deferredAction
	doneTimer       deferredAction
}

// New creates a session for the message identified by chatID and messageID.
func New(chatID, messageID string, cfg Config, deps Deps) *Session {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	var queue *EffectQueue
	if deps.Dispatch == nil {
		queue = NewEffectQueue()
		deps.Dispatch = queue.Dispatch
	}
	if deps.CallTimeout <= 0 {
		deps.CallTimeout = DefaultCallTimeout
	}
	return &Session{
		chatID:    chatID,
		messageID: messageID,
		runID:     deps.RunID,
		cfg:       cfg.WithDefaults(),
		clock:     deps.Clock,
		dispatch:  deps.Dispatch,
		queue:     queue,
		reactions: reactionDriver{
			transport: deps.Reactions,
			chatID:    chatID,
			messageID: messageID,
			timeout:   deps.CallTimeout,
		},
		status: statusDriver{
			transport: deps.Messages,
			chatID:    chatID,
			replyTo:   messageID,
			timeout:   deps.CallTimeout,
		},
		state:       StateIdle,
		statusTimer: deferredAction{name: "status_post"},
		doneTimer:   deferredAction{name: "done_removal"},
	}
}

// ChatID returns the chat the session reports into.
func (s *Session) ChatID() string { return s.chatID }

// MessageID returns the originating message identifier.
func (s *Session) MessageID() string { return s.messageID }

// OnRunStart marks the run as processing and arms the status timer.
func (s *Session) OnRunStart() {
	s.mu.Lock()
	if s.sealed {
		s.mu.Unlock()
		return
	}
	effects := []effect{s.transitionTo(StateProcessing)}
	s.startStatusTimer()
	s.mu.Unlock()
	s.run(effects)
}

// OnToolEvent refreshes typing on every call. A start phase also switches the
// reaction to the tools glyph and rewrites the status message.
func (s *Session) OnToolEvent(phase, toolName string) {
	s.mu.Lock()
	if s.sealed {
		s.mu.Unlock()
		return
	}
	typing := s.typing
	var effects []effect
	if phase == ToolPhaseStart {
		s.lastToolName = toolName
		effects = append(effects, s.transitionTo(StateTools), s.updateStatusWithTool(toolName))
	}
	s.mu.Unlock()

	if typing != nil {
		typing.RefreshTypingTTL()
	}
	s.run(effects)
}

// OnReplyDelivered shows the done glyph, cleans up the status message,
// schedules the done glyph removal and seals the session.
func (s *Session) OnReplyDelivered() {
	s.mu.Lock()
	if s.sealed {
		s.mu.Unlock()
		return
	}
	effects := []effect{s.transitionTo(StateDone), s.cleanupStatus()}
	s.scheduleDoneRemoval()
	s.seal()
	s.mu.Unlock()
	s.run(effects)
}

// OnNoReply clears the current glyph without showing done, cleans up the
// status message and seals the session.
func (s *Session) OnNoReply() {
	s.mu.Lock()
	if s.sealed {
		s.mu.Unlock()
		return
	}
	effects := []effect{s.removeCurrentReaction(), s.cleanupStatus()}
	s.seal()
	s.mu.Unlock()
	s.run(effects)
}

// OnError behaves exactly like OnNoReply.
func (s *Session) OnError() {
	s.OnNoReply()
}

// SetTypingController attaches the typing signal refreshed on tool events.
func (s *Session) SetTypingController(signal TypingSignal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return
	}
	s.typing = signal
}

// Sealed reports whether a terminal hook has run.
func (s *Session) Sealed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sealed
}

// State returns the current reaction state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Drain waits until every effect issued so far through the session's own
// queue has run. With an injected Dispatcher it returns immediately.
func (s *Session) Drain() {
	if s.queue != nil {
		s.queue.Wait()
	}
}

// seal is idempotent. It cancels the status timer but leaves the done
// removal armed.
func (s *Session) seal() {
	if !s.sealed {
		slog.Debug("feedback.Session: sealed", "chat_id", s.chatID, "message_id", s.messageID, "state", s.state)
	}
	s.sealed = true
	s.statusTimer.cancel()
}

func (s *Session) run(effects []effect) {
	for _, e := range effects {
		if e != nil {
			s.dispatch(e)
		}
	}
}

// SessionSnapshot is a point-in-time view of a session.
type SessionSnapshot struct {
	ChatID          string     `json:"chat_id"`
	MessageID       string     `json:"message_id"`
	RunID           string     `json:"run_id,omitempty"`
	State           State      `json:"state"`
	Sealed          bool       `json:"sealed"`
	StatusMessageID string     `json:"status_message_id,omitempty"`
	LastToolName    string     `json:"last_tool_name,omitempty"`
	StatusTimer     *TimerInfo `json:"status_timer,omitempty"`
	DoneTimer       *TimerInfo `json:"done_timer,omitempty"`
}

// Snapshot returns the session's current state.
func (s *Session) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	return SessionSnapshot{
		ChatID:          s.chatID,
		MessageID:       s.messageID,
		RunID:           s.runID,
		State:           s.state,
		Sealed:          s.sealed,
		StatusMessageID: s.statusMessageID,
		LastToolName:    s.lastToolName,
		StatusTimer:     s.statusTimer.info(now),
		DoneTimer:       s.doneTimer.info(now),
	}
}
