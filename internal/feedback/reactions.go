package feedback

import (
	"context"
	"log/slog"
	"time"
)

// ReactionTransport adds and removes reactions on a chat message.
type ReactionTransport interface {
	AddReaction(ctx context.Context, chatID, messageID, emoji string) error
	RemoveReaction(ctx context.Context, chatID, messageID, emoji string) error
}

// reactionDriver issues reaction calls for one message and swallows every
// failure.
type reactionDriver struct {
	transport ReactionTransport
	chatID    string
	messageID string
	timeout   time.Duration
}

func (r reactionDriver) add(emoji string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.transport.AddReaction(ctx, r.chatID, r.messageID, emoji); err != nil {
		slog.Debug("feedback.reactionDriver: add failed", "chat_id", r.chatID, "message_id", r.messageID, "emoji", emoji, "error", err)
	}
}

func (r reactionDriver) remove(emoji string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.transport.RemoveReaction(ctx, r.chatID, r.messageID, emoji); err != nil {
		slog.Debug("feedback.reactionDriver: remove failed", "chat_id", r.chatID, "message_id", r.messageID, "emoji", emoji, "error", err)
	}
}

// transitionTo moves the reaction state to next and returns the network
// effect to issue once the lock is released. The new glyph is always
// requested before the old one is removed so a glyph stays visible.
func (s *Session) transitionTo(next State) effect {
	if !s.reactionsEnabled() || s.sealed || next == s.state {
		return nil
	}
	prevGlyph, hadPrev := s.cfg.Reactions.GlyphFor(s.state)
	nextGlyph, hasNext := s.cfg.Reactions.GlyphFor(next)
	slog.Debug("feedback.Session: transition", "chat_id", s.chatID, "message_id", s.messageID, "from", s.state, "to", next)
	s.state = next

	driver := s.reactions
	return func() {
		if hasNext {
			driver.add(nextGlyph)
		}
		if hadPrev && prevGlyph != nextGlyph {
			driver.remove(prevGlyph)
		}
	}
}

// removeCurrentReaction clears the glyph for the current state and resets
// the state to idle without passing through done.
func (s *Session) removeCurrentReaction() effect {
	glyph, ok := s.cfg.Reactions.GlyphFor(s.state)
	s.state = StateIdle
	if !ok || !s.reactionsEnabled() {
		return nil
	}
	driver := s.reactions
	return func() { driver.remove(glyph) }
}

// scheduleDoneRemoval arms the done-marker cleanup. Sealing does not cancel
// it.
func (s *Session) scheduleDoneRemoval() {
	delay := s.cfg.Reactions.doneRemoveAfter()
	if !s.reactionsEnabled() || delay <= 0 || s.state != StateDone {
		return
	}
	glyph, ok := s.cfg.Reactions.GlyphFor(StateDone)
	if !ok {
		return
	}
	s.doneTimer.arm(s.clock, delay, func() {
		s.mu.Lock()
		s.doneTimer.fired()
		driver := s.reactions
		s.mu.Unlock()
		s.dispatch(func() { driver.remove(glyph) })
	})
}

func (s *Session) reactionsEnabled() bool {
	return s.cfg.Reactions.Enabled && s.reactions.transport != nil
}
