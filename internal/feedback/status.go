package feedback

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// MessageTransport posts, edits and deletes the auxiliary status message.
type MessageTransport interface {
	// PostMessage sends body to chatID as a reply to replyTo. A missing
	// replyTo message must not fail the post.
	PostMessage(ctx context.Context, chatID, body, replyTo string) (string, error)
	EditMessage(ctx context.Context, chatID, messageID, body string) error
	DeleteMessage(ctx context.Context, chatID, messageID string) error
}

// genericToolName fills the tool template when the event carries no name.
const genericToolName = "a tool"

type statusDriver struct {
	transport MessageTransport
	chatID    string
	replyTo   string
	timeout   time.Duration
}

func (d statusDriver) post(text string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	id, err := d.transport.PostMessage(ctx, d.chatID, quote(text), d.replyTo)
	if err != nil {
		slog.Debug("feedback.statusDriver: post failed", "chat_id", d.chatID, "reply_to", d.replyTo, "error", err)
		return "", false
	}
	return id, true
}

func (d statusDriver) edit(id, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.transport.EditMessage(ctx, d.chatID, id, quote(text)); err != nil {
		slog.Debug("feedback.statusDriver: edit failed", "chat_id", d.chatID, "status_id", id, "error", err)
	}
}

func (d statusDriver) delete(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.transport.DeleteMessage(ctx, d.chatID, id); err != nil {
		slog.Debug("feedback.statusDriver: delete failed", "chat_id", d.chatID, "status_id", id, "error", err)
	}
}

// quote renders text in block-quote style, line by line.
func quote(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = "> " + line
	}
	return strings.Join(lines, "\n")
}

func renderToolTemplate(template, toolName string) string {
	if toolName == "" {
		toolName = genericToolName
	}
	return strings.ReplaceAll(template, ToolPlaceholder, toolName)
}

func (s *Session) statusEnabled() bool {
	return s.cfg.Status.Enabled && s.status.transport != nil
}

// startStatusTimer arms the delayed initial status post. At most one status
// timer is live per session.
func (s *Session) startStatusTimer() {
	if !s.statusEnabled() || s.sealed {
		return
	}
	s.statusTimer.arm(s.clock, s.cfg.Status.delay(), s.onStatusTimer)
}

func (s *Session) onStatusTimer() {
	s.mu.Lock()
	s.statusTimer.fired()
	// The timer may already have been queued when a seal cancelled it.
	if s.sealed || !s.statusEnabled() {
		s.mu.Unlock()
		return
	}
	text := s.cfg.Status.InitialText
	s.mu.Unlock()
	s.dispatch(func() { s.sendStatusMessage(text) })
}

// sendStatusMessage posts the status text and records its identifier. A post
// that completes after the session sealed is removed again when the session
// deletes status messages on completion.
func (s *Session) sendStatusMessage(text string) {
	s.mu.Lock()
	if s.sealed {
		s.mu.Unlock()
		return
	}
	driver := s.status
	s.mu.Unlock()

	id, ok := driver.post(text)
	if !ok {
		return
	}

	s.mu.Lock()
	if s.sealed {
		deleteLate := s.cfg.Status.DeleteAfterReply
		s.mu.Unlock()
		if deleteLate {
			slog.Debug("feedback.Session: status posted after seal, deleting", "chat_id", s.chatID, "status_id", id)
			driver.delete(id)
		}
		return
	}
	s.statusMessageID = id
	s.mu.Unlock()
	slog.Debug("feedback.Session: status message posted", "chat_id", s.chatID, "message_id", s.messageID, "status_id", id)
}

// updateStatusWithTool edits the posted status message. Successive edits are
// independent calls and may land out of order.
func (s *Session) updateStatusWithTool(toolName string) effect {
	if !s.statusEnabled() || s.statusMessageID == "" || s.sealed {
		return nil
	}
	id := s.statusMessageID
	text := renderToolTemplate(s.cfg.Status.ToolTemplate, toolName)
	driver := s.status
	return func() { driver.edit(id, text) }
}

// cleanupStatus cancels the pending post and deletes the posted message when
// configured to. The identifier is cleared before the delete is issued.
func (s *Session) cleanupStatus() effect {
	s.statusTimer.cancel()
	if !s.cfg.Status.DeleteAfterReply || s.statusMessageID == "" {
		return nil
	}
	id := s.statusMessageID
	s.statusMessageID = ""
	driver := s.status
	return func() { driver.delete(id) }
}
