package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/AckPipe/internal/models"
	"github.com/BTreeMap/AckPipe/internal/whatsapp"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.mau.fi/whatsmeow/types/events"
)

// DefaultReactionLedgerSize bounds how many recently reacted messages have
// their current reaction tracked.
const DefaultReactionLedgerSize = 1024

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
//
// WhatsApp keeps a single reaction per account per message, so adding a
// reaction replaces the previous one and removal is sending an empty
// reaction. The service tracks the current reaction of each message and only
// clears it when the caller removes the emoji that is actually shown.
type WhatsAppService struct {
	client    whatsapp.WhatsAppSender
	waClient  *whatsapp.Client // Access to underlying client for event handling
	inbound   chan models.InboundMessage
	done      chan struct{}
	reactions *reactionLedger
	mu        sync.RWMutex
	stopped   bool
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given WhatsAppSender.
func NewWhatsAppService(client whatsapp.WhatsAppSender) *WhatsAppService {
	service := &WhatsAppService{
		client:    client,
		inbound:   make(chan models.InboundMessage, DefaultChannelBufferSize),
		done:      make(chan struct{}),
		reactions: newReactionLedger(DefaultReactionLedgerSize),
	}

	// If the client is a full Client (not just an interface), store it for event handling
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}

	return service
}

// Start begins background processing (e.g., event handling).
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked")

	if s.waClient != nil {
		go s.handleEvents(ctx)
		slog.Debug("WhatsAppService event handler started")
	} else {
		slog.Debug("WhatsAppService no full client available, skipping event handling (likely mock)")
	}

	return nil
}

// Stop stops background processing.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)
	close(s.inbound)
	slog.Info("WhatsAppService stopped and channels closed")
	return nil
}

func (s *WhatsAppService) isStopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

// Inbound returns a channel of incoming messages.
func (s *WhatsAppService) Inbound() <-chan models.InboundMessage {
	return s.inbound
}

// SendMessage sends a plain message.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	slog.Debug("WhatsAppService SendMessage invoked", "to", to, "body_length", len(body))
	if err := s.client.SendMessage(ctx, to, body); err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", to)
		return err
	}
	return nil
}

// PostMessage sends a quoted reply and returns its message ID.
func (s *WhatsAppService) PostMessage(ctx context.Context, chatID, body, replyTo string) (string, error) {
	if s.isStopped() {
		return "", ErrServiceStopped
	}
	id, err := s.client.PostMessage(ctx, chatID, body, replyTo)
	if err != nil {
		slog.Debug("WhatsAppService PostMessage error", "error", err, "chat", chatID)
		return "", err
	}
	return id, nil
}

// EditMessage edits a message this account posted.
func (s *WhatsAppService) EditMessage(ctx context.Context, chatID, messageID, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	return s.client.EditMessage(ctx, chatID, messageID, body)
}

// DeleteMessage revokes a message this account posted.
func (s *WhatsAppService) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	return s.client.DeleteMessage(ctx, chatID, messageID)
}

// AddReaction shows emoji on a message, replacing any reaction already there.
func (s *WhatsAppService) AddReaction(ctx context.Context, chatID, messageID, emoji string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	emoji = whatsapp.NormalizeEmoji(emoji)
	if emoji == "" {
		return nil
	}
	if err := s.client.React(ctx, chatID, messageID, emoji); err != nil {
		return err
	}
	s.reactions.set(chatID, messageID, emoji)
	return nil
}

// RemoveReaction clears emoji from a message. It does nothing when a
// different reaction has replaced emoji in the meantime.
func (s *WhatsAppService) RemoveReaction(ctx context.Context, chatID, messageID, emoji string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	emoji = whatsapp.NormalizeEmoji(emoji)
	current, ok := s.reactions.get(chatID, messageID)
	if !ok || current != emoji {
		slog.Debug("WhatsAppService RemoveReaction skipped, reaction not shown", "chat", chatID, "message", messageID, "emoji", emoji, "current", current)
		return nil
	}
	if err := s.client.React(ctx, chatID, messageID, ""); err != nil {
		return err
	}
	s.reactions.clearIf(chatID, messageID, emoji)
	return nil
}

// SendPresence toggles the typing indicator.
func (s *WhatsAppService) SendPresence(ctx context.Context, chatID string, composing bool) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	return s.client.SendPresence(ctx, chatID, composing)
}

// handleEvents registers the whatsmeow event handler and waits for shutdown.
func (s *WhatsAppService) handleEvents(ctx context.Context) {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Error("WhatsAppService handleEvents: no client available")
		return
	}

	handlerID := s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleIncomingMessage(v)
		default:
			slog.Debug("WhatsAppService ignoring event type", "type", getEventType(v))
		}
	})

	slog.Debug("WhatsAppService event handler registered")

	select {
	case <-ctx.Done():
	case <-s.done:
	}
	s.waClient.GetClient().RemoveEventHandler(handlerID)
	slog.Debug("WhatsAppService handleEvents stopped")
}

// handleIncomingMessage forwards inbound text messages.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil || evt.Info.IsFromMe {
		return
	}

	var messageText string
	if evt.Message.Conversation != nil {
		messageText = *evt.Message.Conversation
	} else if evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil {
		messageText = *evt.Message.ExtendedTextMessage.Text
	} else {
		// Skip non-text messages (images, audio, etc.)
		slog.Debug("WhatsAppService ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}

	msg := models.InboundMessage{
		ChatID:    evt.Info.Chat.String(),
		MessageID: evt.Info.ID,
		SenderID:  evt.Info.Sender.String(),
		Body:      messageText,
		Time:      evt.Info.Timestamp,
	}
	s.client.RememberMessage(msg.ChatID, msg.MessageID, msg.SenderID, msg.Body)
	s.emit(msg)
}

// emit pushes msg into the inbound channel unless the service is stopped.
func (s *WhatsAppService) emit(msg models.InboundMessage) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("WhatsAppService dropping inbound message (service stopped)", "chat", msg.ChatID)
		return
	}
	select {
	case s.inbound <- msg:
		slog.Debug("WhatsAppService inbound message forwarded", "chat", msg.ChatID, "message", msg.MessageID)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService inbound channel blocked, dropping message", "chat", msg.ChatID, "timeout", DefaultChannelTimeout)
	}
}

// getEventType returns a string representation of the event type for logging
func getEventType(evt interface{}) string {
	switch evt.(type) {
	case *events.Message:
		return "Message"
	case *events.Receipt:
		return "Receipt"
	case *events.Presence:
		return "Presence"
	case *events.Connected:
		return "Connected"
	case *events.Disconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

type reactionKey struct {
	chatID    string
	messageID string
}

// reactionLedger remembers the reaction currently shown on recently touched
// messages. The lock makes clearIf's compare-then-remove atomic.
type reactionLedger struct {
	mu      sync.Mutex
	current *lru.Cache[reactionKey, string]
}

func newReactionLedger(limit int) *reactionLedger {
	if limit <= 0 {
		limit = DefaultReactionLedgerSize
	}
	// lru.New only fails for a non-positive size.
	current, _ := lru.New[reactionKey, string](limit)
	return &reactionLedger{current: current}
}

func (l *reactionLedger) set(chatID, messageID, emoji string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current.Add(reactionKey{chatID, messageID}, emoji)
}

func (l *reactionLedger) get(chatID, messageID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current.Get(reactionKey{chatID, messageID})
}

// clearIf forgets the reaction on a message if it is still emoji.
func (l *reactionLedger) clearIf(chatID, messageID, emoji string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := reactionKey{chatID, messageID}
	if current, ok := l.current.Peek(key); ok && current == emoji {
		l.current.Remove(key)
	}
}
