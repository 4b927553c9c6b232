package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/AckPipe/internal/models"
	"github.com/BTreeMap/AckPipe/internal/twiliowhatsapp"
)

// TwilioService implements the Service interface using the Twilio API.
// Twilio's WhatsApp channel has no reactions, edits, quotes or presence, so
// those calls either return ErrUnsupported or do nothing.
type TwilioService struct {
	client  twiliowhatsapp.TwilioWhatsAppSender // Could be real Twilio client or MockClient
	inbound chan models.InboundMessage
	done    chan struct{}
	mu      sync.RWMutex
	stopped bool
}

// NewTwilioService creates a new TwilioService.
func NewTwilioService(client twiliowhatsapp.TwilioWhatsAppSender) *TwilioService {
	return &TwilioService{
		client:  client,
		inbound: make(chan models.InboundMessage, DefaultChannelBufferSize),
		done:    make(chan struct{}),
	}
}

// Start is a no-op; inbound messages arrive through WebhookHandler.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)
	close(s.inbound)
	return nil
}

func (s *TwilioService) isStopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

// Inbound returns the channel of messages received by the webhook.
func (s *TwilioService) Inbound() <-chan models.InboundMessage {
	return s.inbound
}

// SendMessage sends a message via Twilio.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	_, err := s.PostMessage(ctx, to, body, "")
	return err
}

// PostMessage sends body and returns the Twilio message SID. Twilio cannot
// quote, so replyTo is ignored.
func (s *TwilioService) PostMessage(ctx context.Context, chatID, body, replyTo string) (string, error) {
	if s.isStopped() {
		return "", ErrServiceStopped
	}
	canonicalTo, err := CanonicalizePhone(chatID)
	if err != nil {
		slog.Error("TwilioService PostMessage validation error", "error", err, "to", chatID)
		return "", err
	}
	return s.client.PostMessage(ctx, canonicalTo, body)
}

// EditMessage is not supported by Twilio.
func (s *TwilioService) EditMessage(ctx context.Context, chatID, messageID, body string) error {
	return ErrUnsupported
}

// DeleteMessage deletes a message by SID.
func (s *TwilioService) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	return s.client.DeleteMessage(ctx, messageID)
}

// AddReaction is not supported by Twilio.
func (s *TwilioService) AddReaction(ctx context.Context, chatID, messageID, emoji string) error {
	return ErrUnsupported
}

// RemoveReaction is not supported by Twilio.
func (s *TwilioService) RemoveReaction(ctx context.Context, chatID, messageID, emoji string) error {
	return ErrUnsupported
}

// SendPresence does nothing since Twilio has no typing indicator.
func (s *TwilioService) SendPresence(ctx context.Context, chatID string, composing bool) error {
	slog.Debug("TwilioService SendPresence ignored (unsupported)", "chat", chatID, "composing", composing)
	return nil
}

// WebhookHandler handles inbound Twilio webhook requests and emits them on
// the Inbound channel.
func (s *TwilioService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse Twilio webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	from := strings.TrimPrefix(r.FormValue("From"), twiliowhatsapp.WhatsAppPrefix)
	body := r.FormValue("Body")
	sid := r.FormValue("MessageSid")

	if from == "" || body == "" || sid == "" {
		slog.Warn("Twilio webhook missing fields", "from_set", from != "", "body_set", body != "", "sid_set", sid != "")
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	chatID, err := CanonicalizePhone(from)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid sender: %v", err), http.StatusBadRequest)
		return
	}

	slog.Info("Inbound WhatsApp message from Twilio", "chat", chatID, "sid", sid)
	s.emit(models.InboundMessage{
		ChatID:    chatID,
		MessageID: sid,
		SenderID:  chatID,
		Body:      body,
		Time:      time.Now(),
	})

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// emit safely pushes a message into the inbound channel.
func (s *TwilioService) emit(msg models.InboundMessage) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("TwilioService dropping inbound message (service stopped)", "chat", msg.ChatID)
		return
	}
	select {
	case s.inbound <- msg:
		slog.Debug("TwilioService emitted inbound message", "chat", msg.ChatID)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService inbound channel blocked, dropping message", "chat", msg.ChatID)
	}
}
