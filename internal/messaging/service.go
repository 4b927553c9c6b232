package messaging

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/BTreeMap/AckPipe/internal/models"
)

// Constants shared by the messaging services.
const (
	// DefaultChannelBufferSize defines the default buffer size for the inbound channel
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

var (
	// ErrServiceStopped is returned by calls made after Stop.
	ErrServiceStopped = errors.New("messaging service stopped")
	// ErrUnsupported is returned when a transport cannot perform an operation.
	ErrUnsupported = errors.New("operation not supported by transport")

	phoneNumberRegex = regexp.MustCompile(`[^0-9]`)
)

// Service defines a pluggable chat transport. It satisfies both
// feedback.ReactionTransport and feedback.MessageTransport.
type Service interface {
	// Start begins any background processing (e.g., event handling).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the inbound channel.
	Stop() error

	// Inbound returns a channel of incoming chat messages.
	Inbound() <-chan models.InboundMessage

	// SendMessage sends a plain message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// PostMessage sends body to chatID quoting replyTo and returns the new message ID.
	PostMessage(ctx context.Context, chatID, body, replyTo string) (string, error)

	// EditMessage replaces the body of a previously posted message.
	EditMessage(ctx context.Context, chatID, messageID, body string) error

	// DeleteMessage removes a previously posted message.
	DeleteMessage(ctx context.Context, chatID, messageID string) error

	// AddReaction attaches emoji to a message.
	AddReaction(ctx context.Context, chatID, messageID, emoji string) error

	// RemoveReaction detaches emoji from a message.
	RemoveReaction(ctx context.Context, chatID, messageID, emoji string) error

	// SendPresence toggles the typing indicator.
	SendPresence(ctx context.Context, chatID string, composing bool) error
}

// CanonicalizePhone strips every non-digit from a phone number and rejects
// numbers shorter than six digits.
func CanonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", errors.New("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", errors.New("invalid phone number: no digits found")
	}
	if len(canonical) < 6 {
		return "", errors.New("invalid phone number: too short (minimum 6 digits required)")
	}
	return canonical, nil
}
