// Package twiliowhatsapp wraps the Twilio API for WhatsApp delivery in AckPipe.
package twiliowhatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// WhatsAppPrefix marks a Twilio address as a WhatsApp number.
const WhatsAppPrefix = "whatsapp:"

// TwilioWhatsAppSender is the subset of the Twilio API used by the messaging service.
type TwilioWhatsAppSender interface {
	// PostMessage sends body to a number and returns the message SID.
	PostMessage(ctx context.Context, to string, body string) (string, error)
	// DeleteMessage deletes a message by SID.
	DeleteMessage(ctx context.Context, sid string) error
}

// Opts holds configuration options for the Twilio WhatsApp client.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
}

// Option defines a configuration option for the Twilio WhatsApp client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromWhats sets the sending number, with or without the whatsapp: prefix.
func WithFromWhats(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// Client wraps Twilio REST API for WhatsApp
type Client struct {
	client    *twilio.RestClient
	fromWhats string // WhatsApp number in "whatsapp:+1234567890" format
}

// NewClient builds a Client, falling back to TWILIO_* environment variables
// for unset options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromWhats == "" {
		cfg.FromWhats = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromWhats_set", cfg.FromWhats != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromWhats == "" {
		return nil, fmt.Errorf("fromWhats number must be provided")
	}

	client := twilio.NewRestClientWithParams(
		twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		},
	)

	return &Client{
		client:    client,
		fromWhats: WhatsAppAddress(cfg.FromWhats),
	}, nil
}

// WhatsAppAddress adds the whatsapp: prefix to a number if it is missing.
func WhatsAppAddress(number string) string {
	number = strings.TrimSpace(number)
	if strings.HasPrefix(number, WhatsAppPrefix) {
		return number
	}
	if !strings.HasPrefix(number, "+") {
		number = "+" + number
	}
	return WhatsAppPrefix + number
}

// PostMessage sends a WhatsApp message using Twilio API and returns its SID.
func (c *Client) PostMessage(ctx context.Context, to string, body string) (string, error) {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(WhatsAppAddress(to))
	params.SetFrom(c.fromWhats)
	params.SetBody(body)

	resp, err := c.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio PostMessage failed", "to", to, "error", err)
		return "", fmt.Errorf("failed to send message to %s: %w", to, err)
	}

	sid := ""
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}
	slog.Debug("Twilio message sent", "to", to, "sid", sid)
	return sid, nil
}

// DeleteMessage removes a message from the Twilio account. Twilio can only
// delete messages that have finished delivery.
func (c *Client) DeleteMessage(ctx context.Context, sid string) error {
	if sid == "" {
		return fmt.Errorf("message sid cannot be empty")
	}
	if err := c.client.Api.DeleteMessage(sid, &twilioApi.DeleteMessageParams{}); err != nil {
		return fmt.Errorf("failed to delete message %s: %w", sid, err)
	}
	slog.Debug("Twilio message deleted", "sid", sid)
	return nil
}

// MockClient records Twilio calls for tests.
type MockClient struct {
	mu              sync.Mutex
	SentMessages    []SentMessage
	DeletedMessages []string
	// Err, when set, is returned by every call.
	Err error
}

// SentMessage is one message recorded by MockClient.
type SentMessage struct {
	SID  string
	To   string
	Body string
}

// NewMockClient creates a recording mock client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) PostMessage(ctx context.Context, to string, body string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	sid := fmt.Sprintf("SM%032d", len(m.SentMessages)+1)
	m.SentMessages = append(m.SentMessages, SentMessage{SID: sid, To: to, Body: body})
	return sid, nil
}

func (m *MockClient) DeleteMessage(ctx context.Context, sid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.DeletedMessages = append(m.DeletedMessages, sid)
	return nil
}

// Sent returns a copy of the recorded messages.
func (m *MockClient) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.SentMessages))
	copy(out, m.SentMessages)
	return out
}
