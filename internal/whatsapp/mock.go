package whatsapp

import (
	"context"
	"fmt"
	"sync"
)

// MockCall records one call made against a MockClient.
type MockCall struct {
	Op        string
	ChatID    string
	MessageID string
	Body      string
}

// MockClient implements WhatsAppSender without a WhatsApp connection.
// In tests, use whatsapp.NewMockClient() instead of NewClient.
type MockClient struct {
	mu     sync.Mutex
	Calls  []MockCall
	nextID int
	// Err, when set, is returned by every call.
	Err error
}

// NewMockClient creates a recording mock client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) record(call MockCall) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, call)
	return m.Err
}

// Snapshot returns a copy of the recorded calls.
func (m *MockClient) Snapshot() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.Calls))
	copy(out, m.Calls)
	return out
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	_, err := m.PostMessage(ctx, to, body, "")
	return err
}

func (m *MockClient) PostMessage(ctx context.Context, chatID, body, replyTo string) (string, error) {
	if err := m.record(MockCall{Op: "post", ChatID: chatID, MessageID: replyTo, Body: body}); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	return fmt.Sprintf("mock-%d", m.nextID), nil
}

func (m *MockClient) EditMessage(ctx context.Context, chatID, messageID, body string) error {
	return m.record(MockCall{Op: "edit", ChatID: chatID, MessageID: messageID, Body: body})
}

func (m *MockClient) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	return m.record(MockCall{Op: "delete", ChatID: chatID, MessageID: messageID})
}

func (m *MockClient) React(ctx context.Context, chatID, messageID, emoji string) error {
	return m.record(MockCall{Op: "react", ChatID: chatID, MessageID: messageID, Body: emoji})
}

func (m *MockClient) SendPresence(ctx context.Context, chatID string, composing bool) error {
	state := "paused"
	if composing {
		state = "composing"
	}
	return m.record(MockCall{Op: "presence", ChatID: chatID, Body: state})
}

func (m *MockClient) RememberMessage(chatID, messageID, sender, text string) {}
