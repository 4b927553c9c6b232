package feedback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/AckPipe/internal/clock"
)

// recordingTransport records every reaction and message call in order.
type recordingTransport struct {
	mu       sync.Mutex
	calls    []string
	nextID   int
	failAll  bool
	postHook func()
}

var errTransport = errors.New("transport unavailable")

func (r *recordingTransport) record(call string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
	if r.failAll {
		return errTransport
	}
	return nil
}

func (r *recordingTransport) AddReaction(ctx context.Context, chatID, messageID, emoji string) error {
	return r.record("add:" + emoji)
}

func (r *recordingTransport) RemoveReaction(ctx context.Context, chatID, messageID, emoji string) error {
	return r.record("remove:" + emoji)
}

func (r *recordingTransport) PostMessage(ctx context.Context, chatID, body, replyTo string) (string, error) {
	if r.postHook != nil {
		r.postHook()
	}
	if err := r.record(fmt.Sprintf("post:%s:%s", replyTo, body)); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	return fmt.Sprintf("status-%d", r.nextID), nil
}

func (r *recordingTransport) EditMessage(ctx context.Context, chatID, messageID, body string) error {
	return r.record(fmt.Sprintf("edit:%s:%s", messageID, body))
}

func (r *recordingTransport) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	return r.record("delete:" + messageID)
}

func (r *recordingTransport) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

func (r *recordingTransport) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

type countingTyping struct {
	mu    sync.Mutex
	count int
}

func (c *countingTyping) RefreshTypingTTL() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
}

func (c *countingTyping) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// newTestSession builds a session with a fake clock and synchronous effects.
func newTestSession(t *testing.T, cfg Config) (*Session, *recordingTransport, *clock.FakeClock) {
	t.Helper()
	transport := &recordingTransport{}
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := New("chat-1", "msg-1", cfg, Deps{
		Reactions: transport,
		Messages:  transport,
		Clock:     fake,
		Dispatch:  Sync,
	})
	return s, transport, fake
}

func statusEnabledConfig() Config {
	cfg := DefaultConfig()
	cfg.Status.Enabled = true
	cfg.Status.DelaySeconds = 15
	return cfg
}

func assertCalls(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected calls %q, got %q", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("call %d: expected %q, got %q (all calls %q)", i, want[i], got[i], got)
		}
	}
}
