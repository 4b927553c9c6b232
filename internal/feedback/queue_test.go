package feedback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/AckPipe/internal/clock"
)

func TestEffectQueue_RunsInDispatchOrder(t *testing.T) {
	q := NewEffectQueue()
	var mu sync.Mutex
	var got []int
	for i := 0; i < 500; i++ {
		i := i
		q.Dispatch(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	q.Wait()

	if len(got) != 500 {
		t.Fatalf("expected 500 effects, got %d", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("effect %d ran at position %d", v, i)
		}
	}
}

func TestEffectQueue_OneEffectAtATime(t *testing.T) {
	q := NewEffectQueue()
	var mu sync.Mutex
	running, maxRunning := 0, 0
	for i := 0; i < 20; i++ {
		q.Dispatch(func() {
			mu.Lock()
			running++
			if running > maxRunning {
				maxRunning = running
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
		})
	}
	q.Wait()
	if maxRunning != 1 {
		t.Errorf("expected effects to run one at a time, saw %d concurrently", maxRunning)
	}
}

func TestEffectQueue_ReusableAfterIdle(t *testing.T) {
	q := NewEffectQueue()
	done := make(chan struct{})
	q.Dispatch(func() {})
	q.Wait()
	q.Dispatch(func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("effect dispatched after idle never ran")
	}
	q.Wait()
}

func TestEffectQueue_WaitCoversEffectsDispatchedByEffects(t *testing.T) {
	q := NewEffectQueue()
	var mu sync.Mutex
	var got []string
	record := func(s string) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	}
	q.Dispatch(func() {
		record("first")
		q.Dispatch(func() { record("nested") })
	})
	q.Wait()
	if len(got) != 2 || got[0] != "first" || got[1] != "nested" {
		t.Errorf("expected [first nested], got %q", got)
	}
}

// slowAddTransport delays every add so a later remove would overtake it if
// effects were not queued.
type slowAddTransport struct {
	recordingTransport
}

func (s *slowAddTransport) AddReaction(ctx context.Context, chatID, messageID, emoji string) error {
	time.Sleep(2 * time.Millisecond)
	return s.recordingTransport.AddReaction(ctx, chatID, messageID, emoji)
}

func newQueuedSession(cfg Config, transport interface {
	ReactionTransport
	MessageTransport
}) *Session {
	return New("chat-1", "msg-1", cfg, Deps{
		Reactions: transport,
		Messages:  transport,
		Clock:     clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
	})
}

func TestSession_DefaultDispatchKeepsHookOrder(t *testing.T) {
	for i := 0; i < 200; i++ {
		transport := &slowAddTransport{}
		s := newQueuedSession(DefaultConfig(), transport)

		s.OnRunStart()
		s.OnNoReply()
		s.Drain()

		assertCalls(t, transport.Calls(), "add:⏳", "remove:⏳")
	}
}

func TestSession_DefaultDispatchToolsThenReply(t *testing.T) {
	for i := 0; i < 100; i++ {
		transport := &slowAddTransport{}
		s := newQueuedSession(DefaultConfig(), transport)

		s.OnRunStart()
		s.OnToolEvent(ToolPhaseStart, "search")
		s.OnReplyDelivered()
		s.Drain()

		assertCalls(t, transport.Calls(), "add:⏳", "add:⚙️", "remove:⏳", "add:✅", "remove:⚙️")
	}
}
