package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/BTreeMap/AckPipe/internal/feedback"
	"github.com/BTreeMap/AckPipe/internal/whatsapp"
)

// Ensure WhatsAppService implements Service interface
func TestWhatsAppService_ImplementsService(t *testing.T) {
	var _ Service = (*WhatsAppService)(nil)
}

func reactOps(calls []whatsapp.MockCall) []string {
	var out []string
	for _, c := range calls {
		if c.Op == "react" {
			out = append(out, c.Body)
		}
	}
	return out
}

func TestWhatsAppService_ReactionReplacement(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mock)
	ctx := context.Background()

	// processing -> tools: add the new glyph, then remove the old one
	if err := svc.AddReaction(ctx, "chat", "m1", "⏳"); err != nil {
		t.Fatalf("AddReaction: %v", err)
	}
	if err := svc.AddReaction(ctx, "chat", "m1", "⚙️"); err != nil {
		t.Fatalf("AddReaction: %v", err)
	}
	if err := svc.RemoveReaction(ctx, "chat", "m1", "⏳"); err != nil {
		t.Fatalf("RemoveReaction: %v", err)
	}

	got := reactOps(mock.Snapshot())
	want := []string{"⏳", "⚙️"}
	if len(got) != len(want) {
		t.Fatalf("expected reactions %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected reactions %v, got %v", want, got)
		}
	}

	// removing the emoji actually shown clears it
	if err := svc.RemoveReaction(ctx, "chat", "m1", "⚙️"); err != nil {
		t.Fatalf("RemoveReaction: %v", err)
	}
	got = reactOps(mock.Snapshot())
	if len(got) != 3 || got[2] != "" {
		t.Fatalf("expected an empty reaction to clear, got %v", got)
	}

	// nothing left to remove
	if err := svc.RemoveReaction(ctx, "chat", "m1", "⚙️"); err != nil {
		t.Fatalf("RemoveReaction: %v", err)
	}
	if n := len(reactOps(mock.Snapshot())); n != 3 {
		t.Fatalf("expected no further react calls, got %d", n)
	}
}

func TestWhatsAppService_ReactionFailureNotTracked(t *testing.T) {
	mock := whatsapp.NewMockClient()
	mock.Err = errors.New("offline")
	svc := NewWhatsAppService(mock)
	ctx := context.Background()

	if err := svc.AddReaction(ctx, "chat", "m1", "✅"); err == nil {
		t.Fatal("expected error")
	}
	if _, ok := svc.reactions.get("chat", "m1"); ok {
		t.Fatal("failed reaction should not be tracked")
	}
}

func TestWhatsAppService_MessageOps(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mock)
	ctx := context.Background()

	id, err := svc.PostMessage(ctx, "chat", "> Working on it…", "m1")
	if err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if err := svc.EditMessage(ctx, "chat", id, "> Using search…"); err != nil {
		t.Fatalf("EditMessage: %v", err)
	}
	if err := svc.DeleteMessage(ctx, "chat", id); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	if err := svc.SendPresence(ctx, "chat", true); err != nil {
		t.Fatalf("SendPresence: %v", err)
	}

	calls := mock.Snapshot()
	wantOps := []string{"post", "edit", "delete", "presence"}
	if len(calls) != len(wantOps) {
		t.Fatalf("expected %d calls, got %+v", len(wantOps), calls)
	}
	for i, op := range wantOps {
		if calls[i].Op != op {
			t.Errorf("call %d: expected %s, got %s", i, op, calls[i].Op)
		}
	}
	if calls[0].MessageID != "m1" {
		t.Errorf("expected post to quote m1, got %q", calls[0].MessageID)
	}
	if calls[1].MessageID != id || calls[2].MessageID != id {
		t.Errorf("edit/delete should target %s: %+v", id, calls)
	}
}

func TestWhatsAppService_StopClosesInbound(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("second Stop returned error: %v", err)
	}
	if msg, ok := <-svc.Inbound(); ok {
		t.Errorf("expected inbound channel closed, got %v", msg)
	}
	if err := svc.AddReaction(context.Background(), "chat", "m1", "⏳"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}

func TestReactionLedger_Bounded(t *testing.T) {
	l := newReactionLedger(2)
	l.set("c", "1", "a")
	l.set("c", "2", "b")
	l.set("c", "3", "c")
	if _, ok := l.get("c", "1"); ok {
		t.Error("oldest entry should be evicted")
	}
	if e, ok := l.get("c", "3"); !ok || e != "c" {
		t.Errorf("expected newest entry kept, got %q %v", e, ok)
	}
	l.clearIf("c", "2", "other")
	if _, ok := l.get("c", "2"); !ok {
		t.Error("clearIf with a different emoji must keep the entry")
	}
	l.clearIf("c", "2", "b")
	if _, ok := l.get("c", "2"); ok {
		t.Error("clearIf should remove a matching entry")
	}
}

func TestWhatsAppService_FeedbackSessionClearsGlyphOnFastError(t *testing.T) {
	for i := 0; i < 500; i++ {
		mock := whatsapp.NewMockClient()
		svc := NewWhatsAppService(mock)
		sess := feedback.New("chat", "m1", feedback.DefaultConfig(), feedback.Deps{Reactions: svc, Messages: svc})

		sess.OnRunStart()
		sess.OnError()
		sess.Drain()

		got := reactOps(mock.Snapshot())
		if len(got) != 2 || got[0] != "⏳" || got[1] != "" {
			t.Fatalf("run %d: expected react ⏳ then clear, got %q", i, got)
		}
		if e, ok := svc.reactions.get("chat", "m1"); ok {
			t.Fatalf("run %d: glyph %q left on message", i, e)
		}
	}
}
