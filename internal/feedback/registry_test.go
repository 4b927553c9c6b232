package feedback

import "testing"

func TestRegistry_AddSnapshotRemove(t *testing.T) {
	r := NewRegistry()
	a := New("chat-b", "1", DefaultConfig(), Deps{Dispatch: Sync})
	b := New("chat-a", "2", DefaultConfig(), Deps{Dispatch: Sync})
	r.Add(a)
	r.Add(b)

	if r.Len() != 2 {
		t.Fatalf("expected 2 sessions, got %d", r.Len())
	}
	snaps := r.Snapshot()
	if snaps[0].ChatID != "chat-a" || snaps[1].ChatID != "chat-b" {
		t.Errorf("expected snapshots ordered by chat, got %+v", snaps)
	}
	if got, ok := r.Get("chat-b", "1"); !ok || got != a {
		t.Error("expected Get to return the registered session")
	}

	r.Remove("chat-b", "1")
	if _, ok := r.Get("chat-b", "1"); ok {
		t.Error("expected session removed")
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 session, got %d", r.Len())
	}
}
