package feedback

import (
	"math"
	"testing"
	"time"
)

func TestReactionConfig_GlyphFor(t *testing.T) {
	cfg := DefaultConfig().Reactions
	tests := []struct {
		state State
		glyph string
		ok    bool
	}{
		{StateIdle, "", false},
		{StateProcessing, "⏳", true},
		{StateTools, "⚙️", true},
		{StateDone, "✅", true},
		{State("unknown"), "", false},
	}
	for _, tt := range tests {
		glyph, ok := cfg.GlyphFor(tt.state)
		if glyph != tt.glyph || ok != tt.ok {
			t.Errorf("GlyphFor(%s) = %q, %v; want %q, %v", tt.state, glyph, ok, tt.glyph, tt.ok)
		}
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{
		Reactions: ReactionConfig{Enabled: true, DoneEmoji: "👍"},
		Status:    StatusConfig{DelaySeconds: -3},
	}.WithDefaults()

	if cfg.Reactions.ProcessingEmoji != DefaultProcessingEmoji || cfg.Reactions.ToolsEmoji != DefaultToolsEmoji {
		t.Errorf("expected default glyphs filled, got %+v", cfg.Reactions)
	}
	if cfg.Reactions.DoneEmoji != "👍" {
		t.Errorf("expected custom done glyph kept, got %q", cfg.Reactions.DoneEmoji)
	}
	if cfg.Status.DelaySeconds != 0 {
		t.Errorf("expected negative delay clamped to 0, got %d", cfg.Status.DelaySeconds)
	}
	if cfg.Status.InitialText == "" || cfg.Status.ToolTemplate == "" {
		t.Errorf("expected status texts filled, got %+v", cfg.Status)
	}
	if cfg.Status.Enabled {
		t.Error("WithDefaults must not enable status")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.Reactions.Enabled || cfg.Status.Enabled {
		t.Errorf("expected reactions on and status off, got %+v", cfg)
	}
	if cfg.Reactions.DoneRemoveAfterSeconds != 10 || cfg.Status.DelaySeconds != 15 || !cfg.Status.DeleteAfterReply {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.Reactions.doneRemoveAfter().Seconds() != 10 {
		t.Errorf("unexpected done removal delay %v", cfg.Reactions.doneRemoveAfter())
	}
	cfg.Reactions.DoneRemoveAfterSeconds = -1
	if cfg.Reactions.doneRemoveAfter() != 0 {
		t.Error("expected negative removal delay to disable removal")
	}
}

func TestConfig_HugeDelaysDoNotOverflow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Reactions.DoneRemoveAfterSeconds = math.MaxInt
	cfg.Status.DelaySeconds = math.MaxInt
	cfg = cfg.WithDefaults()

	if d := cfg.Reactions.doneRemoveAfter(); d <= 0 {
		t.Errorf("done removal delay overflowed to %v", d)
	}
	if d := cfg.Status.delay(); d <= 0 {
		t.Errorf("status delay overflowed to %v", d)
	}
}

func TestSession_HugeDoneDelayNeverFiresEarly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Reactions.DoneRemoveAfterSeconds = math.MaxInt
	s, transport, fake := newTestSession(t, cfg)

	s.OnRunStart()
	s.OnReplyDelivered()
	fake.Advance(24 * time.Hour)

	assertCalls(t, transport.Calls(), "add:⏳", "add:✅", "remove:⏳")
}
