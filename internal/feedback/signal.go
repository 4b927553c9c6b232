package feedback

// State is the lifecycle state a session reflects to the user.
type State string

const (
	StateIdle       State = "idle"
	StateProcessing State = "processing"
	StateTools      State = "tools"
	StateDone       State = "done"
)

// GlyphFor maps a state to the reaction representing it. Idle and unknown
// states have no glyph.
func (c ReactionConfig) GlyphFor(s State) (string, bool) {
	var glyph string
	switch s {
	case StateProcessing:
		glyph = c.ProcessingEmoji
	case StateTools:
		glyph = c.ToolsEmoji
	case StateDone:
		glyph = c.DoneEmoji
	}
	return glyph, glyph != ""
}
