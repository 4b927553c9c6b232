package feedback

import (
	"math"
	"time"
)

// Default glyphs and templates applied when a Config leaves them blank.
const (
	DefaultProcessingEmoji        = "⏳"
	DefaultToolsEmoji             = "⚙️"
	DefaultDoneEmoji              = "✅"
	DefaultDoneRemoveAfterSeconds = 10
	DefaultStatusDelaySeconds     = 15
	DefaultStatusInitialText      = "Working on it…"
	DefaultStatusToolTemplate     = "Using {tool}…"
	// ToolPlaceholder is replaced with the tool name in ToolTemplate.
	ToolPlaceholder = "{tool}"
	// DefaultCallTimeout bounds each fire-and-forget transport call.
	DefaultCallTimeout = 15 * time.Second
)

// ReactionConfig controls the emoji reaction channel.
type ReactionConfig struct {
	Enabled         bool
	ProcessingEmoji string
	ToolsEmoji      string
	DoneEmoji       string
	// DoneRemoveAfterSeconds removes the done glyph after the delay; zero or
	// negative keeps it forever.
	DoneRemoveAfterSeconds int
}

// StatusConfig controls the auxiliary status message channel.
type StatusConfig struct {
	Enabled          bool
	DelaySeconds     int
	InitialText      string
	ToolTemplate     string
	DeleteAfterReply bool
}

// Config is the immutable per-session feedback configuration.
type Config struct {
	Reactions ReactionConfig
	Status    StatusConfig
}

// DefaultConfig returns the documented defaults: reactions on, status off.
func DefaultConfig() Config {
	return Config{
		Reactions: ReactionConfig{
			Enabled:                true,
			ProcessingEmoji:        DefaultProcessingEmoji,
			ToolsEmoji:             DefaultToolsEmoji,
			DoneEmoji:              DefaultDoneEmoji,
			DoneRemoveAfterSeconds: DefaultDoneRemoveAfterSeconds,
		},
		Status: StatusConfig{
			Enabled:          false,
			DelaySeconds:     DefaultStatusDelaySeconds,
			InitialText:      DefaultStatusInitialText,
			ToolTemplate:     DefaultStatusToolTemplate,
			DeleteAfterReply: true,
		},
	}
}

// WithDefaults fills blank glyphs and texts. Flags and numeric delays are
// left as given.
func (c Config) WithDefaults() Config {
	if c.Reactions.ProcessingEmoji == "" {
		c.Reactions.ProcessingEmoji = DefaultProcessingEmoji
	}
	if c.Reactions.ToolsEmoji == "" {
		c.Reactions.ToolsEmoji = DefaultToolsEmoji
	}
	if c.Reactions.DoneEmoji == "" {
		c.Reactions.DoneEmoji = DefaultDoneEmoji
	}
	if c.Status.InitialText == "" {
		c.Status.InitialText = DefaultStatusInitialText
	}
	if c.Status.ToolTemplate == "" {
		c.Status.ToolTemplate = DefaultStatusToolTemplate
	}
	if c.Status.DelaySeconds < 0 {
		c.Status.DelaySeconds = 0
	}
	c.Status.DelaySeconds = clampSeconds(c.Status.DelaySeconds)
	c.Reactions.DoneRemoveAfterSeconds = clampSeconds(c.Reactions.DoneRemoveAfterSeconds)
	return c
}

// maxDelaySeconds is the largest delay a time.Duration can hold.
const maxDelaySeconds = int64(math.MaxInt64 / int64(time.Second))

func clampSeconds(n int) int {
	if int64(n) > maxDelaySeconds {
		return int(maxDelaySeconds)
	}
	return n
}

func (c ReactionConfig) doneRemoveAfter() time.Duration {
	if c.DoneRemoveAfterSeconds <= 0 {
		return 0
	}
	return time.Duration(clampSeconds(c.DoneRemoveAfterSeconds)) * time.Second
}

func (c StatusConfig) delay() time.Duration {
	return time.Duration(clampSeconds(c.DelaySeconds)) * time.Second
}
