package whatsapp

import (
	"strings"
	"unicode/utf8"
)

const variationSelector16 = "\uFE0F"

var shortcodes = map[string]string{
	":hourglass:":         "⏳",
	":hourglass_flowing:": "⏳",
	":gear:":              "⚙️",
	":white_check_mark:":  "✅",
	":check:":             "✅",
	":eyes:":              "👀",
	":thumbsup:":          "👍",
	":+1:":                "👍",
	":x:":                 "❌",
	":warning:":           "⚠️",
	":hammer_and_wrench:": "🛠️",
	":mag:":               "🔍",
	":thinking:":          "🤔",
	":brain:":             "🧠",
	":zap:":               "⚡",
	":heavy_check_mark:":  "✔️",
}

// textDefault lists code points rendered as text unless followed by VS16.
var textDefault = map[rune]bool{
	'⚙': true,
	'⚠': true,
	'✔': true,
	'☑': true,
	'❤': true,
	'✏': true,
	'🛠': true,
}

// NormalizeEmoji turns configured reaction values into what WhatsApp expects:
// surrounding space trimmed, known :shortcodes: resolved and the emoji
// presentation selector added to text-default glyphs.
func NormalizeEmoji(emoji string) string {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return ""
	}
	if mapped, ok := shortcodes[strings.ToLower(emoji)]; ok {
		return mapped
	}
	r, size := utf8.DecodeRuneInString(emoji)
	if textDefault[r] && size == len(emoji) {
		return emoji + variationSelector16
	}
	return emoji
}
