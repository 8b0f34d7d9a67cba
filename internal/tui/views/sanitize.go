package views

import (
	"strings"
	"unicode"

	"github.com/rivo/tview"
)

// dropRune reports runes that must never reach the terminal: control
// characters (escape sequences start with ESC), bidi overrides, and emoji
// modifiers that tcell measures wrongly.
func dropRune(r rune) bool {
	switch {
	case unicode.IsControl(r):
		return true
	case r >= 0x202A && r <= 0x202E, r >= 0x2066 && r <= 0x2069: // bidi embedding/isolate
		return true
	case r >= 0x1F3FB && r <= 0x1F3FF: // skin tones
		return true
	case r == 0x200D: // zero width joiner
		return true
	case r >= 0xFE00 && r <= 0xFE0F, r >= 0xE0100 && r <= 0xE01EF: // variation selectors
		return true
	}
	return false
}

// sanitizeForTerminal strips dropRune runes but keeps newlines and tabs.
func sanitizeForTerminal(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if dropRune(r) {
			return -1
		}
		return r
	}, s)
}

// cell prepares untrusted text for a one-line table cell.
func cell(s string) string {
	return tview.Escape(sanitizeForTerminal(strings.Join(strings.Fields(s), " ")))
}

// block prepares untrusted multi-line text for a text view.
func block(s string) string {
	return tview.Escape(sanitizeForTerminal(s))
}
