package ui

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
)

// menuRows is the number of hints per column; it matches the header height.
const menuRows = 5

// Menu shows the key hints of the current page in columns.
type Menu struct {
	*tview.TextView
	theme *Theme
}

func NewMenu(theme *Theme) *Menu {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 2, 0)
	return &Menu{TextView: tv, theme: theme}
}

// Update replaces the hints.
func (m *Menu) Update(hints []MenuHint) {
	m.Clear()
	_, _ = fmt.Fprint(m, layoutHints(hints, menuRows, colorName(m.theme.MenuKeyColor)))
}

// layoutHints fills columns top to bottom, each column as wide as its
// longest hint.
func layoutHints(hints []MenuHint, rows int, keyColor string) string {
	if len(hints) == 0 || rows <= 0 {
		return ""
	}
	cols := (len(hints) + rows - 1) / rows
	widths := make([]int, cols)
	for i, h := range hints {
		if w := len(h.Key) + len(h.Description) + 3; w > widths[i/rows] {
			widths[i/rows] = w
		}
	}

	var b strings.Builder
	for r := 0; r < rows && r < len(hints); r++ {
		for c := 0; c < cols; c++ {
			i := c*rows + r
			if i >= len(hints) {
				break
			}
			h := hints[i]
			fmt.Fprintf(&b, "[%s::b]<%s>[-:-:-] %s", keyColor, tview.Escape(h.Key), h.Description)
			if c < cols-1 {
				b.WriteString(strings.Repeat(" ", widths[c]-len(h.Key)-len(h.Description)-3+2))
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}
