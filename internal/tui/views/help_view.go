package views

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"

	"github.com/matheus3301/threadline/internal/tui/ui"
)

// HelpSection groups key hints under a heading.
type HelpSection struct {
	Title string
	Hints []ui.MenuHint
}

// HelpView displays the key binding reference.
type HelpView struct {
	*tview.TextView
	theme *ui.Theme
}

func NewHelpView(theme *ui.Theme) *HelpView {
	return &HelpView{TextView: ui.NewPanel(theme, " Help "), theme: theme}
}

func (hv *HelpView) Name() string { return "Help" }

// Update renders the sections, built from the live key registry.
func (hv *HelpView) Update(sections []HelpSection) {
	hv.Clear()
	kc := ui.Tag(hv.theme.MenuKeyColor)
	var b strings.Builder
	for _, s := range sections {
		fmt.Fprintf(&b, "\n  [::b]%s[-:-:-]\n\n", s.Title)
		for _, h := range s.Hints {
			fmt.Fprintf(&b, "  [%s]%-18s[-:-:-] %s\n", kc, tview.Escape(h.Key), h.Description)
		}
	}
	_, _ = fmt.Fprint(hv, b.String())
}
