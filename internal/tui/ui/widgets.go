package ui

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// NewPanel returns a bordered, scrollable text view that accepts color tags.
func NewPanel(theme *Theme, title string) *tview.TextView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true).
		SetBorderColor(theme.BorderColor).
		SetTitle(title).
		SetTitleColor(theme.TitleColor).
		SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	return tv
}

// NewInput returns a borderless single-line input.
func NewInput(theme *Theme, label string) *tview.InputField {
	in := tview.NewInputField().
		SetLabel(label).
		SetLabelColor(theme.MenuKeyColor).
		SetFieldWidth(0).
		SetFieldBackgroundColor(theme.BgColor).
		SetFieldTextColor(theme.FgColor)
	in.SetBackgroundColor(theme.BgColor)
	return in
}

// NewTable returns a bordered row-selectable table. With header set, row 0
// stays fixed while scrolling.
func NewTable(theme *Theme, header bool) *tview.Table {
	t := tview.NewTable().SetSelectable(true, false)
	if header {
		t.SetFixed(1, 0)
	}
	t.SetSelectedStyle(tcell.StyleDefault.Foreground(theme.TableCursorFg).Background(theme.TableCursorBg))
	t.SetBorder(true).
		SetBorderColor(theme.BorderColor).
		SetTitleColor(theme.TitleColor).
		SetBackgroundColor(theme.BgColor)
	return t
}

// Column is one header cell; Expansion is the tview column weight.
type Column struct {
	Title     string
	Expansion int
}

// SetHeader writes cols into row 0 of t.
func SetHeader(t *tview.Table, theme *Theme, cols ...Column) {
	for i, c := range cols {
		t.SetCell(0, i, tview.NewTableCell(" "+c.Title).
			SetTextColor(theme.TableHeaderFg).
			SetBackgroundColor(theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(c.Expansion).
			SetSelectable(false))
	}
}
