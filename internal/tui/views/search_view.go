package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/threadline/internal/tui/ui"
)

// SearchHit is one full-text search result.
type SearchHit struct {
	SessionID  string
	MessageKey string
	Session    string // session title
	Sender     string
	Snippet    string
	CreatedAt  time.Time
}

// SearchView lists full-text search results across every cached session.
type SearchView struct {
	*tview.Flex
	theme   *ui.Theme
	input   *tview.InputField
	results *tview.Table
	onQuery func(query string)
	data    []SearchHit
	now     func() time.Time
}

func NewSearchView(theme *ui.Theme) *SearchView {
	sv := &SearchView{
		theme:   theme,
		input:   ui.NewInput(theme, " Search: "),
		results: ui.NewTable(theme, true),
		now:     time.Now,
	}
	sv.results.SetTitle(" Results ")
	sv.Flex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(sv.input, 1, 0, true).
		AddItem(sv.results, 0, 1, false)

	// Search runs on Enter; the journal query is too heavy for every key.
	sv.input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && sv.onQuery != nil {
			sv.onQuery(sv.input.GetText())
		}
	})
	return sv
}

func (sv *SearchView) Name() string { return "Search" }

// SetOnQuery is called with the input text on Enter.
func (sv *SearchView) SetOnQuery(fn func(query string)) { sv.onQuery = fn }

// SetQuery fills the input, e.g. from ":search <query>".
func (sv *SearchView) SetQuery(q string) {
	sv.input.SetText(q)
}

// Update shows hits for query, newest first as the journal returns them.
func (sv *SearchView) Update(query string, hits []SearchHit) {
	sv.data = hits
	sv.results.Clear()
	ui.SetHeader(sv.results, sv.theme,
		ui.Column{Title: "SESSION"}, ui.Column{Title: "FROM"},
		ui.Column{Title: "SNIPPET", Expansion: 1}, ui.Column{Title: "TIME"})

	now := sv.now()
	for i, h := range hits {
		row := i + 1
		sv.results.SetCell(row, 0, tview.NewTableCell(" "+cell(h.Session)).SetMaxWidth(25).SetTextColor(sv.theme.FgColor))
		sv.results.SetCell(row, 1, tview.NewTableCell(" "+cell(h.Sender)).SetMaxWidth(16).SetTextColor(sv.theme.FgColor))
		sv.results.SetCell(row, 2, tview.NewTableCell(" "+highlightSnippet(sv.theme, h.Snippet)).SetExpansion(1).SetTextColor(sv.theme.FgColor))
		sv.results.SetCell(row, 3, tview.NewTableCell(" "+formatTimestamp(h.CreatedAt, now)).SetMaxWidth(12).SetTextColor(sv.theme.FgColor))
	}
	sv.results.SetTitle(fmt.Sprintf(" Results for %q (%d) ", query, len(hits)))
}

// Selected returns the hit under the cursor.
func (sv *SearchView) Selected() (SearchHit, bool) {
	row, _ := sv.results.GetSelection()
	if idx := row - 1; idx >= 0 && idx < len(sv.data) {
		return sv.data[idx], true
	}
	return SearchHit{}, false
}

func (sv *SearchView) Input() *tview.InputField { return sv.input }

func (sv *SearchView) Results() *tview.Table { return sv.results }

// highlightSnippet turns the <<match>> markers of a store snippet into
// color tags.
func highlightSnippet(th *ui.Theme, s string) string {
	r := strings.NewReplacer("<<", "["+ui.Tag(th.MatchColor)+"::b]", ">>", "[-:-:-]")
	return r.Replace(cell(s))
}
