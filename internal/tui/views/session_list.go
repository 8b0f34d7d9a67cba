package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"

	"github.com/matheus3301/threadline/internal/chat"
	"github.com/matheus3301/threadline/internal/tui/ui"
)

// SessionList is the main session table.
type SessionList struct {
	*tview.Table
	theme    *ui.Theme
	rows     []chat.SessionView
	archived bool
	filter   string
	now      func() time.Time
}

// NewSessionList creates the session table.
func NewSessionList(theme *ui.Theme) *SessionList {
	return &SessionList{Table: ui.NewTable(theme, true), theme: theme, now: time.Now}
}

func (sl *SessionList) Name() string {
	if sl.archived {
		return "Archived"
	}
	return "Sessions"
}

// Update replaces the rows, keeping the cursor on the same session when it
// is still listed.
func (sl *SessionList) Update(rows []chat.SessionView, archived bool, filter string) {
	keep := sl.Selected()
	sl.rows = rows
	sl.archived = archived
	sl.filter = filter
	sl.render()

	target := 1
	for i, r := range rows {
		if r.Session.ID == keep {
			target = i + 1
			break
		}
	}
	if len(rows) > 0 {
		sl.Select(target, 0)
	}
}

func (sl *SessionList) render() {
	sl.Clear()

	ui.SetHeader(sl.Table, sl.theme,
		ui.Column{Title: "NAME", Expansion: 1},
		ui.Column{Title: "LAST MESSAGE", Expansion: 2},
		ui.Column{Title: "TIME"},
		ui.Column{Title: "TYPE"})

	now := sl.now()
	for i, r := range sl.rows {
		row := i + 1
		name := presenceDot(sl.theme, r.Presence) + cell(r.Title)
		color := sl.theme.FgColor
		if r.Unread > 0 {
			name = fmt.Sprintf("%s [%s](%d)[-]", name, ui.Tag(sl.theme.UnreadColor), r.Unread)
			color = sl.theme.TableHeaderFg
		}
		kind := "DM"
		if r.Session.IsGroup {
			kind = "GROUP"
		}

		sl.SetCell(row, 0, tview.NewTableCell(" "+name).SetExpansion(1).SetTextColor(color))
		sl.SetCell(row, 1, tview.NewTableCell(" "+cell(r.Preview)).SetExpansion(2).SetTextColor(color))
		sl.SetCell(row, 2, tview.NewTableCell(formatTimestamp(r.Session.LastActivityAt, now)).SetTextColor(color).SetAlign(tview.AlignRight))
		sl.SetCell(row, 3, tview.NewTableCell(" "+kind).SetTextColor(color).SetAlign(tview.AlignRight))
	}

	title := fmt.Sprintf(" %s (%d) ", sl.Name(), len(sl.rows))
	if sl.filter != "" {
		title = fmt.Sprintf(" %s (%d) filter: %s ", sl.Name(), len(sl.rows), tview.Escape(sl.filter))
	}
	sl.SetTitle(title)
}

// Selected returns the id of the session under the cursor.
func (sl *SessionList) Selected() string {
	row, _ := sl.GetSelection()
	if idx := row - 1; idx >= 0 && idx < len(sl.rows) {
		return sl.rows[idx].Session.ID
	}
	return ""
}

// ByIndex returns the id of the nth listed session (1-based).
func (sl *SessionList) ByIndex(n int) string {
	if n < 1 || n > len(sl.rows) {
		return ""
	}
	return sl.rows[n-1].Session.ID
}
