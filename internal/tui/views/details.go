package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/rivo/tview"

	"github.com/matheus3301/threadline/internal/model"
	"github.com/matheus3301/threadline/internal/tui/ui"
)

// DetailsData describes one session for the details page.
type DetailsData struct {
	Session      model.Session
	Title        string
	Participants []model.User
	Messages     int
}

// SessionDetails displays detailed information about a session.
type SessionDetails struct {
	*tview.TextView
	theme *ui.Theme
	title string
}

func NewSessionDetails(theme *ui.Theme) *SessionDetails {
	return &SessionDetails{TextView: ui.NewPanel(theme, ""), theme: theme}
}

func (sd *SessionDetails) Name() string { return "Details" }

// Update renders session details.
func (sd *SessionDetails) Update(d DetailsData) {
	sd.Clear()
	sd.title = d.Title
	sd.SetTitle(fmt.Sprintf(" %s ", tview.Escape(d.Title)))
	_, _ = fmt.Fprint(sd, renderDetails(sd.theme, d, time.Now()))
}

func renderDetails(th *ui.Theme, d DetailsData, now time.Time) string {
	fg := ui.Tag(th.FgColor)
	ct := ui.Tag(th.CounterColor)
	row := func(label, value string) string {
		return fmt.Sprintf(" [%s::b]%-13s[-:-:-] [%s]%s[-]\n", fg, label+":", ct, value)
	}

	kind := "Direct"
	if d.Session.IsGroup {
		kind = "Group"
	}
	lastActive := formatTimestamp(d.Session.LastActivityAt, now)
	if lastActive == "" {
		lastActive = "-"
	}

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(row("Name", cell(d.Title)))
	b.WriteString(row("ID", cell(d.Session.ID)))
	b.WriteString(row("Type", kind))
	b.WriteString(row("Unread", fmt.Sprint(d.Session.Unread)))
	b.WriteString(row("Cached", fmt.Sprint(d.Messages)))
	b.WriteString(row("Last active", lastActive))
	if d.Session.Archived {
		b.WriteString(row("Archived", "yes"))
	}
	fmt.Fprintf(&b, "\n [%s::b]Participants (%d)[-:-:-]\n", fg, len(d.Participants))
	for _, u := range d.Participants {
		label := u.Presence.Label()
		fmt.Fprintf(&b, "  %s%s [::d]%s[-:-:-]\n", presenceDot(th, u.Presence), cell(u.Name()), cell(label))
	}
	return b.String()
}
