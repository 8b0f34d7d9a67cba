package views

import (
	"time"

	"github.com/matheus3301/threadline/internal/model"
	"github.com/matheus3301/threadline/internal/tui/ui"
)

// formatTimestamp shows the time for today and the date otherwise.
func formatTimestamp(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.Local()
	now = now.Local()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	if t.Year() == now.Year() {
		return t.Format("Jan 02")
	}
	return t.Format("2006-01-02")
}

// presenceDot is a colored bullet for a user's presence, blank when unknown.
func presenceDot(th *ui.Theme, p model.Presence) string {
	color := th.OfflineColor
	switch p {
	case model.Online:
		color = th.OnlineColor
	case model.Away:
		color = th.AwayColor
	case model.Busy:
		color = th.BusyColor
	case "":
		return "  "
	}
	return "[" + ui.Tag(color) + "]●[-] "
}

// body is the full text of a message as shown in a thread.
func body(c model.Content) string {
	switch v := c.(type) {
	case nil:
		return ""
	case model.Text:
		return v.Body
	case model.Image:
		if v.Caption != "" {
			return "[image] " + v.Caption + "\n" + v.URL
		}
		return "[image] " + v.URL
	default:
		return c.Preview()
	}
}
