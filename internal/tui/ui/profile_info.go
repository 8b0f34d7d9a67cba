package ui

import (
	"fmt"
	"time"

	"github.com/rivo/tview"
)

// ProfileData is what the header shows about the running client.
type ProfileData struct {
	Profile  string
	User     string
	State    string
	Sessions int
	Unread   int
	Uptime   time.Duration
	Synced   time.Time
}

// ProfileInfo displays profile metadata in the header.
type ProfileInfo struct {
	*tview.TextView
	theme *Theme
}

func NewProfileInfo(theme *Theme) *ProfileInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 1, 1)

	return &ProfileInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders the profile info.
func (pi *ProfileInfo) Update(d ProfileData) {
	pi.Clear()

	fg := colorName(pi.theme.FgColor)
	ct := colorName(pi.theme.CounterColor)
	row := func(label, value string) string {
		return fmt.Sprintf("[%s::b]%-9s[-:-:-] [%s]%s[-]\n", fg, label+":", ct, tview.Escape(value))
	}

	_, _ = fmt.Fprint(pi,
		row("Profile", d.Profile)+
			row("User", d.User)+
			row("Link", d.State)+
			row("Sessions", fmt.Sprint(d.Sessions))+
			row("Unread", fmt.Sprint(d.Unread))+
			row("Uptime", formatDuration(d.Uptime))+
			row("Synced", formatSynced(d.Synced)))
}

func formatSynced(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("15:04:05")
}

func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
