package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/threadline/internal/chat"
	"github.com/matheus3301/threadline/internal/model"
	"github.com/matheus3301/threadline/internal/selection"
	"github.com/matheus3301/threadline/internal/tui/ui"
)

// ThreadData is everything the thread page renders.
type ThreadData struct {
	SessionID string
	Header    chat.HeaderView
	Messages  []chat.MessageView
	Search    selection.ThreadSearch
	// HasMore is set while older history may exist on the server.
	HasMore bool
}

// MessageThread displays the messages and a composer for one session.
type MessageThread struct {
	*tview.Flex
	theme    *ui.Theme
	messages *tview.TextView
	composer *tview.InputField
	data     ThreadData
	regions  map[string]string // message key -> region id
	onSend   func(text string)
	now      func() time.Time
}

// NewMessageThread creates a new message thread view.
func NewMessageThread(theme *ui.Theme) *MessageThread {
	messages := ui.NewPanel(theme, "").
		SetRegions(true).
		SetWordWrap(true)

	composer := ui.NewInput(theme, " > ")
	composer.SetBorder(true).
		SetBorderColor(theme.BorderColor).
		SetTitle(" Compose (i to focus) ").
		SetTitleColor(theme.TitleColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, true).
		AddItem(composer, 3, 0, false)

	mt := &MessageThread{
		Flex:     flex,
		theme:    theme,
		messages: messages,
		composer: composer,
		now:      time.Now,
	}

	composer.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter || mt.onSend == nil {
			return
		}
		if text := composer.GetText(); strings.TrimSpace(text) != "" {
			mt.onSend(text)
			composer.SetText("")
		}
	})

	return mt
}

func (mt *MessageThread) Name() string {
	if mt.data.Header.Title != "" {
		return mt.data.Header.Title
	}
	return "Thread"
}

// SetOnSend sets the callback run when the composer submits.
func (mt *MessageThread) SetOnSend(fn func(text string)) {
	mt.onSend = fn
}

// SessionID returns the session on display.
func (mt *MessageThread) SessionID() string { return mt.data.SessionID }

// Update redraws the thread. The view stays pinned to the bottom unless a
// search match is active, in which case the match is scrolled into view.
func (mt *MessageThread) Update(d ThreadData) {
	switched := d.SessionID != mt.data.SessionID
	mt.data = d

	text, regions := renderThread(mt.theme, d, mt.now())
	mt.regions = regions
	mt.messages.SetText(text)

	title := " " + tview.Escape(d.Header.Title)
	if d.Header.Subtitle != "" {
		title += " · " + tview.Escape(d.Header.Subtitle)
	}
	if d.Search.Query != "" {
		title += fmt.Sprintf(" | find %q %s", d.Search.Query, matchCounter(d.Search))
	}
	mt.messages.SetTitle(title + " ")

	if key, ok := d.Search.Current(); ok {
		mt.messages.Highlight(regions[key])
		mt.messages.ScrollToHighlight()
		return
	}
	mt.messages.Highlight()
	if switched || mt.atBottom() {
		mt.messages.ScrollToEnd()
	}
}

func (mt *MessageThread) atBottom() bool {
	row, _ := mt.messages.GetScrollOffset()
	_, _, _, height := mt.messages.GetInnerRect()
	return row+height >= strings.Count(mt.messages.GetText(false), "\n")
}

// LatestFailed returns the newest own message that failed to send.
func (mt *MessageThread) LatestFailed() (model.Message, bool) {
	for i := len(mt.data.Messages) - 1; i >= 0; i-- {
		v := mt.data.Messages[i]
		if v.Mine && v.Message.State == model.Failed {
			return v.Message, true
		}
	}
	return model.Message{}, false
}

// Messages returns the messages text view, for focus management.
func (mt *MessageThread) Messages() *tview.TextView { return mt.messages }

// Composer returns the composer input field, for focus management.
func (mt *MessageThread) Composer() *tview.InputField { return mt.composer }

func matchCounter(s selection.ThreadSearch) string {
	if len(s.Matches) == 0 {
		return "(no matches)"
	}
	return fmt.Sprintf("(%d/%d)", s.Cursor+1, len(s.Matches))
}

// renderThread lays the messages out oldest first. Each message is its own
// region so search can highlight and scroll to it.
func renderThread(th *ui.Theme, d ThreadData, now time.Time) (string, map[string]string) {
	matched := make(map[string]bool, len(d.Search.Matches))
	for _, k := range d.Search.Matches {
		matched[k] = true
	}

	var b strings.Builder
	if d.HasMore {
		fmt.Fprintf(&b, "[%s::d]  o: load older messages[-:-:-]\n\n", ui.Tag(th.PendingColor))
	}
	regions := make(map[string]string, len(d.Messages))
	for i, v := range d.Messages {
		key := v.Message.Key()
		id := fmt.Sprintf("m%d", i)
		regions[key] = id
		fmt.Fprintf(&b, `["%s"]`, id)
		b.WriteString(renderMessage(th, v, matched[key], now))
		b.WriteString(`[""]` + "\n")
	}
	return b.String(), regions
}

func renderMessage(th *ui.Theme, v chat.MessageView, matched bool, now time.Time) string {
	sender := cell(v.SenderName)
	color := th.FgColor
	if v.Mine {
		sender = "You"
		color = th.MineColor
	}
	if matched {
		sender = fmt.Sprintf("[%s]*[-] %s", ui.Tag(th.MatchColor), sender)
	}
	header := fmt.Sprintf("[%s::b]%s[-:-:-] [::d]%s[-:-:-]", ui.Tag(color), sender, formatTimestamp(v.Message.CreatedAt, now))
	if v.Mine {
		header += " " + stateMarker(th, v.Message)
	}
	return header + "\n" + block(body(v.Message.Content)) + "\n"
}

// stateMarker shows the delivery state of an own message.
func stateMarker(th *ui.Theme, m model.Message) string {
	switch m.State {
	case model.Pending:
		return fmt.Sprintf("[%s]sending…[-]", ui.Tag(th.PendingColor))
	case model.Failed:
		reason := "not sent"
		if m.Error != "" {
			reason = "not sent: " + cell(m.Error)
		}
		return fmt.Sprintf("[%s]✗ %s (r retry, x discard)[-]", ui.Tag(th.FailedColor), reason)
	case model.Delivered:
		return "✓✓"
	default:
		return "✓"
	}
}
