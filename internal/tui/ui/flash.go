package ui

import (
	"fmt"
	"sync"
	"time"

	"github.com/rivo/tview"
)

type FlashLevel int

const (
	FlashInfo FlashLevel = iota
	FlashWarn
	FlashErr
)

// flashTTL is how long each level stays on screen.
var flashTTL = map[FlashLevel]time.Duration{
	FlashInfo: 5 * time.Second,
	FlashWarn: 8 * time.Second,
	FlashErr:  10 * time.Second,
}

type FlashMessage struct {
	Text    string
	Level   FlashLevel
	Expires time.Time
}

// FlashModel holds the notification shown in the bottom bar. Background
// goroutines write it; the draw loop reads it. A live message is only
// replaced by one of equal or higher level.
type FlashModel struct {
	mu      sync.Mutex
	current *FlashMessage
	now     func() time.Time
	changed chan struct{}
}

func NewFlashModel() *FlashModel {
	return &FlashModel{now: time.Now, changed: make(chan struct{}, 1)}
}

func (f *FlashModel) Info(msg string) { f.show(FlashInfo, msg) }

func (f *FlashModel) Warn(msg string) { f.show(FlashWarn, msg) }

// Err shows err prefixed with what the user was doing.
func (f *FlashModel) Err(action string, err error) {
	f.show(FlashErr, fmt.Sprintf("%s: %v", action, err))
}

func (f *FlashModel) show(level FlashLevel, text string) {
	now := f.now()
	f.mu.Lock()
	if f.current != nil && now.Before(f.current.Expires) && f.current.Level > level {
		f.mu.Unlock()
		return
	}
	f.current = &FlashMessage{Text: text, Level: level, Expires: now.Add(flashTTL[level])}
	f.mu.Unlock()

	select {
	case f.changed <- struct{}{}:
	default:
	}
}

// Current returns a copy of the live message, nil once it has expired.
func (f *FlashModel) Current() *FlashMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil || !f.now().Before(f.current.Expires) {
		return nil
	}
	m := *f.current
	return &m
}

// Watch signals after a message is shown. Signals coalesce.
func (f *FlashModel) Watch() <-chan struct{} {
	return f.changed
}

// FlashBar renders the live message.
type FlashBar struct {
	*tview.TextView
	colors map[FlashLevel]string
}

func NewFlashBar(theme *Theme) *FlashBar {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	return &FlashBar{
		TextView: tv,
		colors: map[FlashLevel]string{
			FlashInfo: colorName(theme.FlashInfoColor),
			FlashWarn: colorName(theme.FlashWarnColor),
			FlashErr:  colorName(theme.FlashErrColor),
		},
	}
}

// Update draws msg; nil clears the bar.
func (fb *FlashBar) Update(msg *FlashMessage) {
	fb.Clear()
	if msg != nil {
		_, _ = fmt.Fprintf(fb, " [%s]%s[-]", fb.colors[msg.Level], tview.Escape(msg.Text))
	}
}
