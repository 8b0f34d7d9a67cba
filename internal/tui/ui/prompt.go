package ui

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// PromptMode selects what a prompt's input means.
type PromptMode int

const (
	// PromptCommand runs a ':' command.
	PromptCommand PromptMode = iota
	// PromptFilter narrows the session list as the user types.
	PromptFilter
	// PromptFind searches inside the open thread as the user types.
	PromptFind
)

// Prompt is a command/filter input bar.
type Prompt struct {
	*tview.InputField
	mode     PromptMode
	onChange func(mode PromptMode, text string)
	onSubmit func(mode PromptMode, text string)
	onCancel func(mode PromptMode)
}

// NewPrompt creates a new prompt input bar.
func NewPrompt(theme *Theme) *Prompt {
	input := NewInput(theme, ":")
	input.SetBorder(true).SetBorderColor(theme.PromptBorderColor)

	p := &Prompt{InputField: input}

	input.SetChangedFunc(func(text string) {
		// Commands only act on Enter.
		if p.mode != PromptCommand && p.onChange != nil {
			p.onChange(p.mode, text)
		}
	})
	input.SetDoneFunc(func(key tcell.Key) {
		switch key {
		case tcell.KeyEnter:
			if p.onSubmit != nil {
				p.onSubmit(p.mode, p.GetText())
			}
		case tcell.KeyEscape:
			if p.onCancel != nil {
				p.onCancel(p.mode)
			}
		}
	})

	return p
}

// SetOnChange is called on every keystroke in filter and find modes.
func (p *Prompt) SetOnChange(fn func(mode PromptMode, text string)) { p.onChange = fn }

func (p *Prompt) SetOnSubmit(fn func(mode PromptMode, text string)) { p.onSubmit = fn }

func (p *Prompt) SetOnCancel(fn func(mode PromptMode)) { p.onCancel = fn }

// Activate prepares the prompt for mode, seeding it with text.
func (p *Prompt) Activate(mode PromptMode, text string) {
	p.mode = mode
	switch mode {
	case PromptCommand:
		p.SetLabel(":")
		p.SetTitle(" Command ")
	case PromptFilter:
		p.SetLabel("/")
		p.SetTitle(" Filter ")
	case PromptFind:
		p.SetLabel("find: ")
		p.SetTitle(" Find in thread ")
	}
	// Set the mode first so a change callback fired by SetText sees it.
	p.SetText(text)
}

// Mode returns the current prompt mode.
func (p *Prompt) Mode() PromptMode {
	return p.mode
}
