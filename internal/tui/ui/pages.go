package ui

import (
	"slices"

	"github.com/rivo/tview"
)

// Pages keeps a navigation stack on top of tview.Pages. Only the top page
// is visible.
type Pages struct {
	*tview.Pages
	stack    []string
	onChange func(stack []string)
}

func NewPages() *Pages {
	return &Pages{Pages: tview.NewPages()}
}

// SetOnChange is called with the new stack after every move.
func (p *Pages) SetOnChange(fn func(stack []string)) { p.onChange = fn }

// Push shows name on top. Pushing the top page does nothing; pushing a page
// already lower in the stack unwinds back to it.
func (p *Pages) Push(name string) {
	switch i := slices.Index(p.stack, name); {
	case i == len(p.stack)-1 && i >= 0:
		return
	case i >= 0:
		p.truncate(i + 1)
	default:
		p.stack = append(p.stack, name)
	}
	p.showTop()
}

// Pop drops the top page and returns its name. The root stays; popping it
// returns "".
func (p *Pages) Pop() string {
	if len(p.stack) < 2 {
		return ""
	}
	top := p.Current()
	p.truncate(len(p.stack) - 1)
	p.showTop()
	return top
}

func (p *Pages) Current() string {
	if len(p.stack) == 0 {
		return ""
	}
	return p.stack[len(p.stack)-1]
}

// Stack returns a copy of the stack, root first.
func (p *Pages) Stack() []string { return slices.Clone(p.stack) }

// Reset makes name the only page on the stack.
func (p *Pages) Reset(name string) {
	p.truncate(0)
	p.stack = append(p.stack, name)
	p.showTop()
}

func (p *Pages) truncate(n int) {
	for _, name := range p.stack[n:] {
		p.HidePage(name)
	}
	p.stack = p.stack[:n]
}

func (p *Pages) showTop() {
	top := p.Current()
	for _, name := range p.stack[:len(p.stack)-1] {
		p.HidePage(name)
	}
	p.ShowPage(top)
	p.SendToFront(top)
	if p.onChange != nil {
		p.onChange(p.Stack())
	}
}
