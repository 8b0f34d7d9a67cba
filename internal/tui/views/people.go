package views

import (
	"fmt"
	"slices"

	"github.com/rivo/tview"

	"github.com/matheus3301/threadline/internal/model"
	"github.com/matheus3301/threadline/internal/tui/ui"
)

// People finds users and starts a session with them. Space picks several
// users for a group; Enter starts the session.
type People struct {
	*tview.Flex
	theme     *ui.Theme
	input     *tview.InputField
	results   *tview.Table
	users     []model.User
	picked    []model.User
	groupName string
	onQuery   func(query string)
}

// NewPeople creates the user picker.
func NewPeople(theme *ui.Theme) *People {
	input := ui.NewInput(theme, " Find people: ")
	results := ui.NewTable(theme, false)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(input, 1, 0, true).
		AddItem(results, 0, 1, false)

	p := &People{Flex: flex, theme: theme, input: input, results: results}
	input.SetChangedFunc(func(text string) {
		if p.onQuery != nil {
			p.onQuery(text)
		}
	})
	return p
}

func (p *People) Name() string {
	if p.groupName != "" {
		return "New group"
	}
	return "New session"
}

// SetOnQuery is called on every keystroke in the search field.
func (p *People) SetOnQuery(fn func(query string)) { p.onQuery = fn }

// Reset clears the picker. A non-empty groupName creates a named group.
func (p *People) Reset(groupName string) {
	p.groupName = groupName
	p.picked = nil
	p.users = nil
	p.input.SetText("")
	p.render()
}

// Update shows the latest search results.
func (p *People) Update(users []model.User) {
	p.users = users
	p.render()
}

// Toggle picks or unpicks the user under the cursor.
func (p *People) Toggle() {
	u, ok := p.current()
	if !ok {
		return
	}
	if i := p.pickedIndex(u.ID); i >= 0 {
		p.picked = slices.Delete(p.picked, i, i+1)
	} else {
		p.picked = append(p.picked, u)
	}
	p.render()
}

// Choice returns the users to start a session with: the picked ones, or the
// one under the cursor when none are picked.
func (p *People) Choice() (ids []string, name string) {
	users := p.picked
	if len(users) == 0 {
		if u, ok := p.current(); ok {
			users = []model.User{u}
		}
	}
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids, p.groupName
}

// Input returns the search field, for focus management.
func (p *People) Input() *tview.InputField { return p.input }

// Results returns the results table, for focus management.
func (p *People) Results() *tview.Table { return p.results }

func (p *People) current() (model.User, bool) {
	row, _ := p.results.GetSelection()
	if row >= 0 && row < len(p.users) {
		return p.users[row], true
	}
	return model.User{}, false
}

func (p *People) pickedIndex(id string) int {
	return slices.IndexFunc(p.picked, func(u model.User) bool { return u.ID == id })
}

func (p *People) render() {
	p.results.Clear()
	for i, u := range p.users {
		mark := "[ ]"
		if p.pickedIndex(u.ID) >= 0 {
			mark = "[x[]"
		}
		p.results.SetCell(i, 0, tview.NewTableCell(" "+mark).SetTextColor(p.theme.FgColor))
		p.results.SetCell(i, 1, tview.NewTableCell(" "+presenceDot(p.theme, u.Presence)+cell(u.Name())).SetExpansion(1).SetTextColor(p.theme.FgColor))
		p.results.SetCell(i, 2, tview.NewTableCell(" "+cell(u.Email)).SetTextColor(p.theme.FgColor))
	}
	title := fmt.Sprintf(" %s | picked %d | space: pick, enter: start ", p.Name(), len(p.picked))
	if p.groupName != "" {
		title = fmt.Sprintf(" %s %q | picked %d | space: pick, enter: start ", p.Name(), p.groupName, len(p.picked))
	}
	p.results.SetTitle(title)
}
