// Package keys maps key events to named actions, per page.
package keys

import (
	"slices"

	"github.com/gdamore/tcell/v2"

	"github.com/matheus3301/threadline/internal/tui/ui"
)

// Action represents a keybinding action.
type Action struct {
	Key         tcell.Key
	Rune        rune
	Label       string // key as shown in the menu, e.g. "Enter"
	Description string
	Handler     func()
	Hidden      bool
}

// Matches returns true if the event matches this action.
func (a *Action) Matches(ev *tcell.EventKey) bool {
	if a.Key != tcell.KeyRune {
		return ev.Key() == a.Key
	}
	return ev.Key() == tcell.KeyRune && ev.Rune() == a.Rune
}

// Registry holds keybindings organized by page. Bindings keep their
// registration order so the menu is stable.
type Registry struct {
	global []*Action
	views  map[string][]*Action
}

// NewRegistry creates a new keybinding registry.
func NewRegistry() *Registry {
	return &Registry{views: make(map[string][]*Action)}
}

// AddGlobal registers a binding active on every page.
func (r *Registry) AddGlobal(a *Action) {
	r.global = append(r.global, a)
}

// AddView registers a binding for one page. It shadows a global binding on
// the same key.
func (r *Registry) AddView(view string, a *Action) {
	r.views[view] = append(r.views[view], a)
}

// Hints returns the visible bindings of a page, page bindings first.
// Globals shadowed by a page binding are left out.
func (r *Registry) Hints(view string) []ui.MenuHint {
	var hints []ui.MenuHint
	local := r.views[view]
	for _, a := range slices.Concat(local, r.global) {
		if a.Hidden {
			continue
		}
		if !slices.Contains(local, a) && slices.ContainsFunc(local, a.sameKey) {
			continue
		}
		hints = append(hints, ui.MenuHint{Key: a.Label, Description: a.Description})
	}
	return hints
}

func (a *Action) sameKey(b *Action) bool {
	return a.Key == b.Key && (a.Key != tcell.KeyRune || a.Rune == b.Rune)
}

// HandleEvent dispatches a key event to the matching action of view.
// Returns true if a handler matched.
func (r *Registry) HandleEvent(view string, ev *tcell.EventKey) bool {
	for _, a := range r.views[view] {
		if a.Matches(ev) {
			a.Handler()
			return true
		}
	}
	for _, a := range r.global {
		if a.Matches(ev) {
			a.Handler()
			return true
		}
	}
	return false
}

// Rune builds a printable-key action.
func Rune(r rune, description string, handler func()) *Action {
	return &Action{Key: tcell.KeyRune, Rune: r, Label: string(r), Description: description, Handler: handler}
}

// Key builds a special-key action.
func Key(k tcell.Key, description string, handler func()) *Action {
	return &Action{Key: k, Label: tcell.KeyNames[k], Description: description, Handler: handler}
}
