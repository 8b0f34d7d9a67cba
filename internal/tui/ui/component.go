package ui

// MenuHint describes a keyboard shortcut for display in the menu.
type MenuHint struct {
	Key         string
	Description string
}

// Component is implemented by every page the app can push.
type Component interface {
	// Name is shown in the breadcrumb bar.
	Name() string
}
