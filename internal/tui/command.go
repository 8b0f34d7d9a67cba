package tui

import "strings"

// Command represents a parsed ':' command.
type Command struct {
	Name string
	Args string
}

// ParseCommand parses a command string (without the leading ':').
func ParseCommand(input string) Command {
	input = strings.TrimSpace(input)
	name, args, _ := strings.Cut(input, " ")
	return Command{Name: strings.ToLower(name), Args: strings.TrimSpace(args)}
}

// commandHelp lists the ':' commands for the help page.
var commandHelp = [][2]string{
	{":search <text>", "Search messages in every cached session"},
	{":open <name>", "Open the first session whose title matches"},
	{":new", "Start a direct session"},
	{":group <name>", "Start a named group"},
	{":archived", "Toggle between active and archived sessions"},
	{":archive / :unarchive", "Archive the highlighted or open session"},
	{":unread", "Mark the highlighted or open session unread"},
	{":reload", "Fetch the session list again"},
	{":logout", "Forget the cached data of this profile and quit"},
	{":help / :h", "Show this help"},
	{":quit / :q", "Quit"},
}
