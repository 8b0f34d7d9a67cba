package tui

import "testing"

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in   string
		want Command
	}{
		{"q", Command{Name: "q"}},
		{"  Search   hello world ", Command{Name: "search", Args: "hello world"}},
		{"group Team Rocket", Command{Name: "group", Args: "Team Rocket"}},
		{"", Command{}},
	}
	for _, tt := range tests {
		if got := ParseCommand(tt.in); got != tt.want {
			t.Errorf("ParseCommand(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}
