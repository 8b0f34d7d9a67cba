package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
)

// Theme is the TUI palette.
type Theme struct {
	BgColor     tcell.Color
	FgColor     tcell.Color
	BorderColor tcell.Color
	TitleColor  tcell.Color

	TableHeaderFg tcell.Color
	TableHeaderBg tcell.Color
	TableCursorFg tcell.Color
	TableCursorBg tcell.Color

	CrumbActiveFg   tcell.Color
	CrumbActiveBg   tcell.Color
	CrumbInactiveFg tcell.Color
	CrumbInactiveBg tcell.Color

	MenuKeyColor      tcell.Color
	CounterColor      tcell.Color
	PromptBorderColor tcell.Color

	FlashInfoColor tcell.Color
	FlashWarnColor tcell.Color
	FlashErrColor  tcell.Color

	MineColor    tcell.Color
	PendingColor tcell.Color
	FailedColor  tcell.Color
	MatchColor   tcell.Color
	UnreadColor  tcell.Color

	OnlineColor  tcell.Color
	AwayColor    tcell.Color
	BusyColor    tcell.Color
	OfflineColor tcell.Color
}

// DefaultTheme is a dark palette built around teal.
func DefaultTheme() *Theme {
	return &Theme{
		BgColor:     tcell.ColorBlack,
		FgColor:     tcell.ColorSilver,
		BorderColor: tcell.ColorTeal,
		TitleColor:  tcell.ColorAquaMarine,

		TableHeaderFg: tcell.ColorWhite,
		TableHeaderBg: tcell.ColorBlack,
		TableCursorFg: tcell.ColorBlack,
		TableCursorBg: tcell.ColorMediumTurquoise,

		CrumbActiveFg:   tcell.ColorBlack,
		CrumbActiveBg:   tcell.ColorGold,
		CrumbInactiveFg: tcell.ColorBlack,
		CrumbInactiveBg: tcell.ColorTeal,

		MenuKeyColor:      tcell.ColorMediumTurquoise,
		CounterColor:      tcell.ColorWheat,
		PromptBorderColor: tcell.ColorGold,

		FlashInfoColor: tcell.ColorWheat,
		FlashWarnColor: tcell.ColorGold,
		FlashErrColor:  tcell.ColorTomato,

		MineColor:    tcell.ColorPaleTurquoise,
		PendingColor: tcell.ColorGray,
		FailedColor:  tcell.ColorTomato,
		MatchColor:   tcell.ColorYellow,
		UnreadColor:  tcell.ColorGold,

		OnlineColor:  tcell.ColorLime,
		AwayColor:    tcell.ColorYellow,
		BusyColor:    tcell.ColorRed,
		OfflineColor: tcell.ColorGray,
	}
}

// Tag renders c for a tview color tag.
func Tag(c tcell.Color) string { return colorName(c) }

// colorName uses hex so the result does not depend on map order when two
// names share a value.
func colorName(c tcell.Color) string {
	if c == tcell.ColorDefault {
		return "-"
	}
	return fmt.Sprintf("#%06x", c.Hex())
}
