// Package tui is the terminal front end. Every screen is drawn from the
// chat store's derived views; the store's change signal triggers a redraw.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"github.com/matheus3301/threadline/internal/chat"
	"github.com/matheus3301/threadline/internal/store"
	"github.com/matheus3301/threadline/internal/tui/keys"
	"github.com/matheus3301/threadline/internal/tui/ui"
	"github.com/matheus3301/threadline/internal/tui/views"
)

// Page names.
const (
	pageSessions = "sessions"
	pageThread   = "thread"
	pageDetails  = "details"
	pageSearch   = "search"
	pagePeople   = "people"
	pageHelp     = "help"
)

// searchLimit bounds full-text search results.
const searchLimit = 100

// Searcher runs full-text search over the local journal.
type Searcher interface {
	SearchMessages(query, sessionID string, limit int) ([]store.SearchResult, error)
}

// Options configures the TUI.
type Options struct {
	Profile  string
	Store    *chat.Store
	Searcher Searcher
	Logger   *zap.Logger
}

// App is the main TUI application shell.
type App struct {
	app      *tview.Application
	theme    *ui.Theme
	pages    *ui.Pages
	body     *tview.Flex
	prompt   *ui.Prompt
	crumbs   *ui.Crumbs
	menu     *ui.Menu
	info     *ui.ProfileInfo
	flash    *ui.FlashModel
	flashBar *ui.FlashBar
	registry *keys.Registry

	list    *views.SessionList
	thread  *views.MessageThread
	details *views.SessionDetails
	search  *views.SearchView
	people  *views.People
	help    *views.HelpView

	store    *chat.Store
	searcher Searcher
	logger   *zap.Logger
	profile  string
	started  time.Time

	archived   bool
	filter     string
	promptOpen bool
	authShown  bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(opts Options) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{
		app:      tview.NewApplication(),
		theme:    theme,
		pages:    ui.NewPages(),
		prompt:   ui.NewPrompt(theme),
		crumbs:   ui.NewCrumbs(theme),
		menu:     ui.NewMenu(theme),
		info:     ui.NewProfileInfo(theme),
		flash:    ui.NewFlashModel(),
		flashBar: ui.NewFlashBar(theme),
		registry: keys.NewRegistry(),
		list:     views.NewSessionList(theme),
		thread:   views.NewMessageThread(theme),
		details:  views.NewSessionDetails(theme),
		search:   views.NewSearchView(theme),
		people:   views.NewPeople(theme),
		help:     views.NewHelpView(theme),
		store:    opts.Store,
		searcher: opts.Searcher,
		logger:   logger,
		profile:  opts.Profile,
		started:  time.Now(),
		ctx:      ctx,
		cancel:   cancel,
	}

	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()
	return a
}

func (a *App) setupBindings() {
	r := a.registry
	r.AddGlobal(keys.Rune(':', "Command", func() { a.openPrompt(ui.PromptCommand, "") }))
	r.AddGlobal(keys.Rune('?', "Help", func() { a.showHelp() }))
	r.AddGlobal(keys.Key(tcell.KeyEscape, "Back", func() { a.back() }))
	r.AddGlobal(keys.Rune('q', "Quit", func() { a.app.Stop() }))

	r.AddView(pageSessions, keys.Key(tcell.KeyEnter, "Open", func() { a.openSession(a.list.Selected()) }))
	r.AddView(pageSessions, keys.Rune('/', "Filter", func() { a.openPrompt(ui.PromptFilter, a.filter) }))
	r.AddView(pageSessions, keys.Rune('n', "New session", func() { a.showPeople("") }))
	r.AddView(pageSessions, keys.Rune('a', "Archive/restore", func() { a.toggleArchive(a.list.Selected()) }))
	r.AddView(pageSessions, keys.Rune('u', "Mark unread", func() { a.markUnread(a.list.Selected()) }))
	r.AddView(pageSessions, keys.Rune('A', "Show archived", func() { a.toggleArchivedList() }))
	r.AddView(pageSessions, keys.Rune('d', "Details", func() { a.showDetails(a.list.Selected()) }))
	for n := 1; n <= 9; n++ {
		jump := keys.Rune(rune('0'+n), "Jump", func() { a.openSession(a.list.ByIndex(n)) })
		jump.Hidden = n > 1
		if n == 1 {
			jump.Label = "1-9"
		}
		r.AddView(pageSessions, jump)
	}

	r.AddView(pageThread, keys.Rune('i', "Compose", func() { a.app.SetFocus(a.thread.Composer()) }))
	r.AddView(pageThread, keys.Rune('/', "Find", func() { a.openPrompt(ui.PromptFind, a.store.ThreadSearch().Query) }))
	r.AddView(pageThread, keys.Rune('n', "Next match", func() { a.step(a.store.SearchNext) }))
	r.AddView(pageThread, keys.Rune('N', "Previous match", func() { a.step(a.store.SearchPrev) }))
	r.AddView(pageThread, keys.Rune('o', "Older messages", func() { a.loadOlder() }))
	r.AddView(pageThread, keys.Rune('r', "Retry failed", func() { a.retryFailed() }))
	r.AddView(pageThread, keys.Rune('x', "Discard failed", func() { a.discardFailed() }))
	r.AddView(pageThread, keys.Rune('d', "Details", func() { a.showDetails(a.thread.SessionID()) }))
	r.AddView(pageThread, keys.Rune('q', "Back", func() { a.back() }))

	r.AddView(pageSearch, keys.Key(tcell.KeyEnter, "Open result", func() {
		if hit, ok := a.search.Selected(); ok {
			a.openSession(hit.SessionID)
		}
	}))
	r.AddView(pagePeople, keys.Rune(' ', "Pick", func() { a.people.Toggle() }))
	r.AddView(pagePeople, keys.Key(tcell.KeyEnter, "Start session", func() { a.createSession() }))
}

func (a *App) setupCallbacks() {
	a.pages.SetOnChange(func(stack []string) {
		names := make([]string, 0, len(stack))
		for _, p := range stack {
			names = append(names, a.component(p).Name())
		}
		a.crumbs.Update(names)
		a.menu.Update(a.registry.Hints(a.pages.Current()))
	})

	a.thread.SetOnSend(func(text string) {
		if _, err := a.store.SendText(text); err != nil {
			a.flash.Err("send", err)
		}
	})

	a.search.SetOnQuery(func(q string) { a.runSearch(q) })
	a.people.SetOnQuery(func(q string) { a.store.SearchUsers(q) })

	a.prompt.SetOnChange(func(mode ui.PromptMode, text string) {
		switch mode {
		case ui.PromptFilter:
			a.filter = text
			a.store.SetListQuery(text)
		case ui.PromptFind:
			a.store.SetThreadQuery(text)
		}
	})
	a.prompt.SetOnSubmit(func(mode ui.PromptMode, text string) {
		a.closePrompt()
		switch mode {
		case ui.PromptCommand:
			a.runCommand(ParseCommand(text))
		case ui.PromptFind:
			// Apply at once so n/N work without waiting for the debounce.
			a.store.Flush()
		}
	})
	a.prompt.SetOnCancel(func(mode ui.PromptMode) {
		a.closePrompt()
		switch mode {
		case ui.PromptFilter:
			a.filter = ""
			a.store.SetListQuery("")
		case ui.PromptFind:
			a.store.SetThreadQuery("")
		}
	})
}

func (a *App) setupLayout() {
	a.pages.AddPage(pageSessions, a.list, true, false)
	a.pages.AddPage(pageThread, a.thread, true, false)
	a.pages.AddPage(pageDetails, a.details, true, false)
	a.pages.AddPage(pageSearch, a.search, true, false)
	a.pages.AddPage(pagePeople, a.people, true, false)
	a.pages.AddPage(pageHelp, a.help, true, false)

	header := tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(a.info, 32, 0, false).
		AddItem(a.menu, 0, 1, false).
		AddItem(ui.NewLogo(a.theme), 14, 0, false)

	a.body = tview.NewFlex().SetDirection(tview.FlexRow)
	a.body.AddItem(a.pages, 0, 1, true)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, 7, 0, false).
		AddItem(a.body, 0, 1, true).
		AddItem(a.crumbs, 1, 0, false).
		AddItem(a.flashBar, 1, 0, false)

	a.app.SetRoot(root, true)
	a.pages.Reset(pageSessions)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyCtrlC {
			a.app.Stop()
			return nil
		}
		// Text inputs own their keys; Esc leaves them.
		if a.promptOpen {
			return event
		}
		if _, ok := a.app.GetFocus().(*tview.InputField); ok {
			return a.inputKey(event)
		}
		if a.registry.HandleEvent(a.pages.Current(), event) {
			return nil
		}
		return event
	})
}

// inputKey handles keys typed into a page's text field.
func (a *App) inputKey(event *tcell.EventKey) *tcell.EventKey {
	switch event.Key() {
	case tcell.KeyEscape:
		a.focusPage()
		return nil
	case tcell.KeyTab, tcell.KeyDown:
		if p := a.pages.Current(); p == pageSearch || p == pagePeople {
			a.focusPage()
			return nil
		}
	case tcell.KeyEnter:
		if a.pages.Current() == pagePeople {
			a.focusPage()
			return nil
		}
	}
	return event
}

func (a *App) component(page string) ui.Component {
	switch page {
	case pageThread:
		return a.thread
	case pageDetails:
		return a.details
	case pageSearch:
		return a.search
	case pagePeople:
		return a.people
	case pageHelp:
		return a.help
	default:
		return a.list
	}
}

// Run starts the TUI application and blocks until it quits.
func (a *App) Run() error {
	a.logger.Info("tui started", zap.String("profile", a.profile))
	go a.watch()
	go func() {
		if err := a.store.LoadSessions(a.ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.flash.Err("load sessions", err)
		}
	}()
	a.refresh()
	err := a.app.Run()
	a.cancel()
	return err
}

// watch redraws on every store change, and once a second for the clock
// and expiring flash messages.
func (a *App) watch() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-a.store.Changes():
		case <-a.flash.Watch():
		case <-ticker.C:
		case <-a.ctx.Done():
			return
		}
		a.app.QueueUpdateDraw(a.refresh)
	}
}

// refresh redraws from the store. It runs on the draw loop.
func (a *App) refresh() {
	if a.archived {
		a.list.Update(a.store.ArchivedList(), true, a.store.ListQuery())
	} else {
		a.list.Update(a.store.SessionList(), false, a.store.ListQuery())
	}

	switch a.pages.Current() {
	case pageThread:
		a.renderThread()
	case pagePeople:
		a.people.Update(a.store.UserResults())
	case pageDetails:
		a.renderDetails(a.thread.SessionID())
	}

	state := string(a.store.ConnectionState())
	if a.store.AuthRequired() {
		state = "AUTH REQUIRED"
		if !a.authShown {
			a.authShown = true
			a.flash.Warn("The server rejected the credential. Update auth.token and restart.")
		}
	}
	a.info.Update(ui.ProfileData{
		Profile:  a.profile,
		User:     a.store.UserName(a.store.Self()),
		State:    state,
		Sessions: len(a.store.SessionList()),
		Unread:   a.store.UnreadTotal(),
		Uptime:   time.Since(a.started),
		Synced:   a.store.LastSynced(),
	})
	a.flashBar.Update(a.flash.Current())
}

func (a *App) renderThread() {
	id := a.store.Selected()
	if id == "" {
		return
	}
	header, err := a.store.Header(id)
	if err != nil {
		return
	}
	a.thread.Update(views.ThreadData{
		SessionID: id,
		Header:    header,
		Messages:  a.store.Thread(id),
		Search:    a.store.ThreadSearch(),
		HasMore:   a.store.HasOlder(id),
	})
}

func (a *App) renderDetails(id string) {
	sess, ok := a.store.Session(id)
	if !ok {
		return
	}
	header, _ := a.store.Header(id)
	a.details.Update(views.DetailsData{
		Session:      sess,
		Title:        header.Title,
		Participants: a.store.Members(id),
		Messages:     len(a.store.Thread(id)),
	})
}

func (a *App) openSession(id string) {
	if id == "" {
		return
	}
	a.store.Select(a.ctx, id)
	a.pages.Push(pageThread)
	a.renderThread()
	a.app.SetFocus(a.thread.Messages())
}

// back leaves the current page. Leaving the thread closes the session so
// new messages count as unread again.
func (a *App) back() {
	if a.pages.Current() == pageThread {
		a.store.SetThreadQuery("")
		a.store.Select(a.ctx, "")
	}
	if a.pages.Pop() != "" {
		a.focusPage()
		a.refresh()
	}
}

func (a *App) focusPage() {
	switch a.pages.Current() {
	case pageThread:
		a.app.SetFocus(a.thread.Messages())
	case pageSearch:
		a.app.SetFocus(a.search.Results())
	case pagePeople:
		a.app.SetFocus(a.people.Results())
	default:
		a.app.SetFocus(a.component(a.pages.Current()).(tview.Primitive))
	}
}

func (a *App) openPrompt(mode ui.PromptMode, text string) {
	if a.promptOpen {
		return
	}
	a.promptOpen = true
	a.prompt.Activate(mode, text)
	a.body.Clear()
	a.body.AddItem(a.prompt, 3, 0, true).AddItem(a.pages, 0, 1, false)
	a.app.SetFocus(a.prompt)
}

func (a *App) closePrompt() {
	a.promptOpen = false
	a.body.Clear()
	a.body.AddItem(a.pages, 0, 1, true)
	a.focusPage()
}

func (a *App) step(move func() (string, bool)) {
	if _, ok := move(); !ok {
		a.flash.Info("no matches")
	}
	a.renderThread()
}

func (a *App) loadOlder() {
	go func() {
		res, err := a.store.LoadOlder(a.ctx)
		switch {
		case err != nil:
			a.flash.Err("load older", err)
		case res.Fetched == 0 && !res.HasMore:
			a.flash.Info("beginning of history")
		}
	}()
}

func (a *App) retryFailed() {
	m, ok := a.thread.LatestFailed()
	if !ok {
		a.flash.Info("nothing to retry")
		return
	}
	if _, err := a.store.Retry(m.CorrelationID); err != nil {
		a.flash.Err("retry", err)
	}
}

func (a *App) discardFailed() {
	m, ok := a.thread.LatestFailed()
	if !ok {
		a.flash.Info("nothing to discard")
		return
	}
	if err := a.store.Discard(m.CorrelationID); err != nil {
		a.flash.Err("discard", err)
	}
}

func (a *App) toggleArchive(id string) {
	sess, ok := a.store.Session(id)
	if !ok {
		return
	}
	if err := a.store.Archive(id, !sess.Archived); err != nil {
		a.flash.Err("archive", err)
	}
}

func (a *App) markUnread(id string) {
	if err := a.store.MarkUnread(id); err != nil {
		a.flash.Err("mark unread", err)
	}
}

func (a *App) toggleArchivedList() {
	a.archived = !a.archived
	a.refresh()
}

func (a *App) showDetails(id string) {
	if id == "" {
		return
	}
	a.renderDetails(id)
	a.pages.Push(pageDetails)
	a.app.SetFocus(a.details)
}

func (a *App) showHelp() {
	sections := []views.HelpSection{
		{Title: "Sessions", Hints: a.registry.Hints(pageSessions)},
		{Title: "Thread", Hints: a.registry.Hints(pageThread)},
		{Title: "New session", Hints: a.registry.Hints(pagePeople)},
	}
	cmds := views.HelpSection{Title: "Commands"}
	for _, c := range commandHelp {
		cmds.Hints = append(cmds.Hints, ui.MenuHint{Key: c[0], Description: c[1]})
	}
	a.help.Update(append(sections, cmds))
	a.pages.Push(pageHelp)
	a.app.SetFocus(a.help)
}

func (a *App) showPeople(groupName string) {
	a.people.Reset(groupName)
	a.store.SearchUsers("")
	a.pages.Push(pagePeople)
	a.app.SetFocus(a.people.Input())
}

func (a *App) createSession() {
	ids, name := a.people.Choice()
	if len(ids) == 0 {
		a.flash.Info("pick someone first")
		return
	}
	go func() {
		sess, err := a.store.CreateSession(a.ctx, ids, name, name != "" || len(ids) > 1)
		if err != nil {
			a.logger.Warn("create session failed", zap.Error(err), zap.Strings("participants", ids))
			a.flash.Err("create session", err)
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.pages.Pop()
			a.openSession(sess.ID)
		})
	}()
}

func (a *App) runSearch(q string) {
	q = strings.TrimSpace(q)
	if q == "" || a.searcher == nil {
		return
	}
	go func() {
		results, err := a.searcher.SearchMessages(q, "", searchLimit)
		if err != nil {
			a.flash.Err("search", err)
			return
		}
		hits := make([]views.SearchHit, 0, len(results))
		for _, r := range results {
			title := r.Message.SessionID
			if h, err := a.store.Header(r.Message.SessionID); err == nil {
				title = h.Title
			}
			hits = append(hits, views.SearchHit{
				SessionID:  r.Message.SessionID,
				MessageKey: r.Message.Key(),
				Session:    title,
				Sender:     a.store.UserName(r.Message.SenderID),
				Snippet:    r.Snippet,
				CreatedAt:  r.Message.CreatedAt,
			})
		}
		a.app.QueueUpdateDraw(func() {
			a.search.Update(q, hits)
			a.app.SetFocus(a.search.Results())
		})
	}()
}

func (a *App) runCommand(cmd Command) {
	target := a.list.Selected()
	if a.pages.Current() == pageThread {
		target = a.thread.SessionID()
	}

	switch cmd.Name {
	case "q", "quit":
		a.app.Stop()
	case "h", "help":
		a.showHelp()
	case "search":
		a.search.SetQuery(cmd.Args)
		a.pages.Push(pageSearch)
		a.app.SetFocus(a.search.Input())
		a.runSearch(cmd.Args)
	case "open":
		for _, v := range a.store.SessionList() {
			if strings.Contains(strings.ToLower(v.Title), strings.ToLower(cmd.Args)) {
				a.openSession(v.Session.ID)
				return
			}
		}
		a.flash.Warn(fmt.Sprintf("no session matches %q", cmd.Args))
	case "new":
		a.showPeople("")
	case "group":
		if cmd.Args == "" {
			a.flash.Warn("usage: :group <name>")
			return
		}
		a.showPeople(cmd.Args)
	case "archived":
		a.toggleArchivedList()
	case "archive", "unarchive":
		if err := a.store.Archive(target, cmd.Name == "archive"); err != nil {
			a.flash.Err(cmd.Name, err)
		}
	case "unread":
		a.markUnread(target)
	case "reload":
		go func() {
			if err := a.store.LoadSessions(a.ctx); err != nil {
				a.flash.Err("reload", err)
				return
			}
			a.flash.Info("session list reloaded")
		}()
	case "logout":
		go func() {
			a.store.Logout()
			a.app.Stop()
		}()
	case "":
	default:
		a.flash.Warn(fmt.Sprintf("unknown command %q", cmd.Name))
	}
}

// Stop shuts the TUI down.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
