package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/fx"

	"github.com/matheus3301/threadline/internal/api"
	"github.com/matheus3301/threadline/internal/app"
	"github.com/matheus3301/threadline/internal/chat"
	"github.com/matheus3301/threadline/internal/config"
	"github.com/matheus3301/threadline/internal/lock"
	"github.com/matheus3301/threadline/internal/model"
	"github.com/matheus3301/threadline/internal/pager"
	"github.com/matheus3301/threadline/internal/profile"
	"github.com/matheus3301/threadline/internal/store"
)

// client bundles what the subcommands need from a started app.
type client struct {
	chat  *chat.Store
	db    *store.DB
	pager *pager.Pager
	api   *api.Client
}

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides THREADLINE_PROFILE and the config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	paths := profile.Default()
	cfg, err := config.LoadOrDefault(paths.ConfigPath())
	if err != nil {
		fatal(fmt.Errorf("load config: %w", err))
	}
	name, err := profile.Resolve(*profileFlag, os.Getenv(profile.EnvProfile), cfg.DefaultProfile)
	if err != nil {
		fatal(err)
	}

	// status inspects the profile without taking its lock.
	if args[0] == "status" {
		cmdStatus(paths, name, *jsonFlag)
		return
	}

	var c client
	fxApp := fx.New(
		fx.NopLogger,
		app.Module(app.Params{
			Profile: name,
			Paths:   paths,
			Command: "threadlinectl " + args[0],
			Console: true,
		}),
		fx.Populate(&c.chat, &c.db, &c.pager, &c.api),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := fxApp.Start(ctx); err != nil {
		var held *lock.HeldError
		if errors.As(err, &held) {
			fatal(fmt.Errorf("profile %q is in use by pid %d (%s)", name, held.Owner.PID, held.Owner.Command))
		}
		fatal(err)
	}

	runErr := run(ctx, c, args, *jsonFlag)

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelStop()
	if err := fxApp.Stop(stopCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
	}
	if runErr != nil {
		fatal(runErr)
	}
}

func run(ctx context.Context, c client, args []string, jsonOut bool) error {
	switch args[0] {
	case "sessions":
		return cmdSessions(ctx, c, jsonOut)
	case "messages":
		if len(args) < 2 {
			return errors.New("usage: threadlinectl messages <session-id>")
		}
		return cmdMessages(ctx, c, args[1], jsonOut)
	case "send":
		if len(args) < 3 {
			return errors.New("usage: threadlinectl send <session-id> <text>")
		}
		return cmdSend(ctx, c, args[1], strings.Join(args[2:], " "), jsonOut)
	case "search":
		if len(args) < 2 {
			return errors.New("usage: threadlinectl search <query> [session-id]")
		}
		sessionID := ""
		if len(args) > 2 {
			sessionID = args[2]
		}
		return cmdSearch(c, args[1], sessionID, jsonOut)
	case "users":
		query := ""
		if len(args) > 1 {
			query = strings.Join(args[1:], " ")
		}
		return cmdUsers(ctx, c, query, jsonOut)
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: threadlinectl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                      Show profile paths and lock holder")
	fmt.Fprintln(os.Stderr, "  sessions                    List sessions")
	fmt.Fprintln(os.Stderr, "  messages <session-id>       Print the latest page of a session")
	fmt.Fprintln(os.Stderr, "  send <session-id> <text>    Send a text message")
	fmt.Fprintln(os.Stderr, "  search <query> [session-id] Search cached messages")
	fmt.Fprintln(os.Stderr, "  users [query]               Search users")
}

type statusOutput struct {
	Profile  string    `json:"profile"`
	Dir      string    `json:"dir"`
	Database string    `json:"database"`
	Log      string    `json:"log"`
	Locked   bool      `json:"locked"`
	PID      int       `json:"pid,omitempty"`
	Command  string    `json:"command,omitempty"`
	Since    time.Time `json:"since,omitzero"`
}

func cmdStatus(paths profile.Paths, name string, jsonOut bool) {
	out := statusOutput{
		Profile:  name,
		Dir:      paths.Dir(name),
		Database: paths.DBPath(name),
		Log:      paths.LogPath(name),
	}
	owner, held, err := lock.Holder(paths.Dir(name))
	if err != nil {
		fatal(err)
	}
	if held {
		out.Locked = true
		out.PID = owner.PID
		out.Command = owner.Command
		out.Since = owner.Since
	}
	if jsonOut {
		outputJSON(out)
		return
	}
	fmt.Printf("Profile:  %s\n", out.Profile)
	fmt.Printf("Dir:      %s\n", out.Dir)
	fmt.Printf("Database: %s\n", out.Database)
	fmt.Printf("Log:      %s\n", out.Log)
	if out.Locked {
		fmt.Printf("In use:   pid %d (%s) since %s\n", out.PID, out.Command, out.Since.Format(time.RFC3339))
	} else {
		fmt.Println("In use:   no")
	}
}

type sessionOutput struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Group        bool      `json:"group"`
	Archived     bool      `json:"archived"`
	Unread       int       `json:"unread"`
	Preview      string    `json:"preview,omitempty"`
	LastActivity time.Time `json:"last_activity,omitzero"`
}

func cmdSessions(ctx context.Context, c client, jsonOut bool) error {
	if err := c.chat.LoadSessions(ctx); err != nil {
		return err
	}
	rows := append(c.chat.SessionList(), c.chat.ArchivedList()...)
	out := make([]sessionOutput, 0, len(rows))
	for _, v := range rows {
		out = append(out, sessionOutput{
			ID:           v.Session.ID,
			Title:        v.Title,
			Group:        v.Session.IsGroup,
			Archived:     v.Session.Archived,
			Unread:       v.Unread,
			Preview:      v.Preview,
			LastActivity: v.Session.LastActivityAt,
		})
	}
	if jsonOut {
		outputJSON(out)
		return nil
	}
	if len(out) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}
	for _, s := range out {
		flags := ""
		if s.Archived {
			flags = " [archived]"
		}
		fmt.Printf("%-24s %-30s %3d%s\n", s.ID, s.Title, s.Unread, flags)
	}
	return nil
}

type messageOutput struct {
	ID        string    `json:"id,omitempty"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

func toMessageOutput(v chat.MessageView) messageOutput {
	text := ""
	if v.Message.Content != nil {
		text = v.Message.Content.Preview()
	}
	return messageOutput{
		ID:        v.Message.ID,
		Sender:    v.SenderName,
		Text:      text,
		State:     string(v.Message.State),
		CreatedAt: v.Message.CreatedAt,
	}
}

func cmdMessages(ctx context.Context, c client, sessionID string, jsonOut bool) error {
	if err := c.chat.LoadSessions(ctx); err != nil {
		return err
	}
	if _, err := c.pager.LoadInitialPage(ctx, sessionID); err != nil {
		return err
	}
	thread := c.chat.Thread(sessionID)
	out := make([]messageOutput, 0, len(thread))
	for _, v := range thread {
		out = append(out, toMessageOutput(v))
	}
	if jsonOut {
		outputJSON(out)
		return nil
	}
	for _, m := range out {
		fmt.Printf("%s  %-16s %s\n", m.CreatedAt.Local().Format("2006-01-02 15:04"), m.Sender, m.Text)
	}
	return nil
}

func cmdSend(ctx context.Context, c client, sessionID, text string, jsonOut bool) error {
	if err := c.chat.LoadSessions(ctx); err != nil {
		return err
	}
	if _, ok := c.chat.Session(sessionID); !ok {
		return fmt.Errorf("%w: %s", chat.ErrUnknownSession, sessionID)
	}
	stub, err := c.chat.SendTo(sessionID, model.Text{Body: text})
	if err != nil {
		return err
	}
	c.chat.WaitSends()

	// A stub still in the thread means the send failed; a confirmed send
	// replaces it.
	for _, v := range c.chat.Thread(sessionID) {
		if v.Message.IsStub() && v.Message.CorrelationID == stub.CorrelationID {
			return fmt.Errorf("send failed: %s", v.Message.Error)
		}
	}
	if jsonOut {
		outputJSON(map[string]string{"correlation_id": stub.CorrelationID, "state": string(model.Sent)})
		return nil
	}
	fmt.Println("Sent.")
	return nil
}

type searchOutput struct {
	SessionID string    `json:"session_id"`
	MessageID string    `json:"message_id"`
	Snippet   string    `json:"snippet"`
	CreatedAt time.Time `json:"created_at"`
}

func cmdSearch(c client, query, sessionID string, jsonOut bool) error {
	results, err := c.db.SearchMessages(query, sessionID, 50)
	if err != nil {
		return err
	}
	out := make([]searchOutput, 0, len(results))
	for _, r := range results {
		out = append(out, searchOutput{
			SessionID: r.Message.SessionID,
			MessageID: r.Message.ID,
			Snippet:   r.Snippet,
			CreatedAt: r.Message.CreatedAt,
		})
	}
	if jsonOut {
		outputJSON(out)
		return nil
	}
	if len(out) == 0 {
		fmt.Println("No matches.")
		return nil
	}
	for _, r := range out {
		fmt.Printf("%-24s %s  %s\n", r.SessionID, r.CreatedAt.Local().Format("2006-01-02 15:04"), r.Snippet)
	}
	return nil
}

type userOutput struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username,omitempty"`
	Presence string `json:"presence"`
}

func cmdUsers(ctx context.Context, c client, query string, jsonOut bool) error {
	users, err := c.api.SearchUsers(ctx, query)
	if err != nil {
		return err
	}
	out := make([]userOutput, 0, len(users))
	for _, u := range users {
		out = append(out, userOutput{ID: u.ID, Name: u.Name(), Username: u.Username, Presence: u.Presence.Label()})
	}
	if jsonOut {
		outputJSON(out)
		return nil
	}
	for _, u := range out {
		fmt.Printf("%-24s %-24s %s\n", u.ID, u.Name, u.Presence)
	}
	return nil
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
