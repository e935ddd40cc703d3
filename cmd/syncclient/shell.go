package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/atinyakov/syncmanager/internal/manager"
	"github.com/atinyakov/syncmanager/internal/models"
)

const helpText = `Available commands:
  login <id> [username]             store a user as logged in
  logout <id>                       mark a user as logged out
  users                             list stored users
  session <user-id> <url> [name]    open or reuse a sync session
  sessions                          list live sessions
  status                            show the sync client state
  help, exit`

// shell is the interactive loop over the sync manager.
type shell struct {
	manager   *manager.SyncManager
	in        io.Reader
	out       io.Writer
	serverURL string
}

func (s *shell) run(ctx context.Context) {
	scanner := bufio.NewScanner(s.in)
	for {
		fmt.Fprint(s.out, "sync> ")
		if !scanner.Scan() {
			return
		}
		args := strings.Fields(strings.TrimSpace(scanner.Text()))
		if len(args) == 0 {
			continue
		}
		if args[0] == "exit" {
			fmt.Fprintln(s.out, "Bye")
			return
		}
		s.exec(ctx, args)
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *shell) exec(ctx context.Context, args []string) {
	switch args[0] {
	case "help":
		fmt.Fprintln(s.out, helpText)
	case "login":
		if len(args) < 2 {
			fmt.Fprintln(s.out, "Usage: login <id> [username]")
			return
		}
		user := models.Identity{ID: args[1], ServerURL: s.serverURL}
		if len(args) > 2 {
			user.Username = args[2]
		}
		if err := s.manager.LogIn(ctx, user); err != nil {
			fmt.Fprintf(s.out, "Login failed: %v\n", err)
			return
		}
		fmt.Fprintf(s.out, "Logged in %s\n", user.ID)
	case "logout":
		if len(args) < 2 {
			fmt.Fprintln(s.out, "Usage: logout <id>")
			return
		}
		err := s.manager.LogOut(ctx, args[1])
		switch {
		case errors.Is(err, manager.ErrUnknownUser):
			fmt.Fprintln(s.out, "User not found")
		case err != nil:
			fmt.Fprintf(s.out, "Logout failed: %v\n", err)
		default:
			fmt.Fprintf(s.out, "Logged out %s\n", args[1])
		}
	case "users":
		users, err := s.manager.Users(ctx)
		if err != nil {
			fmt.Fprintf(s.out, "Cannot list users: %v\n", err)
			return
		}
		if len(users) == 0 {
			fmt.Fprintln(s.out, "No users")
		}
		for _, u := range users {
			state := "logged out"
			if u.LoggedIn {
				state = "logged in"
			}
			fmt.Fprintf(s.out, "%s\t%s\t%s\n", u.ID, u.Username, state)
		}
	case "session":
		if len(args) < 3 {
			fmt.Fprintln(s.out, "Usage: session <user-id> <url> [name]")
			return
		}
		s.openSession(ctx, args[1], args[2], args[3:])
	case "sessions":
		sessions := s.manager.Sessions()
		if len(sessions) == 0 {
			fmt.Fprintln(s.out, "No sessions")
		}
		for _, sess := range sessions {
			synced := "never"
			if at := sess.LastSynced(); !at.IsZero() {
				synced = at.Format(time.RFC3339)
			}
			fmt.Fprintf(s.out, "%s\t%s\t%s\tv%d\tsynced %s\n",
				sess.ID(), sess.Config(), sess.State(), sess.Version(), synced)
		}
	case "status":
		b, _ := json.MarshalIndent(map[string]any{
			"state":    s.manager.State(),
			"worker":   s.manager.WorkerName(),
			"sessions": len(s.manager.Sessions()),
		}, "", "  ")
		fmt.Fprintln(s.out, string(b))
	default:
		fmt.Fprintln(s.out, "Unknown command. Type 'help' for a list of commands.")
	}
}

func (s *shell) openSession(ctx context.Context, userID, url string, rest []string) {
	owner := models.Identity{ID: userID}
	if stored, err := s.manager.UserStore().Get(ctx, userID); err == nil && stored != nil {
		owner = *stored
	}
	var opts []models.ConfigOption
	if len(rest) > 0 {
		opts = append(opts, models.WithName(rest[0]))
	}
	cfg, err := models.NewSyncConfiguration(owner, url, opts...)
	if err != nil {
		fmt.Fprintf(s.out, "Invalid configuration: %v\n", err)
		return
	}
	sess, err := s.manager.GetSession(ctx, cfg)
	if err != nil {
		fmt.Fprintf(s.out, "Cannot open session: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "Session %s for %s\n", sess.ID(), cfg)
}
