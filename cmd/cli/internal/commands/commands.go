package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/psadmin/cmd/cli/internal/credentials"
	"github.com/wolfeidau/psadmin/internal/cache"
	"github.com/wolfeidau/psadmin/internal/client"
	"github.com/wolfeidau/psadmin/internal/problems"
	"github.com/wolfeidau/psadmin/internal/session"
)

type Globals struct {
	Debug      bool
	Version    string
	Server     string
	SessionDir string
	CacheDir   string
	Timeout    time.Duration

	// Stdout and Stdin default to the process streams.
	Stdout io.Writer
	Stdin  io.Reader
}

func (g *Globals) out() io.Writer {
	if g.Stdout == nil {
		return os.Stdout
	}
	return g.Stdout
}

func (g *Globals) in() io.Reader {
	if g.Stdin == nil {
		return os.Stdin
	}
	return g.Stdin
}

// app is the wiring shared by every command: one API client, the session
// and the cache-backed coordinator.
type app struct {
	client   *client.Client
	store    *credentials.Store
	session  *session.Manager
	problems *problems.Coordinator
}

func newApp(globals *Globals) (*app, error) {
	config := client.DefaultConfig()
	if globals.Server != "" {
		config.ServerURL = globals.Server
	}
	if globals.Timeout > 0 {
		config.Timeout = globals.Timeout
	}
	config.Debug = globals.Debug
	config.CacheDir = globals.CacheDir

	c, err := client.New(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	store, err := credentials.NewStore(globals.SessionDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}

	sess := session.NewManager(c.Auth(), store, session.WithExpiryCheck(credentials.TokenExpiry))

	return &app{
		client:   c,
		store:    store,
		session:  sess,
		problems: problems.NewCoordinator(c.Problems(sess), cache.New()),
	}, nil
}

// restore resolves the persisted session. An expired session is reported
// but is not fatal; the session is simply Anonymous afterwards.
func (a *app) restore(ctx context.Context, w io.Writer) error {
	err := a.session.Restore(ctx)
	if errors.Is(err, session.ErrSessionExpired) {
		fmt.Fprintln(w, "Session expired, please log in again.")
		return nil
	}
	return err
}

// protected restores the session and refuses to continue unless it is
// Authenticated.
func protected(ctx context.Context, globals *Globals) (*app, error) {
	a, err := newApp(globals)
	if err != nil {
		return nil, err
	}

	if err := a.restore(ctx, globals.out()); err != nil {
		return nil, err
	}

	if err := a.session.RequireAuthenticated(); err != nil {
		return nil, fmt.Errorf("%w\n\nTo log in:\n  psadmin login --email <email>", err)
	}

	return a, nil
}

// apiError expires the session on a 401 and tells the user to log in again.
func (a *app) apiError(ctx context.Context, err error) error {
	if a.session.HandleUnauthorized(ctx, err) {
		log.Debug().Err(err).Msg("credential rejected by server")
		return fmt.Errorf("%w\n\n%s, please log in again:\n  psadmin login --email <email>", err, session.MsgSessionExpired)
	}
	return err
}

// confirm asks a yes/no question on in and reports whether the answer was yes.
func confirm(in io.Reader, w io.Writer, prompt string) (bool, error) {
	fmt.Fprintf(w, "%s [y/N]: ", prompt)

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}
