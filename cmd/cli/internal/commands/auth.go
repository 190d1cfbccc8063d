package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/wolfeidau/psadmin/cmd/cli/internal/credentials"
	"github.com/wolfeidau/psadmin/internal/models"
	"golang.org/x/term"
)

// LoginCmd authenticates and persists the session.
type LoginCmd struct {
	Email    string `help:"Account email" required:"" env:"PSADMIN_EMAIL"`
	Password string `help:"Account password (prompted when omitted)" env:"PSADMIN_PASSWORD"`
}

func (c *LoginCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := newApp(globals)
	if err != nil {
		return err
	}

	if err := a.restore(ctx, globals.out()); err != nil {
		return err
	}

	password, err := readPassword(globals, c.Password)
	if err != nil {
		return err
	}

	user, err := a.session.Login(ctx, models.Credentials{Email: c.Email, Password: password})
	if err != nil {
		return err
	}

	fmt.Fprintf(globals.out(), "Logged in as %s <%s> (%s)\n", user.Name, user.Email, user.Role)
	return nil
}

// RegisterCmd creates an account and logs it in.
type RegisterCmd struct {
	Name     string `help:"Display name" required:""`
	Email    string `help:"Account email" required:""`
	Password string `help:"Account password (prompted when omitted)" env:"PSADMIN_PASSWORD"`
	Role     string `help:"Requested role" default:""`
}

func (c *RegisterCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := newApp(globals)
	if err != nil {
		return err
	}

	password, err := readPassword(globals, c.Password)
	if err != nil {
		return err
	}

	user, err := a.session.Register(ctx, models.Registration{
		Name:     c.Name,
		Email:    c.Email,
		Password: password,
		Role:     c.Role,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(globals.out(), "Registered and logged in as %s <%s>\n", user.Name, user.Email)
	return nil
}

// LogoutCmd erases the persisted session.
type LogoutCmd struct{}

func (c *LogoutCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := newApp(globals)
	if err != nil {
		return err
	}

	// a rejected session is erased by Restore, so logout still succeeds
	if err := a.restore(ctx, io.Discard); err != nil {
		return err
	}

	a.session.Logout(ctx)

	fmt.Fprintln(globals.out(), "Logged out.")
	return nil
}

// WhoamiCmd shows the current user after verifying the session with the server.
type WhoamiCmd struct{}

func (c *WhoamiCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := protected(ctx, globals)
	if err != nil {
		return err
	}

	snap := a.session.Snapshot()

	w := tabwriter.NewWriter(globals.out(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Name:\t%s\n", snap.User.Name)
	fmt.Fprintf(w, "Email:\t%s\n", snap.User.Email)
	fmt.Fprintf(w, "Role:\t%s\n", snap.User.Role)
	fmt.Fprintf(w, "Active:\t%t\n", snap.User.IsActive)
	if snap.User.LastLogin != nil {
		fmt.Fprintf(w, "Last login:\t%s\n", snap.User.LastLogin.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(w, "Token:\t%s\n", truncate(credentials.Fingerprint(snap.Token), 15))
	if exp, ok := credentials.TokenExpiry(snap.Token); ok {
		fmt.Fprintf(w, "Expires:\t%s\n", exp.Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(w, "Session file:\t%s\n", a.store.Path())

	return w.Flush()
}

func readPassword(globals *Globals, password string) (string, error) {
	if password != "" {
		return password, nil
	}

	fmt.Fprint(globals.out(), "Password: ")

	if f, ok := globals.in().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		data, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(globals.out())
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(data), nil
	}

	line, err := bufio.NewReader(globals.in()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	password = strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("password is required")
	}
	return password, nil
}
