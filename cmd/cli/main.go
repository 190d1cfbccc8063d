package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/psadmin/cmd/cli/internal/commands"
	"github.com/wolfeidau/psadmin/internal/logger"
	"github.com/wolfeidau/psadmin/internal/telemetry"
)

var (
	version = "dev"
	cli     struct {
		Login    commands.LoginCmd    `cmd:"" help:"Log in to the portal"`
		Register commands.RegisterCmd `cmd:"" help:"Create an account and log in"`
		Logout   commands.LogoutCmd   `cmd:"" help:"Log out and erase the stored session"`
		Whoami   commands.WhoamiCmd   `cmd:"" help:"Show the logged in user"`
		Problems commands.ProblemsCmd `cmd:"" help:"Manage problem statements"`

		Server     string        `help:"API base URL" default:"http://localhost:5000/api" env:"PSADMIN_SERVER"`
		SessionDir string        `help:"Session directory (default: ~/.psadmin/session/)" env:"PSADMIN_SESSION_DIR"`
		CacheDir   string        `help:"HTTP cache directory for downloads (in memory when empty)" env:"PSADMIN_CACHE_DIR"`
		Timeout    time.Duration `help:"API request timeout" default:"30s" env:"PSADMIN_TIMEOUT"`
		Otel       bool          `help:"Export traces and metrics over OTLP" env:"PSADMIN_OTEL"`
		Debug      bool          `help:"Enable debug mode." env:"PSADMIN_DEBUG"`
		Version    kong.VersionFlag
	}
)

func main() {
	// .env is optional; variables already set in the environment win
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to load .env")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := kong.Parse(&cli,
		kong.Name("psadmin"),
		kong.Description("Problem statement portal administration."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))

	log.Logger = logger.Setup(cli.Debug)

	err := run(ctx, cmd)
	stop()
	cmd.FatalIfErrorf(err)
}

func run(ctx context.Context, cmd *kong.Context) error {
	if cli.Otel {
		shutdown, err := telemetry.InitTelemetry(ctx, "psadmin", version)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	return cmd.Run(&commands.Globals{
		Debug:      cli.Debug,
		Version:    version,
		Server:     cli.Server,
		SessionDir: cli.SessionDir,
		CacheDir:   cli.CacheDir,
		Timeout:    cli.Timeout,
	})
}
