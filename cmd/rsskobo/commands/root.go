package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/AMathur20/rss-to-kobo/internal/app"
	"github.com/AMathur20/rss-to-kobo/internal/observability"
	"github.com/AMathur20/rss-to-kobo/internal/tokensource"
)

// Version is set at build time with -ldflags "-X .../commands.Version=...".
var Version = "dev"

// defaultIdentity is used when a command is given no identity argument.
const defaultIdentity = "default"

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	cmd := &cli.Command{
		Name:    "rsskobo",
		Usage:   "Deliver RSS digests to a Kobo through Dropbox",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json)",
				Value: string(app.DefaultConfigLogFormat),
			},
			&cli.StringFlag{
				Name:  "storage--backend",
				Usage: "credential storage (file|keyring|env)",
				Value: string(app.DefaultConfigStorage),
			},
		},
		Commands: []*cli.Command{
			loginCommand(),
			logoutCommand(),
			statusCommand(),
			tokenCommand(),
			uploadCommand(),
			passphraseCommand(),
		},
	}

	return cmd.Run(ctx, args)
}

// session is what every action needs: loaded configuration with logging set up.
type session struct {
	cfg      *app.Config
	shutdown func(context.Context) error
}

func setup(ctx context.Context, cmd *cli.Command) (*session, error) {
	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Set up observability before creating app
	shutdown, err := observability.Instrument(ctx, observability.Options{
		Level:    cfg.LogLevel,
		Format:   string(cfg.LogFormat),
		Exporter: cfg.Telemetry.Exporter,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up observability layer: %w", err)
	}

	return &session{cfg: cfg, shutdown: shutdown}, nil
}

func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Shutdown.Timeout)
	defer cancel()
	if err := s.shutdown(ctx); err != nil {
		slog.Warn("observability shutdown failed", "error", err)
	}
}

func (s *session) newApp(ctx context.Context) (*app.App, error) {
	application, err := app.New(ctx, s.cfg, app.WithUserAgent(tokensource.DefaultUserAgent+"/"+Version))
	if err != nil {
		return nil, fmt.Errorf("failed to create app: %w", err)
	}
	return application, nil
}

// withApp wraps an action that needs the application.
func withApp(action func(ctx context.Context, cmd *cli.Command, application *app.App) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		sess, err := setup(ctx, cmd)
		if err != nil {
			return err
		}
		defer sess.close()

		application, err := sess.newApp(ctx)
		if err != nil {
			return err
		}
		return action(ctx, cmd, application)
	}
}

func identityArg(cmd *cli.Command) string {
	if id := cmd.Args().First(); id != "" {
		return id
	}
	return defaultIdentity
}
