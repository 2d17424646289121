package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/AMathur20/rss-to-kobo/internal/app"
)

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:      "login",
		Usage:     "authorize access to a Dropbox account",
		ArgsUsage: "[identity]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "no-browser",
				Usage: "print the authorization URL and paste the code instead of using a local callback",
			},
			&cli.IntFlag{
				Name:  "oauth--redirect-port",
				Usage: "port of the local callback listener",
				Value: app.DefaultConfigRedirectPort,
			},
		},
		Action: withApp(func(ctx context.Context, cmd *cli.Command, application *app.App) error {
			identity := identityArg(cmd)
			record, err := application.Login(ctx, identity, cmd.Bool("no-browser"))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(os.Stdout, "Logged in as %q", identity)
			if record.AccountID != "" {
				_, _ = fmt.Fprintf(os.Stdout, " (account %s)", record.AccountID)
			}
			_, _ = fmt.Fprintln(os.Stdout)
			return nil
		}),
	}
}

func logoutCommand() *cli.Command {
	return &cli.Command{
		Name:      "logout",
		Usage:     "remove stored credentials",
		ArgsUsage: "[identity]",
		Action: withApp(func(ctx context.Context, cmd *cli.Command, application *app.App) error {
			identity := identityArg(cmd)
			if err := application.Logout(ctx, identity); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(os.Stdout, "Logged out %q\n", identity)
			return nil
		}),
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "show whether stored credentials are usable",
		ArgsUsage: "[identity]",
		Action: withApp(func(ctx context.Context, cmd *cli.Command, application *app.App) error {
			status, err := application.Status(ctx, identityArg(cmd))
			if err != nil {
				return err
			}
			printStatus(status)
			return nil
		}),
	}
}

func printStatus(s *app.Status) {
	if !s.Stored {
		fmt.Printf("%s: not logged in\n", s.Identity)
		return
	}
	state := "authenticated"
	if !s.Authenticated {
		state = "credentials rejected or expired, run `rsskobo login " + s.Identity + "`"
	}
	fmt.Printf("%s: %s\n", s.Identity, state)
	if s.AccountID != "" {
		fmt.Printf("  account:       %s\n", s.AccountID)
	}
	if s.ExpiresAt != nil {
		fmt.Printf("  token expires: %s\n", s.ExpiresAt.Local().Format(time.RFC1123))
	}
	fmt.Printf("  refreshable:   %t\n", s.CanRefresh)
	if !s.SavedAt.IsZero() {
		fmt.Printf("  saved:         %s\n", s.SavedAt.Local().Format(time.RFC1123))
	}
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:      "token",
		Usage:     "print a valid access token, refreshing it if needed",
		ArgsUsage: "[identity]",
		Action: withApp(func(ctx context.Context, cmd *cli.Command, application *app.App) error {
			token, err := application.AccessToken(ctx, identityArg(cmd))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, token)
			return nil
		}),
	}
}
