package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/AMathur20/rss-to-kobo/internal/app"
)

func uploadCommand() *cli.Command {
	return &cli.Command{
		Name:      "upload",
		Usage:     "upload a file (typically an EPUB) to Dropbox",
		ArgsUsage: "<identity> <file>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "target",
				Usage: "Dropbox folder (defaults to dropbox.target_dir)",
			},
		},
		Action: withApp(func(ctx context.Context, cmd *cli.Command, application *app.App) error {
			if cmd.NArg() != 2 {
				return cli.Exit("usage: rsskobo upload <identity> <file>", 2)
			}
			meta, err := application.Upload(ctx, cmd.Args().Get(0), cmd.Args().Get(1), cmd.String("target"))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(os.Stdout, "Uploaded %s\n", meta.PathDisplay)
			return nil
		}),
	}
}
