package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AMathur20/rss-to-kobo/cmd/rsskobo/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := commands.Execute(ctx, os.Args); err != nil {
		slog.DebugContext(ctx, "command failed", "error", err)
		_, _ = fmt.Fprintln(os.Stderr, "rsskobo:", commands.UserMessage(err))
		stop()
		os.Exit(1)
	}
}
