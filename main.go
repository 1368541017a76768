package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/studyhall/liveview/internal/cmd/serve"
	"github.com/studyhall/liveview/internal/cmd/watch"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "liveview",
		Usage: "Live-reconciled conversation list for StudyHall",
		Commands: []*cli.Command{
			watch.Command(),
			serve.Command(),
		},
	}
	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
