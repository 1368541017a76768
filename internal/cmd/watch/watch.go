// Package watch runs the live view against a backend and renders the grouped
// conversation list on every change.
package watch

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/studyhall/liveview/internal/config"
	"github.com/studyhall/liveview/internal/liveview"
	"github.com/studyhall/liveview/internal/push"
	"github.com/studyhall/liveview/internal/session"
	"github.com/studyhall/liveview/internal/view"
	"github.com/urfave/cli/v3"
)

var reconnectingStyle = lipgloss.NewStyle().Faint(true).Foreground(lipgloss.Color("11"))

// Command returns the watch sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	return &cli.Command{
		Name:  "watch",
		Usage: "Follow the live conversation list",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "server",
				Sources:     cli.EnvVars("LIVEVIEW_SERVER_URL"),
				Destination: &cfg.ServerURL,
				Value:       cfg.ServerURL,
				Usage:       "Base URL of the backend",
			},
			&cli.StringFlag{
				Name:        "identity",
				Sources:     cli.EnvVars("LIVEVIEW_IDENTITY"),
				Destination: &cfg.IdentityKey,
				Usage:       "Authenticated identity key; empty uses a persisted anonymous session",
			},
			&cli.StringFlag{
				Name:        "state-dir",
				Sources:     cli.EnvVars("LIVEVIEW_STATE_DIR"),
				Destination: &cfg.StateDir,
				Usage:       "Directory for the anonymous session file",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := cfg.ApplyEnvOverrides(); err != nil {
				return err
			}
			return run(ctx, cfg)
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	var provider session.Provider
	if cfg.IdentityKey != "" {
		provider = session.StaticProvider{Key: cfg.IdentityKey}
	} else {
		provider = session.AnonymousProvider{StateDir: cfg.ResolvedStateDir()}
	}

	ctrl, err := liveview.New(cfg, provider)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	// Coalesce change bursts into one redraw.
	changed := make(chan struct{}, 1)
	ctrl.OnChange(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})

	if err := ctrl.Start(ctx); err != nil {
		return err
	}
	render(ctrl)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	dirty := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
			dirty = true
		case <-ticker.C:
			// Redraw each second regardless: relative buckets and the
			// connection indicator drift on their own.
			dirty = true
		}
		if dirty {
			render(ctrl)
			dirty = false
		}
	}
}

func render(ctrl *liveview.Controller) {
	fmt.Fprint(os.Stdout, "\033[2J\033[H")
	fmt.Fprint(os.Stdout, view.Render(ctrl.Buckets(), time.Now()))
	if state := ctrl.ConnectionState(); state != push.StateOpen {
		fmt.Fprintln(os.Stdout, reconnectingStyle.Render("reconnecting…"))
	}
}
