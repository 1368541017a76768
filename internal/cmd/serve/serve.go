// Package serve runs the in-memory stub backend: the same protocol surface as
// the production service, for local development and demos.
package serve

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/studyhall/liveview/internal/config"
	"github.com/studyhall/liveview/internal/metrics"
	"github.com/studyhall/liveview/internal/stub"
	"github.com/urfave/cli/v3"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the in-memory stub backend",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "port",
				Sources:     cli.EnvVars("LIVEVIEW_PORT"),
				Destination: &cfg.StubPort,
				Value:       cfg.StubPort,
				Usage:       "HTTP port for the API and event feed",
			},
			&cli.IntFlag{
				Name:        "management-port",
				Sources:     cli.EnvVars("LIVEVIEW_STUB_MANAGEMENT_PORT"),
				Destination: &cfg.StubManagementPort,
				Value:       cfg.StubManagementPort,
				Usage:       "Port for health and metrics",
			},
			&cli.StringFlag{
				Name:        "metrics-labels",
				Sources:     cli.EnvVars("LIVEVIEW_METRICS_LABELS"),
				Destination: &cfg.MetricsLabels,
				Usage:       "Constant key=value labels added to all metrics",
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
	labelSpec := cfg.MetricsLabels
	if labelSpec == "" {
		labelSpec = "service=liveview"
	}
	labels, err := metrics.ParseLabels(labelSpec)
	if err != nil {
		return err
	}
	metrics.Init(labels)

	s := stub.New()
	apiServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.StubPort),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	mgmtServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.StubManagementPort),
		Handler:           s.ManagementHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 2)
	go func() {
		log.Info("stub backend listening", "addr", apiServer.Addr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()
	go func() {
		log.Info("management listening", "addr", mgmtServer.Addr)
		if err := mgmtServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = mgmtServer.Shutdown(shutdownCtx)
	return apiServer.Shutdown(shutdownCtx)
}
