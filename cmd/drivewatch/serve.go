package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/metabinary-ltd/drivewatch/internal/api"
	"github.com/metabinary-ltd/drivewatch/internal/health"
	"github.com/metabinary-ltd/drivewatch/internal/metrics"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	a, err := newApp(cfgFile)
	if err != nil {
		return err
	}
	a.logCapabilities()

	deps := api.Deps{
		Devices: a.devices,
		Smart:   a.smart,
		Health:  health.NewInspectingProvider(a.devices, a.smart, a.logger),
		Metrics: metrics.New(Version, GitCommit),
	}
	if a.alerts != nil {
		deps.Alerts = a.alerts
	}
	srv := api.NewServer(a.cfg.API, a.caps, deps, a.logger)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}
