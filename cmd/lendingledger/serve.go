package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AntonStoeckl/lending-ledger-go/internal/config"
	"github.com/AntonStoeckl/lending-ledger-go/internal/httpapi"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/sweep"
)

const (
	logMsgServing      = "http server listening"
	logMsgShuttingDown = "shutting down"
	logAttrAddr        = "addr"
)

func newServeCommand(cfg *config.Config, resolve func(*cobra.Command) error) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run the daily sweep",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := resolve(cmd); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	// Delivery workers keep running during shutdown until close drains them.
	a.startQueues(context.WithoutCancel(ctx))

	e, err := a.newEngine()
	if err != nil {
		return err
	}

	sweeper, err := a.newSweeper(e)
	if err != nil {
		return err
	}

	scheduler, err := sweep.NewScheduler(sweeper,
		sweep.WithInterval(cfg.Sweep.Interval),
		sweep.WithSchedulerClock(cfg.Clock()),
	)
	if err != nil {
		return err
	}

	api, err := httpapi.NewServer(e,
		httpapi.WithSweeps(sweeper),
		httpapi.WithMetricsHandler(a.prometheus.Handler()),
		httpapi.WithRetryOptions(a.retryOptions()...),
		httpapi.WithRequestTimeout(cfg.HTTP.WriteTimeout),
		httpapi.WithLogger(a.contextual),
		httpapi.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      api.Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	schedulerCtx, stopScheduler := context.WithCancel(ctx)
	defer stopScheduler()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		scheduler.Run(schedulerCtx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		a.logger.InfoContext(ctx, logMsgServing, logAttrAddr, cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err = <-serveErr:
	}

	a.logger.InfoContext(ctx, logMsgShuttingDown)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		err = errors.Join(err, fmt.Errorf("shutdown http server: %w", shutdownErr))
	}

	stopScheduler()
	wg.Wait()

	return err
}
