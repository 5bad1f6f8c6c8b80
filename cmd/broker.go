package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spindex/internal/metrics"
	"github.com/desertthunder/spindex/internal/queue"
	"github.com/desertthunder/spindex/internal/services"
	"github.com/desertthunder/spindex/internal/shared"
	"github.com/desertthunder/spindex/internal/tasks"
	"github.com/urfave/cli/v3"
)

func brokerCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "broker",
		Usage: "Run the message broker and indexing worker",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging",
			},
		},
		Action: r.Broker,
	}
}

// Broker runs the in-process queue, its HTTP intake, and the worker loop
// that consumes it, until interrupted.
func (r *Runner) Broker(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r.reloadConfig(cmd.String("config"))
	if cmd.Bool("verbose") {
		shared.SetLogLevel(r.logger, log.DebugLevel)
	}

	db, err := r.openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	refresher, err := services.NewAppClient(
		r.config.Credentials.Spotify.ClientID, r.config.Credentials.Spotify.ClientSecret)
	if err != nil {
		return err
	}

	broker := queue.NewBroker(r.config.Worker.BatchSize, shared.WithLogger(r.logger, "component", "broker"))
	defer broker.Close()

	m := metrics.New()
	if addr := r.config.Metrics.Addr; addr != "" {
		go func() {
			if err := m.Serve(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				r.logger.Error("metrics server stopped", "error", err)
			}
		}()
		r.logger.Info("metrics listening", "addr", addr)
	}

	env := tasks.NewEnv(db, broker.Dispatcher(), refresher,
		func(accessToken string) tasks.LibraryClient {
			return services.NewUserClient(accessToken)
		},
		shared.WithLogger(r.logger, "component", "worker"), m)

	budget := time.Duration(r.config.Worker.InvocationBudgetMS) * time.Millisecond
	margin := time.Duration(r.config.Worker.ShutdownMarginMS) * time.Millisecond
	minRetryDelay := time.Duration(r.config.Worker.MinRetryDelayMS) * time.Millisecond
	loop := tasks.NewLoop(env, margin, minRetryDelay)

	intake := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", r.config.Broker.Host, r.config.Broker.Port),
		Handler:           broker.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		r.logger.Info("broker listening", "addr", intake.Addr)
		if err := intake.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("broker intake stopped", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		intake.Shutdown(shutdownCtx)
	}()

	r.logger.Info("worker running",
		"batch_size", r.config.Worker.BatchSize, "budget", budget, "margin", margin)

	err = broker.Run(ctx, func(ctx context.Context, batch []queue.Message) {
		loop.Run(ctx, batch, budget)
	})
	if errors.Is(err, context.Canceled) {
		r.logger.Info("worker stopped")
		return nil
	}
	return err
}
