package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/course-proposals/internal/delivery"
	"github.com/noah-isme/course-proposals/internal/handler"
	"github.com/noah-isme/course-proposals/internal/models"
	"github.com/noah-isme/course-proposals/pkg/jobs"
)

const (
	sweepJobType    = "sweep_expired"
	shutdownTimeout = 10 * time.Second
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the Discord listener and the expiry sweep",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	var sink interface {
		Submit(instructions []models.Instruction) error
	}
	if a.discord != nil {
		executor := delivery.NewExecutor(delivery.NewDiscordChannel(a.discord), a.metrics, a.logger)
		async := delivery.NewAsyncExecutor(executor, a.cfg.Delivery, a.logger)
		async.Start(ctx)
		defer async.Stop()
		sink = async

		delivery.NewDiscordListener(a.callbacks, async, a.logger).Register(a.discord)
		if err := a.discord.Open(); err != nil {
			return fmt.Errorf("open discord gateway: %w", err)
		}
		a.logger.Info("discord listener connected", zap.String("review_channel", a.cfg.Discord.ReviewChannel))
	}

	sweeper := jobs.NewQueue("sweep", func(ctx context.Context, job jobs.Job) error {
		_, err := a.proposals.Sweep(ctx)
		return err
	}, jobs.QueueConfig{Workers: 1, BufferSize: 1, Logger: a.logger})
	sweeper.Start(ctx)
	defer sweeper.Stop()
	if err := sweeper.Every(a.cfg.Proposals.SweepInterval, sweepJobType); err != nil {
		return err
	}

	router := handler.NewRouter(a.cfg, a.logger, a.metrics,
		handler.NewProposalHandler(a.proposals),
		handler.NewCallbackHandler(a.callbacks, sink, a.validate),
	)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Sugar().Infow("server starting", "addr", srv.Addr, "env", a.cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
