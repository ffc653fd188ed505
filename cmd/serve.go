package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/transfa/disbursement-service/internal/api"
	"github.com/transfa/disbursement-service/internal/app"
	"github.com/transfa/disbursement-service/internal/domain"
	"github.com/transfa/disbursement-service/internal/scheduler"
	rmrabbit "github.com/transfa/disbursement-service/pkg/rabbitmq"
	"go.uber.org/zap"
)

const (
	shutdownTimeout     = 10 * time.Second
	reconcileRunTimeout = 5 * time.Minute
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, donation consumer and reconciliation scheduler",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer rt.close()
	cfg := rt.cfg
	log := rt.logger.Named("bootstrap")
	log.Info("starting disbursement-service", zap.String("port", cfg.ServerPort))

	if cfg.RabbitMQURL != "" {
		consumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL, rt.logger)
		if err != nil {
			log.Warn("rabbitmq consumer unavailable; donation events will not be consumed", zap.Error(err))
		} else {
			defer consumer.Close()
			donations := app.NewDonationConsumer(rt.service, rt.logger)
			bindings := map[string]rmrabbit.Handler{
				domain.EventDonationReceived: donations.HandleMessage,
			}
			if err := consumer.ConsumeWithBindings(cfg.EventExchange, cfg.DonationEventQueue, bindings); err != nil {
				return fmt.Errorf("donation consumer start failed: %w", err)
			}
		}
	}

	reconciler := app.NewReconciler(rt.service, cfg.ReconcileStaleAfter(), rt.logger)
	jobs := scheduler.NewScheduler(reconciler, cfg.ReconcileSchedule, reconcileRunTimeout, rt.logger)
	if err := jobs.Start(); err != nil {
		return fmt.Errorf("scheduler start failed: %w", err)
	}
	defer func() {
		<-jobs.Stop().Done()
	}()

	handlers := api.NewHandlers(rt.service, rt.logger)
	server := &http.Server{
		Addr: fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: api.Routes(handlers, api.RouterOptions{
			JWKSURL:        cfg.AuthJWKSURL,
			AllowedOrigins: cfg.AllowedOrigins(),
			Limiter:        rt.limiter,
			Logger:         rt.logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		rt.logger.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server stopped unexpectedly: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	rt.logger.Info("shutdown started")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		rt.logger.Error("shutdown failed", zap.Error(err))
	}
	rt.logger.Info("shutdown complete")
	return nil
}
