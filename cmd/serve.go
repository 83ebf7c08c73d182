package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitechat/internal/api"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background crawl workers",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := api.NewServer(rt.app.Service, api.Options{
		CORSOrigins:    rt.cfg.Server.CORSOrigins,
		RequestTimeout: rt.cfg.Server.RequestTimeout,
		Metrics:        rt.cfg.Metrics.Enabled,
	}, rt.logger)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", rt.cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		rt.logger.Info("dispatcher started", zap.Int("workers", rt.cfg.Queue.Workers))
		rt.app.Start(ctx)
	}()

	go func() {
		rt.logger.Info("http server started", zap.Int("port", rt.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	rt.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		rt.logger.Error("server shutdown error", zap.Error(err))
	}
	<-workersDone
	rt.logger.Info("shutdown complete")
	return nil
}
