package main

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ZanzyTHEbar/star-forensics/internal/config"
	"github.com/ZanzyTHEbar/star-forensics/internal/monitoring"
)

const retentionInterval = 6 * time.Hour

func main() {
	conf, err := config.Load(os.Getenv("STARCHECK_CONFIG"))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := monitoring.NewLogger(monitoring.LoggerOptions{
		Level:  conf.Logger.Level,
		Format: conf.Logger.Format,
	})
	slog.SetDefault(logger.Logger)

	if monitoring.ParseLevel(conf.Logger.Level) > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	srv, err := newServer(conf, logger)
	if err != nil {
		logger.Error("Failed to initialize server", "error", err)
		os.Exit(1)
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if srv.privacy != nil && srv.privacy.Enabled() {
		go srv.privacy.ScheduleDataCleanup(ctx, retentionInterval)
	}

	httpServer := &http.Server{
		Addr:              conf.Address(),
		Handler:           srv.setupRouter(),
		ReadTimeout:       conf.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      conf.Server.WriteTimeout,
		IdleTimeout:       2 * time.Minute,
	}

	go func() {
		logger.SystemLogger("server_start", "listening on "+httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			logger.Error("Failed to start server", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	logger.SystemLogger("server_stop", "graceful shutdown complete")
}
