package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	handler "moviezone-tg-bot/api"
	"moviezone-tg-bot/internal/config"
)

const shutdownTimeout = 5 * time.Second

// Router serves the webhook and the catalog endpoints for this app.
func (a *App) Router() *gin.Engine {
	return handler.NewRouter(handler.Deps{
		Updates: a,
		Query:   a.Query,
		Store:   a.Store,
		Secret:  a.Config.WebhookSecret,
		Logger:  a.Logger,
	})
}

// Run serves HTTP, plus the long-poll loop when polling is on, until SIGINT
// or SIGTERM.
func Run(cfg *config.Config) error {
	logger := NewLogger(cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.Close(cctx); err != nil {
			logger.Warn("failed to close cleanly", "error", err)
		}
	}()
	if err := a.Start(); err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      a.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errc := make(chan error, 2)
	go func() {
		logger.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()
	if cfg.Polling {
		go func() {
			if err := a.Poll(ctx); err != nil {
				errc <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errc:
		logger.Error("server failed", "error", runErr)
	}

	logger.Info("shutting down server")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(sctx); err != nil {
		return errors.Join(runErr, err)
	}
	logger.Info("server stopped")
	return runErr
}
