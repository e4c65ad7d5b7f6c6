package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ActiveTutorial/gamble-to-depression/internal/config"
)

type App struct {
	httpServer *http.Server
	cleanup    func() error
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	router, cleanup, err := setupHTTP(ctx, cfg)
	if err != nil {
		return nil, err
	}

	server := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &App{
		httpServer: server,
		cleanup:    cleanup,
	}, nil
}

// Handler exposes the routed handler, for in-process tests.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

func (a *App) Run() error {
	if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then closes the shared store handle.
func (a *App) Shutdown(ctx context.Context) error {
	serverErr := a.httpServer.Shutdown(ctx)

	var cleanupErr error
	if a.cleanup != nil {
		cleanupErr = a.cleanup()
	}
	return errors.Join(serverErr, cleanupErr)
}
