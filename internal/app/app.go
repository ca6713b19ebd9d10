package app

import (
	"context"
	"log/slog"
	"net/http"

	"go-receipt-verification-service/internal/config"
	"go-receipt-verification-service/internal/observability"
	"go-receipt-verification-service/internal/service"
)

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Observability *observability.Runtime
	Janitor       *service.DeliveryLogJanitor

	stopJanitor context.CancelFunc
}

func New(cfg *config.Config, logger *slog.Logger, server *http.Server, obs *observability.Runtime, janitor *service.DeliveryLogJanitor) *App {
	return &App{Config: cfg, Logger: logger, Server: server, Observability: obs, Janitor: janitor}
}

// StartBackground launches the delivery-log janitor. It runs until Shutdown.
func (a *App) StartBackground() {
	ctx, cancel := context.WithCancel(context.Background())
	a.stopJanitor = cancel
	go a.Janitor.Run(ctx)
}

// Shutdown stops background work and the HTTP server, then flushes
// telemetry.
func (a *App) Shutdown(ctx context.Context) error {
	if a.stopJanitor != nil {
		a.stopJanitor()
	}
	if err := a.Server.Shutdown(ctx); err != nil {
		return err
	}
	return a.Observability.Shutdown(ctx)
}
