package platform

import (
	"context"
	"log/slog"
	"time"

	"github.com/your-org/edgewatch/internal/config"
)

// Registrar registers the engine at startup and re-pings the platform
// periodically. Registration and ping failures are logged, never fatal.
type Registrar struct {
	client *Client
	dev    config.DeviceConfig
	port   int
	every  time.Duration
}

func NewRegistrar(client *Client, dev config.DeviceConfig, port int, pingInterval time.Duration) *Registrar {
	return &Registrar{client: client, dev: dev, port: port, every: pingInterval}
}

func (r *Registrar) Name() string { return "platform-ping" }

func (r *Registrar) Run(ctx context.Context) error {
	if err := r.client.Register(ctx, r.dev, r.port); err != nil {
		slog.Warn("engine registration failed", "error", err)
	} else {
		slog.Info("engine registered", "device", r.dev.ID)
	}

	ticker := time.NewTicker(r.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := r.client.Ping(pingCtx)
			cancel()
			if err != nil {
				slog.Warn("platform ping failed", "error", err)
			}
		}
	}
}
