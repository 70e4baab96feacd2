// Command taskmesh-broker runs the message broker as its own process,
// grounded on the teacher's broker/cmd/eventbus_server/main.go: load
// config, build the server, serve until killed.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/taskmesh/taskmesh/internal/config"
	"github.com/taskmesh/taskmesh/internal/launcher"
	"github.com/taskmesh/taskmesh/internal/observability"
)

func main() {
	cfg := config.Load()

	obs, err := observability.NewObservability(observability.DefaultConfig("broker"))
	if err != nil {
		log.Fatalf("build observability: %v", err)
	}

	health := observability.NewHealthServer(cfg.GetHealthPort("broker"), "broker", cfg.ServiceVersion)
	health.AddChecker("broker", observability.NewBasicHealthChecker("broker", func(ctx context.Context) error { return nil }))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		_ = health.Start(ctx)
	}()

	if err := launcher.ServeBroker(ctx, launcher.BrokerConfig{
		Addr:       cfg.GetBrokerAddress(),
		RetryLimit: cfg.BrokerRetryLimit,
		Logger:     obs.Logger,
	}); err != nil {
		log.Fatalf("broker server: %v", err)
	}
}
