// Command taskmesh-controlplane runs the control plane as its own process
// against a broker already listening, grounded on the teacher's
// per-process main.go convention generalized from its fixed echo-agent
// wiring to this repo's configurable orchestrator/broker pair.
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

	obs, err := observability.NewObservability(observability.DefaultConfig("control_plane"))
	if err != nil {
		log.Fatalf("build observability: %v", err)
	}

	health := observability.NewHealthServer(cfg.GetHealthPort("controlplane"), "control_plane", cfg.ServiceVersion)
	health.AddChecker("control_plane", observability.NewBasicHealthChecker("control_plane", func(ctx context.Context) error { return nil }))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		_ = health.Start(ctx)
	}()

	o := launcher.BuildDefaultOrchestrator(ctx, 0, obs.Logger)

	err = launcher.ServeControlPlane(ctx, launcher.ControlPlaneConfig{
		Addr:               cfg.GetControlPlaneAddress(),
		BrokerURL:          "http://" + cfg.GetBrokerAddress(),
		Orchestrator:       o,
		RetrievalThreshold: cfg.ServicesRetrievalThreshold,
		RetrievalTopK:      cfg.RetrievalTopK,
		KVStorePath:        cfg.KVStorePath,
		Logger:             obs.Logger,
	})
	if err != nil {
		log.Fatalf("control plane server: %v", err)
	}
}
