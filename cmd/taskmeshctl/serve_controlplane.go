package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/taskmesh/taskmesh/internal/config"
	"github.com/taskmesh/taskmesh/internal/launcher"
	"github.com/taskmesh/taskmesh/internal/observability"
)

var serveControlPlaneBrokerURL string

var serveControlPlaneCmd = &cobra.Command{
	Use:   "serve-controlplane",
	Short: "Run the control plane as its own HTTP process against a running broker",
	RunE:  runServeControlPlane,
}

func init() {
	serveControlPlaneCmd.Flags().StringVar(&serveControlPlaneBrokerURL, "broker-url", "", "broker base URL (defaults to TASKMESH_BROKER_ADDR/PORT)")
	rootCmd.AddCommand(serveControlPlaneCmd)
}

func runServeControlPlane(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	obs, err := observability.NewObservability(observability.DefaultConfig("control_plane"))
	if err != nil {
		return err
	}

	health := observability.NewHealthServer(cfg.GetHealthPort("controlplane"), "control_plane", cfg.ServiceVersion)
	health.AddChecker("control_plane", observability.NewBasicHealthChecker("control_plane", func(ctx context.Context) error { return nil }))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		_ = health.Start(ctx)
	}()

	brokerURL := serveControlPlaneBrokerURL
	if brokerURL == "" {
		brokerURL = "http://" + cfg.GetBrokerAddress()
	}

	o := launcher.BuildDefaultOrchestrator(ctx, 0, obs.Logger)

	return launcher.ServeControlPlane(ctx, launcher.ControlPlaneConfig{
		Addr:               cfg.GetControlPlaneAddress(),
		BrokerURL:          brokerURL,
		Orchestrator:       o,
		RetrievalThreshold: cfg.ServicesRetrievalThreshold,
		RetrievalTopK:      cfg.RetrievalTopK,
		KVStorePath:        cfg.KVStorePath,
		Logger:             obs.Logger,
	})
}
