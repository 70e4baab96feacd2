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

var serveBrokerCmd = &cobra.Command{
	Use:   "serve-broker",
	Short: "Run the message broker as its own HTTP process",
	RunE:  runServeBroker,
}

func init() {
	rootCmd.AddCommand(serveBrokerCmd)
}

func runServeBroker(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	obs, err := observability.NewObservability(observability.DefaultConfig("broker"))
	if err != nil {
		return err
	}

	health := observability.NewHealthServer(cfg.GetHealthPort("broker"), "broker", cfg.ServiceVersion)
	health.AddChecker("broker", observability.NewBasicHealthChecker("broker", func(ctx context.Context) error { return nil }))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		_ = health.Start(ctx)
	}()

	return launcher.ServeBroker(ctx, launcher.BrokerConfig{
		Addr:       cfg.GetBrokerAddress(),
		RetryLimit: cfg.BrokerRetryLimit,
		Logger:     obs.Logger,
	})
}
