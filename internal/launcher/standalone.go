package launcher

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/taskmesh/taskmesh/internal/broker"
	"github.com/taskmesh/taskmesh/internal/controlplane"
	"github.com/taskmesh/taskmesh/internal/kvstore"
	"github.com/taskmesh/taskmesh/internal/orchestrator"
	"github.com/taskmesh/taskmesh/internal/orchestrator/llm"
	"github.com/taskmesh/taskmesh/internal/orchestrator/llm/vertexai"
	"github.com/taskmesh/taskmesh/internal/taskerr"
)

// BrokerConfig configures a standalone broker process (`taskmeshctl
// serve-broker`, `cmd/taskmesh-broker`).
type BrokerConfig struct {
	Addr       string
	RetryLimit int
	Logger     *slog.Logger
}

// ServeBroker runs a broker as its own HTTP process and blocks until ctx is
// cancelled or the server fails to bind, grounded on the original
// agentfile/launchers/server.py's standalone broker process and the
// teacher's one-process-per-main.go convention.
func ServeBroker(ctx context.Context, cfg BrokerConfig) error {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	mq := broker.NewSimpleMessageQueue(cfg.Logger, nil, nil, cfg.RetryLimit)
	go mq.Start(ctx)
	hb := broker.NewHTTPBroker(mq, nil, cfg.Logger)

	mux := http.NewServeMux()
	hb.RegisterHandlers(mux)

	cfg.Logger.InfoContext(ctx, "broker listening", "addr", cfg.Addr)
	return runHTTPServer(ctx, "broker", cfg.Addr, mux)
}

// ControlPlaneConfig configures a standalone control plane process pointed
// at a broker already listening on BrokerURL.
type ControlPlaneConfig struct {
	Addr               string
	BrokerURL          string
	Orchestrator       orchestrator.Orchestrator
	RetrievalThreshold int
	RetrievalTopK      int
	KVStorePath        string
	Logger             *slog.Logger
}

// ServeControlPlane runs a control plane as its own HTTP process, registers
// it as a remote consumer with the broker at cfg.BrokerURL, and blocks until
// ctx is cancelled.
func ServeControlPlane(ctx context.Context, cfg ControlPlaneConfig) error {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	store, err := openStore(cfg.KVStorePath)
	if err != nil {
		return fmt.Errorf("open kv store: %w", err)
	}
	brokerClient := broker.NewHTTPClient(cfg.BrokerURL, nil)

	cp, err := controlplane.New(controlplane.Config{
		Store:              store,
		Orchestrator:       cfg.Orchestrator,
		MQ:                 brokerClient,
		RetrievalThreshold: cfg.RetrievalThreshold,
		TopK:               cfg.RetrievalTopK,
		PublisherID:        "control_plane",
		Logger:             cfg.Logger,
	})
	if err != nil {
		return fmt.Errorf("build control plane: %w", err)
	}

	mux := http.NewServeMux()
	cp.RegisterHandlers(mux)

	selfURL := "http://" + cfg.Addr
	if _, err := brokerClient.RegisterConsumer(cp.AsConsumer(true, selfURL)); err != nil {
		return fmt.Errorf("register control plane with broker: %w", err)
	}

	cfg.Logger.InfoContext(ctx, "control plane listening", "addr", cfg.Addr, "broker", cfg.BrokerURL)
	return runHTTPServer(ctx, "control_plane", cfg.Addr, mux)
}

// BuildDefaultOrchestrator wires an Agent orchestrator backed by Vertex AI
// when GCP_PROJECT is set, falling back to the mock decision client so a
// standalone control plane process still runs end to end without cloud
// credentials configured. Shared by cmd/taskmesh-controlplane and
// cmd/taskmeshctl's serve-controlplane subcommand.
func BuildDefaultOrchestrator(ctx context.Context, maxCalls int, logger *slog.Logger) orchestrator.Orchestrator {
	if os.Getenv("GCP_PROJECT") == "" {
		return orchestrator.NewAgent("control_plane", llm.NewMockClient(), maxCalls)
	}
	client, err := vertexai.NewClient(ctx, vertexai.ConfigFromEnv())
	if err != nil {
		logger.WarnContext(ctx, "vertex ai client unavailable, falling back to mock decisions", "error", err)
		return orchestrator.NewAgent("control_plane", llm.NewMockClient(), maxCalls)
	}
	return orchestrator.NewAgent("control_plane", client, maxCalls)
}

// openStore opens a bbolt-backed store at path, or an in-memory store when
// path is empty — letting `taskmeshctl serve-controlplane` run without a
// filesystem dependency in quick local-dev use.
func openStore(path string) (kvstore.Store, error) {
	if path == "" {
		return kvstore.NewMemoryStore(), nil
	}
	return kvstore.NewBoltStore(path)
}

// runHTTPServer blocks serving mux on addr until ctx is cancelled, wrapping
// a bind failure as taskerr.Fatal (spec.md §6 exit codes).
func runHTTPServer(ctx context.Context, name, addr string, mux *http.ServeMux) error {
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return taskerr.NewFatal(fmt.Errorf("%s server on %s: %w", name, addr, err))
	}
	return nil
}
