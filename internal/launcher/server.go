package launcher

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/taskmesh/taskmesh/internal/broker"
	"github.com/taskmesh/taskmesh/internal/controlplane"
	"github.com/taskmesh/taskmesh/internal/kvstore"
	"github.com/taskmesh/taskmesh/internal/orchestrator"
	"github.com/taskmesh/taskmesh/internal/service"
	"github.com/taskmesh/taskmesh/internal/taskerr"
)

// Server runs the broker, control plane, and every service as its own HTTP
// process, grounded on original agentfile/launchers/server.py's
// launch-then-register sequencing: broker first, then control plane
// registered to it, then each service launched and registered to both.
type Server struct {
	BrokerAddr       string
	ControlPlaneAddr string

	Orchestrator       orchestrator.Orchestrator
	Services            []service.Service
	RetrievalThreshold int
	RetrievalTopK      int
	BrokerRetryLimit   int
	Logger             *slog.Logger

	cp *controlplane.ControlPlane
}

// NewServer builds a Server launcher. services must already have their
// Host/Port set to the addresses they will listen on.
func NewServer(brokerAddr, controlPlaneAddr string, o orchestrator.Orchestrator, services []service.Service, retrievalThreshold, retrievalTopK, brokerRetryLimit int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		BrokerAddr:         brokerAddr,
		ControlPlaneAddr:   controlPlaneAddr,
		Orchestrator:       o,
		Services:           services,
		RetrievalThreshold: retrievalThreshold,
		RetrievalTopK:      retrievalTopK,
		BrokerRetryLimit:   brokerRetryLimit,
		Logger:             logger,
	}
}

// Run launches the broker, control plane, and every service as HTTP
// servers, registers each with the others, and blocks until ctx is
// cancelled. It returns a taskerr.Fatal-wrapped error if any server fails
// to start (spec.md §6 exit codes).
func (s *Server) Run(ctx context.Context) error {
	brokerQueue := broker.NewSimpleMessageQueue(s.Logger, nil, nil, s.BrokerRetryLimit)
	go brokerQueue.Start(ctx)
	httpBroker := broker.NewHTTPBroker(brokerQueue, nil, s.Logger)

	brokerMux := http.NewServeMux()
	httpBroker.RegisterHandlers(brokerMux)
	if err := s.serve(ctx, "broker", s.BrokerAddr, brokerMux); err != nil {
		return taskerr.NewFatal(err)
	}

	brokerURL := "http://" + s.BrokerAddr
	brokerClient := broker.NewHTTPClient(brokerURL, nil)

	cp, err := controlplane.New(controlplane.Config{
		Store:              kvstore.NewMemoryStore(),
		Orchestrator:       s.Orchestrator,
		MQ:                 brokerClient,
		RetrievalThreshold: s.RetrievalThreshold,
		TopK:               s.RetrievalTopK,
		PublisherID:        "control_plane",
		Logger:             s.Logger,
	})
	if err != nil {
		return taskerr.NewFatal(fmt.Errorf("build control plane: %w", err))
	}
	s.cp = cp

	controlPlaneMux := http.NewServeMux()
	cp.RegisterHandlers(controlPlaneMux)
	if err := s.serve(ctx, "control_plane", s.ControlPlaneAddr, controlPlaneMux); err != nil {
		return taskerr.NewFatal(err)
	}

	controlPlaneURL := "http://" + s.ControlPlaneAddr
	if _, err := brokerClient.RegisterConsumer(cp.AsConsumer(true, controlPlaneURL)); err != nil {
		return taskerr.NewFatal(fmt.Errorf("register control plane with broker: %w", err))
	}

	for _, svc := range s.Services {
		def := svc.ServiceDefinition()
		addr := fmt.Sprintf("%s:%d", def.Host, def.Port)

		// Services' own RegisterToMessageQueue always binds a local
		// Handler (it is also used by LaunchLocal); a remote server needs
		// its CallbackURL-bearing consumer registered with the broker
		// directly instead.
		if _, err := brokerClient.RegisterConsumer(svc.AsConsumer(true)); err != nil {
			return taskerr.NewFatal(fmt.Errorf("register service %s with broker: %w", def.ServiceName, err))
		}

		// LaunchServer blocks serving HTTP until ctx is cancelled, so it
		// runs in the background; registering to the control plane only
		// after kicking it off mirrors the original's task-per-service
		// sequencing without waiting for each server to exit.
		svcErrCh := make(chan error, 1)
		go func(svc service.Service, addr string) {
			svcErrCh <- svc.LaunchServer(ctx, brokerClient, addr)
		}(svc, addr)
		go func(name string, errCh chan error) {
			if err := <-errCh; err != nil {
				s.Logger.ErrorContext(ctx, "service server exited", "service", name, "error", err)
			}
		}(def.ServiceName, svcErrCh)

		if err := svc.RegisterToControlPlane(ctx, controlPlaneURL); err != nil {
			return taskerr.NewFatal(fmt.Errorf("register service %s with control plane: %w", def.ServiceName, err))
		}
	}

	<-ctx.Done()
	return nil
}

// serve starts an HTTP server for mux on addr in the background and
// returns once it has begun listening, surfacing bind errors synchronously
// rather than losing them in a detached goroutine.
func (s *Server) serve(ctx context.Context, name, addr string, mux *http.ServeMux) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%s server on %s: %w", name, addr, err)
	}
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		_ = srv.Serve(ln)
	}()
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	return nil
}
