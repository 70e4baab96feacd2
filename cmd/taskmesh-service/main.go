// Command taskmesh-service launches one named demo service as its own HTTP
// process, registering with a remote broker and control plane — grounded on
// the teacher's per-service main.go convention (originally one hardcoded
// echo agent per binary), generalized to a small selectable registry of
// this repo's demo ComponentService/ToolService kinds.
//
// An AgentService driving a MetaServiceTool is intentionally not offered
// here: MetaServiceTool always registers a local in-process Handler
// consumer for its own reply topic (internal/service/meta_tool.go), and
// broker.HTTPClient.RegisterConsumer refuses a Handler-based consumer
// across a process boundary. That combination only runs through
// internal/launcher.Local (see `taskmeshctl run`).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/taskmesh/taskmesh/internal/broker"
	"github.com/taskmesh/taskmesh/internal/config"
	"github.com/taskmesh/taskmesh/internal/observability"
	"github.com/taskmesh/taskmesh/internal/service"
)

func main() {
	name := flag.String("name", "", "demo service name to run: "+availableNames())
	host := flag.String("host", "localhost", "address this service advertises to the broker/control plane")
	port := flag.Int("port", 8100, "port this service listens on")
	brokerURL := flag.String("broker-url", "", "broker base URL (defaults to TASKMESH_BROKER_ADDR/PORT)")
	controlPlaneURL := flag.String("controlplane-url", "", "control plane base URL (defaults to TASKMESH_CONTROLPLANE_ADDR/PORT)")
	flag.Parse()

	cfg := config.Load()
	if *brokerURL == "" {
		*brokerURL = "http://" + cfg.GetBrokerAddress()
	}
	if *controlPlaneURL == "" {
		*controlPlaneURL = "http://" + cfg.GetControlPlaneAddress()
	}

	obs, err := observability.NewObservability(observability.DefaultConfig("service"))
	if err != nil {
		log.Fatalf("build observability: %v", err)
	}

	svc, err := buildDemoService(*name, *host, *port, cfg.StepInterval)
	if err != nil {
		log.Fatalf("build service %q: %v", *name, err)
	}

	health := observability.NewHealthServer(cfg.GetHealthPort("service"), *name, cfg.ServiceVersion)
	health.AddChecker(*name, observability.NewBasicHealthChecker(*name, func(ctx context.Context) error { return nil }))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		_ = health.Start(ctx)
	}()

	brokerClient := broker.NewHTTPClient(*brokerURL, nil)
	if _, err := brokerClient.RegisterConsumer(svc.AsConsumer(true)); err != nil {
		log.Fatalf("register %s with broker: %v", *name, err)
	}

	addr := fmt.Sprintf(":%d", *port)
	svcErrCh := make(chan error, 1)
	go func() {
		svcErrCh <- svc.LaunchServer(ctx, brokerClient, addr)
	}()
	go func() {
		if err := <-svcErrCh; err != nil {
			obs.Logger.ErrorContext(ctx, "service server exited", "service", *name, "error", err)
		}
	}()

	if err := svc.RegisterToControlPlane(ctx, *controlPlaneURL); err != nil {
		log.Fatalf("register %s with control plane: %v", *name, err)
	}

	obs.Logger.InfoContext(ctx, "service listening", "service", *name, "addr", addr)
	<-ctx.Done()
}

// demoServiceNames lists the service kinds buildDemoService knows how to
// construct; kept small and explicit rather than a dynamic plugin registry,
// since these exist to exercise the end-to-end scenarios in spec.md §8.
var demoServiceNames = []string{"secret_fact_tool", "remove_ay_agent", "correct_first_character_agent"}

func availableNames() string {
	s := ""
	for i, n := range demoServiceNames {
		if i > 0 {
			s += ", "
		}
		s += n
	}
	return s
}

func buildDemoService(name, host string, port int, stepInterval time.Duration) (service.Service, error) {
	switch name {
	case "secret_fact_tool":
		svc := service.NewToolService(name, "reveals the secret fact", map[string]service.ToolFunc{
			"get_secret_fact": func(ctx context.Context, args *structpb.Struct) (string, *structpb.Struct, error) {
				return "Cria is the secret fact.", nil, nil
			},
		}, stepInterval)
		svc.Host, svc.Port = host, port
		return svc, nil
	case "remove_ay_agent":
		svc := service.NewComponentService(name, "strips a trailing ay", func(input string, state map[string]any) (string, map[string]any, bool, error) {
			if len(input) < 2 {
				return input, state, true, nil
			}
			return input[:len(input)-2], state, true, nil
		}, stepInterval)
		svc.Host, svc.Port = host, port
		return svc, nil
	case "correct_first_character_agent":
		svc := service.NewComponentService(name, "uppercases the first letter", func(input string, state map[string]any) (string, map[string]any, bool, error) {
			if input == "" {
				return input, state, true, nil
			}
			return string(input[0]-32) + input[1:], state, true, nil
		}, stepInterval)
		svc.Host, svc.Port = host, port
		return svc, nil
	default:
		return nil, fmt.Errorf("unknown service name %q (available: %s)", name, availableNames())
	}
}
