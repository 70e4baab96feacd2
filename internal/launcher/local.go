// Package launcher assembles a broker, control plane, and service set into
// a running system, grounded on original agentfile/launchers/{local,server}.py:
// Local wires everything in-process for a single run or test; Server runs
// each as its own HTTP process.
package launcher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/taskmesh/taskmesh/internal/broker"
	"github.com/taskmesh/taskmesh/internal/controlplane"
	"github.com/taskmesh/taskmesh/internal/kvstore"
	"github.com/taskmesh/taskmesh/internal/messages"
	"github.com/taskmesh/taskmesh/internal/orchestrator"
	"github.com/taskmesh/taskmesh/internal/service"
	"github.com/taskmesh/taskmesh/internal/taskerr"
	"github.com/taskmesh/taskmesh/internal/tasks"
)

// Local runs a broker, control plane, and a fixed service set in one
// process, wired entirely through Go channels and in-memory maps. It is
// the harness used by the end-to-end scenarios in spec.md §8 and by
// `taskmeshctl run`.
type Local struct {
	MQ           *broker.SimpleMessageQueue
	ControlPlane *controlplane.ControlPlane
	Services     []service.Service
	Logger       *slog.Logger
}

// LocalConfig bundles Local's construction parameters.
type LocalConfig struct {
	Orchestrator       orchestrator.Orchestrator
	Services           []service.Service
	RetrievalThreshold int
	RetrievalTopK      int
	BrokerRetryLimit   int
	Logger             *slog.Logger
}

// NewLocal builds a Local launcher with a fresh in-process broker, an
// in-memory-store-backed control plane, and cfg.Services, none of which
// have been started yet.
func NewLocal(cfg LocalConfig) (*Local, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	mq := broker.NewSimpleMessageQueue(cfg.Logger, nil, nil, cfg.BrokerRetryLimit)

	cp, err := controlplane.New(controlplane.Config{
		Store:              kvstore.NewMemoryStore(),
		Orchestrator:       cfg.Orchestrator,
		MQ:                 mq,
		RetrievalThreshold: cfg.RetrievalThreshold,
		TopK:               cfg.RetrievalTopK,
		PublisherID:        "control_plane",
		Logger:             cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build control plane: %w", err)
	}

	return &Local{MQ: mq, ControlPlane: cp, Services: cfg.Services, Logger: cfg.Logger}, nil
}

// Start runs the broker scheduler, registers the control plane as a
// consumer, launches every service locally, and registers each service's
// definition directly with the control plane's in-process registry
// (bypassing HTTP, since everything here shares one process).
func (l *Local) Start(ctx context.Context) error {
	go l.MQ.Start(ctx)

	if _, err := l.ControlPlane.RegisterConsumer(); err != nil {
		return fmt.Errorf("register control plane consumer: %w", err)
	}

	for _, svc := range l.Services {
		if err := svc.LaunchLocal(ctx, l.MQ); err != nil {
			return fmt.Errorf("launch service %s: %w", svc.ServiceDefinition().ServiceName, err)
		}
		if err := l.ControlPlane.RegisterService(svc.ServiceDefinition()); err != nil {
			return fmt.Errorf("register service %s: %w", svc.ServiceDefinition().ServiceName, err)
		}
	}
	return nil
}

// Run starts the system, submits def as a new task, and blocks until the
// task's final result reaches the "human" topic or ctx is cancelled. It
// returns taskerr.Fatal-wrapped errors for anything that should exit the
// launcher nonzero (spec.md §6 exit codes).
func (l *Local) Run(ctx context.Context, def tasks.TaskDefinition) (tasks.TaskResult, error) {
	if err := l.Start(ctx); err != nil {
		return tasks.TaskResult{}, taskerr.NewFatal(err)
	}

	resultCh := make(chan tasks.TaskResult, 1)
	_, err := l.MQ.RegisterConsumer(broker.Consumer{
		ID:          "launcher-result-sink",
		MessageType: messages.TopicHuman,
		Handler: func(ctx context.Context, msg messages.QueueMessage) error {
			var result tasks.TaskResult
			if err := msg.Unmarshal(&result); err != nil {
				return err
			}
			if result.TaskID != def.TaskID {
				return nil
			}
			select {
			case resultCh <- result:
			default:
			}
			return nil
		},
	})
	if err != nil {
		return tasks.TaskResult{}, taskerr.NewFatal(fmt.Errorf("register result sink: %w", err))
	}

	if err := l.ControlPlane.CreateTask(ctx, def); err != nil {
		return tasks.TaskResult{}, taskerr.NewFatal(fmt.Errorf("create task: %w", err))
	}

	select {
	case result := <-resultCh:
		if result.IsError {
			return result, fmt.Errorf("task %s failed: %s", result.TaskID, result.Result)
		}
		return result, nil
	case <-ctx.Done():
		return tasks.TaskResult{}, ctx.Err()
	}
}
