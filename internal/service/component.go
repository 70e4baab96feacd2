package service

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/taskmesh/taskmesh/internal/broker"
	"github.com/taskmesh/taskmesh/internal/messages"
	"github.com/taskmesh/taskmesh/internal/tasks"
)

// RunStep is a user-supplied deterministic step function: given input and
// the task's running state, returns the (possibly updated) output, the new
// state, and whether the task is complete. Grounded on the original's
// ComponentService `run_step(input, state) -> (output, state, done)`.
type RunStep func(input string, state map[string]any) (output string, newState map[string]any, done bool, err error)

type componentTask struct {
	taskID string
	input  string
	state  map[string]any
	output string
	done   bool
}

// ComponentService wraps an arbitrary RunStep callable as a worker — used
// for the deterministic text-transform pipeline stages (spec.md §8
// scenario 2's remove_ay_agent / correct_first_character_agent).
type ComponentService struct {
	Base
	Step RunStep

	mu    sync.Mutex
	tasks map[string]*componentTask
}

// NewComponentService builds a ComponentService named serviceName, running
// step at stepInterval cadence.
func NewComponentService(serviceName, description string, step RunStep, stepInterval time.Duration) *ComponentService {
	return &ComponentService{
		Base: Base{
			ServiceName:  serviceName,
			Description:  description,
			StepInterval: stepInterval,
			PublisherID:  "component-" + serviceName,
		},
		Step:  step,
		tasks: make(map[string]*componentTask),
	}
}

func (s *ComponentService) processMessage(ctx context.Context, msg messages.QueueMessage) error {
	if msg.Action != messages.ActionNewTask {
		return fmt.Errorf("component service %s: unhandled action %s", s.ServiceName, msg.Action)
	}
	var def tasks.TaskDefinition
	if err := msg.Unmarshal(&def); err != nil {
		return fmt.Errorf("decode task definition: %w", err)
	}
	s.mu.Lock()
	s.tasks[def.TaskID] = &componentTask{taskID: def.TaskID, input: def.Input, state: def.State}
	s.mu.Unlock()
	return nil
}

// AsConsumer implements Service.
func (s *ComponentService) AsConsumer(remote bool) broker.Consumer {
	return s.Base.AsConsumer(remote, s.processMessage)
}

// RegisterToMessageQueue implements Service.
func (s *ComponentService) RegisterToMessageQueue(mq broker.MessageQueue) (func(ctx context.Context) error, error) {
	return s.Base.RegisterToMessageQueue(mq, s.AsConsumer(false))
}

// ProcessingLoop implements Service: runs one RunStep per outstanding task
// per tick, publishing COMPLETED_TASK when a task finishes.
func (s *ComponentService) ProcessingLoop(ctx context.Context) {
	ticker := time.NewTicker(s.stepInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.stepAll(ctx)
		}
	}
}

func (s *ComponentService) stepAll(ctx context.Context) {
	s.mu.Lock()
	pending := make([]*componentTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		if !t.done {
			pending = append(pending, t)
		}
	}
	s.mu.Unlock()

	for _, t := range pending {
		output, state, done, err := s.Step(t.input, t.state)
		if err != nil {
			s.logger().ErrorContext(ctx, "component step failed", "service", s.ServiceName, "task_id", t.taskID, "error", err)
			continue
		}
		s.mu.Lock()
		t.output = output
		t.state = state
		t.done = done
		s.mu.Unlock()

		if !done {
			continue
		}

		result := tasks.TaskResult{TaskID: t.taskID, Result: output}
		msg, err := messages.New(s.PublisherID, messages.TopicControlPlane, messages.ActionCompletedTask, result)
		if err != nil {
			s.logger().ErrorContext(ctx, "build completed task message", "error", err)
			continue
		}
		s.logPublishErr(ctx, messages.TopicControlPlane, s.MQ.Publish(ctx, msg))

		s.mu.Lock()
		delete(s.tasks, t.taskID)
		s.mu.Unlock()
	}
}

// LaunchLocal implements Service: starts the processing loop in-process.
func (s *ComponentService) LaunchLocal(ctx context.Context, mq broker.MessageQueue) error {
	if _, err := s.RegisterToMessageQueue(mq); err != nil {
		return fmt.Errorf("register %s to message queue: %w", s.ServiceName, err)
	}
	go s.ProcessingLoop(ctx)
	return nil
}

// LaunchServer implements Service: serves /process_message over HTTP in
// addition to running the processing loop.
func (s *ComponentService) LaunchServer(ctx context.Context, mq broker.MessageQueue, addr string) error {
	s.MQ = mq
	go s.ProcessingLoop(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.Base.homeHandler(func() bool { return true }))
	mux.HandleFunc("POST /process_message", httpProcessMessage(s.processMessage))

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("component service %s http server: %w", s.ServiceName, err)
	}
	return nil
}
