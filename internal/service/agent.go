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

// AgentStep is an AgentService's step engine: given the running history,
// produce the next chat turn and whether the task is finished. Standing in
// for the teacher's llama-index AgentRunner (spec.md §4.2), it is free to
// call out to a MetaServiceTool itself to use remote tools.
type AgentStep func(ctx context.Context, history []tasks.ChatMessage) (next tasks.ChatMessage, done bool, err error)

type agentTask struct {
	taskID  string
	history []tasks.ChatMessage
	done    bool
}

// AgentService runs an LLM-driven step engine one step per ProcessingLoop
// tick, publishing COMPLETED_TASK with the final chat history once a task's
// step engine reports done — grounded on original agentfile/services/
// agent.py's processing_loop.
type AgentService struct {
	Base
	Step AgentStep

	mu    sync.Mutex
	tasks map[string]*agentTask
}

// NewAgentService builds an AgentService named serviceName, driven by step.
func NewAgentService(serviceName, description string, step AgentStep, stepInterval time.Duration) *AgentService {
	return &AgentService{
		Base: Base{
			ServiceName:  serviceName,
			Description:  description,
			StepInterval: stepInterval,
			PublisherID:  "agent-" + serviceName,
		},
		Step:  step,
		tasks: make(map[string]*agentTask),
	}
}

func (s *AgentService) processMessage(ctx context.Context, msg messages.QueueMessage) error {
	if msg.Action != messages.ActionNewTask {
		return fmt.Errorf("agent service %s: unhandled action %s", s.ServiceName, msg.Action)
	}
	var def tasks.TaskDefinition
	if err := msg.Unmarshal(&def); err != nil {
		return fmt.Errorf("decode task definition: %w", err)
	}
	s.mu.Lock()
	s.tasks[def.TaskID] = &agentTask{
		taskID:  def.TaskID,
		history: []tasks.ChatMessage{{Role: tasks.RoleUser, Content: def.Input}},
	}
	s.mu.Unlock()
	return nil
}

// AsConsumer implements Service.
func (s *AgentService) AsConsumer(remote bool) broker.Consumer {
	return s.Base.AsConsumer(remote, s.processMessage)
}

// RegisterToMessageQueue implements Service.
func (s *AgentService) RegisterToMessageQueue(mq broker.MessageQueue) (func(ctx context.Context) error, error) {
	return s.Base.RegisterToMessageQueue(mq, s.AsConsumer(false))
}

// ProcessingLoop implements Service.
func (s *AgentService) ProcessingLoop(ctx context.Context) {
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

func (s *AgentService) stepAll(ctx context.Context) {
	s.mu.Lock()
	pending := make([]*agentTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		if !t.done {
			pending = append(pending, t)
		}
	}
	s.mu.Unlock()

	for _, t := range pending {
		next, done, err := s.Step(ctx, t.history)
		if err != nil {
			s.logger().ErrorContext(ctx, "agent step failed", "service", s.ServiceName, "task_id", t.taskID, "error", err)
			continue
		}

		s.mu.Lock()
		t.history = append(t.history, next)
		t.done = done
		history := append([]tasks.ChatMessage(nil), t.history...)
		s.mu.Unlock()

		if !done {
			continue
		}

		result := tasks.TaskResult{TaskID: t.taskID, Result: next.Content, History: history}
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

// LaunchLocal implements Service.
func (s *AgentService) LaunchLocal(ctx context.Context, mq broker.MessageQueue) error {
	if _, err := s.RegisterToMessageQueue(mq); err != nil {
		return fmt.Errorf("register %s to message queue: %w", s.ServiceName, err)
	}
	go s.ProcessingLoop(ctx)
	return nil
}

// LaunchServer implements Service.
func (s *AgentService) LaunchServer(ctx context.Context, mq broker.MessageQueue, addr string) error {
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
		return fmt.Errorf("agent service %s http server: %w", s.ServiceName, err)
	}
	return nil
}
