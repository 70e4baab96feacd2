package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/taskmesh/taskmesh/internal/broker"
	"github.com/taskmesh/taskmesh/internal/messages"
	"github.com/taskmesh/taskmesh/internal/tasks"
)

// HumanInputFunc blocks until a human supplies an answer for input — used
// only in local mode; server mode is answered via POST /tasks/{id}/handle
// instead (spec.md §4.2).
type HumanInputFunc func(ctx context.Context, taskID, input string) (string, error)

type humanTask struct {
	taskID string
	input  string
}

// HumanService presents outstanding tasks to a human, either by blocking on
// HumanInputFunc (local mode) or by waiting for an HTTP answer (server
// mode) — grounded on original llama_agents/services/human.py.
type HumanService struct {
	Base
	Input HumanInputFunc

	mu      sync.Mutex
	pending map[string]*humanTask
	local   bool
}

// NewHumanService builds a HumanService. input may be nil in server-only
// deployments.
func NewHumanService(serviceName, description string, input HumanInputFunc, stepInterval time.Duration) *HumanService {
	return &HumanService{
		Base: Base{
			ServiceName:  serviceName,
			Description:  description,
			StepInterval: stepInterval,
			PublisherID:  "human-" + serviceName,
		},
		Input:   input,
		pending: make(map[string]*humanTask),
	}
}

func (s *HumanService) processMessage(ctx context.Context, msg messages.QueueMessage) error {
	if msg.Action != messages.ActionNewTask {
		return fmt.Errorf("human service %s: unhandled action %s", s.ServiceName, msg.Action)
	}
	var def tasks.TaskDefinition
	if err := msg.Unmarshal(&def); err != nil {
		return fmt.Errorf("decode task definition: %w", err)
	}
	s.mu.Lock()
	s.pending[def.TaskID] = &humanTask{taskID: def.TaskID, input: def.Input}
	s.mu.Unlock()
	return nil
}

// AsConsumer implements Service.
func (s *HumanService) AsConsumer(remote bool) broker.Consumer {
	return s.Base.AsConsumer(remote, s.processMessage)
}

// RegisterToMessageQueue implements Service.
func (s *HumanService) RegisterToMessageQueue(mq broker.MessageQueue) (func(ctx context.Context) error, error) {
	return s.Base.RegisterToMessageQueue(mq, s.AsConsumer(false))
}

// ProcessingLoop implements Service. In local mode it blocks on Input for
// each pending task; in server mode it is a no-op poller, since answers
// arrive via handleAnswer instead.
func (s *HumanService) ProcessingLoop(ctx context.Context) {
	if !s.local {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(s.stepInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.stepAllLocal(ctx)
		}
	}
}

func (s *HumanService) stepAllLocal(ctx context.Context) {
	s.mu.Lock()
	pending := make([]*humanTask, 0, len(s.pending))
	for _, t := range s.pending {
		pending = append(pending, t)
	}
	s.mu.Unlock()

	for _, t := range pending {
		answer, err := s.Input(ctx, t.taskID, t.input)
		if err != nil {
			s.logger().ErrorContext(ctx, "human input failed", "task_id", t.taskID, "error", err)
			continue
		}
		s.complete(ctx, t.taskID, answer)
	}
}

func (s *HumanService) complete(ctx context.Context, taskID, answer string) {
	result := tasks.TaskResult{
		TaskID: taskID,
		Result: answer,
		History: []tasks.ChatMessage{
			{Role: tasks.RoleUser, Content: answer},
		},
	}
	msg, err := messages.New(s.PublisherID, messages.TopicControlPlane, messages.ActionCompletedTask, result)
	if err != nil {
		s.logger().ErrorContext(ctx, "build completed task message", "error", err)
		return
	}
	s.logPublishErr(ctx, messages.TopicControlPlane, s.MQ.Publish(ctx, msg))

	s.mu.Lock()
	delete(s.pending, taskID)
	s.mu.Unlock()
}

type handleAnswerRequest struct {
	Answer string `json:"answer"`
}

func (s *HumanService) handleAnswer(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")
	s.mu.Lock()
	_, ok := s.pending[taskID]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "no pending task with that id", http.StatusNotFound)
		return
	}

	var req handleAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.complete(r.Context(), taskID, req.Answer)
	w.WriteHeader(http.StatusOK)
}

// LaunchLocal implements Service.
func (s *HumanService) LaunchLocal(ctx context.Context, mq broker.MessageQueue) error {
	s.local = true
	if _, err := s.RegisterToMessageQueue(mq); err != nil {
		return fmt.Errorf("register %s to message queue: %w", s.ServiceName, err)
	}
	go s.ProcessingLoop(ctx)
	return nil
}

// LaunchServer implements Service: answers arrive via POST
// /tasks/{task_id}/handle instead of a blocking local function.
func (s *HumanService) LaunchServer(ctx context.Context, mq broker.MessageQueue, addr string) error {
	s.MQ = mq
	s.local = false
	go s.ProcessingLoop(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.Base.homeHandler(func() bool { return true }))
	mux.HandleFunc("POST /process_message", httpProcessMessage(s.processMessage))
	mux.HandleFunc("POST /tasks/{task_id}/handle", s.handleAnswer)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("human service %s http server: %w", s.ServiceName, err)
	}
	return nil
}
