package service

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/taskmesh/taskmesh/internal/broker"
	"github.com/taskmesh/taskmesh/internal/messages"
	"github.com/taskmesh/taskmesh/internal/tools"
)

// ToolFunc executes one named tool call.
type ToolFunc func(ctx context.Context, args *structpb.Struct) (output string, data *structpb.Struct, err error)

// ToolService hosts a registry of named tools, executing one outstanding
// call per ProcessingLoop tick and publishing COMPLETED_TOOL_CALL back to
// the caller's topic — grounded on spec.md §4.2's tool service variant.
type ToolService struct {
	Base
	Tools map[string]ToolFunc

	mu      sync.Mutex
	pending []tools.ToolCall
}

// NewToolService builds a ToolService named serviceName exposing toolFuncs.
func NewToolService(serviceName, description string, toolFuncs map[string]ToolFunc, stepInterval time.Duration) *ToolService {
	return &ToolService{
		Base: Base{
			ServiceName:  serviceName,
			Description:  description,
			StepInterval: stepInterval,
			PublisherID:  "tool-" + serviceName,
		},
		Tools: toolFuncs,
	}
}

func (s *ToolService) processMessage(ctx context.Context, msg messages.QueueMessage) error {
	if msg.Action != messages.ActionNewToolCall {
		return fmt.Errorf("tool service %s: unhandled action %s", s.ServiceName, msg.Action)
	}
	var call tools.ToolCall
	if err := msg.Unmarshal(&call); err != nil {
		return fmt.Errorf("decode tool call: %w", err)
	}
	s.mu.Lock()
	s.pending = append(s.pending, call)
	s.mu.Unlock()
	return nil
}

// AsConsumer implements Service.
func (s *ToolService) AsConsumer(remote bool) broker.Consumer {
	return s.Base.AsConsumer(remote, s.processMessage)
}

// RegisterToMessageQueue implements Service.
func (s *ToolService) RegisterToMessageQueue(mq broker.MessageQueue) (func(ctx context.Context) error, error) {
	return s.Base.RegisterToMessageQueue(mq, s.AsConsumer(false))
}

// ProcessingLoop implements Service: executes one outstanding tool call per
// tick, per spec.md §4.2.
func (s *ToolService) ProcessingLoop(ctx context.Context) {
	ticker := time.NewTicker(s.stepInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.stepOne(ctx)
		}
	}
}

func (s *ToolService) stepOne(ctx context.Context) {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	call := s.pending[0]
	s.pending = s.pending[1:]
	s.mu.Unlock()

	fn, ok := s.Tools[call.ToolName]
	result := tools.ToolCallResult{ID: call.ID}
	if !ok {
		result.IsError = true
		result.Output = fmt.Sprintf("unknown tool %q", call.ToolName)
	} else {
		output, data, err := fn(ctx, call.Args)
		if err != nil {
			result.IsError = true
			result.Output = err.Error()
		} else {
			result.Output = output
			result.Data = data
		}
	}

	msg, err := messages.New(s.PublisherID, call.SourceID, messages.ActionCompletedToolCall, result)
	if err != nil {
		s.logger().ErrorContext(ctx, "build completed tool call message", "error", err)
		return
	}
	s.logPublishErr(ctx, call.SourceID, s.MQ.Publish(ctx, msg))
}

// LaunchLocal implements Service.
func (s *ToolService) LaunchLocal(ctx context.Context, mq broker.MessageQueue) error {
	if _, err := s.RegisterToMessageQueue(mq); err != nil {
		return fmt.Errorf("register %s to message queue: %w", s.ServiceName, err)
	}
	go s.ProcessingLoop(ctx)
	return nil
}

// LaunchServer implements Service.
func (s *ToolService) LaunchServer(ctx context.Context, mq broker.MessageQueue, addr string) error {
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
		return fmt.Errorf("tool service %s http server: %w", s.ServiceName, err)
	}
	return nil
}
