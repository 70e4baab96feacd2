package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/google/uuid"
	"github.com/taskmesh/taskmesh/internal/broker"
	"github.com/taskmesh/taskmesh/internal/messages"
	"github.com/taskmesh/taskmesh/internal/taskerr"
	"github.com/taskmesh/taskmesh/internal/tools"
)

// MetaServiceTool is a locally invocable proxy for a remote tool service: it
// publishes NEW_TOOL_CALL and polls its own result map for the matching
// COMPLETED_TOOL_CALL, bounded by a wall-clock timeout that always releases
// the result entry on exit — grounded on original agentfile/tools/
// meta_service_tool.py's `_poll_for_tool_call_result`/`acall`, with the
// async-sleep poll replaced by a signal-on-insert channel per spec.md §9's
// redesign of that busy-wait.
type MetaServiceTool struct {
	publisherID     string
	toolServiceName string
	timeout         time.Duration
	pollInterval    time.Duration
	raiseTimeout    bool
	logger          *slog.Logger

	mu         sync.Mutex
	results    map[string]tools.ToolCallResult
	waiters    map[string]chan struct{}
	mq         broker.MessageQueue
	registered bool
}

// NewMetaServiceTool builds a proxy for toolServiceName. timeout <= 0 falls
// back to 10s per spec.md §4.2 default. On expiry, Call returns a
// ToolCallResult with IsError set rather than an error, matching
// agentfile/tools/meta_service_tool.py's raise_timeout=False default; use
// NewMetaServiceToolRaisingTimeout to get the raise_timeout=True behavior
// instead.
func NewMetaServiceTool(toolServiceName string, timeout time.Duration, logger *slog.Logger) *MetaServiceTool {
	return newMetaServiceTool(toolServiceName, timeout, false, logger)
}

// NewMetaServiceToolRaisingTimeout builds a proxy that propagates
// taskerr.Timeout as an error on expiry instead of returning an IsError
// result, matching agentfile/tools/meta_service_tool.py's raise_timeout=True.
func NewMetaServiceToolRaisingTimeout(toolServiceName string, timeout time.Duration, logger *slog.Logger) *MetaServiceTool {
	return newMetaServiceTool(toolServiceName, timeout, true, logger)
}

func newMetaServiceTool(toolServiceName string, timeout time.Duration, raiseTimeout bool, logger *slog.Logger) *MetaServiceTool {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MetaServiceTool{
		publisherID:     "meta-service-tool-" + uuid.NewString(),
		toolServiceName: toolServiceName,
		timeout:         timeout,
		pollInterval:    10 * time.Millisecond,
		raiseTimeout:    raiseTimeout,
		logger:          logger,
		results:         make(map[string]tools.ToolCallResult),
		waiters:         make(map[string]chan struct{}),
	}
}

func (t *MetaServiceTool) processMessage(ctx context.Context, msg messages.QueueMessage) error {
	if msg.Action != messages.ActionCompletedToolCall {
		return fmt.Errorf("meta service tool: unhandled action %s", msg.Action)
	}
	var result tools.ToolCallResult
	if err := msg.Unmarshal(&result); err != nil {
		return fmt.Errorf("decode tool call result: %w", err)
	}

	t.mu.Lock()
	t.results[result.ID] = result
	waiter, ok := t.waiters[result.ID]
	t.mu.Unlock()
	if ok {
		select {
		case waiter <- struct{}{}:
		default:
		}
	}
	return nil
}

// ensureRegistered registers this tool's own publisherID as a topic,
// exactly once, so the tool service's COMPLETED_TOOL_CALL reply reaches it.
func (t *MetaServiceTool) ensureRegistered(mq broker.MessageQueue) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.registered {
		return nil
	}
	consumer := broker.Consumer{ID: t.publisherID, MessageType: t.publisherID, Handler: t.processMessage}
	if _, err := mq.RegisterConsumer(consumer); err != nil {
		return fmt.Errorf("register meta service tool consumer: %w", err)
	}
	t.mq = mq
	t.registered = true
	return nil
}

// Call publishes a NEW_TOOL_CALL for toolName and blocks until the matching
// result arrives or timeout elapses. The result entry is released before
// Call returns, regardless of outcome.
func (t *MetaServiceTool) Call(ctx context.Context, mq broker.MessageQueue, toolName string, args *structpb.Struct) (tools.ToolCallResult, error) {
	if err := t.ensureRegistered(mq); err != nil {
		return tools.ToolCallResult{}, err
	}

	callID := uuid.NewString()
	waiter := make(chan struct{}, 1)
	t.mu.Lock()
	t.waiters[callID] = waiter
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.results, callID)
		delete(t.waiters, callID)
		t.mu.Unlock()
	}()

	call := tools.ToolCall{ID: callID, SourceID: t.publisherID, ToolName: toolName, Args: args}
	msg, err := messages.New(t.publisherID, t.toolServiceName, messages.ActionNewToolCall, call)
	if err != nil {
		return tools.ToolCallResult{}, fmt.Errorf("build tool call message: %w", err)
	}
	if err := mq.Publish(ctx, msg); err != nil {
		return tools.ToolCallResult{}, fmt.Errorf("publish tool call: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-waitCtx.Done():
			t.logger.DebugContext(ctx, "meta service tool call timed out", "call_id", callID, "tool", toolName)
			if t.raiseTimeout {
				return tools.ToolCallResult{}, fmt.Errorf("tool call %s on %s: %w", callID, toolName, taskerr.Timeout)
			}
			return tools.ToolCallResult{ID: callID, IsError: true, Output: "<timeout>"}, nil
		case <-waiter:
		case <-ticker.C:
		}
		t.mu.Lock()
		result, ok := t.results[callID]
		t.mu.Unlock()
		if ok {
			return result, nil
		}
	}
}
