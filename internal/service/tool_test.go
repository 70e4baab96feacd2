package service

import (
	"context"
	"testing"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/taskmesh/taskmesh/internal/broker"
	"github.com/taskmesh/taskmesh/internal/messages"
	"github.com/taskmesh/taskmesh/internal/tools"
)

func TestToolServiceExecutesAndReplies(t *testing.T) {
	mq, cancel := newTestMQ(t)
	defer cancel()

	svc := NewToolService("calculator", "adds two numbers", map[string]ToolFunc{
		"add": func(ctx context.Context, args *structpb.Struct) (string, *structpb.Struct, error) {
			return "10", nil, nil
		},
	}, 5*time.Millisecond)

	if err := svc.LaunchLocal(context.Background(), mq); err != nil {
		t.Fatalf("launch local: %v", err)
	}

	replies := make(chan tools.ToolCallResult, 1)
	_, err := mq.RegisterConsumer(broker.Consumer{
		ID:          "caller",
		MessageType: "caller",
		Handler: func(ctx context.Context, msg messages.QueueMessage) error {
			var result tools.ToolCallResult
			if err := msg.Unmarshal(&result); err != nil {
				return err
			}
			replies <- result
			return nil
		},
	})
	if err != nil {
		t.Fatalf("register caller consumer: %v", err)
	}

	call := tools.ToolCall{ID: "call-1", SourceID: "caller", ToolName: "add"}
	msg, err := messages.New("caller", "calculator", messages.ActionNewToolCall, call)
	if err != nil {
		t.Fatalf("build message: %v", err)
	}
	if err := mq.Publish(context.Background(), msg); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case result := <-replies:
		if result.IsError {
			t.Fatalf("unexpected error result: %q", result.Output)
		}
		if result.Output != "10" {
			t.Fatalf("unexpected output: %q", result.Output)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tool call result")
	}
}

func TestToolServiceUnknownToolIsError(t *testing.T) {
	mq, cancel := newTestMQ(t)
	defer cancel()

	svc := NewToolService("calculator", "adds two numbers", map[string]ToolFunc{}, 5*time.Millisecond)
	if err := svc.LaunchLocal(context.Background(), mq); err != nil {
		t.Fatalf("launch local: %v", err)
	}

	replies := make(chan tools.ToolCallResult, 1)
	_, err := mq.RegisterConsumer(broker.Consumer{
		ID:          "caller",
		MessageType: "caller",
		Handler: func(ctx context.Context, msg messages.QueueMessage) error {
			var result tools.ToolCallResult
			if err := msg.Unmarshal(&result); err != nil {
				return err
			}
			replies <- result
			return nil
		},
	})
	if err != nil {
		t.Fatalf("register caller consumer: %v", err)
	}

	call := tools.ToolCall{ID: "call-1", SourceID: "caller", ToolName: "missing"}
	msg, err := messages.New("caller", "calculator", messages.ActionNewToolCall, call)
	if err != nil {
		t.Fatalf("build message: %v", err)
	}
	if err := mq.Publish(context.Background(), msg); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case result := <-replies:
		if !result.IsError {
			t.Fatal("expected error result for unknown tool")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tool call result")
	}
}
