package service

import (
	"context"
	"testing"
	"time"

	"github.com/taskmesh/taskmesh/internal/broker"
	"github.com/taskmesh/taskmesh/internal/messages"
	"github.com/taskmesh/taskmesh/internal/tasks"
)

func TestAgentServiceCompletesTask(t *testing.T) {
	mq, cancel := newTestMQ(t)
	defer cancel()

	svc := NewAgentService("secret_fact_agent", "knows a secret fact", func(ctx context.Context, history []tasks.ChatMessage) (tasks.ChatMessage, bool, error) {
		return tasks.ChatMessage{Role: tasks.RoleAssistant, Content: "the secret fact is 42"}, true, nil
	}, 5*time.Millisecond)

	if err := svc.LaunchLocal(context.Background(), mq); err != nil {
		t.Fatalf("launch local: %v", err)
	}

	completed := make(chan tasks.TaskResult, 1)
	_, err := mq.RegisterConsumer(broker.Consumer{
		ID:          "test-control-plane",
		MessageType: messages.TopicControlPlane,
		Handler: func(ctx context.Context, msg messages.QueueMessage) error {
			var result tasks.TaskResult
			if err := msg.Unmarshal(&result); err != nil {
				return err
			}
			completed <- result
			return nil
		},
	})
	if err != nil {
		t.Fatalf("register control plane consumer: %v", err)
	}

	def := tasks.TaskDefinition{TaskID: "t1", Input: "tell me the secret fact"}
	msg, err := messages.New("test", "secret_fact_agent", messages.ActionNewTask, def)
	if err != nil {
		t.Fatalf("build message: %v", err)
	}
	if err := mq.Publish(context.Background(), msg); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case result := <-completed:
		if result.Result != "the secret fact is 42" {
			t.Fatalf("unexpected result: %q", result.Result)
		}
		if len(result.History) != 2 {
			t.Fatalf("expected user+assistant history, got %d turns", len(result.History))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completed task")
	}
}
