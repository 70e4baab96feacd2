package controlplane

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/taskmesh/taskmesh/internal/broker"
	"github.com/taskmesh/taskmesh/internal/kvstore"
	"github.com/taskmesh/taskmesh/internal/messages"
	"github.com/taskmesh/taskmesh/internal/orchestrator"
	"github.com/taskmesh/taskmesh/internal/services"
	"github.com/taskmesh/taskmesh/internal/tasks"
)

func newTestControlPlane(t *testing.T, o orchestrator.Orchestrator) (*ControlPlane, *broker.SimpleMessageQueue, context.CancelFunc) {
	t.Helper()
	mq := broker.NewSimpleMessageQueue(nil, nil, nil, 3)
	ctx, cancel := context.WithCancel(context.Background())
	go mq.Start(ctx)

	cp, err := New(Config{
		Store:        kvstore.NewMemoryStore(),
		Orchestrator: o,
		MQ:           mq,
		PublisherID:  "control_plane",
	})
	if err != nil {
		t.Fatalf("new control plane: %v", err)
	}
	if _, err := cp.RegisterConsumer(); err != nil {
		t.Fatalf("register control plane consumer: %v", err)
	}
	return cp, mq, cancel
}

// TestPipelineDispatchReachesHumanTopic reproduces the two-stage pipeline
// scenario end to end: two stub workers that each transform their input and
// report the result back as a completed task, driven entirely by the
// control plane's dispatch loop.
func TestPipelineDispatchReachesHumanTopic(t *testing.T) {
	o := orchestrator.NewPipeline("control_plane", []string{"remove_ay_agent", "correct_first_character_agent"})
	cp, mq, cancel := newTestControlPlane(t, o)
	defer cancel()

	registerEchoWorker(t, mq, "remove_ay_agent", func(input string) string { return input + "-no-ay" })
	registerEchoWorker(t, mq, "correct_first_character_agent", func(input string) string { return "H" + input[1:] })

	human := make(chan tasks.TaskResult, 1)
	if _, err := mq.RegisterConsumer(broker.Consumer{
		ID:          "test-human",
		MessageType: messages.TopicHuman,
		Handler: func(ctx context.Context, msg messages.QueueMessage) error {
			var result tasks.TaskResult
			if err := msg.Unmarshal(&result); err != nil {
				return err
			}
			human <- result
			return nil
		},
	}); err != nil {
		t.Fatalf("register human consumer: %v", err)
	}

	def := tasks.TaskDefinition{TaskID: "t1", Input: "ellohay"}
	if err := cp.CreateTask(context.Background(), def); err != nil {
		t.Fatalf("create task: %v", err)
	}

	select {
	case result := <-human:
		if result.TaskID != "t1" {
			t.Fatalf("unexpected task id: %q", result.TaskID)
		}
		if result.Result != "Hllohay-no-ay" {
			t.Fatalf("unexpected result: %q", result.Result)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for final result")
	}

	rec, err := cp.GetTask("t1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if rec.Status != StatusCompleted {
		t.Fatalf("expected completed status, got %s", rec.Status)
	}
}

// registerEchoWorker registers a consumer on topic that immediately
// transforms NEW_TASK input with transform and reports back to the
// publisher's control-plane topic, mirroring how a ComponentService
// behaves without spinning up the whole service package.
func registerEchoWorker(t *testing.T, mq *broker.SimpleMessageQueue, topic string, transform func(string) string) {
	t.Helper()
	_, err := mq.RegisterConsumer(broker.Consumer{
		ID:          topic + "-worker",
		MessageType: topic,
		Handler: func(ctx context.Context, msg messages.QueueMessage) error {
			var def tasks.TaskDefinition
			if err := msg.Unmarshal(&def); err != nil {
				return err
			}
			result := tasks.TaskResult{TaskID: def.TaskID, Result: transform(def.Input)}
			reply, err := messages.New(topic+"-worker", messages.TopicControlPlane, messages.ActionCompletedTask, result)
			if err != nil {
				return err
			}
			return mq.Publish(ctx, reply)
		},
	})
	if err != nil {
		t.Fatalf("register %s worker: %v", topic, err)
	}
}

func TestCompletedTaskForUnknownTaskIDIsDroppedNotErrored(t *testing.T) {
	o := orchestrator.NewPipeline("control_plane", []string{"step_one"})
	cp, _, cancel := newTestControlPlane(t, o)
	defer cancel()

	err := cp.HandleCompletedTask(context.Background(), tasks.TaskResult{TaskID: "never-created", Result: "x"})
	if err != nil {
		t.Fatalf("expected unknown task id to be dropped without error, got %v", err)
	}
}

func TestDispatchFailsTaskWhenOrchestratorHasNoCandidates(t *testing.T) {
	o := orchestrator.NewAgent("control_plane", nil, 0)
	cp, mq, cancel := newTestControlPlane(t, o)
	defer cancel()

	human := make(chan tasks.TaskResult, 1)
	if _, err := mq.RegisterConsumer(broker.Consumer{
		ID:          "test-human",
		MessageType: messages.TopicHuman,
		Handler: func(ctx context.Context, msg messages.QueueMessage) error {
			var result tasks.TaskResult
			if err := msg.Unmarshal(&result); err != nil {
				return err
			}
			human <- result
			return nil
		},
	}); err != nil {
		t.Fatalf("register human consumer: %v", err)
	}

	def := tasks.TaskDefinition{TaskID: "t1", Input: "anything"}
	if err := cp.CreateTask(context.Background(), def); err != nil {
		t.Fatalf("create task: %v", err)
	}

	select {
	case result := <-human:
		if !result.IsError {
			t.Fatal("expected an error result")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for failure result")
	}

	rec, err := cp.GetTask("t1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if rec.Status != StatusFailed {
		t.Fatalf("expected failed status, got %s", rec.Status)
	}
}

func TestRegistryMigratesToIndexAboveThreshold(t *testing.T) {
	store := kvstore.NewMemoryStore()
	reg := newRegistry(store, 2, 2)

	for i := 0; i < 3; i++ {
		if err := reg.Register(services.ServiceDefinition{ServiceName: name(i), Description: "does something"}); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	reg.mu.RLock()
	indexed := reg.indexed
	reg.mu.RUnlock()
	if !indexed {
		t.Fatal("expected registry to have migrated to the index above threshold")
	}
	if got := len(reg.Candidates("does something")); got != 2 {
		t.Fatalf("expected top-2 candidates, got %d", got)
	}
}

func name(i int) string {
	return []string{"a", "b", "c", "d"}[i]
}

func TestDeregisterServiceIsIdempotent(t *testing.T) {
	store := kvstore.NewMemoryStore()
	reg := newRegistry(store, 5, 5)
	if err := reg.Register(services.ServiceDefinition{ServiceName: "a", Description: "alpha"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Deregister("a"); err != nil {
		t.Fatalf("deregister: %v", err)
	}
	if err := reg.Deregister("a"); err != nil {
		t.Fatalf("deregistering twice should not error: %v", err)
	}
	if len(reg.List()) != 0 {
		t.Fatalf("expected empty registry, got %d", len(reg.List()))
	}
}

func TestErrorsIsTaskNotFound(t *testing.T) {
	store := kvstore.NewMemoryStore()
	ts := newTaskStore(store)
	_, err := ts.Get("missing")
	if !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}
