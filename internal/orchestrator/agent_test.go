package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/taskmesh/taskmesh/internal/orchestrator/llm"
	"github.com/taskmesh/taskmesh/internal/services"
	"github.com/taskmesh/taskmesh/internal/taskerr"
	"github.com/taskmesh/taskmesh/internal/tasks"
)

func TestAgentDispatchesThenFinalizes(t *testing.T) {
	mock := llm.NewMockClient()
	a := NewAgent("control_plane", mock, 0)
	task := &tasks.TaskDefinition{TaskID: "t1", Input: "what is 5+5?"}

	msgs, delta, err := a.GetNextMessages(context.Background(), task, candidateServices())
	if err != nil {
		t.Fatalf("step 0: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Type != "calculator" {
		t.Fatalf("expected dispatch to calculator, got %+v", msgs)
	}
	task.MergeState(delta)
	if task.StateInt("num_calls") != 1 {
		t.Fatalf("expected num_calls 1, got %d", task.StateInt("num_calls"))
	}

	delta, err = a.AddResultToState(context.Background(), task, tasks.TaskResult{Result: "10"})
	if err != nil {
		t.Fatalf("add result: %v", err)
	}
	task.MergeState(delta)

	msgs, delta, err = a.GetNextMessages(context.Background(), task, candidateServices())
	if err != nil {
		t.Fatalf("step 1: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected terminal, got %d messages", len(msgs))
	}
	if delta["result"] != "10" {
		t.Fatalf("expected result 10, got %v", delta["result"])
	}
}

func TestAgentTerminatesAtMaxCalls(t *testing.T) {
	mock := llm.NewMockClientWithFunc(func(ctx context.Context, history []tasks.ChatMessage, candidates []services.ServiceDefinition, input string) (llm.Decision, error) {
		// Vary the input per call so the repeated-identical-call guard does
		// not end the task before max calls is reached.
		return llm.Decision{ServiceName: "calculator", Input: fmt.Sprintf("%s #%d", input, len(history))}, nil
	})
	a := NewAgent("control_plane", mock, 2)
	task := &tasks.TaskDefinition{TaskID: "t1", Input: "loop forever"}

	for i := 0; i < 2; i++ {
		msgs, delta, err := a.GetNextMessages(context.Background(), task, candidateServices())
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if len(msgs) != 1 {
			t.Fatalf("step %d: expected dispatch, got %d messages", i, len(msgs))
		}
		task.MergeState(delta)
		delta, err = a.AddResultToState(context.Background(), task, tasks.TaskResult{Result: "partial"})
		if err != nil {
			t.Fatalf("add result %d: %v", i, err)
		}
		task.MergeState(delta)
	}

	msgs, _, err := a.GetNextMessages(context.Background(), task, candidateServices())
	if err != nil {
		t.Fatalf("final step: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected terminal at max calls, got %d messages", len(msgs))
	}
}

func TestAgentLoopBreakOnRepeatedIdenticalCall(t *testing.T) {
	mock := llm.NewMockClientWithFunc(func(ctx context.Context, history []tasks.ChatMessage, candidates []services.ServiceDefinition, input string) (llm.Decision, error) {
		return llm.Decision{ServiceName: "calculator", Input: "same input"}, nil
	})
	a := NewAgent("control_plane", mock, 10)
	task := &tasks.TaskDefinition{TaskID: "t1", Input: "x"}

	msgs, delta, err := a.GetNextMessages(context.Background(), task, candidateServices())
	if err != nil || len(msgs) != 1 {
		t.Fatalf("first call should dispatch: msgs=%v err=%v", msgs, err)
	}
	task.MergeState(delta)
	delta, err = a.AddResultToState(context.Background(), task, tasks.TaskResult{Result: "r"})
	if err != nil {
		t.Fatalf("add result: %v", err)
	}
	task.MergeState(delta)

	msgs, _, err = a.GetNextMessages(context.Background(), task, candidateServices())
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatal("expected loop-break termination on repeated identical (service, input)")
	}
}

func TestAgentNoEligibleServicesFails(t *testing.T) {
	mock := llm.NewMockClient()
	a := NewAgent("control_plane", mock, 0)
	task := &tasks.TaskDefinition{TaskID: "t1", Input: "x"}

	_, _, err := a.GetNextMessages(context.Background(), task, nil)
	if !errors.Is(err, taskerr.NoEligibleServices) {
		t.Fatalf("expected NoEligibleServices, got %v", err)
	}
}
