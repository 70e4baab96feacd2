package orchestrator

import (
	"context"
	"testing"

	"github.com/taskmesh/taskmesh/internal/services"
	"github.com/taskmesh/taskmesh/internal/tasks"
)

func TestPipelineAdvancesThroughComponents(t *testing.T) {
	p := NewPipeline("control_plane", []string{"remove_ay_agent", "correct_first_character_agent"})
	task := &tasks.TaskDefinition{TaskID: "t1", Input: "ellohay orldway"}

	msgs, delta, err := p.GetNextMessages(context.Background(), task, nil)
	if err != nil {
		t.Fatalf("step 0: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Type != "remove_ay_agent" {
		t.Fatalf("expected dispatch to remove_ay_agent, got %+v", msgs)
	}
	task.MergeState(delta)

	delta, err = p.AddResultToState(context.Background(), task, tasks.TaskResult{Result: "ello orldway"})
	if err != nil {
		t.Fatalf("add result 0: %v", err)
	}
	task.MergeState(delta)
	if task.StateInt("next_service_index") != 1 {
		t.Fatalf("expected index 1, got %d", task.StateInt("next_service_index"))
	}

	msgs, delta, err = p.GetNextMessages(context.Background(), task, nil)
	if err != nil {
		t.Fatalf("step 1: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Type != "correct_first_character_agent" {
		t.Fatalf("expected dispatch to correct_first_character_agent, got %+v", msgs)
	}
	task.MergeState(delta)

	delta, err = p.AddResultToState(context.Background(), task, tasks.TaskResult{Result: "hello world"})
	if err != nil {
		t.Fatalf("add result 1: %v", err)
	}
	task.MergeState(delta)

	msgs, delta, err = p.GetNextMessages(context.Background(), task, nil)
	if err != nil {
		t.Fatalf("step 2: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected terminal, got %d messages", len(msgs))
	}
	if delta["result"] != "hello world" {
		t.Fatalf("expected result hello world, got %v", delta["result"])
	}
}

func TestPipelineEmptyComponentsIsImmediatelyTerminal(t *testing.T) {
	p := NewPipeline("control_plane", nil)
	task := &tasks.TaskDefinition{TaskID: "t1", Input: "x"}
	msgs, delta, err := p.GetNextMessages(context.Background(), task, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected no messages, got %d", len(msgs))
	}
	if _, ok := delta["result"]; !ok {
		t.Fatal("expected terminal result key")
	}
}

func candidateServices() []services.ServiceDefinition {
	return []services.ServiceDefinition{
		{ServiceName: "calculator", Description: "performs arithmetic"},
	}
}
