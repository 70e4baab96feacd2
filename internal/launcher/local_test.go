package launcher

import (
	"context"
	"testing"
	"time"

	"github.com/taskmesh/taskmesh/internal/orchestrator"
	"github.com/taskmesh/taskmesh/internal/service"
	"github.com/taskmesh/taskmesh/internal/tasks"
)

// TestLocalRunsTwoStagePipelineToCompletion chains two ComponentServices
// (drop the last two characters, then uppercase the first) through a
// Pipeline orchestrator, driven entirely through the public Local launcher
// API, and checks that the first stage's output is the second stage's
// input.
func TestLocalRunsTwoStagePipelineToCompletion(t *testing.T) {
	removeAy := service.NewComponentService("remove_ay_agent", "strips a trailing ay", func(input string, state map[string]any) (string, map[string]any, bool, error) {
		return input[:len(input)-2], state, true, nil
	}, 5*time.Millisecond)

	fixFirstChar := service.NewComponentService("correct_first_character_agent", "uppercases the first letter", func(input string, state map[string]any) (string, map[string]any, bool, error) {
		return string(input[0]-32) + input[1:], state, true, nil
	}, 5*time.Millisecond)

	o := orchestrator.NewPipeline("control_plane", []string{"remove_ay_agent", "correct_first_character_agent"})

	l, err := NewLocal(LocalConfig{
		Orchestrator: o,
		Services:     []service.Service{removeAy, fixFirstChar},
	})
	if err != nil {
		t.Fatalf("new local launcher: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// "ellohay" -> strip trailing "ay" -> "elloh" -> uppercase first letter -> "Elloh"
	result, err := l.Run(ctx, tasks.TaskDefinition{TaskID: "t1", Input: "ellohay"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Result != "Elloh" {
		t.Fatalf("unexpected result: %q", result.Result)
	}
}

// TestLocalFailsTaskWhenNoServicesRegistered exercises the
// OrchestratorUndecided path end to end: an Agent orchestrator with no
// registered services reports an error result rather than hanging.
func TestLocalFailsTaskWhenNoServicesRegistered(t *testing.T) {
	o := orchestrator.NewAgent("control_plane", nil, 0)
	l, err := NewLocal(LocalConfig{Orchestrator: o})
	if err != nil {
		t.Fatalf("new local launcher: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := l.Run(ctx, tasks.TaskDefinition{TaskID: "t1", Input: "anything"})
	if err == nil {
		t.Fatal("expected an error result")
	}
	if !result.IsError {
		t.Fatalf("expected IsError result, got %+v", result)
	}
}
