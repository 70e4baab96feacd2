// Package orchestrator implements the decision contract the control plane
// consults at each dispatch step: given a task, its candidate services, and
// its current state, decide what to publish next or declare the task
// terminal.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/taskmesh/taskmesh/internal/messages"
	"github.com/taskmesh/taskmesh/internal/services"
	"github.com/taskmesh/taskmesh/internal/tasks"
)

// Orchestrator is the decision function transforming (task, candidates,
// state) into messages plus a state delta (spec.md §4.3). An empty message
// list together with a "result" key in the delta marks the task terminal.
type Orchestrator interface {
	// GetNextMessages decides what to publish next for task, given its
	// current candidate services.
	GetNextMessages(ctx context.Context, task *tasks.TaskDefinition, candidates []services.ServiceDefinition) (msgs []messages.QueueMessage, stateDelta map[string]any, err error)

	// AddResultToState incorporates a TaskResult into task state before
	// the next decision.
	AddResultToState(ctx context.Context, task *tasks.TaskDefinition, result tasks.TaskResult) (stateDelta map[string]any, err error)
}

// Pipeline is the deterministic orchestrator: a fixed, ordered chain of
// service topics. State carries next_service_index. Input to component n+1
// is the output of component n.
type Pipeline struct {
	publisherID string
	components  []string
}

// NewPipeline builds a Pipeline dispatching through components in order.
func NewPipeline(publisherID string, components []string) *Pipeline {
	return &Pipeline{publisherID: publisherID, components: components}
}

// GetNextMessages implements Orchestrator.
func (p *Pipeline) GetNextMessages(ctx context.Context, task *tasks.TaskDefinition, candidates []services.ServiceDefinition) ([]messages.QueueMessage, map[string]any, error) {
	idx := task.StateInt("next_service_index")
	if idx >= len(p.components) {
		return nil, map[string]any{"result": task.StateString("last_result")}, nil
	}

	input := task.Input
	if last := task.StateString("last_result"); idx > 0 && last != "" {
		input = last
	}

	subTaskID := uuid.NewString()
	def := tasks.TaskDefinition{TaskID: subTaskID, Input: input}
	msg, err := messages.New(p.publisherID, p.components[idx], messages.ActionNewTask, def)
	if err != nil {
		return nil, nil, fmt.Errorf("build pipeline dispatch message: %w", err)
	}

	return []messages.QueueMessage{msg}, map[string]any{
		"pending_sub_task_id": subTaskID,
	}, nil
}

// AddResultToState implements Orchestrator. It advances next_service_index
// and records the component's output as last_result; once past the last
// component the next GetNextMessages call marks the task terminal.
func (p *Pipeline) AddResultToState(ctx context.Context, task *tasks.TaskDefinition, result tasks.TaskResult) (map[string]any, error) {
	idx := task.StateInt("next_service_index")
	return map[string]any{
		"next_service_index": idx + 1,
		"last_result":        result.Result,
		"pending_sub_task_id": nil,
	}, nil
}
