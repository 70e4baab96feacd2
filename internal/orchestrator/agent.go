package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/taskmesh/taskmesh/internal/messages"
	"github.com/taskmesh/taskmesh/internal/orchestrator/llm"
	"github.com/taskmesh/taskmesh/internal/services"
	"github.com/taskmesh/taskmesh/internal/taskerr"
	"github.com/taskmesh/taskmesh/internal/tasks"
)

// DefaultMaxCalls bounds an Agent task's service calls when no override is
// configured (spec.md §4.3).
const DefaultMaxCalls = 10

// Agent is the LLM-driven orchestrator: at each decision point it asks an
// llm.Client to either answer directly or delegate to exactly one
// candidate service, tracking the conversation in state.history and the
// call count in state.num_calls.
type Agent struct {
	publisherID string
	client      llm.Client
	maxCalls    int
}

// NewAgent builds an Agent orchestrator backed by client. maxCalls <= 0
// falls back to DefaultMaxCalls.
func NewAgent(publisherID string, client llm.Client, maxCalls int) *Agent {
	if maxCalls <= 0 {
		maxCalls = DefaultMaxCalls
	}
	return &Agent{publisherID: publisherID, client: client, maxCalls: maxCalls}
}

// GetNextMessages implements Orchestrator.
func (a *Agent) GetNextMessages(ctx context.Context, task *tasks.TaskDefinition, candidates []services.ServiceDefinition) ([]messages.QueueMessage, map[string]any, error) {
	history := historyFromState(task.State["history"])
	numCalls := task.StateInt("num_calls")

	if len(history) == 0 {
		history = append(history, tasks.ChatMessage{Role: tasks.RoleUser, Content: task.Input})
	}

	if len(candidates) == 0 {
		return nil, nil, taskerr.NoEligibleServices
	}

	if numCalls >= a.maxCalls {
		return nil, map[string]any{
			"result":  lastAssistantContent(history),
			"history": history,
		}, nil
	}

	decision, err := a.client.Decide(ctx, history, candidates, task.Input)
	if err != nil {
		return nil, nil, fmt.Errorf("agent decide: %w", err)
	}

	if decision.Final {
		history = append(history, tasks.ChatMessage{Role: tasks.RoleAssistant, Content: decision.FinalAnswer})
		return nil, map[string]any{
			"result":  decision.FinalAnswer,
			"history": history,
		}, nil
	}

	lastService := task.StateString("last_service")
	lastInput := task.StateString("last_input")
	if decision.ServiceName == lastService && decision.Input == lastInput {
		return nil, map[string]any{
			"result":  lastAssistantContent(history),
			"history": history,
		}, nil
	}

	subTaskID := uuid.NewString()
	def := tasks.TaskDefinition{TaskID: subTaskID, Input: decision.Input}
	msg, err := messages.New(a.publisherID, decision.ServiceName, messages.ActionNewTask, def)
	if err != nil {
		return nil, nil, fmt.Errorf("build agent dispatch message: %w", err)
	}

	history = append(history, tasks.ChatMessage{
		Role:    tasks.RoleAssistant,
		Content: fmt.Sprintf("calling %s: %s", decision.ServiceName, decision.Input),
	})

	return []messages.QueueMessage{msg}, map[string]any{
		"history":             history,
		"num_calls":           numCalls + 1,
		"pending_sub_task_id": subTaskID,
		"last_service":        decision.ServiceName,
		"last_input":          decision.Input,
	}, nil
}

// AddResultToState implements Orchestrator: the sub-task's result becomes a
// tool-role turn in history, ready for the next decision.
func (a *Agent) AddResultToState(ctx context.Context, task *tasks.TaskDefinition, result tasks.TaskResult) (map[string]any, error) {
	history := historyFromState(task.State["history"])
	history = append(history, tasks.ChatMessage{Role: tasks.RoleTool, Content: result.Result})
	return map[string]any{
		"history":             history,
		"pending_sub_task_id": nil,
	}, nil
}

func lastAssistantContent(history []tasks.ChatMessage) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == tasks.RoleAssistant {
			return history[i].Content
		}
	}
	return ""
}

// historyFromState normalizes state["history"], which is a concrete
// []tasks.ChatMessage when the orchestrator is running in-process but
// decodes to []interface{} of map[string]interface{} once it has round
// tripped through JSON (e.g. via the task store).
func historyFromState(raw any) []tasks.ChatMessage {
	if raw == nil {
		return nil
	}
	if history, ok := raw.([]tasks.ChatMessage); ok {
		return history
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var history []tasks.ChatMessage
	if err := json.Unmarshal(encoded, &history); err != nil {
		return nil
	}
	return history
}
