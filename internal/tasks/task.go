// Package tasks holds the TaskDefinition/TaskResult/ChatMessage types that
// flow through NEW_TASK and COMPLETED_TASK messages. State is free-form and
// owned exclusively by the orchestrator; no other component writes it.
package tasks

import "google.golang.org/protobuf/types/known/structpb"

// Role enumerates the speaker of a ChatMessage.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ChatMessage is one turn in a task's conversational history.
type ChatMessage struct {
	Role             Role           `json:"role"`
	Content          string         `json:"content"`
	AdditionalKwargs map[string]any `json:"additional_kwargs,omitempty"`
}

// TaskDefinition describes a unit of work submitted to the control plane.
// State is opaque to everyone but the orchestrator that owns the task.
type TaskDefinition struct {
	TaskID  string         `json:"task_id"`
	Input   string         `json:"input"`
	AgentID *string        `json:"agent_id,omitempty"`
	State   map[string]any `json:"state,omitempty"`
}

// TaskResult is published on COMPLETED_TASK, either from a service back to
// the control plane, or from the control plane to the "human" topic as the
// terminal outcome.
type TaskResult struct {
	TaskID  string            `json:"task_id"`
	Result  string            `json:"result"`
	History []ChatMessage     `json:"history,omitempty"`
	Data    *structpb.Struct  `json:"data,omitempty"`
	IsError bool              `json:"is_error,omitempty"`
}

// StateString reads a string field from TaskDefinition.State, defaulting to
// "" when absent or of the wrong type.
func (t *TaskDefinition) StateString(key string) string {
	if t.State == nil {
		return ""
	}
	v, _ := t.State[key].(string)
	return v
}

// StateInt reads an int field from TaskDefinition.State, defaulting to 0.
// State values round-trip through JSON as float64, so both representations
// are accepted.
func (t *TaskDefinition) StateInt(key string) int {
	if t.State == nil {
		return 0
	}
	switch v := t.State[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// MergeState merges delta into the task's state map, creating it if needed.
func (t *TaskDefinition) MergeState(delta map[string]any) {
	if len(delta) == 0 {
		return
	}
	if t.State == nil {
		t.State = make(map[string]any, len(delta))
	}
	for k, v := range delta {
		t.State[k] = v
	}
}
