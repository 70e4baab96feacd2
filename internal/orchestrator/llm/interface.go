// Package llm is the decision back-end the Agent orchestrator consults: a
// single Decide call turns conversation history plus candidate services into
// either a final answer or exactly one service to call next. Concrete LLM
// providers are out of scope; this package only fixes the contract plus a
// MockClient for tests, mirroring the teacher's cortex/llm split between
// interface and provider.
package llm

import (
	"context"

	"github.com/taskmesh/taskmesh/internal/services"
	"github.com/taskmesh/taskmesh/internal/tasks"
)

// Decision is the LLM's choice at one step of an Agent orchestrator task: a
// final answer, or exactly one service plus the sub-input to send it.
type Decision struct {
	Reasoning string

	Final       bool
	FinalAnswer string

	ServiceName string
	Input       string
}

// Client decides what an Agent orchestrator does next given the
// conversation so far, the candidate services available at this step, and
// the task's original input.
type Client interface {
	Decide(ctx context.Context, history []tasks.ChatMessage, candidates []services.ServiceDefinition, input string) (Decision, error)
}
