package llm

import (
	"context"
	"fmt"

	"github.com/taskmesh/taskmesh/internal/services"
	"github.com/taskmesh/taskmesh/internal/tasks"
)

// MockClient is a test double for Client. DecideFunc, if set, is invoked
// directly; otherwise Decide falls back to a default: call the first
// candidate once, then answer final on the next call.
type MockClient struct {
	DecideFunc func(ctx context.Context, history []tasks.ChatMessage, candidates []services.ServiceDefinition, input string) (Decision, error)

	CallCount int
}

// NewMockClient returns a MockClient with the default echo-then-final
// behavior.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// NewMockClientWithFunc returns a MockClient whose Decide delegates to fn.
func NewMockClientWithFunc(fn func(ctx context.Context, history []tasks.ChatMessage, candidates []services.ServiceDefinition, input string) (Decision, error)) *MockClient {
	return &MockClient{DecideFunc: fn}
}

// Decide implements Client.
func (m *MockClient) Decide(ctx context.Context, history []tasks.ChatMessage, candidates []services.ServiceDefinition, input string) (Decision, error) {
	m.CallCount++
	if m.DecideFunc != nil {
		return m.DecideFunc(ctx, history, candidates, input)
	}

	if len(candidates) == 0 {
		return Decision{
			Reasoning:   "no candidate services available",
			Final:       true,
			FinalAnswer: input,
		}, nil
	}

	// Default: delegate to the first candidate once, then whatever comes
	// back from it is treated as final on the following call.
	calledAlready := false
	for _, m := range history {
		if m.Role == tasks.RoleTool {
			calledAlready = true
			break
		}
	}
	if calledAlready {
		return Decision{
			Reasoning:   "service responded, synthesizing final answer",
			Final:       true,
			FinalAnswer: lastContent(history),
		}, nil
	}

	return Decision{
		Reasoning:   fmt.Sprintf("delegating to %s", candidates[0].ServiceName),
		ServiceName: candidates[0].ServiceName,
		Input:       input,
	}, nil
}

func lastContent(history []tasks.ChatMessage) string {
	if len(history) == 0 {
		return ""
	}
	return history[len(history)-1].Content
}
