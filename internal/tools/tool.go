// Package tools holds the ToolCall/ToolCallResult/ToolCallBundle envelope
// routed to a ToolService topic, parallel in shape to the tasks package.
package tools

import "google.golang.org/protobuf/types/known/structpb"

// ToolCall is the request half of a tool invocation. SourceID names the
// topic the result must be published back to.
type ToolCall struct {
	ID       string           `json:"id"`
	SourceID string           `json:"source_id"`
	ToolName string           `json:"tool_name"`
	Args     *structpb.Struct `json:"args,omitempty"`
}

// ToolCallResult is the response half, published as COMPLETED_TOOL_CALL to
// ToolCall.SourceID.
type ToolCallResult struct {
	ID      string           `json:"id"`
	Output  string           `json:"output"`
	IsError bool             `json:"is_error"`
	Data    *structpb.Struct `json:"data,omitempty"`
}

// ToolCallBundle groups a call with the result once it arrives.
// MetaServiceTool does not use it: it keys in-flight results by call ID in
// its own map.
type ToolCallBundle struct {
	Call   ToolCall
	Result *ToolCallResult
}
