// Package chat runs a retrieval-augmented conversation turn against a
// streaming language model that can request a search tool mid-stream.
package chat

import (
	"context"
	"iter"
)

// Role identifies the author of a message.
type Role string

// Message roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a model's request to invoke a tool. Arguments is raw JSON.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Message is one entry of the conversation sent to the model.
type Message struct {
	Role       Role
	Content    string
	ToolCall   *ToolCall
	ToolCallID string
	// Name is the tool name on RoleTool messages.
	Name string
}

// Parameter describes one tool argument.
type Parameter struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

// Tool is a function advertised to the model.
type Tool struct {
	Name        string
	Description string
	Parameters  []Parameter
}

// ToolMode controls whether the model may or must call tools.
type ToolMode int

const (
	// ToolModeAny forces the model to either answer or call an advertised tool.
	ToolModeAny ToolMode = iota
	// ToolModeNone disables tool calls.
	ToolModeNone
)

func (m ToolMode) String() string {
	if m == ToolModeNone {
		return "none"
	}
	return "any"
}

// Request is a single streaming completion request.
type Request struct {
	Messages    []Message
	Tools       []Tool
	ToolMode    ToolMode
	Temperature float32
}

// Event is a streamed model output: EventContent or EventToolCall.
type Event interface {
	isEvent()
}

// EventContent carries a content token.
type EventContent struct {
	Text string
}

// EventToolCall signals the model switched to a tool call. Text is any
// content that arrived in the same fragment as the call.
type EventToolCall struct {
	Call ToolCall
	Text string
}

func (EventContent) isEvent()  {}
func (EventToolCall) isEvent() {}

// Model streams completions. Stopping the iteration early must release the
// underlying stream.
type Model interface {
	Stream(ctx context.Context, req Request) iter.Seq2[Event, error]
}
