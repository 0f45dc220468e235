// Package llm provides the normalized streaming interface to the external
// language models. The rest of the engine only sees Unit values; the adapter
// speaks the provider protocol.
package llm

import "context"

// Model selects which of the two model variants serves a request.
type Model string

const (
	// ModelBig is the reasoning model driving agent turns.
	ModelBig Model = "big"

	// ModelFlash is the short-task model used for titles and reports.
	ModelFlash Model = "flash"
)

// Client is the interface to the external LLM.
type Client interface {
	// Stream sends a conversation and returns a stream of units. The channel
	// is closed when the stream completes; provider errors are delivered as
	// ErrorUnit values in the channel.
	Stream(ctx context.Context, req Request) (<-chan Unit, error)

	// Complete runs a short non-streaming prompt and returns the text reply.
	Complete(ctx context.Context, model Model, prompt string) (string, error)
}

// Request is one streaming conversation request.
type Request struct {
	Model    Model
	System   string
	Messages []Message
	Tools    []ToolDefinition
}

// Message is one conversation entry in provider-neutral form.
type Message struct {
	Role       string // "user", "assistant", "tool"
	Content    string
	ToolCalls  []ToolCall // for assistant messages
	ToolCallID string     // for tool result messages
	IsError    bool       // for tool result messages
}

// ToolCall is the model's request to invoke a tool.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolDefinition describes a tool available to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Properties  map[string]any // JSON Schema properties
	Required    []string
}

// Unit is the interface for all streaming unit types.
type Unit interface {
	unitType() UnitType
}

// UnitType identifies the kind of streaming unit.
type UnitType string

const (
	UnitTypeText     UnitType = "text"
	UnitTypeToolCall UnitType = "tool_call"
	UnitTypeError    UnitType = "error"
	UnitTypeDone     UnitType = "done"
)

// TextUnit is a fragment of the model's text response.
type TextUnit struct{ Content string }

// ToolCallUnit signals the model wants to call a tool. Emitted once the call's
// arguments are fully accumulated.
type ToolCallUnit struct{ Call ToolCall }

// ErrorUnit signals a provider error.
type ErrorUnit struct{ Message string }

// DoneUnit signals the end of one model reply.
type DoneUnit struct{ StopReason string }

func (u *TextUnit) unitType() UnitType     { return UnitTypeText }
func (u *ToolCallUnit) unitType() UnitType { return UnitTypeToolCall }
func (u *ErrorUnit) unitType() UnitType    { return UnitTypeError }
func (u *DoneUnit) unitType() UnitType     { return UnitTypeDone }
