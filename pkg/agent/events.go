// Package agent drives one turn of the LLM coding agent over a thread,
// mediating tool-use interrupts and persisting checkpoints.
package agent

// Event is the interface for all internal agent events. The stream
// multiplexer turns these into SSE frames.
type Event interface {
	eventType() EventType
}

// EventType identifies the kind of internal event.
type EventType string

const (
	EventTypeToken        EventType = "token"
	EventTypeToolStart    EventType = "tool_start"
	EventTypeToolEnd      EventType = "tool_end"
	EventTypeInterrupt    EventType = "interrupt"
	EventTypeError        EventType = "error"
	EventTypeDone         EventType = "done"
	EventTypeTitleUpdated EventType = "title_updated"
)

// TokenEvent is a fragment of the assistant's text reply.
type TokenEvent struct{ Text string }

// ToolStartEvent signals a tool call began executing.
type ToolStartEvent struct{ Name string }

// ToolEndEvent signals a tool call finished.
type ToolEndEvent struct{ Name string }

// InterruptEvent surfaces a tool call awaiting a human decision. The turn
// halts after this event; the client answers via the resume endpoint.
type InterruptEvent struct {
	Name        string
	Description string
	Payload     map[string]any
	Questions   []string
}

// ErrorEvent reports a failure surfaced to the client.
type ErrorEvent struct{ Message string }

// DoneEvent terminates an event sequence. Action carries the resume action
// that produced the sequence, or "" for a fresh turn.
type DoneEvent struct{ Action string }

// TitleUpdatedEvent announces a newly generated thread title.
type TitleUpdatedEvent struct{ Title string }

func (e *TokenEvent) eventType() EventType        { return EventTypeToken }
func (e *ToolStartEvent) eventType() EventType    { return EventTypeToolStart }
func (e *ToolEndEvent) eventType() EventType      { return EventTypeToolEnd }
func (e *InterruptEvent) eventType() EventType    { return EventTypeInterrupt }
func (e *ErrorEvent) eventType() EventType        { return EventTypeError }
func (e *DoneEvent) eventType() EventType         { return EventTypeDone }
func (e *TitleUpdatedEvent) eventType() EventType { return EventTypeTitleUpdated }
