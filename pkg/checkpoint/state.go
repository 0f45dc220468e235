// Package checkpoint persists durable agent conversational state keyed by
// thread id. A thread with pending tasks is suspended: its next input must be
// a resume decision, not a fresh user message.
package checkpoint

import "encoding/json"

// Message is one entry in the append-only conversational log.
type Message struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // for tool result messages
	IsError    bool       `json:"is_error,omitempty"`     // for tool result messages
}

// ToolCall records an assistant message's tool invocation.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ActionRequest is one tool call awaiting a human decision. ID correlates the
// eventual tool result with the assistant message's tool call.
type ActionRequest struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Interrupt wraps the action requests raised at one suspension point.
type Interrupt struct {
	Value struct {
		ActionRequests []ActionRequest `json:"action_requests"`
	} `json:"value"`
}

// PendingTask is one suspended tool-approval task.
type PendingTask struct {
	Name       string      `json:"name"`
	Interrupts []Interrupt `json:"interrupts"`
}

// State is the checkpointed view of one thread.
type State struct {
	ThreadID     string        `json:"thread_id"`
	Messages     []Message     `json:"messages"`
	PendingTasks []PendingTask `json:"pending_tasks,omitempty"`
}

// NewState returns an empty state for a thread.
func NewState(threadID string) *State {
	return &State{ThreadID: threadID}
}

// Suspended reports whether the thread is waiting on a human decision.
func (s *State) Suspended() bool {
	return len(s.PendingTasks) > 0
}

// InterruptedTool returns the first pending action request, which is the tool
// awaiting a decision. ok is false when the thread is not suspended.
func (s *State) InterruptedTool() (ActionRequest, bool) {
	for _, task := range s.PendingTasks {
		for _, intr := range task.Interrupts {
			if len(intr.Value.ActionRequests) > 0 {
				return intr.Value.ActionRequests[0], true
			}
		}
	}
	return ActionRequest{}, false
}

// AppendMessage appends to the conversational log. Past messages are never
// rewritten.
func (s *State) AppendMessage(msg Message) {
	s.Messages = append(s.Messages, msg)
}

// SetPending replaces the pending task list (one suspension point at a time).
func (s *State) SetPending(toolName string, req ActionRequest) {
	task := PendingTask{Name: toolName}
	var intr Interrupt
	intr.Value.ActionRequests = []ActionRequest{req}
	task.Interrupts = []Interrupt{intr}
	s.PendingTasks = []PendingTask{task}
}

// ClearPending resolves the suspension.
func (s *State) ClearPending() {
	s.PendingTasks = nil
}

// Clone returns a deep copy via JSON round-trip. Stores hand out clones so
// callers cannot alias persisted state.
func (s *State) Clone() *State {
	data, err := json.Marshal(s)
	if err != nil {
		// State is plain data; marshalling cannot fail in practice.
		panic(err)
	}
	var out State
	if err := json.Unmarshal(data, &out); err != nil {
		panic(err)
	}
	return &out
}
