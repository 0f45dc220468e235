package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/atelier-ai/atelier/pkg/checkpoint"
	"github.com/atelier-ai/atelier/pkg/llm"
	"github.com/atelier-ai/atelier/pkg/sandbox"
)

// Mode selects the agent's tool policy for a turn.
type Mode string

const (
	// ModeBuild auto-approves the write-tool whitelist.
	ModeBuild Mode = "build"

	// ModePlan rejects write tools; the agent can only read and discuss.
	ModePlan Mode = "plan"
)

const maxIterations = 24

const systemPrompt = `You are a coding agent working inside an isolated sandbox.
Your working directory is /workspace. Approved skill packages are mounted
read-only under /skills; consult their SKILL.md files and use them when they
fit the task. Use the execute, write_file, edit_file and read_file tools to do
the work, and ask_user when you need a decision from the human.`

const planNotice = `Plan mode is active: do NOT modify anything. The execute,
write_file and edit_file tools are disabled; produce a plan instead.`

// SandboxProvider supplies the per-user sandbox for a thread.
type SandboxProvider interface {
	GetAgentSandbox(ctx context.Context, threadID string) (sandbox.Instance, error)
}

// Runner drives agent turns. Per-thread progression is serial; callers gate
// concurrent turns on the same thread at the HTTP layer.
type Runner struct {
	llm       llm.Client
	store     checkpoint.Store
	sandboxes SandboxProvider
}

// NewRunner creates a Runner.
func NewRunner(llmClient llm.Client, store checkpoint.Store, sandboxes SandboxProvider) *Runner {
	return &Runner{llm: llmClient, store: store, sandboxes: sandboxes}
}

// RunTurn runs one agent turn and returns its event sequence. The channel is
// closed after a terminal DoneEvent; any failure surfaces as a single
// ErrorEvent followed by DoneEvent.
func (r *Runner) RunTurn(ctx context.Context, threadID, message string, files []string, mode Mode) <-chan Event {
	if mode == "" {
		mode = ModeBuild
	}
	out := make(chan Event, 64)
	go func() {
		defer close(out)
		defer func() { out <- &DoneEvent{} }()

		state, err := r.store.Snapshot(ctx, threadID)
		if errors.Is(err, checkpoint.ErrNotFound) {
			state = checkpoint.NewState(threadID)
		} else if err != nil {
			out <- &ErrorEvent{Message: err.Error()}
			return
		}
		if state.Suspended() {
			out <- &ErrorEvent{Message: "thread has a pending interrupt; resume it first"}
			return
		}

		if len(files) > 0 {
			state.AppendMessage(checkpoint.Message{
				Role:    "system",
				Content: "Files attached to this message: " + strings.Join(files, ", "),
			})
		}
		if mode == ModePlan {
			state.AppendMessage(checkpoint.Message{Role: "system", Content: planNotice})
		}
		state.AppendMessage(checkpoint.Message{Role: "user", Content: message})
		if err := r.store.Put(ctx, state); err != nil {
			out <- &ErrorEvent{Message: err.Error()}
			return
		}

		r.runLoop(ctx, state, mode, out)
	}()
	return out
}

// runLoop drives the model until it stops calling tools, errors, or surfaces
// an interrupt. The caller emits the terminal DoneEvent.
func (r *Runner) runLoop(ctx context.Context, state *checkpoint.State, mode Mode, out chan<- Event) {
	for range maxIterations {
		units, err := r.llm.Stream(ctx, llm.Request{
			Model:    llm.ModelBig,
			System:   systemPrompt,
			Messages: convertMessages(state.Messages),
			Tools:    toolDefinitions(),
		})
		if err != nil {
			out <- &ErrorEvent{Message: err.Error()}
			return
		}

		var text strings.Builder
		var calls []llm.ToolCall
		failed := false
		for unit := range units {
			switch u := unit.(type) {
			case *llm.TextUnit:
				text.WriteString(u.Content)
				out <- &TokenEvent{Text: u.Content}
			case *llm.ToolCallUnit:
				calls = append(calls, u.Call)
			case *llm.ErrorUnit:
				out <- &ErrorEvent{Message: u.Message}
				failed = true
			case *llm.DoneUnit:
			}
		}

		if text.Len() > 0 || len(calls) > 0 {
			msg := checkpoint.Message{Role: "assistant", Content: text.String()}
			for _, call := range calls {
				msg.ToolCalls = append(msg.ToolCalls, checkpoint.ToolCall{
					ID: call.ID, Name: call.Name, Args: call.Args,
				})
			}
			state.AppendMessage(msg)
			if err := r.store.Put(ctx, state); err != nil {
				out <- &ErrorEvent{Message: err.Error()}
				return
			}
		}
		if failed {
			return
		}
		if len(calls) == 0 {
			return
		}

		for _, call := range calls {
			halted, err := r.dispatchTool(ctx, state, mode, call, out)
			if err != nil {
				out <- &ErrorEvent{Message: err.Error()}
				return
			}
			if halted {
				return
			}
		}
	}
	out <- &ErrorEvent{Message: fmt.Sprintf("agent exceeded %d iterations", maxIterations)}
}

// dispatchTool applies the tool policy to one call. halted=true means the
// turn stopped on a surfaced interrupt.
func (r *Runner) dispatchTool(ctx context.Context, state *checkpoint.State, mode Mode, call llm.ToolCall, out chan<- Event) (bool, error) {
	switch {
	case call.Name == ToolReadFile:
		return false, r.executeApproved(ctx, state, call, out)

	case mode == ModePlan && writeTools[call.Name]:
		out <- &ErrorEvent{Message: fmt.Sprintf("tool %q is not allowed in plan mode", call.Name)}
		if err := r.appendToolResult(ctx, state, call.ID, "Rejected: write tools are disabled in plan mode.", true); err != nil {
			return false, err
		}
		return false, nil

	case mode == ModeBuild && AutoApproveTools[call.Name]:
		// Whitelisted interrupt: resolve with an approve decision without
		// surfacing to the client.
		return false, r.executeApproved(ctx, state, call, out)

	default:
		// ask_user and anything outside the whitelist suspend the turn.
		state.SetPending(call.Name, checkpoint.ActionRequest{
			ID: call.ID, Name: call.Name, Args: call.Args,
		})
		if err := r.store.Put(ctx, state); err != nil {
			return false, err
		}
		out <- &InterruptEvent{
			Name:        call.Name,
			Description: fmt.Sprintf("The agent wants to call %q and needs your decision.", call.Name),
			Payload:     call.Args,
			Questions:   stringSlice(call.Args["questions"]),
		}
		slog.Info("Turn suspended on interrupt", "thread_id", state.ThreadID, "tool", call.Name)
		return true, nil
	}
}

func (r *Runner) executeApproved(ctx context.Context, state *checkpoint.State, call llm.ToolCall, out chan<- Event) error {
	out <- &ToolStartEvent{Name: call.Name}
	inst, err := r.sandboxes.GetAgentSandbox(ctx, state.ThreadID)
	if err != nil {
		return err
	}
	content, isError, err := executeTool(ctx, inst, call.Name, call.Args)
	if err != nil {
		return err
	}
	out <- &ToolEndEvent{Name: call.Name}
	return r.appendToolResult(ctx, state, call.ID, content, isError)
}

func (r *Runner) appendToolResult(ctx context.Context, state *checkpoint.State, callID, content string, isError bool) error {
	state.AppendMessage(checkpoint.Message{
		Role:       "tool",
		Content:    content,
		ToolCallID: callID,
		IsError:    isError,
	})
	return r.store.Put(ctx, state)
}

// convertMessages maps the checkpoint log to provider-neutral messages.
// System notes travel as user content; the model's own system prompt is
// supplied separately per request.
func convertMessages(messages []checkpoint.Message) []llm.Message {
	var out []llm.Message
	for _, msg := range messages {
		switch msg.Role {
		case "system", "user":
			out = append(out, llm.Message{Role: "user", Content: msg.Content})
		case "assistant":
			m := llm.Message{Role: "assistant", Content: msg.Content}
			for _, call := range msg.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, llm.ToolCall{
					ID: call.ID, Name: call.Name, Args: call.Args,
				})
			}
			out = append(out, m)
		case "tool":
			out = append(out, llm.Message{
				Role: "tool", Content: msg.Content,
				ToolCallID: msg.ToolCallID, IsError: msg.IsError,
			})
		}
	}
	return out
}

func toolCallFromRequest(req checkpoint.ActionRequest) llm.ToolCall {
	return llm.ToolCall{ID: req.ID, Name: req.Name, Args: req.Args}
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
