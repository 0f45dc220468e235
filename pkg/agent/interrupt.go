package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/atelier-ai/atelier/pkg/checkpoint"
)

// Resume actions accepted from the client.
const (
	ActionContinue = "continue"
	ActionCancel   = "cancel"
	ActionAnswer   = "answer"
)

// Resume takes a suspended thread and a client decision, builds the resume
// command per the decision table, and re-drives the agent:
//
//	ask_user + continue → invalid
//	ask_user + cancel   → reject
//	ask_user + answer   → edit: answers merged into the original arguments
//	other    + continue → approve
//	other    + cancel   → reject
//	other    + answer   → invalid
//
// Invalid combinations emit an Error then Done and leave the suspension
// untouched. The sequence terminates with Done carrying the action.
func (r *Runner) Resume(ctx context.Context, threadID, action string, answers []string) <-chan Event {
	out := make(chan Event, 64)
	go func() {
		defer close(out)
		defer func() { out <- &DoneEvent{Action: action} }()

		state, err := r.store.Snapshot(ctx, threadID)
		if err != nil {
			if errors.Is(err, checkpoint.ErrNotFound) {
				out <- &ErrorEvent{Message: "no conversation exists for this thread"}
			} else {
				out <- &ErrorEvent{Message: err.Error()}
			}
			return
		}

		req, ok := state.InterruptedTool()
		if !ok {
			out <- &ErrorEvent{Message: "no pending interrupt to resume"}
			return
		}

		// Validate the (tool, action) combination before touching state.
		switch action {
		case ActionContinue, ActionCancel, ActionAnswer:
		default:
			out <- &ErrorEvent{Message: fmt.Sprintf("unknown action %q", action)}
			return
		}
		if req.Name == ToolAskUser && action == ActionContinue {
			out <- &ErrorEvent{Message: "ask_user requires 'answer' or 'cancel'"}
			return
		}
		if req.Name != ToolAskUser && action == ActionAnswer {
			out <- &ErrorEvent{Message: "only ask_user accepts 'answer'"}
			return
		}
		if action == ActionAnswer && len(answers) == 0 {
			out <- &ErrorEvent{Message: "'answer' requires a non-empty answers list"}
			return
		}

		state.ClearPending()
		slog.Info("Resuming suspended turn", "thread_id", threadID, "tool", req.Name, "action", action)

		switch {
		case req.Name == ToolAskUser && action == ActionCancel:
			if err := r.appendToolResult(ctx, state, req.ID, "User cancelled the question.", true); err != nil {
				out <- &ErrorEvent{Message: err.Error()}
				return
			}

		case req.Name == ToolAskUser && action == ActionAnswer:
			// Edit decision: the edited ask_user call carries the original
			// arguments plus the answers; its result is the answers themselves.
			payload, err := json.Marshal(map[string]any{"answers": answers})
			if err != nil {
				out <- &ErrorEvent{Message: err.Error()}
				return
			}
			if err := r.appendToolResult(ctx, state, req.ID, string(payload), false); err != nil {
				out <- &ErrorEvent{Message: err.Error()}
				return
			}

		case action == ActionContinue:
			// Approve: execute the suspended tool call now.
			if err := r.executeApproved(ctx, state, toolCallFromRequest(req), out); err != nil {
				out <- &ErrorEvent{Message: err.Error()}
				return
			}

		case action == ActionCancel:
			if err := r.appendToolResult(ctx, state, req.ID, "User rejected the tool call.", true); err != nil {
				out <- &ErrorEvent{Message: err.Error()}
				return
			}
		}

		r.runLoop(ctx, state, ModeBuild, out)
	}()
	return out
}
