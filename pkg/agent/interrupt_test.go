package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelier-ai/atelier/pkg/checkpoint"
	"github.com/atelier-ai/atelier/pkg/llm"
)

// suspend seeds the store with a thread suspended on the given tool call.
func suspend(t *testing.T, store *checkpoint.MemoryStore, name string, args map[string]any) {
	t.Helper()
	state := checkpoint.NewState(testThread)
	state.AppendMessage(checkpoint.Message{Role: "user", Content: "do the thing"})
	state.AppendMessage(checkpoint.Message{
		Role:      "assistant",
		ToolCalls: []checkpoint.ToolCall{{ID: "c1", Name: name, Args: args}},
	})
	state.SetPending(name, checkpoint.ActionRequest{ID: "c1", Name: name, Args: args})
	require.NoError(t, store.Put(context.Background(), state))
}

func TestResumeDecisionTableInvalidCombinations(t *testing.T) {
	tests := []struct {
		name    string
		tool    string
		action  string
		answers []string
		wantMsg string
	}{
		{"ask_user continue", ToolAskUser, ActionContinue, nil, "ask_user requires 'answer' or 'cancel'"},
		{"other answer", ToolExecute, ActionAnswer, []string{"x"}, "only ask_user accepts 'answer'"},
		{"ask_user answer empty", ToolAskUser, ActionAnswer, nil, "non-empty answers"},
		{"unknown action", ToolExecute, "bogus", nil, "unknown action"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner, store, _ := newTestRunner()
			suspend(t, store, tt.tool, map[string]any{"command": "ls"})

			events := collect(runner.Resume(context.Background(), testThread, tt.action, tt.answers))
			types := eventTypes(events)
			require.Equal(t, []EventType{EventTypeError, EventTypeDone}, types)
			assert.Contains(t, events[0].(*ErrorEvent).Message, tt.wantMsg)

			// Invalid combinations must not advance the agent state.
			state, err := store.Snapshot(context.Background(), testThread)
			require.NoError(t, err)
			assert.True(t, state.Suspended())
		})
	}
}

func TestResumeApproveExecutesPendingTool(t *testing.T) {
	runner, store, box := newTestRunner(
		[]llm.Unit{
			&llm.TextUnit{Content: "ran it"},
			&llm.DoneUnit{StopReason: "end_turn"},
		},
	)
	suspend(t, store, "deploy", map[string]any{"command": "make deploy"})

	// "deploy" is outside the whitelist, so approve routes through the
	// generic executor; unknown tools come back as tool-level errors, which
	// still resolves the suspension.
	events := collect(runner.Resume(context.Background(), testThread, ActionContinue, nil))
	types := eventTypes(events)
	assert.Equal(t, EventTypeDone, types[len(types)-1])
	assert.Equal(t, ActionContinue, events[len(events)-1].(*DoneEvent).Action)

	state, err := store.Snapshot(context.Background(), testThread)
	require.NoError(t, err)
	assert.False(t, state.Suspended())
	_ = box
}

func TestResumeCancelLeavesThreadIdle(t *testing.T) {
	runner, store, box := newTestRunner(
		[]llm.Unit{
			&llm.TextUnit{Content: "understood"},
			&llm.DoneUnit{StopReason: "end_turn"},
		},
	)
	suspend(t, store, ToolExecute, map[string]any{"command": "rm -rf build"})

	events := collect(runner.Resume(context.Background(), testThread, ActionCancel, nil))
	assert.Equal(t, EventTypeDone, eventTypes(events)[len(events)-1])
	assert.Empty(t, box.commands, "a rejected tool call must not execute")

	state, err := store.Snapshot(context.Background(), testThread)
	require.NoError(t, err)
	assert.False(t, state.Suspended())

	// The rejection is recorded as an error tool result.
	last := state.Messages[len(state.Messages)-1]
	if last.Role == "assistant" {
		last = state.Messages[len(state.Messages)-2]
	}
	assert.Equal(t, "tool", last.Role)
	assert.True(t, last.IsError)
}

func TestResumeAnswerMergesAnswers(t *testing.T) {
	runner, store, _ := newTestRunner(
		[]llm.Unit{
			&llm.TextUnit{Content: "using postgres"},
			&llm.DoneUnit{StopReason: "end_turn"},
		},
	)
	suspend(t, store, ToolAskUser, map[string]any{"questions": []any{"Which db?"}})

	events := collect(runner.Resume(context.Background(), testThread, ActionAnswer, []string{"postgres"}))
	types := eventTypes(events)
	assert.Equal(t, EventTypeDone, types[len(types)-1])
	assert.NotContains(t, types, EventTypeError)

	state, err := store.Snapshot(context.Background(), testThread)
	require.NoError(t, err)
	assert.False(t, state.Suspended())

	var toolResult *checkpoint.Message
	for i := range state.Messages {
		if state.Messages[i].Role == "tool" && state.Messages[i].ToolCallID == "c1" {
			toolResult = &state.Messages[i]
		}
	}
	require.NotNil(t, toolResult)
	assert.Contains(t, toolResult.Content, "postgres")
	assert.False(t, toolResult.IsError)
}

func TestResumeWithoutInterrupt(t *testing.T) {
	runner, store, _ := newTestRunner()

	state := checkpoint.NewState(testThread)
	state.AppendMessage(checkpoint.Message{Role: "user", Content: "hi"})
	require.NoError(t, store.Put(context.Background(), state))

	events := collect(runner.Resume(context.Background(), testThread, ActionCancel, nil))
	types := eventTypes(events)
	require.Equal(t, []EventType{EventTypeError, EventTypeDone}, types)
	assert.Contains(t, events[0].(*ErrorEvent).Message, "no pending interrupt")
}
