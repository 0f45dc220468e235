package agent

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelier-ai/atelier/pkg/checkpoint"
	"github.com/atelier-ai/atelier/pkg/llm"
	"github.com/atelier-ai/atelier/pkg/sandbox"
)

const testThread = "alice-123e4567-e89b-12d3-a456-426614174000"

// scriptedLLM returns one scripted unit sequence per Stream call.
type scriptedLLM struct {
	mu       sync.Mutex
	scripts  [][]llm.Unit
	requests []llm.Request
}

func (s *scriptedLLM) Stream(_ context.Context, req llm.Request) (<-chan llm.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)

	var script []llm.Unit
	if len(s.scripts) > 0 {
		script = s.scripts[0]
		s.scripts = s.scripts[1:]
	} else {
		script = []llm.Unit{&llm.DoneUnit{StopReason: "end_turn"}}
	}

	out := make(chan llm.Unit, len(script))
	for _, u := range script {
		out <- u
	}
	close(out)
	return out, nil
}

func (s *scriptedLLM) Complete(context.Context, llm.Model, string) (string, error) {
	return "", nil
}

// recordingSandbox implements sandbox.Instance and records executed commands
// and written files.
type recordingSandbox struct {
	mu       sync.Mutex
	commands []string
	files    map[string][]byte
}

func newRecordingSandbox() *recordingSandbox {
	return &recordingSandbox{files: map[string][]byte{}}
}

func (f *recordingSandbox) ID() string                    { return "fake" }
func (f *recordingSandbox) Running(context.Context) bool  { return true }
func (f *recordingSandbox) Terminate(context.Context) error { return nil }
func (f *recordingSandbox) Stats(context.Context) (sandbox.Stats, error) {
	return sandbox.Stats{}, nil
}

func (f *recordingSandbox) Execute(_ context.Context, cmd string) (sandbox.ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
	return sandbox.ExecResult{Stdout: "ok", ExitCode: 0}, nil
}

func (f *recordingSandbox) WriteFile(_ context.Context, path string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = data
	return nil
}

func (f *recordingSandbox) ReadFile(_ context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[path]
	if !ok {
		return nil, assert.AnError
	}
	return data, nil
}

type fakeProvider struct{ inst sandbox.Instance }

func (p *fakeProvider) GetAgentSandbox(context.Context, string) (sandbox.Instance, error) {
	return p.inst, nil
}

func collect(ch <-chan Event) []Event {
	var events []Event
	for e := range ch {
		events = append(events, e)
	}
	return events
}

func eventTypes(events []Event) []EventType {
	var types []EventType
	for _, e := range events {
		types = append(types, e.eventType())
	}
	return types
}

func newTestRunner(scripts ...[]llm.Unit) (*Runner, *checkpoint.MemoryStore, *recordingSandbox) {
	store := checkpoint.NewMemoryStore()
	box := newRecordingSandbox()
	runner := NewRunner(&scriptedLLM{scripts: scripts}, store, &fakeProvider{inst: box})
	return runner, store, box
}

func TestRunTurnPlainReply(t *testing.T) {
	runner, store, _ := newTestRunner(
		[]llm.Unit{
			&llm.TextUnit{Content: "Hello "},
			&llm.TextUnit{Content: "there"},
			&llm.DoneUnit{StopReason: "end_turn"},
		},
	)

	events := collect(runner.RunTurn(context.Background(), testThread, "hi", nil, ModeBuild))
	assert.Equal(t, []EventType{EventTypeToken, EventTypeToken, EventTypeDone}, eventTypes(events))

	state, err := store.Snapshot(context.Background(), testThread)
	require.NoError(t, err)
	require.Len(t, state.Messages, 2)
	assert.Equal(t, "user", state.Messages[0].Role)
	assert.Equal(t, "assistant", state.Messages[1].Role)
	assert.Equal(t, "Hello there", state.Messages[1].Content)
	assert.False(t, state.Suspended())
}

func TestRunTurnAutoApprovesWriteToolsInBuildMode(t *testing.T) {
	runner, store, box := newTestRunner(
		[]llm.Unit{
			&llm.ToolCallUnit{Call: llm.ToolCall{
				ID: "c1", Name: ToolWriteFile,
				Args: map[string]any{"path": "hello.py", "content": "print('hi')"},
			}},
			&llm.DoneUnit{StopReason: "tool_use"},
		},
		[]llm.Unit{
			&llm.TextUnit{Content: "done"},
			&llm.DoneUnit{StopReason: "end_turn"},
		},
	)

	events := collect(runner.RunTurn(context.Background(), testThread, "create hello.py", nil, ModeBuild))
	types := eventTypes(events)

	// The whitelisted tool executes without an interrupt frame.
	assert.NotContains(t, types, EventTypeInterrupt)
	assert.Contains(t, types, EventTypeToolStart)
	assert.Contains(t, types, EventTypeToolEnd)
	assert.Equal(t, EventTypeDone, types[len(types)-1])

	assert.Equal(t, []byte("print('hi')"), box.files["/workspace/hello.py"])

	state, err := store.Snapshot(context.Background(), testThread)
	require.NoError(t, err)
	assert.False(t, state.Suspended())
}

func TestRunTurnRejectsWriteToolsInPlanMode(t *testing.T) {
	runner, _, box := newTestRunner(
		[]llm.Unit{
			&llm.ToolCallUnit{Call: llm.ToolCall{
				ID: "c1", Name: ToolExecute,
				Args: map[string]any{"command": "rm -rf /"},
			}},
			&llm.DoneUnit{StopReason: "tool_use"},
		},
		[]llm.Unit{
			&llm.TextUnit{Content: "Here is my plan instead."},
			&llm.DoneUnit{StopReason: "end_turn"},
		},
	)

	events := collect(runner.RunTurn(context.Background(), testThread, "clean up", nil, ModePlan))
	types := eventTypes(events)

	assert.Contains(t, types, EventTypeError)
	assert.Equal(t, EventTypeDone, types[len(types)-1])
	assert.Empty(t, box.commands, "plan mode must not execute commands")
}

func TestRunTurnSurfacesAskUserInterrupt(t *testing.T) {
	runner, store, _ := newTestRunner(
		[]llm.Unit{
			&llm.ToolCallUnit{Call: llm.ToolCall{
				ID: "c1", Name: ToolAskUser,
				Args: map[string]any{"questions": []any{"Postgres or SQLite?"}},
			}},
			&llm.DoneUnit{StopReason: "tool_use"},
		},
	)

	events := collect(runner.RunTurn(context.Background(), testThread, "set up a db", nil, ModeBuild))
	types := eventTypes(events)
	require.Equal(t, []EventType{EventTypeInterrupt, EventTypeDone}, types)

	intr := events[0].(*InterruptEvent)
	assert.Equal(t, ToolAskUser, intr.Name)
	assert.Equal(t, []string{"Postgres or SQLite?"}, intr.Questions)

	state, err := store.Snapshot(context.Background(), testThread)
	require.NoError(t, err)
	assert.True(t, state.Suspended())
	req, ok := state.InterruptedTool()
	require.True(t, ok)
	assert.Equal(t, ToolAskUser, req.Name)
}

func TestRunTurnStreamErrorBecomesErrorThenDone(t *testing.T) {
	runner, _, _ := newTestRunner(
		[]llm.Unit{
			&llm.TextUnit{Content: "partial"},
			&llm.ErrorUnit{Message: "provider exploded"},
		},
	)

	events := collect(runner.RunTurn(context.Background(), testThread, "hi", nil, ModeBuild))
	types := eventTypes(events)
	assert.Equal(t, []EventType{EventTypeToken, EventTypeError, EventTypeDone}, types)
}

func TestRunTurnOnSuspendedThreadFails(t *testing.T) {
	runner, store, _ := newTestRunner()

	state := checkpoint.NewState(testThread)
	state.SetPending(ToolAskUser, checkpoint.ActionRequest{ID: "c1", Name: ToolAskUser})
	require.NoError(t, store.Put(context.Background(), state))

	events := collect(runner.RunTurn(context.Background(), testThread, "hi", nil, ModeBuild))
	assert.Equal(t, []EventType{EventTypeError, EventTypeDone}, eventTypes(events))
}

func TestRunTurnAttachedFilesNote(t *testing.T) {
	runner, store, _ := newTestRunner(
		[]llm.Unit{
			&llm.TextUnit{Content: "got them"},
			&llm.DoneUnit{StopReason: "end_turn"},
		},
	)

	collect(runner.RunTurn(context.Background(), testThread, "look at these", []string{"a.csv", "b.csv"}, ModeBuild))

	state, err := store.Snapshot(context.Background(), testThread)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(state.Messages), 2)
	assert.Equal(t, "system", state.Messages[0].Role)
	assert.Contains(t, state.Messages[0].Content, "a.csv")
}
