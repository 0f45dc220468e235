package validation

import (
	"context"
	"sync"

	"github.com/atelier-ai/atelier/pkg/llm"
	"github.com/atelier-ai/atelier/pkg/sandbox"
)

// stubClient answers every Stream with a plain text reply and every Complete
// with a canned string.
type stubClient struct {
	mu            sync.Mutex
	completeReply func(prompt string) (string, error)
	completes     []string
}

func (c *stubClient) Stream(_ context.Context, _ llm.Request) (<-chan llm.Unit, error) {
	ch := make(chan llm.Unit, 2)
	ch <- &llm.TextUnit{Content: "done"}
	ch <- &llm.DoneUnit{StopReason: "end_turn"}
	close(ch)
	return ch, nil
}

func (c *stubClient) Complete(_ context.Context, _ llm.Model, prompt string) (string, error) {
	c.mu.Lock()
	c.completes = append(c.completes, prompt)
	c.mu.Unlock()
	return c.completeReply(prompt)
}

type fakeInstance struct {
	id string
}

func (f *fakeInstance) ID() string                         { return f.id }
func (f *fakeInstance) Running(context.Context) bool       { return true }
func (f *fakeInstance) Terminate(context.Context) error    { return nil }
func (f *fakeInstance) WriteFile(context.Context, string, []byte) error { return nil }
func (f *fakeInstance) ReadFile(context.Context, string) ([]byte, error) {
	return nil, nil
}
func (f *fakeInstance) Stats(context.Context) (sandbox.Stats, error) {
	return sandbox.Stats{}, nil
}
func (f *fakeInstance) Execute(_ context.Context, cmd string) (sandbox.ExecResult, error) {
	return sandbox.ExecResult{Stdout: "ok"}, nil
}

// fakeProvider hands out fake instances and records destroy calls.
type fakeProvider struct {
	mu        sync.Mutex
	created   []string
	destroyed []string
	createErr error
}

func (f *fakeProvider) GetValidationSandbox(_ context.Context, skillID string) (sandbox.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, sandbox.ValidationKey(skillID))
	return &fakeInstance{id: skillID}, nil
}

func (f *fakeProvider) GetOfflineSandbox(_ context.Context, skillID string) (sandbox.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, sandbox.OfflineKey(skillID))
	return &fakeInstance{id: skillID}, nil
}

func (f *fakeProvider) Destroy(_ context.Context, ownerKey string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = append(f.destroyed, ownerKey)
	return true
}
