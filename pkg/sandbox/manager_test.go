package sandbox

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInstance struct {
	id         string
	mu         sync.Mutex
	running    bool
	terminated bool
}

func (f *fakeInstance) ID() string { return f.id }

func (f *fakeInstance) Running(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeInstance) Execute(context.Context, string) (ExecResult, error) {
	return ExecResult{Stdout: "", ExitCode: 0}, nil
}

func (f *fakeInstance) WriteFile(context.Context, string, []byte) error { return nil }
func (f *fakeInstance) ReadFile(context.Context, string) ([]byte, error) {
	return nil, nil
}
func (f *fakeInstance) Stats(context.Context) (Stats, error) { return Stats{}, nil }

func (f *fakeInstance) Terminate(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	f.terminated = true
	return nil
}

func (f *fakeInstance) kill() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
}

type fakeRuntime struct {
	mu      sync.Mutex
	created []*fakeInstance
	creates atomic.Int64
	fail    bool
}

func (r *fakeRuntime) Create(_ context.Context, spec Spec) (Instance, error) {
	r.creates.Add(1)
	if r.fail {
		return nil, assert.AnError
	}
	inst := &fakeInstance{id: spec.OwnerKey + "-" + uuid.NewString()[:8], running: true}
	r.mu.Lock()
	r.created = append(r.created, inst)
	r.mu.Unlock()
	return inst, nil
}

func TestGetFilesSandboxCachesPerUser(t *testing.T) {
	rt := &fakeRuntime{}
	m := NewManager(rt, t.TempDir(), "")
	ctx := context.Background()

	a, err := m.GetFilesSandbox(ctx, "alice")
	require.NoError(t, err)
	b, err := m.GetFilesSandbox(ctx, "alice")
	require.NoError(t, err)
	assert.Same(t, a, b)

	c, err := m.GetFilesSandbox(ctx, "bob")
	require.NoError(t, err)
	assert.NotSame(t, a, c)
	assert.Equal(t, int64(2), rt.creates.Load())
}

func TestAgentAndFilesShareOneSandbox(t *testing.T) {
	rt := &fakeRuntime{}
	m := NewManager(rt, t.TempDir(), "")
	ctx := context.Background()

	threadID := "alice-" + uuid.NewString()
	a, err := m.GetAgentSandbox(ctx, threadID)
	require.NoError(t, err)
	b, err := m.GetFilesSandbox(ctx, "alice")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, int64(1), rt.creates.Load())
}

func TestConcurrentFirstCallersSingleFlight(t *testing.T) {
	rt := &fakeRuntime{}
	m := NewManager(rt, t.TempDir(), "")
	ctx := context.Background()

	const callers = 32
	results := make([]Instance, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inst, err := m.GetFilesSandbox(ctx, "alice")
			require.NoError(t, err)
			results[i] = inst
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), rt.creates.Load(), "concurrent first-callers must not create two sandboxes")
	for _, inst := range results {
		assert.Same(t, results[0], inst)
	}
}

func TestDeadSandboxIsRecreated(t *testing.T) {
	rt := &fakeRuntime{}
	m := NewManager(rt, t.TempDir(), "")
	ctx := context.Background()

	a, err := m.GetFilesSandbox(ctx, "alice")
	require.NoError(t, err)

	a.(*fakeInstance).kill()

	b, err := m.GetFilesSandbox(ctx, "alice")
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.True(t, a.(*fakeInstance).terminated, "dead sandbox must be cleaned up on recreation")
}

func TestLiveNeverCreates(t *testing.T) {
	rt := &fakeRuntime{}
	m := NewManager(rt, t.TempDir(), "")
	ctx := context.Background()

	_, ok := m.Live("alice")
	assert.False(t, ok)
	assert.Equal(t, int64(0), rt.creates.Load())

	created, err := m.GetFilesSandbox(ctx, "alice")
	require.NoError(t, err)

	inst, ok := m.Live("alice")
	require.True(t, ok)
	assert.Equal(t, created.ID(), inst.ID())

	m.Destroy(ctx, "alice")
	_, ok = m.Live("alice")
	assert.False(t, ok)
}

func TestDestroyIdempotent(t *testing.T) {
	rt := &fakeRuntime{}
	m := NewManager(rt, t.TempDir(), "")
	ctx := context.Background()

	inst, err := m.GetFilesSandbox(ctx, "alice")
	require.NoError(t, err)

	assert.True(t, m.Destroy(ctx, "alice"))
	assert.False(t, m.Destroy(ctx, "alice"))
	assert.True(t, inst.(*fakeInstance).terminated)
}

func TestDestroyUnknownKey(t *testing.T) {
	m := NewManager(&fakeRuntime{}, t.TempDir(), "")
	assert.False(t, m.Destroy(context.Background(), "nobody"))
}

func TestCreateFailureIsTyped(t *testing.T) {
	m := NewManager(&fakeRuntime{fail: true}, t.TempDir(), "")

	_, err := m.GetFilesSandbox(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestValidationAndOfflineKeysAreDistinct(t *testing.T) {
	rt := &fakeRuntime{}
	m := NewManager(rt, t.TempDir(), "")
	ctx := context.Background()

	v, err := m.GetValidationSandbox(ctx, "sk-1")
	require.NoError(t, err)
	o, err := m.GetOfflineSandbox(ctx, "sk-1")
	require.NoError(t, err)

	assert.NotSame(t, v, o)
	assert.Equal(t, int64(2), rt.creates.Load())
}
