package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/atelier-ai/atelier/pkg/auth"
)

// Manager is the process-wide sandbox registry. It guarantees at most one live
// sandbox per owner key and transparently recreates sandboxes the runtime
// reports missing.
//
// Agent and files traffic share one sandbox per user: the cache key is the
// userId, so all of a user's threads see the same /workspace. Validation and
// offline sandboxes are keyed by a namespaced skill id.
type Manager struct {
	runtime       Runtime
	workspacesDir string
	skillsDir     string

	mu      sync.Mutex
	entries map[string]*entry
}

// entry holds the per-key creation guard. Two concurrent first-callers
// serialize on entry.mu so only one sandbox is created per key.
type entry struct {
	mu   sync.Mutex
	inst Instance
}

// NewManager creates a Manager over the given runtime.
func NewManager(runtime Runtime, workspacesDir, skillsDir string) *Manager {
	return &Manager{
		runtime:       runtime,
		workspacesDir: workspacesDir,
		skillsDir:     skillsDir,
		entries:       make(map[string]*entry),
	}
}

// GetAgentSandbox returns the sandbox for a thread's owner, creating it on
// first use. The userId prefix of the thread id is the cache key.
func (m *Manager) GetAgentSandbox(ctx context.Context, threadID string) (Instance, error) {
	userID, err := auth.UserIDFromThread(threadID)
	if err != nil {
		return nil, err
	}
	return m.GetFilesSandbox(ctx, userID)
}

// GetFilesSandbox returns the per-user sandbox used for WebDAV and upload
// traffic. Same key, same sandbox, as the agent sandbox.
func (m *Manager) GetFilesSandbox(ctx context.Context, userID string) (Instance, error) {
	return m.get(ctx, userID, Spec{
		OwnerKey:     userID,
		WorkspaceDir: filepath.Join(m.workspacesDir, userID),
		SkillsDir:    m.skillsDir,
	})
}

// ValidationKey returns the owner key of a skill's validation sandbox.
func ValidationKey(skillID string) string { return "validation_" + skillID }

// OfflineKey returns the owner key of a skill's network-blocked sandbox.
func OfflineKey(skillID string) string { return "offline_" + skillID }

// GetValidationSandbox returns the networked sandbox for a skill validation run.
func (m *Manager) GetValidationSandbox(ctx context.Context, skillID string) (Instance, error) {
	key := ValidationKey(skillID)
	return m.get(ctx, key, Spec{
		OwnerKey:     key,
		WorkspaceDir: filepath.Join(m.workspacesDir, ".validation", skillID),
		SkillsDir:    m.skillsDir,
	})
}

// GetOfflineSandbox returns the network-blocked sandbox for the offline blind
// test. The block-all-network posture is set at creation and cannot change.
func (m *Manager) GetOfflineSandbox(ctx context.Context, skillID string) (Instance, error) {
	key := OfflineKey(skillID)
	return m.get(ctx, key, Spec{
		OwnerKey:     key,
		WorkspaceDir: filepath.Join(m.workspacesDir, ".offline", skillID),
		SkillsDir:    m.skillsDir,
		BlockNetwork: true,
	})
}

// Destroy removes the sandbox for a key from the cache and best-effort
// terminates it. Returns true if a sandbox was present. Idempotent: a second
// call for the same key returns false.
func (m *Manager) Destroy(ctx context.Context, ownerKey string) bool {
	m.mu.Lock()
	e, ok := m.entries[ownerKey]
	if ok {
		delete(m.entries, ownerKey)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	inst := e.inst
	e.inst = nil
	e.mu.Unlock()
	if inst == nil {
		return false
	}

	if err := inst.Terminate(ctx); err != nil {
		slog.Warn("Failed to terminate sandbox", "owner_key", ownerKey, "error", err)
	}
	slog.Info("Sandbox destroyed", "owner_key", ownerKey)
	return true
}

// Live returns the cached sandbox for a key without creating one. Status
// queries use this so asking about a sandbox never spins one up.
func (m *Manager) Live(ownerKey string) (Instance, bool) {
	m.mu.Lock()
	e, ok := m.entries[ownerKey]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}

	e.mu.Lock()
	inst := e.inst
	e.mu.Unlock()
	if inst == nil {
		return nil, false
	}
	return inst, true
}

// DestroyAll tears down every live sandbox. Called on shutdown.
func (m *Manager) DestroyAll(ctx context.Context) {
	m.mu.Lock()
	keys := make([]string, 0, len(m.entries))
	for key := range m.entries {
		keys = append(keys, key)
	}
	m.mu.Unlock()

	for _, key := range keys {
		m.Destroy(ctx, key)
	}
}

func (m *Manager) get(ctx context.Context, key string, spec Spec) (Instance, error) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}
	m.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.inst != nil {
		if e.inst.Running(ctx) {
			return e.inst, nil
		}
		// Runtime lost the sandbox; recreate silently.
		slog.Warn("Sandbox not running, recreating", "owner_key", key)
		if err := e.inst.Terminate(ctx); err != nil {
			slog.Warn("Failed to terminate dead sandbox", "owner_key", key, "error", err)
		}
		e.inst = nil
	}

	inst, err := m.runtime.Create(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	e.inst = inst
	return inst, nil
}
