// Package session creates threads and answers status/history queries from the
// checkpoint store.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/atelier-ai/atelier/pkg/auth"
	"github.com/atelier-ai/atelier/pkg/checkpoint"
	"github.com/atelier-ai/atelier/pkg/models"
	"github.com/atelier-ai/atelier/pkg/sandbox"
)

// Thread status values reported to clients.
const (
	StatusIdle        = "idle"
	StatusInterrupted = "interrupted"
)

// ThreadStore is the slice of the thread service the manager needs.
type ThreadStore interface {
	Create(ctx context.Context, threadID, userID string) (*models.Thread, error)
	Get(ctx context.Context, threadID string) (*models.Thread, error)
	List(ctx context.Context, userID string, page, pageSize int) ([]models.Thread, int, error)
	Delete(ctx context.Context, threadID string) error
}

// SandboxRegistry is the slice of the sandbox manager the manager needs.
type SandboxRegistry interface {
	GetFilesSandbox(ctx context.Context, userID string) (sandbox.Instance, error)
	Live(ownerKey string) (sandbox.Instance, bool)
	Destroy(ctx context.Context, ownerKey string) bool
}

// Manager implements session lifecycle over threads, checkpoints, and sandboxes.
type Manager struct {
	threads     ThreadStore
	checkpoints checkpoint.Store
	sandboxes   SandboxRegistry
}

// NewManager creates a session Manager.
func NewManager(threads ThreadStore, checkpoints checkpoint.Store, sandboxes SandboxRegistry) *Manager {
	return &Manager{threads: threads, checkpoints: checkpoints, sandboxes: sandboxes}
}

// Create allocates a "{userId}-{uuid}" thread id, persists the thread row,
// and pre-warms the user's sandbox in the background.
func (m *Manager) Create(ctx context.Context, userID string) (string, error) {
	threadID := fmt.Sprintf("%s-%s", userID, uuid.NewString())
	if _, err := m.threads.Create(ctx, threadID, userID); err != nil {
		return "", err
	}

	// Fire-and-forget: sandbox creation is slow, and the first tool call will
	// create it anyway if this loses the race.
	go func() {
		warmCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if _, err := m.sandboxes.GetFilesSandbox(warmCtx, userID); err != nil {
			slog.Warn("Sandbox pre-warm failed", "user_id", userID, "error", err)
		}
	}()

	return threadID, nil
}

// ThreadSummary is one row of the session list.
type ThreadSummary struct {
	ThreadID     string    `json:"thread_id"`
	Title        *string   `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	MessageCount int       `json:"message_count"`
	Status       string    `json:"status"`
}

// List returns a page of the user's threads with checkpoint-derived status.
func (m *Manager) List(ctx context.Context, userID string, page, pageSize int) ([]ThreadSummary, int, error) {
	threads, total, err := m.threads.List(ctx, userID, page, pageSize)
	if err != nil {
		return nil, 0, err
	}

	summaries := make([]ThreadSummary, 0, len(threads))
	for _, thread := range threads {
		summary := ThreadSummary{
			ThreadID:  thread.ThreadID,
			Title:     thread.Title,
			CreatedAt: thread.CreatedAt,
			Status:    StatusIdle,
		}
		if state, err := m.checkpoints.Snapshot(ctx, thread.ThreadID); err == nil {
			summary.MessageCount = len(visibleMessages(state.Messages))
			if state.Suspended() {
				summary.Status = StatusInterrupted
			}
		}
		summaries = append(summaries, summary)
	}
	return summaries, total, nil
}

// InterruptInfo describes the decision a suspended thread is waiting on.
type InterruptInfo struct {
	Tool      string         `json:"tool"`
	Args      map[string]any `json:"args,omitempty"`
	Questions []string       `json:"questions,omitempty"`
}

// StatusInfo is the response of the status endpoint.
type StatusInfo struct {
	Status          string         `json:"status"`
	HasPendingTasks bool           `json:"has_pending_tasks"`
	InterruptInfo   *InterruptInfo `json:"interrupt_info,omitempty"`
	MessageCount    int            `json:"message_count"`
}

// Status reports whether a thread is idle or interrupted. A thread with no
// checkpoint yet is idle and empty.
func (m *Manager) Status(ctx context.Context, threadID string) (*StatusInfo, error) {
	state, err := m.checkpoints.Snapshot(ctx, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return &StatusInfo{Status: StatusIdle}, nil
	}
	if err != nil {
		return nil, err
	}

	info := &StatusInfo{
		Status:       StatusIdle,
		MessageCount: len(visibleMessages(state.Messages)),
	}
	if req, ok := state.InterruptedTool(); ok {
		info.Status = StatusInterrupted
		info.HasPendingTasks = true
		info.InterruptInfo = &InterruptInfo{
			Tool:      req.Name,
			Args:      req.Args,
			Questions: questionsFromArgs(req.Args),
		}
	}
	return info, nil
}

// HistoryMessage is one visible conversation entry.
type HistoryMessage struct {
	Role      string                `json:"role"` // "user" or "assistant"
	Content   string                `json:"content"`
	ToolCalls []checkpoint.ToolCall `json:"toolCalls,omitempty"`
}

// History returns the visible conversation: system messages and empty
// messages are suppressed; assistant messages keep their tool-call metadata.
func (m *Manager) History(ctx context.Context, threadID string) ([]HistoryMessage, error) {
	state, err := m.checkpoints.Snapshot(ctx, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return []HistoryMessage{}, nil
	}
	if err != nil {
		return nil, err
	}

	history := []HistoryMessage{}
	for _, msg := range visibleMessages(state.Messages) {
		history = append(history, HistoryMessage{
			Role:      msg.Role,
			Content:   msg.Content,
			ToolCalls: msg.ToolCalls,
		})
	}
	return history, nil
}

// SandboxStatusInfo reports liveness and resource usage of a user's sandbox.
type SandboxStatusInfo struct {
	Running     bool    `json:"running"`
	SandboxID   string  `json:"sandbox_id,omitempty"`
	MemoryBytes uint64  `json:"memory_bytes,omitempty"`
	CPUPercent  float64 `json:"cpu_percent,omitempty"`
}

// SandboxStatus reports the state of the sandbox backing a thread. A sandbox
// that was never created, or has been destroyed, is simply not running; the
// query never creates one.
func (m *Manager) SandboxStatus(ctx context.Context, threadID string) (*SandboxStatusInfo, error) {
	userID, err := auth.UserIDFromThread(threadID)
	if err != nil {
		return nil, err
	}

	inst, ok := m.sandboxes.Live(userID)
	if !ok || !inst.Running(ctx) {
		return &SandboxStatusInfo{}, nil
	}

	stats, err := inst.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read sandbox stats: %w", err)
	}
	return &SandboxStatusInfo{
		Running:     true,
		SandboxID:   inst.ID(),
		MemoryBytes: stats.MemoryBytes,
		CPUPercent:  stats.CPUPercent,
	}, nil
}

// Destroy tears down a thread: the user's sandbox, the checkpoint, and the
// thread row. Destroying the sandbox destroys the shared state of ALL the
// user's threads, since the sandbox is keyed by user.
func (m *Manager) Destroy(ctx context.Context, threadID string) error {
	userID, err := auth.UserIDFromThread(threadID)
	if err != nil {
		return err
	}

	if _, err := m.threads.Get(ctx, threadID); err != nil {
		return err
	}

	m.sandboxes.Destroy(ctx, userID)
	if err := m.checkpoints.Delete(ctx, threadID); err != nil {
		slog.Warn("Failed to delete checkpoint", "thread_id", threadID, "error", err)
	}
	return m.threads.Delete(ctx, threadID)
}

// visibleMessages filters the log down to what clients see: user and
// assistant messages with non-empty content, plus assistant tool-call
// messages.
func visibleMessages(messages []checkpoint.Message) []checkpoint.Message {
	var out []checkpoint.Message
	for _, msg := range messages {
		if msg.Role != "user" && msg.Role != "assistant" {
			continue
		}
		if msg.Content == "" && len(msg.ToolCalls) == 0 {
			continue
		}
		out = append(out, msg)
	}
	return out
}

func questionsFromArgs(args map[string]any) []string {
	items, ok := args["questions"].([]any)
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
