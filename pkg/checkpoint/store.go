package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/atelier-ai/atelier/pkg/database"
	"github.com/atelier-ai/atelier/pkg/models"
)

// ErrNotFound is returned when no checkpoint exists for a thread.
var ErrNotFound = errors.New("checkpoint not found")

// Store is the durable checkpoint store. Two concurrent Puts on the same
// thread id are undefined; callers serialize per thread.
type Store interface {
	// Snapshot returns the current state, or ErrNotFound.
	Snapshot(ctx context.Context, threadID string) (*State, error)

	// Put writes the full state for a thread.
	Put(ctx context.Context, state *State) error

	// Delete removes a thread's checkpoint. Deleting a missing checkpoint is
	// not an error.
	Delete(ctx context.Context, threadID string) error

	// Exists reports whether a checkpoint is present.
	Exists(ctx context.Context, threadID string) (bool, error)
}

// PostgresStore persists checkpoints in the checkpoints table as jsonb.
type PostgresStore struct {
	db *database.Client
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(db *database.Client) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Snapshot(ctx context.Context, threadID string) (*State, error) {
	var payload models.JSON[*State]
	err := s.db.DB().GetContext(ctx, &payload,
		`SELECT state FROM checkpoints WHERE thread_id = $1`, threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	if payload.Val == nil {
		return nil, fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
	}
	return payload.Val, nil
}

func (s *PostgresStore) Put(ctx context.Context, state *State) error {
	_, err := s.db.DB().ExecContext(ctx, `
		INSERT INTO checkpoints (thread_id, state, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (thread_id) DO UPDATE SET state = $2, updated_at = $3`,
		state.ThreadID, models.JSON[*State]{Val: state}, time.Now())
	if err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, threadID string) error {
	_, err := s.db.DB().ExecContext(ctx,
		`DELETE FROM checkpoints WHERE thread_id = $1`, threadID)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

func (s *PostgresStore) Exists(ctx context.Context, threadID string) (bool, error) {
	var exists bool
	err := s.db.DB().GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM checkpoints WHERE thread_id = $1)`, threadID)
	if err != nil {
		return false, fmt.Errorf("failed to check checkpoint: %w", err)
	}
	return exists, nil
}

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]*State
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*State)}
}

func (s *MemoryStore) Snapshot(_ context.Context, threadID string) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[threadID]
	if !ok {
		return nil, fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
	}
	return state.Clone(), nil
}

func (s *MemoryStore) Put(_ context.Context, state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.ThreadID] = state.Clone()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, threadID)
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, threadID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.states[threadID]
	return ok, nil
}
