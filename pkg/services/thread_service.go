package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/atelier-ai/atelier/pkg/database"
	"github.com/atelier-ai/atelier/pkg/models"
)

// ThreadService manages thread rows. Thread ids are allocated by the session
// manager; this layer only persists them.
type ThreadService struct {
	db *database.Client
}

// NewThreadService creates a ThreadService.
func NewThreadService(db *database.Client) *ThreadService {
	return &ThreadService{db: db}
}

// Create persists a new thread row.
func (s *ThreadService) Create(ctx context.Context, threadID, userID string) (*models.Thread, error) {
	thread := &models.Thread{ThreadID: threadID, UserID: userID}
	err := s.db.DB().GetContext(ctx, thread,
		`INSERT INTO threads (thread_id, user_id) VALUES ($1, $2) RETURNING *`,
		threadID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert thread: %w", err)
	}
	return thread, nil
}

// Get returns a thread by id.
func (s *ThreadService) Get(ctx context.Context, threadID string) (*models.Thread, error) {
	var thread models.Thread
	err := s.db.DB().GetContext(ctx, &thread,
		`SELECT * FROM threads WHERE thread_id = $1`, threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query thread: %w", err)
	}
	return &thread, nil
}

// List returns one page of a user's threads, newest first, plus the total count.
func (s *ThreadService) List(ctx context.Context, userID string, page, pageSize int) ([]models.Thread, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 100
	}

	var total int
	err := s.db.DB().GetContext(ctx, &total,
		`SELECT COUNT(*) FROM threads WHERE user_id = $1`, userID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count threads: %w", err)
	}

	threads := []models.Thread{}
	err = s.db.DB().SelectContext(ctx, &threads,
		`SELECT * FROM threads WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list threads: %w", err)
	}
	return threads, total, nil
}

// SetTitleIfEmpty sets the title only when it is still null. Returns true if
// the title was written — the title-generation task uses this to decide
// whether to emit a title_updated frame.
func (s *ThreadService) SetTitleIfEmpty(ctx context.Context, threadID, title string) (bool, error) {
	res, err := s.db.DB().ExecContext(ctx,
		`UPDATE threads SET title = $2 WHERE thread_id = $1 AND title IS NULL`,
		threadID, title)
	if err != nil {
		return false, fmt.Errorf("failed to set title: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// Delete removes a thread row.
func (s *ThreadService) Delete(ctx context.Context, threadID string) error {
	res, err := s.db.DB().ExecContext(ctx,
		`DELETE FROM threads WHERE thread_id = $1`, threadID)
	if err != nil {
		return fmt.Errorf("failed to delete thread: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
	}
	return nil
}
