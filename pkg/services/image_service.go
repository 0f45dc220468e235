package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/atelier-ai/atelier/pkg/database"
	"github.com/atelier-ai/atelier/pkg/models"
)

// ImageVersionService tracks version tags of the shared skills image. One row
// carries is_current=true at any time.
type ImageVersionService struct {
	db *database.Client
}

// NewImageVersionService creates an ImageVersionService.
func NewImageVersionService(db *database.Client) *ImageVersionService {
	return &ImageVersionService{db: db}
}

// Record inserts the next monotonic version and flips is_current to it, in one
// transaction.
func (s *ImageVersionService) Record(ctx context.Context, skillID string, deps *models.DependencyManifest) (*models.ImageVersion, error) {
	tx, err := s.db.DB().BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	if err := tx.GetContext(ctx, &count, `SELECT COUNT(*) FROM image_versions`); err != nil {
		return nil, fmt.Errorf("failed to count image versions: %w", err)
	}
	version := fmt.Sprintf("v1.%d", count)

	if _, err := tx.ExecContext(ctx, `UPDATE image_versions SET is_current = FALSE`); err != nil {
		return nil, fmt.Errorf("failed to clear current version: %w", err)
	}

	iv := &models.ImageVersion{
		Version:              version,
		IsCurrent:            true,
		DependenciesSnapshot: models.JSON[*models.DependencyManifest]{Val: deps},
	}
	if skillID != "" {
		iv.SkillID = &skillID
	}
	err = tx.GetContext(ctx, iv, `
		INSERT INTO image_versions (version, skill_id, is_current, dependencies_snapshot)
		VALUES ($1, $2, TRUE, $3)
		RETURNING *`,
		version, iv.SkillID, iv.DependenciesSnapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to insert image version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit image version: %w", err)
	}
	return iv, nil
}

// Current returns the version currently marked current, or ErrNotFound.
func (s *ImageVersionService) Current(ctx context.Context) (*models.ImageVersion, error) {
	var iv models.ImageVersion
	err := s.db.DB().GetContext(ctx, &iv,
		`SELECT * FROM image_versions WHERE is_current = TRUE`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("current image version: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query current image version: %w", err)
	}
	return &iv, nil
}

// List returns all versions, newest first.
func (s *ImageVersionService) List(ctx context.Context) ([]models.ImageVersion, error) {
	versions := []models.ImageVersion{}
	err := s.db.DB().SelectContext(ctx, &versions,
		`SELECT * FROM image_versions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list image versions: %w", err)
	}
	return versions, nil
}
