package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/atelier-ai/atelier/pkg/database"
	"github.com/atelier-ai/atelier/pkg/models"
)

// SkillService manages skill rows and the pending/approved directory layout.
// Approved skill files live under approvedDir (shared read-only into all
// sandboxes); everything else lives under pendingDir.
type SkillService struct {
	db          *database.Client
	pendingDir  string
	approvedDir string
}

// NewSkillService creates a SkillService rooted at the two skill directories.
func NewSkillService(db *database.Client, pendingDir, approvedDir string) *SkillService {
	return &SkillService{db: db, pendingDir: pendingDir, approvedDir: approvedDir}
}

// PendingDir returns the directory holding not-yet-approved skill packages.
func (s *SkillService) PendingDir() string { return s.pendingDir }

// ApprovedDir returns the directory holding approved skill packages.
func (s *SkillService) ApprovedDir() string { return s.approvedDir }

// Create persists a freshly ingested skill row. Returns ErrAlreadyExists when
// the name is taken by a non-deleted skill.
func (s *SkillService) Create(ctx context.Context, skill *models.Skill) (*models.Skill, error) {
	var exists bool
	err := s.db.DB().GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM skills WHERE name = $1)`, skill.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to check skill name: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("skill %q: %w", skill.Name, ErrAlreadyExists)
	}

	_, err = s.db.DB().NamedExecContext(ctx, `
		INSERT INTO skills (skill_id, name, display_name, description, status,
			skill_path, format_valid, format_errors, format_warnings, created_by)
		VALUES (:skill_id, :name, :display_name, :description, :status,
			:skill_path, :format_valid, :format_errors, :format_warnings, :created_by)`,
		skill)
	if err != nil {
		return nil, fmt.Errorf("failed to insert skill: %w", err)
	}
	return s.Get(ctx, skill.SkillID)
}

// Get returns a skill by id.
func (s *SkillService) Get(ctx context.Context, skillID string) (*models.Skill, error) {
	var skill models.Skill
	err := s.db.DB().GetContext(ctx, &skill,
		`SELECT * FROM skills WHERE skill_id = $1`, skillID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("skill %s: %w", skillID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query skill: %w", err)
	}
	return &skill, nil
}

// List returns one page of skills, optionally filtered by status.
func (s *SkillService) List(ctx context.Context, status string, page, pageSize int) ([]models.Skill, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	where, args := "", []any{}
	if status != "" {
		where = "WHERE status = $1"
		args = append(args, status)
	}

	var total int
	err := s.db.DB().GetContext(ctx, &total,
		fmt.Sprintf(`SELECT COUNT(*) FROM skills %s`, where), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count skills: %w", err)
	}

	query := fmt.Sprintf(`SELECT * FROM skills %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		where, pageSize, (page-1)*pageSize)
	skills := []models.Skill{}
	if err := s.db.DB().SelectContext(ctx, &skills, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list skills: %w", err)
	}
	return skills, total, nil
}

// ListApproved returns all approved skills (the layer-2 regression targets).
func (s *SkillService) ListApproved(ctx context.Context) ([]models.Skill, error) {
	skills := []models.Skill{}
	err := s.db.DB().SelectContext(ctx, &skills,
		`SELECT * FROM skills WHERE status = $1 ORDER BY created_at`, models.SkillStatusApproved)
	if err != nil {
		return nil, fmt.Errorf("failed to list approved skills: %w", err)
	}
	return skills, nil
}

// ListResumable returns skills whose validation may have been cut short by a
// process restart: status=validating or a mid-pipeline validation stage.
func (s *SkillService) ListResumable(ctx context.Context) ([]models.Skill, error) {
	skills := []models.Skill{}
	err := s.db.DB().SelectContext(ctx, &skills,
		`SELECT * FROM skills WHERE status = $1 OR validation_stage IN ($2, $3)`,
		models.SkillStatusValidating, models.StageLayer1, models.StageLayer2)
	if err != nil {
		return nil, fmt.Errorf("failed to list resumable skills: %w", err)
	}
	return skills, nil
}

// BeginValidation transitions a skill to validating/layer1. Legal only from
// status=pending.
func (s *SkillService) BeginValidation(ctx context.Context, skillID string) error {
	res, err := s.db.DB().ExecContext(ctx,
		`UPDATE skills SET status = $2, validation_stage = $3 WHERE skill_id = $1 AND status = $4`,
		skillID, models.SkillStatusValidating, models.StageLayer1, models.SkillStatusPending)
	if err != nil {
		return fmt.Errorf("failed to begin validation: %w", err)
	}
	return s.requireTransition(ctx, res, skillID)
}

// SetStage updates the validation stage of an in-flight validation.
func (s *SkillService) SetStage(ctx context.Context, skillID, stage string) error {
	_, err := s.db.DB().ExecContext(ctx,
		`UPDATE skills SET validation_stage = $2 WHERE skill_id = $1`, skillID, stage)
	if err != nil {
		return fmt.Errorf("failed to set validation stage: %w", err)
	}
	return nil
}

// ValidationOutcome carries everything the pipeline writes back on completion.
type ValidationOutcome struct {
	Layer1       *models.Layer1Report
	Layer2       *models.Layer2Report
	Scores       *models.ScoreBreakdown
	Dependencies *models.DependencyManifest
	Tasks        []models.ValidationTask
	Passed       bool
}

// CompleteValidation records a terminal pipeline outcome: status returns to
// pending, and the stage becomes completed (approvable) or failed.
func (s *SkillService) CompleteValidation(ctx context.Context, skillID string, out ValidationOutcome) error {
	stage := models.StageFailed
	if out.Passed {
		stage = models.StageCompleted
	}

	var overall *float64
	if out.Scores != nil {
		overall = &out.Scores.Overall
	}

	_, err := s.db.DB().ExecContext(ctx, `
		UPDATE skills SET
			status = $2, validation_stage = $3,
			layer1_report = $4, layer2_report = $5, score_breakdown = $6,
			overall_score = $7, installed_dependencies = $8, validation_tasks = $9
		WHERE skill_id = $1`,
		skillID, models.SkillStatusPending, stage,
		models.JSON[*models.Layer1Report]{Val: out.Layer1},
		models.JSON[*models.Layer2Report]{Val: out.Layer2},
		models.JSON[*models.ScoreBreakdown]{Val: out.Scores},
		overall,
		models.JSON[*models.DependencyManifest]{Val: out.Dependencies},
		models.JSON[[]models.ValidationTask]{Val: out.Tasks})
	if err != nil {
		return fmt.Errorf("failed to complete validation: %w", err)
	}
	return nil
}

// FailValidation marks a skill's validation failed without a report. Used for
// pipeline exceptions and the lost-checkpoint case at startup.
func (s *SkillService) FailValidation(ctx context.Context, skillID string) error {
	_, err := s.db.DB().ExecContext(ctx,
		`UPDATE skills SET status = $2, validation_stage = $3 WHERE skill_id = $1`,
		skillID, models.SkillStatusPending, models.StageFailed)
	if err != nil {
		return fmt.Errorf("failed to mark validation failed: %w", err)
	}
	return nil
}

// ResetForRevalidation clears validation state before a fresh run.
func (s *SkillService) ResetForRevalidation(ctx context.Context, skillID string) error {
	_, err := s.db.DB().ExecContext(ctx, `
		UPDATE skills SET
			status = $2, validation_stage = NULL,
			layer1_report = NULL, layer2_report = NULL,
			score_breakdown = NULL, overall_score = NULL
		WHERE skill_id = $1`,
		skillID, models.SkillStatusPending)
	if err != nil {
		return fmt.Errorf("failed to reset skill for revalidation: %w", err)
	}
	return nil
}

// Approve moves a skill's files from the pending directory to the approved
// directory and flips the status. Legal only when status=pending and
// validation_stage=completed.
//
// The move and the row update are not one transaction: the intent is logged
// first, then files move, then the row commits. On a crash between the last
// two steps the files are already under approved while the row still says
// pending — operators reconcile from the intent log.
func (s *SkillService) Approve(ctx context.Context, skillID, adminID string) (*models.Skill, error) {
	skill, err := s.Get(ctx, skillID)
	if err != nil {
		return nil, err
	}
	if !skill.Approvable() {
		return nil, fmt.Errorf("skill %s is %s/%s, need pending/completed: %w",
			skillID, skill.Status, skill.Stage(), ErrStateIllegal)
	}

	src := filepath.Join(s.pendingDir, skill.Name)
	dst := filepath.Join(s.approvedDir, skill.Name)

	if err := s.logTransitionIntent(skillID, skill.Name, "approve", src, dst); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.approvedDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create approved dir: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return nil, fmt.Errorf("failed to move skill files: %w", err)
	}

	now := time.Now()
	_, err = s.db.DB().ExecContext(ctx, `
		UPDATE skills SET status = $2, skill_path = $3, approved_by = $4, approved_at = $5
		WHERE skill_id = $1`,
		skillID, models.SkillStatusApproved, dst, adminID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to update skill on approve: %w", err)
	}
	return s.Get(ctx, skillID)
}

// Reject marks a pending skill rejected with a reason.
func (s *SkillService) Reject(ctx context.Context, skillID, adminID, reason string) (*models.Skill, error) {
	skill, err := s.Get(ctx, skillID)
	if err != nil {
		return nil, err
	}
	if skill.Status != models.SkillStatusPending {
		return nil, fmt.Errorf("skill %s is %s, only pending skills can be rejected: %w",
			skillID, skill.Status, ErrStateIllegal)
	}

	now := time.Now()
	_, err = s.db.DB().ExecContext(ctx, `
		UPDATE skills SET status = $2, rejected_by = $3, rejected_at = $4, reject_reason = $5
		WHERE skill_id = $1`,
		skillID, models.SkillStatusRejected, adminID, now, reason)
	if err != nil {
		return nil, fmt.Errorf("failed to reject skill: %w", err)
	}
	return s.Get(ctx, skillID)
}

// Delete removes the skill row and its package directory.
func (s *SkillService) Delete(ctx context.Context, skillID string) error {
	skill, err := s.Get(ctx, skillID)
	if err != nil {
		return err
	}

	res, err := s.db.DB().ExecContext(ctx,
		`DELETE FROM skills WHERE skill_id = $1`, skillID)
	if err != nil {
		return fmt.Errorf("failed to delete skill: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("skill %s: %w", skillID, ErrNotFound)
	}

	if skill.SkillPath != "" {
		if err := os.RemoveAll(skill.SkillPath); err != nil {
			slog.Warn("Failed to remove skill files", "skill_id", skillID, "path", skill.SkillPath, "error", err)
		}
	}
	return nil
}

// SaveTasks stores the blind-test tasks for later full-test reuse.
func (s *SkillService) SaveTasks(ctx context.Context, skillID string, tasks []models.ValidationTask) error {
	_, err := s.db.DB().ExecContext(ctx,
		`UPDATE skills SET validation_tasks = $2 WHERE skill_id = $1`,
		skillID, models.JSON[[]models.ValidationTask]{Val: tasks})
	if err != nil {
		return fmt.Errorf("failed to save validation tasks: %w", err)
	}
	return nil
}

// GetTasks returns the tasks stored at validation time, or nil.
func (s *SkillService) GetTasks(ctx context.Context, skillID string) ([]models.ValidationTask, error) {
	skill, err := s.Get(ctx, skillID)
	if err != nil {
		return nil, err
	}
	return skill.ValidationTasks.Val, nil
}

// MergeTasks appends newly generated tasks to the stored ones, marking the
// new tasks so full-test reports can distinguish them.
func MergeTasks(old, fresh []models.ValidationTask) []models.ValidationTask {
	merged := make([]models.ValidationTask, 0, len(old)+len(fresh))
	merged = append(merged, old...)
	for _, t := range fresh {
		t.IsNew = true
		merged = append(merged, t)
	}
	return merged
}

// UpdateFullTestResult records the outcome of a full-test run.
func (s *SkillService) UpdateFullTestResult(ctx context.Context, skillID string, result *models.FullTestResult) error {
	_, err := s.db.DB().ExecContext(ctx,
		`UPDATE skills SET full_test_results = $2, last_full_test_at = $3 WHERE skill_id = $1`,
		skillID, models.JSON[*models.FullTestResult]{Val: result}, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update full test result: %w", err)
	}
	return nil
}

// logTransitionIntent appends an intent record before a filesystem+DB
// transition so a crash window can be reconciled manually.
func (s *SkillService) logTransitionIntent(skillID, name, op, src, dst string) error {
	if err := os.MkdirAll(s.approvedDir, 0o755); err != nil {
		return fmt.Errorf("failed to create approved dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(s.approvedDir, ".transitions.log"),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open transition log: %w", err)
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%s %s skill=%s name=%s src=%s dst=%s\n",
		time.Now().Format(time.RFC3339), op, skillID, name, src, dst)
	if err != nil {
		return fmt.Errorf("failed to write transition log: %w", err)
	}
	return nil
}

func (s *SkillService) requireTransition(ctx context.Context, res sql.Result, skillID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		// Distinguish a missing row from an illegal state.
		if _, getErr := s.Get(ctx, skillID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("skill %s: %w", skillID, ErrStateIllegal)
	}
	return nil
}
