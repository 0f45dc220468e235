package validation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/atelier-ai/atelier/pkg/checkpoint"
	"github.com/atelier-ai/atelier/pkg/models"
	"github.com/atelier-ai/atelier/pkg/sandbox"
	"github.com/atelier-ai/atelier/pkg/services"
	"github.com/atelier-ai/atelier/pkg/skills"
)

// backgroundRunTimeout bounds one scheduled validation run.
const backgroundRunTimeout = 30 * time.Minute

// SkillStore is the slice of the skill service the orchestrator needs.
type SkillStore interface {
	Get(ctx context.Context, skillID string) (*models.Skill, error)
	BeginValidation(ctx context.Context, skillID string) error
	SetStage(ctx context.Context, skillID, stage string) error
	CompleteValidation(ctx context.Context, skillID string, out services.ValidationOutcome) error
	FailValidation(ctx context.Context, skillID string) error
	ResetForRevalidation(ctx context.Context, skillID string) error
	ListResumable(ctx context.Context) ([]models.Skill, error)
	ListApproved(ctx context.Context) ([]models.Skill, error)
	UpdateFullTestResult(ctx context.Context, skillID string, result *models.FullTestResult) error
}

// Layer1 is the online/offline blind-test phase.
type Layer1 interface {
	GenerateTasks(ctx context.Context, skill *models.Skill, n int) ([]models.ValidationTask, error)
	RunOnline(ctx context.Context, skill *models.Skill) (*OnlineResult, error)
	RunOffline(ctx context.Context, skill *models.Skill, tasks []models.ValidationTask) (int, error)
	RunSanity(ctx context.Context, skill *models.Skill, tasks []models.ValidationTask) ([]models.FullTestTaskResult, error)
}

// Layer2 is the regression phase over approved skills.
type Layer2 interface {
	Run(ctx context.Context, approved []models.Skill) (*models.Layer2Report, error)
}

// Orchestrator moves skills through the validation pipeline. One process-wide
// mutex serializes whole runs; only the layer-2 fan-out inside a run is
// concurrent.
type Orchestrator struct {
	mu          sync.Mutex
	skills      SkillStore
	checkpoints checkpoint.Store
	sandboxes   SandboxProvider
	layer1      Layer1
	layer2      Layer2
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(store SkillStore, checkpoints checkpoint.Store, sandboxes SandboxProvider, layer1 Layer1, layer2 Layer2) *Orchestrator {
	return &Orchestrator{
		skills:      store,
		checkpoints: checkpoints,
		sandboxes:   sandboxes,
		layer1:      layer1,
		layer2:      layer2,
	}
}

// Validate runs the full pipeline for one skill synchronously. A failed gate
// is a normal outcome recorded on the skill row, not an error; errors mean the
// pipeline itself broke and the skill is marked failed.
func (o *Orchestrator) Validate(ctx context.Context, skillID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.run(ctx, skillID)
}

// Schedule starts a validation run in the background.
func (o *Orchestrator) Schedule(skillID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundRunTimeout)
		defer cancel()
		if err := o.Validate(ctx, skillID); err != nil {
			slog.Error("Background validation failed", "skill_id", skillID, "error", err)
		}
	}()
}

// Revalidate clears previous validation state and runs the pipeline again.
func (o *Orchestrator) Revalidate(ctx context.Context, skillID string) error {
	if err := o.skills.ResetForRevalidation(ctx, skillID); err != nil {
		return err
	}
	return o.Validate(ctx, skillID)
}

func (o *Orchestrator) run(ctx context.Context, skillID string) (err error) {
	skill, err := o.skills.Get(ctx, skillID)
	if err != nil {
		return err
	}

	defer func() {
		o.releaseSandboxes(skillID)
		if err != nil {
			slog.Error("Validation pipeline error", "skill_id", skillID, "error", err)
			if failErr := o.skills.FailValidation(context.WithoutCancel(ctx), skillID); failErr != nil {
				slog.Error("Failed to mark skill failed", "skill_id", skillID, "error", failErr)
			}
		}
		o.deleteCheckpoint(context.WithoutCancel(ctx), skillID)
	}()

	// Format gate. A format-invalid package was still ingested; it fails
	// validation here instead of being auto-rejected at upload.
	format := skills.ValidatePackage(skill.SkillPath)
	if !format.Valid {
		slog.Info("Skill failed format check", "skill_id", skillID, "errors", format.Errors)
		return o.skills.FailValidation(ctx, skillID)
	}

	if err := o.skills.BeginValidation(ctx, skillID); err != nil {
		return err
	}

	if err := o.writeCheckpoint(ctx, skillID, "layer1_online"); err != nil {
		return err
	}
	online, err := o.layer1.RunOnline(ctx, skill)
	if err != nil {
		return err
	}

	if err := o.writeCheckpoint(ctx, skillID, "layer1_offline"); err != nil {
		return err
	}
	blocked, offlineErr := o.layer1.RunOffline(ctx, skill, online.Tasks)

	report := &models.Layer1Report{
		TaskEvaluations: online.Evaluations,
		OfflineRan:      offlineErr == nil,
		BlockedCalls:    blocked,
		RawOutput:       online.RawOutput,
	}
	if offlineErr != nil {
		// Best effort: the online results still make it into the report.
		slog.Warn("Offline replay failed", "skill_id", skillID, "error", offlineErr)
	}

	scores := Score(online.Evaluations, blocked)
	report.OnlinePassed = scores.CompletionScore >= PassThreshold
	report.OfflinePassed = report.OfflineRan && OfflineScore(blocked) >= 70
	layer1Passed := scores.Passed && offlineErr == nil

	outcome := services.ValidationOutcome{
		Layer1:       report,
		Scores:       &scores,
		Dependencies: online.Dependencies,
		Tasks:        online.Tasks,
	}

	if !layer1Passed {
		slog.Info("Skill failed layer-1", "skill_id", skillID, "overall", scores.Overall)
		return o.skills.CompleteValidation(ctx, skillID, outcome)
	}

	if err := o.skills.SetStage(ctx, skillID, models.StageLayer2); err != nil {
		return err
	}
	if err := o.writeCheckpoint(ctx, skillID, "layer2"); err != nil {
		return err
	}

	approved, err := o.skills.ListApproved(ctx)
	if err != nil {
		return err
	}
	layer2Report, err := o.layer2.Run(ctx, approved)
	if err != nil {
		return err
	}

	outcome.Layer2 = layer2Report
	outcome.Passed = layer2Report.Passed
	slog.Info("Validation finished",
		"skill_id", skillID, "overall", scores.Overall, "passed", outcome.Passed)
	return o.skills.CompleteValidation(ctx, skillID, outcome)
}

// ResumeAllPending handles validations cut short by a restart. A skill with a
// surviving checkpoint is re-run from the start (every step is idempotent); a
// skill whose checkpoint is lost is marked failed. Runs synchronously, before
// the server starts accepting work.
func (o *Orchestrator) ResumeAllPending(ctx context.Context) error {
	stranded, err := o.skills.ListResumable(ctx)
	if err != nil {
		return err
	}

	for _, skill := range stranded {
		exists, err := o.checkpoints.Exists(ctx, checkpointThreadID(skill.SkillID))
		if err != nil {
			return fmt.Errorf("failed to probe checkpoint for skill %s: %w", skill.SkillID, err)
		}
		if !exists {
			slog.Warn("Validation checkpoint lost, marking failed", "skill_id", skill.SkillID)
			if err := o.skills.FailValidation(ctx, skill.SkillID); err != nil {
				return err
			}
			continue
		}

		slog.Info("Resuming interrupted validation", "skill_id", skill.SkillID)
		if err := o.skills.ResetForRevalidation(ctx, skill.SkillID); err != nil {
			return err
		}
		if err := o.Validate(ctx, skill.SkillID); err != nil {
			slog.Error("Resumed validation failed", "skill_id", skill.SkillID, "error", err)
		}
	}
	return nil
}

// checkpointThreadID is the reserved thread id validation state is stored under.
func checkpointThreadID(skillID string) string {
	return "validation_" + skillID
}

// writeCheckpoint records the step about to run so a restart can tell an
// interrupted run from one that never started.
func (o *Orchestrator) writeCheckpoint(ctx context.Context, skillID, step string) error {
	threadID := checkpointThreadID(skillID)
	state, err := o.checkpoints.Snapshot(ctx, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		state = checkpoint.NewState(threadID)
	} else if err != nil {
		return fmt.Errorf("failed to load validation checkpoint: %w", err)
	}

	state.AppendMessage(checkpoint.Message{Role: "system", Content: "step: " + step})
	if err := o.checkpoints.Put(ctx, state); err != nil {
		return fmt.Errorf("failed to write validation checkpoint: %w", err)
	}
	return nil
}

func (o *Orchestrator) deleteCheckpoint(ctx context.Context, skillID string) {
	if err := o.checkpoints.Delete(ctx, checkpointThreadID(skillID)); err != nil &&
		!errors.Is(err, checkpoint.ErrNotFound) {
		slog.Warn("Failed to delete validation checkpoint", "skill_id", skillID, "error", err)
	}
}

func (o *Orchestrator) releaseSandboxes(skillID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	o.sandboxes.Destroy(ctx, sandbox.ValidationKey(skillID))
	o.sandboxes.Destroy(ctx, sandbox.OfflineKey(skillID))
}
