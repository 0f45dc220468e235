package validation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/atelier-ai/atelier/pkg/llm"
	"github.com/atelier-ai/atelier/pkg/models"
	"github.com/atelier-ai/atelier/pkg/sandbox"
)

// sanityTaskCount is the number of tasks in one regression sanity check.
const sanityTaskCount = 2

// sanityPassRate is the minimum fraction of sanity tasks an approved skill
// must still complete.
const sanityPassRate = 0.5

// Layer2Runner runs the regression gate: every currently-approved skill gets a
// fresh sandbox and a short sanity check, fanned out under a concurrency cap.
// The gate passes only when every approved skill passes.
type Layer2Runner struct {
	drv       *driver
	sandboxes SandboxProvider
	sem       *semaphore.Weighted
}

// NewLayer2Runner creates a Layer2Runner with the given fan-out cap.
func NewLayer2Runner(client llm.Client, sandboxes SandboxProvider, maxConcurrent int64) *Layer2Runner {
	return &Layer2Runner{
		drv:       &driver{llm: client},
		sandboxes: sandboxes,
		sem:       semaphore.NewWeighted(maxConcurrent),
	}
}

// Run checks every approved skill in parallel, bounded by the semaphore.
func (r *Layer2Runner) Run(ctx context.Context, approved []models.Skill) (*models.Layer2Report, error) {
	report := &models.Layer2Report{Passed: true}
	if len(approved) == 0 {
		return report, nil
	}

	results := make([]models.RegressionResult, len(approved))
	var wg sync.WaitGroup
	for i := range approved {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("failed to acquire regression slot: %w", err)
		}
		wg.Add(1)
		go func(i int, skill models.Skill) {
			defer wg.Done()
			defer r.sem.Release(1)
			results[i] = r.checkSkill(ctx, &skill)
		}(i, approved[i])
	}
	wg.Wait()

	report.Results = results
	for _, res := range results {
		if !res.Passed {
			report.Passed = false
		}
	}
	return report, nil
}

// checkSkill runs the sanity tasks for one approved skill in a fresh sandbox.
// Failures are recorded on the result, never returned: one broken skill must
// not abort the other checks.
func (r *Layer2Runner) checkSkill(ctx context.Context, skill *models.Skill) models.RegressionResult {
	result := models.RegressionResult{SkillID: skill.SkillID, SkillName: skill.Name}

	sandboxID := "regress-" + skill.SkillID
	inst, err := r.sandboxes.GetValidationSandbox(ctx, sandboxID)
	if err != nil {
		result.FailReason = err.Error()
		return result
	}
	defer r.sandboxes.Destroy(ctx, sandbox.ValidationKey(sandboxID))

	tasks := r.sanityTasks(skill)
	for _, task := range tasks {
		result.TasksRun++
		transcript, err := r.drv.runTask(ctx, inst, task.Text, nil)
		if err != nil {
			slog.Warn("Regression task failed to run",
				"skill_id", skill.SkillID, "task_id", task.TaskID, "error", err)
			continue
		}
		eval, err := r.drv.evaluate(ctx, skill.Name, task, transcript)
		if err != nil {
			slog.Warn("Regression task evaluation failed",
				"skill_id", skill.SkillID, "task_id", task.TaskID, "error", err)
			continue
		}
		if eval.RawScore >= MinTaskScore {
			result.TasksOK++
		}
	}

	if result.TasksRun > 0 {
		result.PassRate = float64(result.TasksOK) / float64(result.TasksRun)
	}
	result.Passed = result.TasksRun > 0 && result.PassRate >= sanityPassRate
	if !result.Passed && result.FailReason == "" {
		result.FailReason = fmt.Sprintf("%d/%d sanity tasks passed", result.TasksOK, result.TasksRun)
	}
	return result
}

// sanityTasks reuses the skill's stored validation tasks when present and
// falls back to a generic task built from the description.
func (r *Layer2Runner) sanityTasks(skill *models.Skill) []models.ValidationTask {
	tasks := skill.ValidationTasks.Val
	if len(tasks) > sanityTaskCount {
		tasks = tasks[:sanityTaskCount]
	}
	if len(tasks) > 0 {
		return tasks
	}

	description := skill.Name
	if skill.Description != nil && *skill.Description != "" {
		description = *skill.Description
	}
	return []models.ValidationTask{{
		TaskID: "sanity-" + skill.SkillID,
		Text:   fmt.Sprintf("Complete the following: %s", description),
	}}
}
