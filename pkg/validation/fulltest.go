package validation

import (
	"context"
	"log/slog"

	"golang.org/x/sync/semaphore"

	"github.com/atelier-ai/atelier/pkg/models"
	"github.com/atelier-ai/atelier/pkg/services"
)

// Full-test shape: the stored blind tasks from the original validation plus
// freshly generated ones.
const (
	fullTestStoredTasks = 3
	fullTestFreshTasks  = 2
)

// RunFullTest re-checks every approved skill: the tasks stored at validation
// time plus two newly generated ones, run under the same concurrency cap as
// layer-2. Results are persisted per skill; a skill whose run breaks is
// logged and skipped.
func (o *Orchestrator) RunFullTest(ctx context.Context, maxConcurrent int64) (map[string]*models.FullTestResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	approved, err := o.skills.ListApproved(ctx)
	if err != nil {
		return nil, err
	}

	sem := semaphore.NewWeighted(maxConcurrent)
	results := make(map[string]*models.FullTestResult, len(approved))
	done := make(chan struct{})
	resultCh := make(chan fullTestEntry, len(approved))

	go func() {
		for entry := range resultCh {
			results[entry.skillID] = entry.result
		}
		close(done)
	}()

	for i := range approved {
		if err := sem.Acquire(ctx, 1); err != nil {
			close(resultCh)
			<-done
			return results, err
		}
		go func(skill models.Skill) {
			defer sem.Release(1)
			result, err := o.fullTestSkill(ctx, &skill)
			if err != nil {
				slog.Error("Full test failed for skill", "skill_id", skill.SkillID, "error", err)
				return
			}
			resultCh <- fullTestEntry{skillID: skill.SkillID, result: result}
		}(approved[i])
	}

	// Draining the semaphore waits for all runs.
	if err := sem.Acquire(ctx, maxConcurrent); err != nil {
		close(resultCh)
		<-done
		return results, err
	}
	close(resultCh)
	<-done
	return results, nil
}

type fullTestEntry struct {
	skillID string
	result  *models.FullTestResult
}

func (o *Orchestrator) fullTestSkill(ctx context.Context, skill *models.Skill) (*models.FullTestResult, error) {
	stored := skill.ValidationTasks.Val
	if len(stored) > fullTestStoredTasks {
		stored = stored[:fullTestStoredTasks]
	}

	fresh, err := o.layer1.GenerateTasks(ctx, skill, fullTestFreshTasks)
	if err != nil {
		return nil, err
	}
	tasks := services.MergeTasks(stored, fresh)

	taskResults, err := o.layer1.RunSanity(ctx, skill, tasks)
	if err != nil {
		return nil, err
	}

	result := &models.FullTestResult{Tasks: taskResults}
	var ok int
	for _, tr := range taskResults {
		if tr.Passed {
			ok++
		}
	}
	if len(taskResults) > 0 {
		result.PassRate = float64(ok) / float64(len(taskResults))
	}
	result.Passed = len(taskResults) > 0 && result.PassRate >= sanityPassRate

	if err := o.skills.UpdateFullTestResult(ctx, skill.SkillID, result); err != nil {
		return nil, err
	}
	return result, nil
}
