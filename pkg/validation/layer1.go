package validation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/atelier-ai/atelier/pkg/llm"
	"github.com/atelier-ai/atelier/pkg/models"
	"github.com/atelier-ai/atelier/pkg/sandbox"
)

// blindTaskCount is the number of blind tasks synthesized for a layer-1 run.
const blindTaskCount = 3

// SandboxProvider is the slice of the sandbox manager the pipeline needs.
type SandboxProvider interface {
	GetValidationSandbox(ctx context.Context, skillID string) (sandbox.Instance, error)
	GetOfflineSandbox(ctx context.Context, skillID string) (sandbox.Instance, error)
	Destroy(ctx context.Context, ownerKey string) bool
}

// OnlineResult is the outcome of the layer-1 online phase.
type OnlineResult struct {
	Evaluations  []models.TaskEvaluation
	Tasks        []models.ValidationTask
	Dependencies *models.DependencyManifest
	RawOutput    string
}

// Layer1Runner executes the layer-1 blind tests: three synthesized tasks run
// online in a networked sandbox, then replayed in a network-blocked one.
type Layer1Runner struct {
	drv       *driver
	sandboxes SandboxProvider
}

// NewLayer1Runner creates a Layer1Runner.
func NewLayer1Runner(client llm.Client, sandboxes SandboxProvider) *Layer1Runner {
	return &Layer1Runner{drv: &driver{llm: client}, sandboxes: sandboxes}
}

// GenerateTasks synthesizes n blind tasks for the skill. The tasks never name
// the skill, so a passing run proves the agent picks it up from the catalog.
func (r *Layer1Runner) GenerateTasks(ctx context.Context, skill *models.Skill, n int) ([]models.ValidationTask, error) {
	return r.drv.generateTasks(ctx, skill, n, uuid.NewString)
}

// RunOnline synthesizes the blind tasks, drives each serially in the skill's
// validation sandbox, and grades the transcripts. The commands the sub-agent
// ran become the dependency manifest.
func (r *Layer1Runner) RunOnline(ctx context.Context, skill *models.Skill) (*OnlineResult, error) {
	tasks, err := r.GenerateTasks(ctx, skill, blindTaskCount)
	if err != nil {
		return nil, err
	}

	inst, err := r.sandboxes.GetValidationSandbox(ctx, skill.SkillID)
	if err != nil {
		return nil, err
	}

	log := &commandLog{}
	result := &OnlineResult{Tasks: tasks}
	var raw strings.Builder

	for _, task := range tasks {
		transcript, err := r.drv.runTask(ctx, inst, task.Text, log)
		raw.WriteString(transcript)
		raw.WriteString("\n---\n")
		if err != nil {
			return nil, fmt.Errorf("online task %s: %w", task.TaskID, err)
		}

		eval, err := r.drv.evaluate(ctx, skill.Name, task, transcript)
		if err != nil {
			return nil, err
		}
		result.Evaluations = append(result.Evaluations, eval)
		slog.Info("Online blind task evaluated",
			"skill_id", skill.SkillID, "task_id", task.TaskID,
			"raw_score", eval.RawScore, "correct_skill_used", eval.CorrectSkillUsed)
	}

	result.Dependencies = ExtractDependencies(log.commands())
	result.RawOutput = raw.String()
	return result, nil
}

// RunOffline replays the tasks in a sandbox created with all network blocked
// and returns the number of attempted outbound calls.
func (r *Layer1Runner) RunOffline(ctx context.Context, skill *models.Skill, tasks []models.ValidationTask) (int, error) {
	inst, err := r.sandboxes.GetOfflineSandbox(ctx, skill.SkillID)
	if err != nil {
		return 0, err
	}

	log := &commandLog{}
	for _, task := range tasks {
		if _, err := r.drv.runTask(ctx, inst, task.Text, log); err != nil {
			return 0, fmt.Errorf("offline task %s: %w", task.TaskID, err)
		}
	}

	blocked := CountNetworkCommands(log.commands())
	slog.Info("Offline replay finished", "skill_id", skill.SkillID, "blocked_calls", blocked)
	return blocked, nil
}

// RunSanity runs a task list in a fresh sandbox and scores each task
// individually. Used by full tests and the layer-2 regression.
func (r *Layer1Runner) RunSanity(ctx context.Context, skill *models.Skill, tasks []models.ValidationTask) ([]models.FullTestTaskResult, error) {
	sandboxID := "sanity-" + skill.SkillID
	inst, err := r.sandboxes.GetValidationSandbox(ctx, sandboxID)
	if err != nil {
		return nil, err
	}
	defer r.sandboxes.Destroy(ctx, sandbox.ValidationKey(sandboxID))

	results := make([]models.FullTestTaskResult, 0, len(tasks))
	for _, task := range tasks {
		transcript, err := r.drv.runTask(ctx, inst, task.Text, nil)
		if err != nil {
			return nil, fmt.Errorf("sanity task %s: %w", task.TaskID, err)
		}
		eval, err := r.drv.evaluate(ctx, skill.Name, task, transcript)
		if err != nil {
			return nil, err
		}
		results = append(results, models.FullTestTaskResult{
			TaskID: task.TaskID,
			Text:   task.Text,
			IsNew:  task.IsNew,
			Score:  eval.RawScore,
			Passed: eval.RawScore >= MinTaskScore,
		})
	}
	return results, nil
}
