package validation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/atelier-ai/atelier/pkg/llm"
	"github.com/atelier-ai/atelier/pkg/models"
)

const reportPlaceholder = `# Validation Report

No validation report is available for this skill yet. Run validation first.
`

const reportPromptTemplate = `Render a concise markdown validation report for the skill %q
from the following JSON data. Include the score breakdown, a one-line verdict, the per-task
evaluations, and the regression results if present. Do not invent data.

%s`

// ReportGenerator renders a human-readable markdown report from the stored
// validation data.
type ReportGenerator struct {
	llm llm.Client
}

// NewReportGenerator creates a ReportGenerator.
func NewReportGenerator(client llm.Client) *ReportGenerator {
	return &ReportGenerator{llm: client}
}

// Generate returns the markdown report for a skill. A skill that has not been
// validated yet gets a static placeholder.
func (g *ReportGenerator) Generate(ctx context.Context, skill *models.Skill) (string, error) {
	if skill.Layer1Report.Val == nil && skill.ScoreBreakdown.Val == nil {
		return reportPlaceholder, nil
	}

	data, err := json.Marshal(map[string]any{
		"skill_name":       skill.Name,
		"status":           skill.Status,
		"validation_stage": skill.ValidationStage,
		"score_breakdown":  skill.ScoreBreakdown.Val,
		"layer1_report":    skill.Layer1Report.Val,
		"layer2_report":    skill.Layer2Report.Val,
		"dependencies":     skill.InstalledDependencies.Val,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal report data: %w", err)
	}

	report, err := g.llm.Complete(ctx, llm.ModelFlash, fmt.Sprintf(reportPromptTemplate, skill.Name, data))
	if err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}
	return report, nil
}
