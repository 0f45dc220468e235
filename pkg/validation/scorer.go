// Package validation runs the two-layer skill gating pipeline: blind online
// and offline tests, scoring, and regression over already-approved skills.
package validation

import "github.com/atelier-ai/atelier/pkg/models"

// Scoring constants for the layer-1 gate.
const (
	// PassThreshold is the minimum overall score for a layer-1 pass.
	PassThreshold = 70.0

	// MinTaskScore is the minimum raw score every individual task evaluation
	// must reach, regardless of the overall score.
	MinTaskScore = 3.0
)

// Overall score weights.
const (
	weightCompletion = 0.50
	weightTrigger    = 0.35
	weightOffline    = 0.15
)

// CompletionScore maps the 1-5 raw scores onto [0,100] and averages them.
func CompletionScore(evals []models.TaskEvaluation) float64 {
	if len(evals) == 0 {
		return 0
	}
	var sum float64
	for _, e := range evals {
		sum += (e.RawScore - 1) * 25
	}
	return sum / float64(len(evals))
}

// TriggerScore is the fraction of evaluations where the skill under test was
// actually used, scaled to [0,100].
func TriggerScore(evals []models.TaskEvaluation) float64 {
	if len(evals) == 0 {
		return 0
	}
	var correct int
	for _, e := range evals {
		if e.CorrectSkillUsed {
			correct++
		}
	}
	return float64(correct) / float64(len(evals)) * 100
}

// OfflineScore grades the network-blocked replay by the number of attempted
// outbound calls: zero is clean, one or two are tolerated, three or more fail.
func OfflineScore(blockedCalls int) float64 {
	switch {
	case blockedCalls == 0:
		return 100
	case blockedCalls <= 2:
		return 70
	default:
		return 0
	}
}

// Score combines the three dimensions into the layer-1 verdict. The gate
// passes only when the weighted overall reaches the threshold AND no single
// task scored below MinTaskScore.
func Score(evals []models.TaskEvaluation, blockedCalls int) models.ScoreBreakdown {
	breakdown := models.ScoreBreakdown{
		CompletionScore: CompletionScore(evals),
		TriggerScore:    TriggerScore(evals),
		OfflineScore:    OfflineScore(blockedCalls),
	}
	breakdown.Overall = weightCompletion*breakdown.CompletionScore +
		weightTrigger*breakdown.TriggerScore +
		weightOffline*breakdown.OfflineScore

	breakdown.Passed = breakdown.Overall >= PassThreshold && len(evals) > 0
	for _, e := range evals {
		if e.RawScore < MinTaskScore {
			breakdown.Passed = false
			break
		}
	}
	return breakdown
}
