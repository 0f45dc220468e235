package models

import "time"

// Skill status values.
const (
	SkillStatusPending    = "pending"
	SkillStatusValidating = "validating"
	SkillStatusApproved   = "approved"
	SkillStatusRejected   = "rejected"
)

// Validation stage values. An empty stage means validation has not run.
const (
	StageLayer1    = "layer1"
	StageLayer2    = "layer2"
	StageCompleted = "completed"
	StageFailed    = "failed"
)

// Skill is a third-party extension package moving through the validation gate.
type Skill struct {
	SkillID         string  `db:"skill_id" json:"skill_id"`
	Name            string  `db:"name" json:"name"`
	DisplayName     *string `db:"display_name" json:"display_name,omitempty"`
	Description     *string `db:"description" json:"description,omitempty"`
	Status          string  `db:"status" json:"status"`
	ValidationStage *string `db:"validation_stage" json:"validation_stage"`
	SkillPath       string  `db:"skill_path" json:"skill_path"`

	FormatValid    bool           `db:"format_valid" json:"format_valid"`
	FormatErrors   JSON[[]string] `db:"format_errors" json:"format_errors"`
	FormatWarnings JSON[[]string] `db:"format_warnings" json:"format_warnings"`

	Layer1Report          JSON[*Layer1Report]       `db:"layer1_report" json:"layer1_report,omitempty"`
	Layer2Report          JSON[*Layer2Report]       `db:"layer2_report" json:"layer2_report,omitempty"`
	ScoreBreakdown        JSON[*ScoreBreakdown]     `db:"score_breakdown" json:"score_breakdown,omitempty"`
	OverallScore          *float64                  `db:"overall_score" json:"overall_score,omitempty"`
	InstalledDependencies JSON[*DependencyManifest] `db:"installed_dependencies" json:"installed_dependencies,omitempty"`
	ValidationTasks       JSON[[]ValidationTask]    `db:"validation_tasks" json:"validation_tasks,omitempty"`
	FullTestResults       JSON[*FullTestResult]     `db:"full_test_results" json:"full_test_results,omitempty"`
	LastFullTestAt        *time.Time                `db:"last_full_test_at" json:"last_full_test_at,omitempty"`

	ApprovedBy   *string    `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt   *time.Time `db:"approved_at" json:"approved_at,omitempty"`
	RejectedBy   *string    `db:"rejected_by" json:"rejected_by,omitempty"`
	RejectedAt   *time.Time `db:"rejected_at" json:"rejected_at,omitempty"`
	RejectReason *string    `db:"reject_reason" json:"reject_reason,omitempty"`
	CreatedBy    string     `db:"created_by" json:"created_by"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// Stage returns the validation stage, or "" if unset.
func (s *Skill) Stage() string {
	if s.ValidationStage == nil {
		return ""
	}
	return *s.ValidationStage
}

// Approvable reports whether the skill is eligible for operator approval.
func (s *Skill) Approvable() bool {
	return s.Status == SkillStatusPending && s.Stage() == StageCompleted
}

// ValidationTask is one blind-test task, stored so full tests can replay it.
type ValidationTask struct {
	TaskID string `json:"task_id"`
	Text   string `json:"text"`
	IsNew  bool   `json:"is_new,omitempty"`
}

// TaskEvaluation is the driver LLM's judgement of one blind-test task.
type TaskEvaluation struct {
	TaskID           string  `json:"task_id"`
	Task             string  `json:"task"`
	RawScore         float64 `json:"raw_score"` // 1–5
	CorrectSkillUsed bool    `json:"correct_skill_used"`
	Feedback         string  `json:"feedback,omitempty"`
}

// Layer1Report aggregates the online and offline blind-test results.
type Layer1Report struct {
	TaskEvaluations []TaskEvaluation `json:"task_evaluations"`
	OnlinePassed    bool             `json:"online_passed"`
	OfflineRan      bool             `json:"offline_ran"`
	BlockedCalls    int              `json:"blocked_calls"`
	OfflinePassed   bool             `json:"offline_passed"`
	RawOutput       string           `json:"raw_output,omitempty"`
}

// RegressionResult is one approved skill's sanity-check outcome during layer-2.
type RegressionResult struct {
	SkillID    string  `json:"skill_id"`
	SkillName  string  `json:"skill_name"`
	TasksRun   int     `json:"tasks_run"`
	TasksOK    int     `json:"tasks_ok"`
	PassRate   float64 `json:"pass_rate"`
	Passed     bool    `json:"passed"`
	FailReason string  `json:"fail_reason,omitempty"`
}

// Layer2Report aggregates regression results over all approved skills.
type Layer2Report struct {
	Results []RegressionResult `json:"results"`
	Passed  bool               `json:"passed"`
}

// ScoreBreakdown is the scoring output of a layer-1 run.
type ScoreBreakdown struct {
	CompletionScore float64 `json:"completion_score"`
	TriggerScore    float64 `json:"trigger_score"`
	OfflineScore    float64 `json:"offline_score"`
	Overall         float64 `json:"overall"`
	Passed          bool    `json:"passed"`
}

// DependencyManifest buckets dependencies installed during validation,
// derived from the sandbox shell-history delta.
type DependencyManifest struct {
	Pip        []string `json:"pip,omitempty"`
	Apt        []string `json:"apt,omitempty"`
	Npm        []string `json:"npm,omitempty"`
	Downloaded []string `json:"downloaded,omitempty"`
	Other      []string `json:"other,omitempty"`
}

// Empty reports whether no dependencies were recorded.
func (m *DependencyManifest) Empty() bool {
	return m == nil || (len(m.Pip) == 0 && len(m.Apt) == 0 && len(m.Npm) == 0 &&
		len(m.Downloaded) == 0 && len(m.Other) == 0)
}

// FullTestTaskResult is one task outcome in a full test run.
type FullTestTaskResult struct {
	TaskID string  `json:"task_id"`
	Text   string  `json:"text"`
	IsNew  bool    `json:"is_new,omitempty"`
	Score  float64 `json:"score"`
	Passed bool    `json:"passed"`
}

// FullTestResult is the outcome of a full test over one approved skill.
type FullTestResult struct {
	Tasks    []FullTestTaskResult `json:"tasks"`
	PassRate float64              `json:"pass_rate"`
	Passed   bool                 `json:"passed"`
}

// ImageVersion is one version tag of the shared skills image.
type ImageVersion struct {
	Version              string                    `db:"version" json:"version"`
	SkillID              *string                   `db:"skill_id" json:"skill_id,omitempty"`
	IsCurrent            bool                      `db:"is_current" json:"is_current"`
	DependenciesSnapshot JSON[*DependencyManifest] `db:"dependencies_snapshot" json:"dependencies_snapshot,omitempty"`
	CreatedAt            time.Time                 `db:"created_at" json:"created_at"`
}
