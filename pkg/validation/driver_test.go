package validation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelier-ai/atelier/pkg/models"
)

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences(`{"a":1}`))
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences("```\n{\"a\":1}\n```"))
	assert.Equal(t, `["x"]`, stripFences("  [\"x\"]  "))
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 1.0, clampScore(0))
	assert.Equal(t, 1.0, clampScore(-3))
	assert.Equal(t, 3.5, clampScore(3.5))
	assert.Equal(t, 5.0, clampScore(9))
}

func TestEvaluateParsesFencedReply(t *testing.T) {
	client := &stubClient{completeReply: func(string) (string, error) {
		return "```json\n{\"raw_score\": 4, \"correct_skill_used\": true, \"feedback\": \"good\"}\n```", nil
	}}
	d := &driver{llm: client}

	eval, err := d.evaluate(context.Background(), "pdf-tools",
		models.ValidationTask{TaskID: "t1", Text: "convert a pdf"}, "transcript")
	require.NoError(t, err)
	assert.Equal(t, "t1", eval.TaskID)
	assert.Equal(t, 4.0, eval.RawScore)
	assert.True(t, eval.CorrectSkillUsed)
	assert.Equal(t, "good", eval.Feedback)
}

func TestEvaluateRejectsGarbage(t *testing.T) {
	client := &stubClient{completeReply: func(string) (string, error) {
		return "I think it went well!", nil
	}}
	d := &driver{llm: client}

	_, err := d.evaluate(context.Background(), "pdf-tools",
		models.ValidationTask{TaskID: "t1", Text: "convert a pdf"}, "transcript")
	assert.Error(t, err)
}

func TestGenerateTasksAssignsIDsAndCapsCount(t *testing.T) {
	client := &stubClient{completeReply: func(string) (string, error) {
		return `["task a", "task b", "task c", "task d"]`, nil
	}}
	d := &driver{llm: client}

	n := 0
	newID := func() string { n++; return "id-" + string(rune('0'+n)) }
	tasks, err := d.generateTasks(context.Background(),
		&models.Skill{SkillID: "s1", Name: "pdf-tools"}, 3, newID)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, "task a", tasks[0].Text)
	assert.Equal(t, "id-1", tasks[0].TaskID)
	assert.False(t, tasks[0].IsNew)
}

func TestGenerateTasksEmptyReply(t *testing.T) {
	client := &stubClient{completeReply: func(string) (string, error) {
		return `[]`, nil
	}}
	d := &driver{llm: client}

	_, err := d.generateTasks(context.Background(),
		&models.Skill{SkillID: "s1", Name: "pdf-tools"}, 3, func() string { return "x" })
	assert.Error(t, err)
}
