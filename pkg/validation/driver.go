package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/atelier-ai/atelier/pkg/llm"
	"github.com/atelier-ai/atelier/pkg/models"
	"github.com/atelier-ai/atelier/pkg/sandbox"
)

// maxTaskIterations bounds the sub-agent loop for one blind-test task.
const maxTaskIterations = 8

const taskSystemPrompt = `You are an autonomous coding agent working inside a Linux sandbox.
Skill packages are installed read-only under /skills; your working directory is /workspace.
Use the execute tool to run shell commands. Complete the task, then reply with a short
summary of what you did and the result.`

// commandLog records every command a sub-agent executed. It stands in for the
// sandbox shell history when deriving the dependency manifest.
type commandLog struct {
	mu   sync.Mutex
	cmds []string
}

func (l *commandLog) record(cmd string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cmds = append(l.cmds, cmd)
}

func (l *commandLog) commands() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.cmds...)
}

// driver runs blind-test tasks as bounded sub-agent loops and asks the model
// to grade the transcripts.
type driver struct {
	llm llm.Client
}

func executeToolDefinition() []llm.ToolDefinition {
	return []llm.ToolDefinition{{
		Name:        "execute",
		Description: "Run a shell command in the sandbox and return its output.",
		Properties: map[string]any{
			"command": map[string]any{"type": "string", "description": "Shell command to run"},
		},
		Required: []string{"command"},
	}}
}

// runTask drives one task to completion inside the given sandbox and returns
// the transcript: the task, every command with its output, and the agent's
// final summary.
func (d *driver) runTask(ctx context.Context, inst sandbox.Instance, task string, log *commandLog) (string, error) {
	messages := []llm.Message{{Role: "user", Content: task}}
	var transcript strings.Builder
	fmt.Fprintf(&transcript, "Task: %s\n", task)

	for i := 0; i < maxTaskIterations; i++ {
		units, err := d.llm.Stream(ctx, llm.Request{
			Model:    llm.ModelBig,
			System:   taskSystemPrompt,
			Messages: messages,
			Tools:    executeToolDefinition(),
		})
		if err != nil {
			return transcript.String(), fmt.Errorf("failed to start task stream: %w", err)
		}

		var text strings.Builder
		var calls []llm.ToolCall
		for unit := range units {
			switch u := unit.(type) {
			case *llm.TextUnit:
				text.WriteString(u.Content)
			case *llm.ToolCallUnit:
				calls = append(calls, u.Call)
			case *llm.ErrorUnit:
				return transcript.String(), fmt.Errorf("model error during task: %s", u.Message)
			}
		}

		messages = append(messages, llm.Message{
			Role: "assistant", Content: text.String(), ToolCalls: calls,
		})
		if text.Len() > 0 {
			fmt.Fprintf(&transcript, "Agent: %s\n", text.String())
		}
		if len(calls) == 0 {
			return transcript.String(), nil
		}

		for _, call := range calls {
			cmd, _ := call.Args["command"].(string)
			if log != nil {
				log.record(cmd)
			}
			result, err := inst.Execute(ctx, cmd)
			content := result.Stdout
			isError := false
			if err != nil {
				content = err.Error()
				isError = true
			} else if result.ExitCode != 0 {
				content = fmt.Sprintf("%s\n(exit code %d)", result.Stdout, result.ExitCode)
				isError = true
			}
			fmt.Fprintf(&transcript, "$ %s\n%s\n", cmd, content)
			messages = append(messages, llm.Message{
				Role: "tool", Content: content, ToolCallID: call.ID, IsError: isError,
			})
		}
	}
	return transcript.String(), nil
}

const evaluationPromptTemplate = `You are grading an autonomous agent's attempt at a task.
The agent had a skill package named %q available under /skills.

Task: %s

Transcript:
%s

Reply with ONLY a JSON object, no markdown:
{"raw_score": <1-5, how well the task was completed>,
 "correct_skill_used": <true if the agent actually used the %q skill>,
 "feedback": "<one sentence>"}`

// evaluate asks the flash model to grade one task transcript on the 1-5 scale.
func (d *driver) evaluate(ctx context.Context, skillName string, task models.ValidationTask, transcript string) (models.TaskEvaluation, error) {
	eval := models.TaskEvaluation{TaskID: task.TaskID, Task: task.Text}

	prompt := fmt.Sprintf(evaluationPromptTemplate, skillName, task.Text, transcript, skillName)
	reply, err := d.llm.Complete(ctx, llm.ModelFlash, prompt)
	if err != nil {
		return eval, fmt.Errorf("failed to evaluate task %s: %w", task.TaskID, err)
	}

	var parsed struct {
		RawScore         float64 `json:"raw_score"`
		CorrectSkillUsed bool    `json:"correct_skill_used"`
		Feedback         string  `json:"feedback"`
	}
	if err := json.Unmarshal([]byte(stripFences(reply)), &parsed); err != nil {
		return eval, fmt.Errorf("failed to parse evaluation for task %s: %w", task.TaskID, err)
	}

	eval.RawScore = clampScore(parsed.RawScore)
	eval.CorrectSkillUsed = parsed.CorrectSkillUsed
	eval.Feedback = parsed.Feedback
	return eval, nil
}

const taskGenPromptTemplate = `Read this skill description and write exactly %d realistic test tasks
a user might ask an agent to do, each solvable with the skill. The tasks MUST NOT mention the
skill name %q or that a skill exists.

Skill description:
%s

Reply with ONLY a JSON array of strings, no markdown.`

// generateTasks asks the model for n blind-test tasks for the skill.
func (d *driver) generateTasks(ctx context.Context, skill *models.Skill, n int, newID func() string) ([]models.ValidationTask, error) {
	description := skill.Name
	if skill.Description != nil && *skill.Description != "" {
		description = *skill.Description
	}

	prompt := fmt.Sprintf(taskGenPromptTemplate, n, skill.Name, description)
	reply, err := d.llm.Complete(ctx, llm.ModelBig, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to generate tasks: %w", err)
	}

	var texts []string
	if err := json.Unmarshal([]byte(stripFences(reply)), &texts); err != nil {
		return nil, fmt.Errorf("failed to parse generated tasks: %w", err)
	}
	if len(texts) > n {
		texts = texts[:n]
	}
	if len(texts) == 0 {
		return nil, fmt.Errorf("model returned no tasks")
	}

	tasks := make([]models.ValidationTask, 0, len(texts))
	for _, text := range texts {
		tasks = append(tasks, models.ValidationTask{TaskID: newID(), Text: text})
	}
	return tasks, nil
}

// stripFences removes a markdown code fence if the model wrapped its JSON in one.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func clampScore(score float64) float64 {
	if score < 1 {
		return 1
	}
	if score > 5 {
		return 5
	}
	return score
}
