package agent

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/atelier-ai/atelier/pkg/llm"
	"github.com/atelier-ai/atelier/pkg/sandbox"
)

// Tool names. The write-side tools are auto-approved in build mode and
// rejected in plan mode; ask_user always surfaces to the client.
const (
	ToolExecute   = "execute"
	ToolWriteFile = "write_file"
	ToolEditFile  = "edit_file"
	ToolReadFile  = "read_file"
	ToolAskUser   = "ask_user"
)

// AutoApproveTools is the build-mode whitelist: interrupts for these tools are
// resolved with an approve decision without surfacing to the client.
var AutoApproveTools = map[string]bool{
	ToolExecute:   true,
	ToolWriteFile: true,
	ToolEditFile:  true,
}

// writeTools are forbidden in plan mode.
var writeTools = map[string]bool{
	ToolExecute:   true,
	ToolWriteFile: true,
	ToolEditFile:  true,
}

func toolDefinitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{
			Name:        ToolExecute,
			Description: "Run a shell command in the workspace sandbox. Returns combined output and exit code.",
			Properties: map[string]any{
				"command": map[string]any{"type": "string", "description": "Shell command to run"},
			},
			Required: []string{"command"},
		},
		{
			Name:        ToolWriteFile,
			Description: "Create or overwrite a file in the workspace.",
			Properties: map[string]any{
				"path":    map[string]any{"type": "string", "description": "Path relative to /workspace"},
				"content": map[string]any{"type": "string", "description": "Full file content"},
			},
			Required: []string{"path", "content"},
		},
		{
			Name:        ToolEditFile,
			Description: "Replace an exact string in an existing file.",
			Properties: map[string]any{
				"path":       map[string]any{"type": "string"},
				"old_string": map[string]any{"type": "string"},
				"new_string": map[string]any{"type": "string"},
			},
			Required: []string{"path", "old_string", "new_string"},
		},
		{
			Name:        ToolReadFile,
			Description: "Read a file from the workspace.",
			Properties: map[string]any{
				"path": map[string]any{"type": "string"},
			},
			Required: []string{"path"},
		},
		{
			Name:        ToolAskUser,
			Description: "Ask the user one or more questions and wait for their answers.",
			Properties: map[string]any{
				"questions": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string"},
				},
			},
			Required: []string{"questions"},
		},
	}
}

// executeTool runs an approved tool call against the sandbox and returns the
// result content for the model. err is reserved for sandbox-level failures;
// tool-level failures come back as (content, isError=true).
func executeTool(ctx context.Context, inst sandbox.Instance, name string, args map[string]any) (string, bool, error) {
	switch name {
	case ToolExecute:
		cmd, _ := args["command"].(string)
		if cmd == "" {
			return "execute requires a 'command' argument", true, nil
		}
		res, err := inst.Execute(ctx, cmd)
		if err != nil {
			return "", false, err
		}
		if res.ExitCode != 0 {
			return fmt.Sprintf("%s\n(exit code %d)", res.Stdout, res.ExitCode), true, nil
		}
		return res.Stdout, false, nil

	case ToolWriteFile:
		p, _ := args["path"].(string)
		content, _ := args["content"].(string)
		if p == "" {
			return "write_file requires a 'path' argument", true, nil
		}
		if err := inst.WriteFile(ctx, workspacePath(p), []byte(content)); err != nil {
			return "", false, err
		}
		return fmt.Sprintf("Wrote %d bytes to %s", len(content), p), false, nil

	case ToolEditFile:
		p, _ := args["path"].(string)
		oldStr, _ := args["old_string"].(string)
		newStr, _ := args["new_string"].(string)
		if p == "" || oldStr == "" {
			return "edit_file requires 'path' and 'old_string' arguments", true, nil
		}
		data, err := inst.ReadFile(ctx, workspacePath(p))
		if err != nil {
			return fmt.Sprintf("Cannot read %s: %v", p, err), true, nil
		}
		text := string(data)
		if !strings.Contains(text, oldStr) {
			return fmt.Sprintf("old_string not found in %s", p), true, nil
		}
		text = strings.Replace(text, oldStr, newStr, 1)
		if err := inst.WriteFile(ctx, workspacePath(p), []byte(text)); err != nil {
			return "", false, err
		}
		return fmt.Sprintf("Edited %s", p), false, nil

	case ToolReadFile:
		p, _ := args["path"].(string)
		if p == "" {
			return "read_file requires a 'path' argument", true, nil
		}
		data, err := inst.ReadFile(ctx, workspacePath(p))
		if err != nil {
			return fmt.Sprintf("Cannot read %s: %v", p, err), true, nil
		}
		return string(data), false, nil

	default:
		return fmt.Sprintf("unknown tool %q", name), true, nil
	}
}

func workspacePath(p string) string {
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	return path.Join("/workspace", p)
}
