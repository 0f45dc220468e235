package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const maxTokens = 8192

// AnthropicClient implements Client against the Anthropic Messages API.
type AnthropicClient struct {
	client     anthropic.Client
	bigModel   string
	flashModel string
}

// NewAnthropicClient creates a client for the two configured model variants.
func NewAnthropicClient(apiKey, bigModel, flashModel string) *AnthropicClient {
	return &AnthropicClient{
		client:     anthropic.NewClient(option.WithAPIKey(apiKey)),
		bigModel:   bigModel,
		flashModel: flashModel,
	}
}

func (c *AnthropicClient) modelID(m Model) anthropic.Model {
	if m == ModelFlash {
		return anthropic.Model(c.flashModel)
	}
	return anthropic.Model(c.bigModel)
}

// Stream drives one streaming conversation. Text deltas are forwarded as they
// arrive; tool calls are emitted once fully accumulated; the channel closes
// after a terminal DoneUnit or ErrorUnit.
func (c *AnthropicClient) Stream(ctx context.Context, req Request) (<-chan Unit, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}

	out := make(chan Unit, 64)
	go func() {
		defer close(out)

		stream := c.client.Messages.NewStreaming(ctx, params)
		var acc anthropic.Message
		for stream.Next() {
			event := stream.Current()
			if err := acc.Accumulate(event); err != nil {
				slog.Warn("Failed to accumulate stream event", "error", err)
			}
			switch ev := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
					out <- &TextUnit{Content: delta.Text}
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- &ErrorUnit{Message: err.Error()}
			return
		}

		for _, block := range acc.Content {
			if tu, ok := block.AsAny().(anthropic.ToolUseBlock); ok {
				args := map[string]any{}
				if len(tu.Input) > 0 {
					if err := json.Unmarshal(tu.Input, &args); err != nil {
						out <- &ErrorUnit{Message: fmt.Sprintf("malformed tool arguments for %s: %v", tu.Name, err)}
						return
					}
				}
				out <- &ToolCallUnit{Call: ToolCall{ID: tu.ID, Name: tu.Name, Args: args}}
			}
		}
		out <- &DoneUnit{StopReason: string(acc.StopReason)}
	}()
	return out, nil
}

// Complete runs a single-shot prompt and returns the concatenated text reply.
func (c *AnthropicClient) Complete(ctx context.Context, model Model, prompt string) (string, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.modelID(model),
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("completion failed: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += tb.Text
		}
	}
	return text, nil
}

func (c *AnthropicClient) buildParams(req Request) (anthropic.MessageNewParams, error) {
	params := anthropic.MessageNewParams{
		Model:     c.modelID(req.Model),
		MaxTokens: maxTokens,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case "user":
			params.Messages = append(params.Messages,
				anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case "assistant":
			blocks := []anthropic.ContentBlockParamUnion{}
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, call.Args, call.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(blocks...))
		case "tool":
			params.Messages = append(params.Messages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, msg.IsError)))
		default:
			return params, fmt.Errorf("unsupported message role %q", msg.Role)
		}
	}

	for _, tool := range req.Tools {
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: tool.Properties,
					Required:   tool.Required,
				},
			},
		})
	}
	return params, nil
}
