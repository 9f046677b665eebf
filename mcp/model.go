package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"shogo-ma/deck-mcp-go/protocol"
)

// ModelService is the language model the host converses with. A nil or
// empty tools list means the model is called without tools.
type ModelService interface {
	CreateMessage(ctx context.Context, messages []Message, tools []protocol.Tool) ([]ContentBlock, error)
}

type AnthropicModel struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

func NewAnthropicModel(apiKey, model string, maxTokens int) *AnthropicModel {
	return &AnthropicModel{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: int64(maxTokens),
	}
}

func (m *AnthropicModel) CreateMessage(ctx context.Context, messages []Message, tools []protocol.Tool) ([]ContentBlock, error) {
	params := anthropic.MessageNewParams{
		MaxTokens: m.maxTokens,
		Messages:  convertToAnthropicMessages(messages),
		Model:     anthropic.Model(m.model),
	}
	if len(tools) > 0 {
		anthropicTools, err := convertToAnthropicTools(tools)
		if err != nil {
			return nil, err
		}
		params.Tools = anthropicTools
	}

	message, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return nil, err
	}

	blocks := []ContentBlock{}
	for _, content := range message.Content {
		switch content.Type {
		case "text":
			blocks = append(blocks, TextBlock(content.Text))
		case "tool_use":
			var input map[string]any
			if len(content.Input) > 0 {
				if err := json.Unmarshal(content.Input, &input); err != nil {
					return nil, &ModelProtocolError{Reason: fmt.Sprintf("ツール %s の引数を解析できません: %v", content.Name, err)}
				}
			}
			blocks = append(blocks, ContentBlock{
				Type:  ContentTypeToolUse,
				ID:    content.ID,
				Name:  content.Name,
				Input: input,
			})
		default:
			blocks = append(blocks, ContentBlock{Type: ContentType(content.Type)})
		}
	}

	return blocks, nil
}

func convertToAnthropicTools(tools []protocol.Tool) ([]anthropic.ToolUnionParam, error) {
	anthropicTools := []anthropic.ToolUnionParam{}
	for _, tool := range tools {
		properties := map[string]any{}
		if tool.InputSchema != nil && len(tool.InputSchema.Properties) > 0 {
			raw, err := json.Marshal(tool.InputSchema.Properties)
			if err != nil {
				return nil, fmt.Errorf("ツール %s のスキーマを変換できません: %w", tool.Name, err)
			}
			if err := json.Unmarshal(raw, &properties); err != nil {
				return nil, fmt.Errorf("ツール %s のスキーマを変換できません: %w", tool.Name, err)
			}
		}

		anthropicTools = append(anthropicTools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: properties,
				},
			},
		})
	}

	return anthropicTools, nil
}

// convertToAnthropicMessages flattens tool results into text blocks. The
// history holds no tool_use blocks for them to pair with.
func convertToAnthropicMessages(messages []Message) []anthropic.MessageParam {
	anthropicMessages := []anthropic.MessageParam{}
	for _, message := range messages {
		blocks := []anthropic.ContentBlockParamUnion{}
		for _, block := range message.Content {
			switch block.Type {
			case ContentTypeText:
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfRequestTextBlock: &anthropic.TextBlockParam{Text: block.Text},
				})
			case ContentTypeToolResult:
				for _, content := range block.Content {
					blocks = append(blocks, anthropic.ContentBlockParamUnion{
						OfRequestTextBlock: &anthropic.TextBlockParam{Text: content.Text},
					})
				}
			}
		}

		if len(blocks) == 0 {
			continue
		}

		anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
			Role:    anthropic.MessageParamRole(message.Role),
			Content: blocks,
		})
	}

	return anthropicMessages
}
