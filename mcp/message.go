package mcp

import (
	"strings"

	"shogo-ma/deck-mcp-go/protocol"
)

type Role = protocol.Role

const (
	RoleUser      = protocol.RoleUser
	RoleAssistant = protocol.RoleAssistant
)

type ContentType string

const (
	ContentTypeText       ContentType = "text"
	ContentTypeToolUse    ContentType = "tool_use"
	ContentTypeToolResult ContentType = "tool_result"
)

// ContentBlock is one block of a model response or of a history message.
// ID is the tool use id for both tool_use and tool_result blocks.
type ContentBlock struct {
	Type    ContentType
	Text    string
	ID      string
	Name    string
	Input   map[string]any
	Content []protocol.Content
	IsError bool
}

type Message struct {
	Role    Role
	Content []ContentBlock
}

func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: ContentTypeText, Text: text}
}

func ToolResultBlock(toolUseID string, content []protocol.Content, isError bool) ContentBlock {
	return ContentBlock{
		Type:    ContentTypeToolResult,
		ID:      toolUseID,
		Content: content,
		IsError: isError,
	}
}

func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Content: []ContentBlock{TextBlock(text)}}
}

// Text flattens the message into display text.
func (m Message) Text() string {
	parts := []string{}
	for _, block := range m.Content {
		switch block.Type {
		case ContentTypeText:
			parts = append(parts, block.Text)
		case ContentTypeToolResult:
			for _, content := range block.Content {
				parts = append(parts, content.Text)
			}
		}
	}

	return strings.Join(parts, "\n")
}
