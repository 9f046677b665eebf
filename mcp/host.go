package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"

	"shogo-ma/deck-mcp-go/protocol"
)

// Invoker is the server-facing side the host needs. *Client implements it.
type Invoker interface {
	ListTools(ctx context.Context) ([]protocol.Tool, error)
	CallTool(ctx context.Context, name string, arguments map[string]any) (*protocol.CallToolResult, error)
	ListPrompts(ctx context.Context) ([]protocol.Prompt, error)
	GetPrompt(ctx context.Context, name string, arguments map[string]string) (*protocol.GetPromptResult, error)
	ListResources(ctx context.Context) ([]protocol.Resource, error)
	ListResourceTemplates(ctx context.Context) ([]protocol.ResourceTemplate, error)
	ReadResource(ctx context.Context, uri string) (*protocol.ReadResourceResult, error)
}

var _ Invoker = (*Client)(nil)

type Host struct {
	Model  ModelService
	Client Invoker

	// TurnContext derives the cancellation scope of one interactive command.
	TurnContext func(ctx context.Context) (context.Context, context.CancelFunc)

	tools []protocol.Tool

	// held for the whole turn; guards messages
	turnMu   sync.Mutex
	messages []Message
}

func NewHost(model ModelService, client Invoker) *Host {
	return &Host{
		Model:       model,
		Client:      client,
		TurnContext: context.WithCancel,
	}
}

// LoadTools fetches the tool descriptors sent to the model on every first
// call of a turn.
func (h *Host) LoadTools(ctx context.Context) ([]protocol.Tool, error) {
	tools, err := h.Client.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("ツール一覧の取得に失敗しました: %w", err)
	}

	h.tools = tools

	return tools, nil
}

// History returns a copy of the conversation so far.
func (h *Host) History() []Message {
	h.turnMu.Lock()
	defer h.turnMu.Unlock()

	history := make([]Message, len(h.messages))
	copy(history, h.messages)

	return history
}

// SubmitUserMessage runs one turn and returns the display lines in emission
// order. On failure the lines emitted so far are returned with the error and
// the history keeps every message committed before it.
func (h *Host) SubmitUserMessage(ctx context.Context, text string) ([]string, error) {
	if !h.turnMu.TryLock() {
		return nil, ErrTurnInProgress
	}
	defer h.turnMu.Unlock()

	logger := slog.With(slog.String("turn", ulid.Make().String()))

	h.messages = append(h.messages, NewTextMessage(RoleUser, text))

	response, err := h.query(ctx, h.tools)
	if err != nil {
		return nil, err
	}

	if len(response) == 0 {
		logger.WarnContext(ctx, "LLMの回答がありませんでした")
	}

	outputs := []string{}
	for _, content := range response {
		switch content.Type {
		case ContentTypeText:
			h.messages = append(h.messages, NewTextMessage(RoleAssistant, content.Text))
			outputs = append(outputs, content.Text)

		case ContentTypeToolUse:
			logger.InfoContext(ctx, "ツールを実行します", slog.String("name", content.Name))

			result, err := h.callTool(ctx, content)
			if err != nil {
				return outputs, err
			}

			h.messages = append(h.messages, Message{Role: RoleUser, Content: []ContentBlock{result}})
			outputs = append(outputs, fmt.Sprintf("[Calling tool %s with args %s]", content.Name, formatArguments(content.Input)))

			// ツール結果からさらにツールを呼ぶことはできない
			followUp, err := h.query(ctx, nil)
			if err != nil {
				return outputs, err
			}

			if len(followUp) == 0 || followUp[0].Type != ContentTypeText {
				reason := "空の応答"
				if len(followUp) > 0 {
					reason = fmt.Sprintf("先頭ブロックが %s", followUp[0].Type)
				}
				return outputs, &ModelProtocolError{Reason: "ツール結果への応答がテキストではありません: " + reason}
			}

			h.messages = append(h.messages, NewTextMessage(RoleAssistant, followUp[0].Text))
			outputs = append(outputs, followUp[0].Text)

		default:
			logger.WarnContext(ctx, "未対応のブロックを無視します", slog.String("type", string(content.Type)))
		}
	}

	return outputs, nil
}

func (h *Host) query(ctx context.Context, tools []protocol.Tool) ([]ContentBlock, error) {
	response, err := h.Model.CreateMessage(ctx, h.messages, tools)
	if err == nil {
		return response, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	var protocolErr *ModelProtocolError
	if errors.As(err, &protocolErr) {
		return nil, err
	}

	return nil, &ModelError{Err: err}
}

// callTool answers a tool use block. Request-scoped server errors become an
// error result for the model; channel failures are returned.
func (h *Host) callTool(ctx context.Context, content ContentBlock) (ContentBlock, error) {
	result, err := h.Client.CallTool(ctx, content.Name, content.Input)
	if err != nil {
		if !protocol.IsRecoverable(err) {
			return ContentBlock{}, err
		}

		slog.WarnContext(ctx, "ツールの実行に失敗しました", slog.String("name", content.Name), slog.Any("error", err))
		return ToolResultBlock(content.ID, []protocol.Content{protocol.TextContent(err.Error())}, true), nil
	}

	return ToolResultBlock(content.ID, result.Content, result.IsError), nil
}

func formatArguments(arguments map[string]any) string {
	if arguments == nil {
		arguments = map[string]any{}
	}

	argumentsJSON, err := json.Marshal(arguments)
	if err != nil {
		return fmt.Sprint(arguments)
	}

	return string(argumentsJSON)
}

// Run is the interactive loop. It returns nil on quit or end of input and
// the error that ended the session otherwise.
func (h *Host) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	interpreter := NewCommandInterpreter()
	scanner := bufio.NewScanner(in)

	fmt.Fprintln(out, "\nMCP Client Started!")
	fmt.Fprintln(out, "Type your queries or 'quit' to exit.")

	for {
		fmt.Fprint(out, "\nQuery: ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("標準入力の読み取り中にエラーが発生しました: %w", err)
			}
			return nil
		}

		command := interpreter.Parse(scanner.Text())
		if command.Kind == CommandQuit {
			return nil
		}

		turnCtx, cancel := h.TurnContext(ctx)
		err := h.Execute(turnCtx, command, out)
		interrupted := turnCtx.Err() != nil && ctx.Err() == nil
		cancel()

		switch {
		case err == nil:
		case interrupted && errors.Is(err, context.Canceled):
			fmt.Fprintln(out, "中断しました")
		case IsFatal(err) || ctx.Err() != nil:
			return err
		default:
			fmt.Fprintf(out, "エラー: %v\n", err)
		}
	}
}

// Execute performs one parsed command and writes its output.
func (h *Host) Execute(ctx context.Context, command Command, out io.Writer) error {
	switch command.Kind {
	case CommandEmpty, CommandQuit:
		return nil

	case CommandInvalid:
		fmt.Fprintf(out, "エラー: %v\n", command.Err)
		return nil

	case CommandListResources:
		return h.printResources(ctx, out)

	case CommandListPrompts:
		return h.printPrompts(ctx, out)

	case CommandGetPrompt:
		result, err := h.Client.GetPrompt(ctx, command.Name, command.Args)
		if err != nil {
			return err
		}
		if result.Description != "" {
			fmt.Fprintf(out, "%s\n", result.Description)
		}
		for _, message := range result.Messages {
			fmt.Fprintf(out, "[%s] %s\n", message.Role, message.Content.Text)
		}
		return nil

	case CommandReadResource:
		result, err := h.Client.ReadResource(ctx, command.URI)
		if err != nil {
			return err
		}
		for _, contents := range result.Contents {
			fmt.Fprintf(out, "%s\n%s\n", contents.URI, contents.Text)
		}
		return nil

	case CommandRunPrompt:
		result, err := h.Client.GetPrompt(ctx, command.Name, command.Args)
		if err != nil {
			return err
		}
		texts := []string{}
		for _, message := range result.Messages {
			texts = append(texts, message.Content.Text)
		}
		return h.submit(ctx, strings.Join(texts, "\n"), out)

	default:
		return h.submit(ctx, command.Text, out)
	}
}

func (h *Host) submit(ctx context.Context, text string, out io.Writer) error {
	outputs, err := h.SubmitUserMessage(ctx, text)
	if len(outputs) > 0 {
		fmt.Fprintln(out, "\n"+strings.Join(outputs, "\n"))
	}

	return err
}

func (h *Host) printResources(ctx context.Context, out io.Writer) error {
	templates, err := h.Client.ListResourceTemplates(ctx)
	if err != nil {
		return err
	}

	resources, err := h.Client.ListResources(ctx)
	if err != nil {
		return err
	}

	if len(templates) == 0 && len(resources) == 0 {
		fmt.Fprintln(out, "利用可能なリソースはありません")
		return nil
	}

	for _, template := range templates {
		fmt.Fprintf(out, "- %s (%s): %s\n", template.URITemplate, template.Name, template.Description)
	}
	for _, resource := range resources {
		fmt.Fprintf(out, "- %s (%s): %s\n", resource.URI, resource.Name, resource.Description)
	}

	return nil
}

func (h *Host) printPrompts(ctx context.Context, out io.Writer) error {
	prompts, err := h.Client.ListPrompts(ctx)
	if err != nil {
		return err
	}

	if len(prompts) == 0 {
		fmt.Fprintln(out, "利用可能なプロンプトはありません")
		return nil
	}

	for _, prompt := range prompts {
		fmt.Fprintf(out, "- %s: %s\n", prompt.Name, prompt.Description)
		for _, argument := range prompt.Arguments {
			required := ""
			if argument.Required {
				required = " (必須)"
			}
			fmt.Fprintf(out, "    %s%s: %s\n", argument.Name, required, argument.Description)
		}
	}

	return nil
}
