package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"shogo-ma/deck-mcp-go/protocol"
)

// Router translates decoded requests into registry calls and shapes the
// replies. It keeps no state between requests.
type Router struct {
	registry *Registry
	info     protocol.Implementation
}

func NewRouter(registry *Registry, info protocol.Implementation) *Router {
	return &Router{
		registry: registry,
		info:     info,
	}
}

// Handle returns nil for notifications, which never get a reply.
func (r *Router) Handle(ctx context.Context, request *protocol.JSONRPCRequest) *protocol.JSONRPCResult {
	if request.IsNotification() {
		if !strings.HasPrefix(request.Method, "notifications/") {
			slog.WarnContext(ctx, "ID のないリクエストを無視します", slog.String("method", request.Method))
		}
		return nil
	}

	result, err := r.dispatch(ctx, request)
	if err != nil {
		slog.WarnContext(ctx, "リクエストの処理に失敗しました",
			slog.String("method", request.Method),
			slog.Any("error", err),
		)
		return protocol.NewErrorResult(request.ID, err)
	}

	reply, err := protocol.NewResult(request.ID, result)
	if err != nil {
		return protocol.NewErrorResult(request.ID, &protocol.HandlerError{Capability: request.Method, Err: err})
	}

	return reply
}

func (r *Router) dispatch(ctx context.Context, request *protocol.JSONRPCRequest) (any, error) {
	switch protocol.Method(request.Method) {
	case protocol.MethodInitialize:
		return &protocol.InitializeResult{
			ProtocolVersion: protocol.ProtocolVersion,
			ServerInfo:      r.info,
			Capabilities: map[string]any{
				"tools":     map[string]any{},
				"prompts":   map[string]any{},
				"resources": map[string]any{},
			},
		}, nil

	case protocol.MethodPing:
		return map[string]any{}, nil

	case protocol.MethodToolsList:
		return &protocol.ListToolsResult{Tools: r.registry.ListTools()}, nil

	case protocol.MethodToolCall:
		var params protocol.CallToolParams
		if err := decodeParams(request, &params); err != nil {
			return nil, err
		}
		slog.InfoContext(ctx, "ツールを実行します", slog.String("name", params.Name))
		return r.registry.CallTool(ctx, params.Name, params.Arguments)

	case protocol.MethodPromptsList:
		return &protocol.ListPromptsResult{Prompts: r.registry.ListPrompts()}, nil

	case protocol.MethodPromptGet:
		var params protocol.GetPromptParams
		if err := decodeParams(request, &params); err != nil {
			return nil, err
		}
		return r.registry.GetPrompt(ctx, params.Name, params.Arguments)

	case protocol.MethodResourcesList:
		return &protocol.ListResourcesResult{Resources: r.registry.ListResources()}, nil

	case protocol.MethodResourceTemplatesList:
		return &protocol.ListResourceTemplatesResult{ResourceTemplates: r.registry.ListResourceTemplates()}, nil

	case protocol.MethodResourceRead:
		var params protocol.ReadResourceParams
		if err := decodeParams(request, &params); err != nil {
			return nil, err
		}
		if params.URI == "" {
			return nil, &protocol.ProtocolError{
				Code:   protocol.CodeInvalidParams,
				Method: request.Method,
				Reason: "uri が指定されていません",
			}
		}
		return r.registry.ReadResource(ctx, params.URI)

	default:
		return nil, &protocol.ProtocolError{
			Code:   protocol.CodeMethodNotFound,
			Method: request.Method,
			Reason: "未知のメソッドです",
		}
	}
}

func decodeParams(request *protocol.JSONRPCRequest, v any) error {
	if len(request.Params) == 0 {
		return &protocol.ProtocolError{
			Code:   protocol.CodeInvalidParams,
			Method: request.Method,
			Reason: "params が指定されていません",
		}
	}

	if err := json.Unmarshal(request.Params, v); err != nil {
		return &protocol.ProtocolError{
			Code:   protocol.CodeInvalidParams,
			Method: request.Method,
			Reason: fmt.Sprintf("params を解析できません: %v", err),
		}
	}

	return nil
}
