package deck

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"shogo-ma/deck-mcp-go/protocol"
	"shogo-ma/deck-mcp-go/server"
)

const (
	ServerName    = "deck-of-cards"
	ServerVersion = "1.0.0"

	ToolCreateDeck  = "criar_baralho"
	ToolShuffleDeck = "embaralhar_baralho"
	ToolDrawCards   = "comprar_cartas"
	ToolAddToPile   = "adicionar_pilha"
	ToolShufflePile = "embaralhar_pilha"

	PromptExplainRules = "explicar-regras"
	PromptDrawCards    = "comprar-cartas"

	PileListTemplate = "deck://{deckId}/pile/{pileName}/list"
)

func Info() protocol.Implementation {
	return protocol.Implementation{Name: ServerName, Version: ServerVersion}
}

func minimum(v float64) *float64 {
	return &v
}

func stringProperty(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: description}
}

func countProperty(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "integer", Description: description, Minimum: minimum(1)}
}

func Tools() []protocol.Tool {
	return []protocol.Tool{
		{
			Name:        ToolCreateDeck,
			Description: "Cria um novo baralho embaralhado e retorna o deck_id",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"deck_count": countProperty("Quantidade de baralhos a combinar (padrão 1)"),
				},
			},
		},
		{
			Name:        ToolShuffleDeck,
			Description: "Embaralha novamente um baralho existente",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"deck_id": stringProperty("ID do baralho"),
				},
				Required: []string{"deck_id"},
			},
		},
		{
			Name:        ToolDrawCards,
			Description: "Compra cartas de um baralho",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"deck_id": stringProperty("ID do baralho"),
					"count":   countProperty("Quantidade de cartas a comprar (padrão 1)"),
				},
				Required: []string{"deck_id"},
			},
		},
		{
			Name:        ToolAddToPile,
			Description: "Adiciona cartas já compradas a uma pilha nomeada",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"deck_id":   stringProperty("ID do baralho"),
					"pile_name": stringProperty("Nome da pilha"),
					"cards":     stringProperty("Códigos das cartas separados por vírgula, ex.: AS,2S,KH"),
				},
				Required: []string{"deck_id", "pile_name", "cards"},
			},
		},
		{
			Name:        ToolShufflePile,
			Description: "Embaralha as cartas de uma pilha",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"deck_id":   stringProperty("ID do baralho"),
					"pile_name": stringProperty("Nome da pilha"),
				},
				Required: []string{"deck_id", "pile_name"},
			},
		},
	}
}

func Prompts() []protocol.Prompt {
	return []protocol.Prompt{
		{
			Name:        PromptExplainRules,
			Description: "Explica as regras de um jogo de cartas",
			Arguments: []protocol.ArgSpec{
				{Name: "jogo", Description: "Nome do jogo de cartas", Required: true},
			},
		},
		{
			Name:        PromptDrawCards,
			Description: "Pede ao assistente para comprar cartas de um baralho",
			Arguments: []protocol.ArgSpec{
				{Name: "deck_id", Description: "ID do baralho", Required: true},
				{Name: "count", Description: "Quantidade de cartas (padrão 1)"},
			},
		},
	}
}

func PileListResourceTemplate() protocol.ResourceTemplate {
	return protocol.ResourceTemplate{
		URITemplate: PileListTemplate,
		Name:        "pilha",
		Description: "Lista as cartas de uma pilha de um baralho",
		MimeType:    "application/json",
	}
}

// Register wires every deck capability into the registry.
func Register(registry *server.Registry, client *Client) error {
	handlers := map[string]server.ToolHandler{
		ToolCreateDeck: func(ctx context.Context, args map[string]any) (*protocol.CallToolResult, error) {
			deckCount, err := intArgument(args, "deck_count", 1)
			if err != nil {
				return nil, err
			}
			return textResult(client.NewDeck(ctx, deckCount))
		},
		ToolShuffleDeck: func(ctx context.Context, args map[string]any) (*protocol.CallToolResult, error) {
			return textResult(client.Shuffle(ctx, stringArgument(args, "deck_id")))
		},
		ToolDrawCards: func(ctx context.Context, args map[string]any) (*protocol.CallToolResult, error) {
			count, err := intArgument(args, "count", 1)
			if err != nil {
				return nil, err
			}
			return textResult(client.Draw(ctx, stringArgument(args, "deck_id"), count))
		},
		ToolAddToPile: func(ctx context.Context, args map[string]any) (*protocol.CallToolResult, error) {
			return textResult(client.AddToPile(ctx,
				stringArgument(args, "deck_id"),
				stringArgument(args, "pile_name"),
				strings.ReplaceAll(stringArgument(args, "cards"), " ", ""),
			))
		},
		ToolShufflePile: func(ctx context.Context, args map[string]any) (*protocol.CallToolResult, error) {
			return textResult(client.ShufflePile(ctx, stringArgument(args, "deck_id"), stringArgument(args, "pile_name")))
		},
	}

	for _, tool := range Tools() {
		if err := registry.RegisterTool(tool, handlers[tool.Name]); err != nil {
			return err
		}
	}

	prompts := map[string]server.PromptHandler{
		PromptExplainRules: func(ctx context.Context, args map[string]string) (*protocol.GetPromptResult, error) {
			return promptResult(
				"Regras do jogo "+args["jogo"],
				fmt.Sprintf("Explique as regras do jogo de cartas %s de forma clara e resumida. "+
					"Se fizer sentido, sugira como simular uma partida usando as ferramentas de baralho disponíveis.", args["jogo"]),
			), nil
		},
		PromptDrawCards: func(ctx context.Context, args map[string]string) (*protocol.GetPromptResult, error) {
			count := strings.TrimSpace(args["count"])
			if count == "" {
				count = "1"
			}
			return promptResult(
				"Comprar cartas do baralho "+args["deck_id"],
				fmt.Sprintf("Compre %s carta(s) do baralho %s usando a ferramenta %s e descreva as cartas obtidas.",
					count, args["deck_id"], ToolDrawCards),
			), nil
		},
	}

	for _, prompt := range Prompts() {
		if err := registry.RegisterPrompt(prompt, prompts[prompt.Name]); err != nil {
			return err
		}
	}

	template := PileListResourceTemplate()
	return registry.RegisterResourceTemplate(template,
		func(ctx context.Context, uri string, params map[string]string) (*protocol.ReadResourceResult, error) {
			body, err := client.ListPile(ctx, params["deckId"], params["pileName"])
			if err != nil {
				return nil, err
			}
			return &protocol.ReadResourceResult{
				Contents: []protocol.ResourceContents{{URI: uri, MimeType: template.MimeType, Text: body}},
			}, nil
		},
	)
}

func textResult(body string, err error) (*protocol.CallToolResult, error) {
	if err != nil {
		return nil, err
	}

	return &protocol.CallToolResult{Content: []protocol.Content{protocol.TextContent(body)}}, nil
}

func promptResult(description, text string) *protocol.GetPromptResult {
	return &protocol.GetPromptResult{
		Description: description,
		Messages: []protocol.PromptMessage{
			{Role: protocol.RoleUser, Content: protocol.TextContent(text)},
		},
	}
}

func stringArgument(args map[string]any, name string) string {
	switch v := args[name].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// intArgument accepts the float64 produced by encoding/json as well as
// numeric strings sent by less careful callers.
func intArgument(args map[string]any, name string, fallback int) (int, error) {
	switch v := args[name].(type) {
	case nil:
		return fallback, nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%s は整数である必要があります: %v", name, v)
		}
		return int(v), nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("%s は整数である必要があります: %w", name, err)
		}
		return int(n), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("%s は整数である必要があります: %w", name, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%s の型 %T には対応していません", name, v)
	}
}
