package server

import (
	"context"
	"errors"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shogo-ma/deck-mcp-go/protocol"
)

func echoTool(name string, required ...string) protocol.Tool {
	return protocol.Tool{
		Name:        name,
		Description: "echo",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"deck_id": {Type: "string"},
				"cards":   {Type: "string"},
				"count":   {Type: "integer"},
			},
			Required: required,
		},
	}
}

func TestRegistryCallTool(t *testing.T) {
	registry := NewRegistry()

	calls := 0
	err := registry.RegisterTool(echoTool("adicionar_pilha", "deck_id", "cards"),
		func(ctx context.Context, args map[string]any) (*protocol.CallToolResult, error) {
			calls++
			return &protocol.CallToolResult{Content: []protocol.Content{protocol.TextContent(args["cards"].(string))}}, nil
		})
	require.NoError(t, err)

	t.Run("ok", func(t *testing.T) {
		result, err := registry.CallTool(context.Background(), "adicionar_pilha", map[string]any{"deck_id": "d1", "cards": "AS,2S"})
		require.NoError(t, err)
		require.Len(t, result.Content, 1)
		assert.Equal(t, "AS,2S", result.Content[0].Text)
	})

	t.Run("missing required argument", func(t *testing.T) {
		before := calls

		_, err := registry.CallTool(context.Background(), "adicionar_pilha", map[string]any{"deck_id": "d1"})

		var validationErr *protocol.ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, "adicionar_pilha", validationErr.Capability)
		assert.Equal(t, "cards", validationErr.Argument)
		assert.Equal(t, before, calls)
	})

	t.Run("blank required argument", func(t *testing.T) {
		_, err := registry.CallTool(context.Background(), "adicionar_pilha", map[string]any{"deck_id": "  ", "cards": "AS"})

		var validationErr *protocol.ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, "deck_id", validationErr.Argument)
	})

	t.Run("wrong type", func(t *testing.T) {
		before := calls

		_, err := registry.CallTool(context.Background(), "adicionar_pilha", map[string]any{"deck_id": "d1", "cards": "AS", "count": "three"})

		var validationErr *protocol.ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, "count", validationErr.Argument)
		assert.NotEmpty(t, validationErr.Reason)
		assert.Equal(t, before, calls)
	})

	t.Run("unknown tool", func(t *testing.T) {
		_, err := registry.CallTool(context.Background(), "nope", nil)

		var unknownErr *protocol.UnknownCapabilityError
		require.ErrorAs(t, err, &unknownErr)
		assert.Equal(t, protocol.KindTool, unknownErr.Kind)
	})
}

func TestRegistryHandlerFailures(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.RegisterTool(echoTool("fails"),
		func(ctx context.Context, args map[string]any) (*protocol.CallToolResult, error) {
			return nil, errors.New("upstream down")
		}))
	require.NoError(t, registry.RegisterTool(echoTool("panics"),
		func(ctx context.Context, args map[string]any) (*protocol.CallToolResult, error) {
			panic("boom")
		}))
	require.NoError(t, registry.RegisterTool(echoTool("empty"),
		func(ctx context.Context, args map[string]any) (*protocol.CallToolResult, error) {
			return nil, nil
		}))

	_, err := registry.CallTool(context.Background(), "fails", nil)
	var handlerErr *protocol.HandlerError
	require.ErrorAs(t, err, &handlerErr)
	assert.Equal(t, "fails", handlerErr.Capability)
	assert.EqualError(t, handlerErr.Err, "upstream down")

	_, err = registry.CallTool(context.Background(), "panics", nil)
	require.ErrorAs(t, err, &handlerErr)
	assert.Contains(t, handlerErr.Err.Error(), "boom")

	result, err := registry.CallTool(context.Background(), "empty", nil)
	require.NoError(t, err)
	assert.Empty(t, result.Content)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	registry := NewRegistry()
	handler := func(ctx context.Context, args map[string]any) (*protocol.CallToolResult, error) { return nil, nil }

	require.NoError(t, registry.RegisterTool(echoTool("t"), handler))
	assert.Error(t, registry.RegisterTool(echoTool("t"), handler))

	promptHandler := func(ctx context.Context, args map[string]string) (*protocol.GetPromptResult, error) { return nil, nil }
	require.NoError(t, registry.RegisterPrompt(protocol.Prompt{Name: "p"}, promptHandler))
	assert.Error(t, registry.RegisterPrompt(protocol.Prompt{Name: "p"}, promptHandler))

	resourceHandler := func(ctx context.Context, uri string, params map[string]string) (*protocol.ReadResourceResult, error) {
		return nil, nil
	}
	template := protocol.ResourceTemplate{URITemplate: "deck://{deckId}/list", Name: "list"}
	require.NoError(t, registry.RegisterResourceTemplate(template, resourceHandler))
	assert.Error(t, registry.RegisterResourceTemplate(template, resourceHandler))

	assert.Error(t, registry.RegisterResourceTemplate(protocol.ResourceTemplate{URITemplate: "deck://static", Name: "s"}, resourceHandler))
	assert.Error(t, registry.RegisterResourceTemplate(protocol.ResourceTemplate{URITemplate: "deck://{deckId}/find{?q}", Name: "q"}, resourceHandler))
	assert.Error(t, registry.RegisterResourceTemplate(protocol.ResourceTemplate{URITemplate: "deck://{a,b}/list", Name: "ab"}, resourceHandler))
}

func TestRegistryListingIsStable(t *testing.T) {
	registry := NewRegistry()
	handler := func(ctx context.Context, args map[string]any) (*protocol.CallToolResult, error) { return nil, nil }

	for _, name := range []string{"criar_baralho", "comprar_cartas", "embaralhar_baralho"} {
		require.NoError(t, registry.RegisterTool(echoTool(name), handler))
	}

	first := registry.ListTools()
	second := registry.ListTools()
	assert.Equal(t, first, second)

	names := []string{}
	for _, tool := range first {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{"criar_baralho", "comprar_cartas", "embaralhar_baralho"}, names)
}

func TestRegistryGetPrompt(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.RegisterPrompt(protocol.Prompt{
		Name:      "explicar-regras",
		Arguments: []protocol.ArgSpec{{Name: "jogo", Required: true}},
	}, func(ctx context.Context, args map[string]string) (*protocol.GetPromptResult, error) {
		return &protocol.GetPromptResult{
			Messages: []protocol.PromptMessage{{Role: protocol.RoleUser, Content: protocol.TextContent("regras de " + args["jogo"])}},
		}, nil
	}))

	result, err := registry.GetPrompt(context.Background(), "explicar-regras", map[string]string{"jogo": "poker"})
	require.NoError(t, err)
	require.Len(t, result.Messages, 1)
	assert.Equal(t, "regras de poker", result.Messages[0].Content.Text)

	_, err = registry.GetPrompt(context.Background(), "explicar-regras", nil)
	var validationErr *protocol.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "jogo", validationErr.Argument)

	_, err = registry.GetPrompt(context.Background(), "nope", nil)
	var unknownErr *protocol.UnknownCapabilityError
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, protocol.KindPrompt, unknownErr.Kind)
}

func TestRegistryReadResource(t *testing.T) {
	registry := NewRegistry()

	var bound map[string]string
	require.NoError(t, registry.RegisterResourceTemplate(protocol.ResourceTemplate{
		URITemplate: "deck://{deckId}/pile/{pileName}/list",
		Name:        "pilha",
	}, func(ctx context.Context, uri string, params map[string]string) (*protocol.ReadResourceResult, error) {
		bound = params
		return &protocol.ReadResourceResult{Contents: []protocol.ResourceContents{{URI: uri, Text: "{}"}}}, nil
	}))

	require.NoError(t, registry.RegisterResource(protocol.Resource{URI: "deck://about", Name: "about"},
		func(ctx context.Context, uri string, params map[string]string) (*protocol.ReadResourceResult, error) {
			return &protocol.ReadResourceResult{Contents: []protocol.ResourceContents{{URI: uri, Text: "about"}}}, nil
		}))

	tests := []struct {
		name   string
		uri    string
		params map[string]string
	}{
		{"match", "deck://abc123/pile/discard/list", map[string]string{"deckId": "abc123", "pileName": "discard"}},
		{"colon in segment", "deck://abc123/pile/my:pile/list", map[string]string{"deckId": "abc123", "pileName": "my:pile"}},
		{"comma in segment", "deck://abc123/pile/p1,p2/list", map[string]string{"deckId": "abc123", "pileName": "p1,p2"}},
		{"plus in segment", "deck://abc123/pile/jogador+1/list", map[string]string{"deckId": "abc123", "pileName": "jogador+1"}},
		{"percent-encoded segment", "deck://abc123/pile/m%C3%A3o/list", map[string]string{"deckId": "abc123", "pileName": "mão"}},
		{"bad percent encoding", "deck://abc123/pile/m%ZZ/list", nil},
		{"too few segments", "deck://abc123/list", nil},
		{"too many segments", "deck://abc123/pile/discard/extra/list", nil},
		{"empty segment", "deck:///pile/discard/list", nil},
		{"extra segment", "deck://abc/def/pile/discard/list", nil},
		{"wrong suffix", "deck://abc123/pile/discard/lists", nil},
		{"wrong scheme", "card://abc123/pile/discard/list", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bound = nil

			result, err := registry.ReadResource(context.Background(), tt.uri)
			if tt.params == nil {
				var unknownErr *protocol.UnknownResourceError
				require.ErrorAs(t, err, &unknownErr)
				assert.Equal(t, tt.uri, unknownErr.URI)
				assert.Nil(t, bound)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.params, bound)
			require.Len(t, result.Contents, 1)
			assert.Equal(t, tt.uri, result.Contents[0].URI)
		})
	}

	t.Run("static", func(t *testing.T) {
		result, err := registry.ReadResource(context.Background(), "deck://about")
		require.NoError(t, err)
		assert.Equal(t, "about", result.Contents[0].Text)
	})
}
