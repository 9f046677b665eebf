package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/xeipuuv/gojsonschema"
	"github.com/yosida95/uritemplate/v3"

	"shogo-ma/deck-mcp-go/protocol"
)

type ToolHandler func(ctx context.Context, args map[string]any) (*protocol.CallToolResult, error)

type PromptHandler func(ctx context.Context, args map[string]string) (*protocol.GetPromptResult, error)

// ResourceHandler receives the requested URI and the placeholder values bound
// by the matching template. Static resources get an empty map.
type ResourceHandler func(ctx context.Context, uri string, params map[string]string) (*protocol.ReadResourceResult, error)

type registeredTool struct {
	tool    protocol.Tool
	schema  *gojsonschema.Schema
	handler ToolHandler
}

type registeredPrompt struct {
	prompt  protocol.Prompt
	handler PromptHandler
}

type registeredResource struct {
	resource protocol.Resource
	handler  ResourceHandler
}

type registeredTemplate struct {
	template protocol.ResourceTemplate
	varnames []string
	pattern  *regexp.Regexp
	handler  ResourceHandler
}

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z0-9_.]+)\}`)

// compileTemplate accepts only simple {name} placeholders, each bound to one
// whole path segment.
func compileTemplate(template string) ([]string, *regexp.Regexp, error) {
	parsed, err := uritemplate.New(template)
	if err != nil {
		return nil, nil, err
	}

	varnames := parsed.Varnames()
	if len(varnames) == 0 {
		return nil, nil, fmt.Errorf("プレースホルダがありません")
	}

	locs := placeholderPattern.FindAllStringSubmatchIndex(template, -1)
	names := make([]string, 0, len(locs))
	var pattern strings.Builder
	pattern.WriteString("^")
	last := 0
	for _, loc := range locs {
		pattern.WriteString(regexp.QuoteMeta(template[last:loc[0]]))
		pattern.WriteString("([^/]+)")
		names = append(names, template[loc[2]:loc[3]])
		last = loc[1]
	}
	pattern.WriteString(regexp.QuoteMeta(template[last:]))
	pattern.WriteString("$")

	if !slices.Equal(names, varnames) {
		return nil, nil, fmt.Errorf("{name} 形式以外のプレースホルダには対応していません")
	}

	return varnames, regexp.MustCompile(pattern.String()), nil
}

// Registry holds every capability the server exposes. Registration happens
// once at startup; afterwards the registry is only read.
type Registry struct {
	mu sync.RWMutex

	tools     []*registeredTool
	toolIndex map[string]*registeredTool

	prompts     []*registeredPrompt
	promptIndex map[string]*registeredPrompt

	resources     []*registeredResource
	resourceIndex map[string]*registeredResource

	templates     []*registeredTemplate
	templateIndex map[string]*registeredTemplate
}

func NewRegistry() *Registry {
	return &Registry{
		toolIndex:     make(map[string]*registeredTool),
		promptIndex:   make(map[string]*registeredPrompt),
		resourceIndex: make(map[string]*registeredResource),
		templateIndex: make(map[string]*registeredTemplate),
	}
}

func (r *Registry) RegisterTool(tool protocol.Tool, handler ToolHandler) error {
	if tool.Name == "" || handler == nil {
		return fmt.Errorf("ツールの名前とハンドラは必須です")
	}

	if tool.InputSchema == nil {
		tool.InputSchema = &jsonschema.Schema{Type: "object"}
	}

	raw, err := json.Marshal(tool.InputSchema)
	if err != nil {
		return fmt.Errorf("ツール %s のスキーマを変換できません: %w", tool.Name, err)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("ツール %s のスキーマが不正です: %w", tool.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.toolIndex[tool.Name]; exists {
		return fmt.Errorf("ツール %s は既に登録されています", tool.Name)
	}

	entry := &registeredTool{tool: tool, schema: schema, handler: handler}
	r.tools = append(r.tools, entry)
	r.toolIndex[tool.Name] = entry

	return nil
}

func (r *Registry) RegisterPrompt(prompt protocol.Prompt, handler PromptHandler) error {
	if prompt.Name == "" || handler == nil {
		return fmt.Errorf("プロンプトの名前とハンドラは必須です")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.promptIndex[prompt.Name]; exists {
		return fmt.Errorf("プロンプト %s は既に登録されています", prompt.Name)
	}

	entry := &registeredPrompt{prompt: prompt, handler: handler}
	r.prompts = append(r.prompts, entry)
	r.promptIndex[prompt.Name] = entry

	return nil
}

func (r *Registry) RegisterResource(resource protocol.Resource, handler ResourceHandler) error {
	if resource.URI == "" || handler == nil {
		return fmt.Errorf("リソースの URI とハンドラは必須です")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.resourceIndex[resource.URI]; exists {
		return fmt.Errorf("リソース %s は既に登録されています", resource.URI)
	}

	entry := &registeredResource{resource: resource, handler: handler}
	r.resources = append(r.resources, entry)
	r.resourceIndex[resource.URI] = entry

	return nil
}

func (r *Registry) RegisterResourceTemplate(template protocol.ResourceTemplate, handler ResourceHandler) error {
	if handler == nil {
		return fmt.Errorf("リソーステンプレート %s のハンドラは必須です", template.URITemplate)
	}

	varnames, pattern, err := compileTemplate(template.URITemplate)
	if err != nil {
		return fmt.Errorf("URI テンプレート %s が不正です: %w", template.URITemplate, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.templateIndex[template.URITemplate]; exists {
		return fmt.Errorf("リソーステンプレート %s は既に登録されています", template.URITemplate)
	}

	entry := &registeredTemplate{template: template, varnames: varnames, pattern: pattern, handler: handler}
	r.templates = append(r.templates, entry)
	r.templateIndex[template.URITemplate] = entry

	return nil
}

func (r *Registry) ListTools() []protocol.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]protocol.Tool, 0, len(r.tools))
	for _, entry := range r.tools {
		tools = append(tools, entry.tool)
	}

	return tools
}

func (r *Registry) ListPrompts() []protocol.Prompt {
	r.mu.RLock()
	defer r.mu.RUnlock()

	prompts := make([]protocol.Prompt, 0, len(r.prompts))
	for _, entry := range r.prompts {
		prompts = append(prompts, entry.prompt)
	}

	return prompts
}

func (r *Registry) ListResources() []protocol.Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	resources := make([]protocol.Resource, 0, len(r.resources))
	for _, entry := range r.resources {
		resources = append(resources, entry.resource)
	}

	return resources
}

func (r *Registry) ListResourceTemplates() []protocol.ResourceTemplate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	templates := make([]protocol.ResourceTemplate, 0, len(r.templates))
	for _, entry := range r.templates {
		templates = append(templates, entry.template)
	}

	return templates
}

func (r *Registry) CallTool(ctx context.Context, name string, args map[string]any) (*protocol.CallToolResult, error) {
	r.mu.RLock()
	entry, ok := r.toolIndex[name]
	r.mu.RUnlock()

	if !ok {
		return nil, &protocol.UnknownCapabilityError{Kind: protocol.KindTool, Name: name}
	}

	if args == nil {
		args = map[string]any{}
	}

	if err := entry.validate(args); err != nil {
		return nil, err
	}

	var result *protocol.CallToolResult
	err := invoke(name, func() error {
		var err error
		result, err = entry.handler(ctx, args)
		return err
	})
	if err != nil {
		return nil, err
	}

	if result == nil {
		result = &protocol.CallToolResult{Content: []protocol.Content{}}
	}

	return result, nil
}

func (r *Registry) GetPrompt(ctx context.Context, name string, args map[string]string) (*protocol.GetPromptResult, error) {
	r.mu.RLock()
	entry, ok := r.promptIndex[name]
	r.mu.RUnlock()

	if !ok {
		return nil, &protocol.UnknownCapabilityError{Kind: protocol.KindPrompt, Name: name}
	}

	if args == nil {
		args = map[string]string{}
	}

	for _, spec := range entry.prompt.Arguments {
		if spec.Required && strings.TrimSpace(args[spec.Name]) == "" {
			return nil, &protocol.ValidationError{Capability: name, Argument: spec.Name}
		}
	}

	var result *protocol.GetPromptResult
	err := invoke(name, func() error {
		var err error
		result, err = entry.handler(ctx, args)
		return err
	})
	if err != nil {
		return nil, err
	}

	if result == nil {
		result = &protocol.GetPromptResult{Messages: []protocol.PromptMessage{}}
	}

	return result, nil
}

// ReadResource serves a static resource registered under uri, or the first
// template (in registration order) that matches it.
func (r *Registry) ReadResource(ctx context.Context, uri string) (*protocol.ReadResourceResult, error) {
	r.mu.RLock()
	static, ok := r.resourceIndex[uri]
	r.mu.RUnlock()

	capability := uri
	handler := ResourceHandler(nil)
	params := map[string]string{}

	if ok {
		handler = static.handler
	} else {
		template, bound := r.matchTemplate(uri)
		if template == nil {
			return nil, &protocol.UnknownResourceError{URI: uri}
		}
		capability = template.template.Name
		handler = template.handler
		params = bound
	}

	var result *protocol.ReadResourceResult
	err := invoke(capability, func() error {
		var err error
		result, err = handler(ctx, uri, params)
		return err
	})
	if err != nil {
		return nil, err
	}

	if result == nil {
		result = &protocol.ReadResourceResult{Contents: []protocol.ResourceContents{}}
	}

	return result, nil
}

// matchTemplate binds placeholders positionally. A placeholder matches a
// single non-empty path segment, percent-decoded.
func (r *Registry) matchTemplate(uri string) (*registeredTemplate, map[string]string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, entry := range r.templates {
		if params, ok := entry.match(uri); ok {
			return entry, params
		}
	}

	return nil, nil
}

func (t *registeredTemplate) match(uri string) (map[string]string, bool) {
	segments := t.pattern.FindStringSubmatch(uri)
	if segments == nil {
		return nil, false
	}

	params := make(map[string]string, len(t.varnames))
	for i, name := range t.varnames {
		value, err := url.PathUnescape(segments[i+1])
		if err != nil || value == "" {
			return nil, false
		}
		params[name] = value
	}

	return params, true
}

func (t *registeredTool) validate(args map[string]any) error {
	for _, name := range t.tool.InputSchema.Required {
		if isEmptyArgument(args[name]) {
			return &protocol.ValidationError{Capability: t.tool.Name, Argument: name}
		}
	}

	result, err := t.schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return &protocol.ValidationError{Capability: t.tool.Name, Argument: "(root)", Reason: err.Error()}
	}

	if !result.Valid() {
		first := result.Errors()[0]
		return &protocol.ValidationError{
			Capability: t.tool.Name,
			Argument:   first.Field(),
			Reason:     first.Description(),
		}
	}

	return nil
}

func isEmptyArgument(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []any:
		return len(v) == 0
	case []string:
		return len(v) == 0
	default:
		return false
	}
}

// invoke runs a handler and converts any failure, panics included, into a
// HandlerError.
func invoke(capability string, fn func() error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = &protocol.HandlerError{Capability: capability, Err: fmt.Errorf("panic: %v", recovered)}
		}
	}()

	if err := fn(); err != nil {
		return &protocol.HandlerError{Capability: capability, Err: err}
	}

	return nil
}
