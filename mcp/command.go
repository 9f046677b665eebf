package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

type CommandKind int

const (
	// CommandMessage is a free-form line sent to the model.
	CommandMessage CommandKind = iota
	CommandEmpty
	CommandInvalid
	CommandQuit
	CommandListResources
	CommandListPrompts
	CommandGetPrompt
	CommandReadResource
	// CommandRunPrompt renders a prompt and feeds its messages to the model.
	CommandRunPrompt
)

const explainRulesPrompt = "explicar-regras"

type Command struct {
	Kind CommandKind
	Text string
	Name string
	Args map[string]string
	URI  string
	Err  error
}

type commandMatcher func(line string) (Command, bool)

// CommandInterpreter tries its matchers in order and stops at the first
// match: exact keywords, then prefixed commands, then natural-language
// patterns. A line nothing matches is a message for the model.
type CommandInterpreter struct {
	matchers []commandMatcher
}

func NewCommandInterpreter() *CommandInterpreter {
	return &CommandInterpreter{
		matchers: []commandMatcher{
			keyword("quit", CommandQuit),
			keyword("exit", CommandQuit),
			keyword("resources", CommandListResources),
			keyword("prompts", CommandListPrompts),
			promptCommand,
			resourceCommand,
			pattern(regexp.MustCompile(`(?i)^explain\s+(?:the\s+)?rules\s+of\s+(?:the\s+)?(.+?)[.?!]*$`), explainRulesPrompt, "jogo"),
			pattern(regexp.MustCompile(`(?i)^explique\s+as\s+regras\s+d[oae]s?\s+(.+?)[.?!]*$`), explainRulesPrompt, "jogo"),
		},
	}
}

func (ci *CommandInterpreter) Parse(line string) Command {
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{Kind: CommandEmpty}
	}

	for _, match := range ci.matchers {
		if command, ok := match(line); ok {
			return command
		}
	}

	return Command{Kind: CommandMessage, Text: line}
}

func keyword(word string, kind CommandKind) commandMatcher {
	return func(line string) (Command, bool) {
		if !strings.EqualFold(line, word) {
			return Command{}, false
		}
		return Command{Kind: kind}, true
	}
}

// splitCommand returns the rest of the line when its first word is name.
func splitCommand(line, name string) (string, bool) {
	head, rest, _ := strings.Cut(line, " ")
	if !strings.EqualFold(head, name) {
		return "", false
	}

	return strings.TrimSpace(rest), true
}

// promptCommand matches "prompt <name> [json-args]".
func promptCommand(line string) (Command, bool) {
	rest, ok := splitCommand(line, "prompt")
	if !ok {
		return Command{}, false
	}

	name, rawArgs, _ := strings.Cut(rest, " ")
	if name == "" {
		return Command{Kind: CommandInvalid, Err: errors.New("使い方: prompt <name> <json-args>")}, true
	}

	args, err := parsePromptArguments(strings.TrimSpace(rawArgs))
	if err != nil {
		return Command{Kind: CommandInvalid, Err: err}, true
	}

	return Command{Kind: CommandGetPrompt, Name: name, Args: args}, true
}

// resourceCommand matches "resource <uri>".
func resourceCommand(line string) (Command, bool) {
	uri, ok := splitCommand(line, "resource")
	if !ok {
		return Command{}, false
	}

	if uri == "" {
		return Command{Kind: CommandInvalid, Err: errors.New("使い方: resource <uri>")}, true
	}

	return Command{Kind: CommandReadResource, URI: uri}, true
}

func pattern(re *regexp.Regexp, prompt, argument string) commandMatcher {
	return func(line string) (Command, bool) {
		match := re.FindStringSubmatch(line)
		if match == nil {
			return Command{}, false
		}

		return Command{
			Kind: CommandRunPrompt,
			Name: prompt,
			Args: map[string]string{argument: strings.TrimSpace(match[1])},
		}, true
	}
}

// parsePromptArguments decodes a JSON object. Prompt arguments are strings
// on the wire, so other JSON values are sent in their JSON form.
func parsePromptArguments(raw string) (map[string]string, error) {
	args := map[string]string{}
	if raw == "" {
		return args, nil
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("引数は JSON オブジェクトで指定してください: %w", err)
	}

	for key, value := range decoded {
		switch v := value.(type) {
		case string:
			args[key] = v
		case nil:
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			args[key] = string(encoded)
		}
	}

	return args, nil
}
