package mcp

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
)

// MCPConfig is the "mcpServers" file format shared with other MCP hosts.
type MCPConfig struct {
	McpServers map[string]MCPServerConfig `json:"mcpServers"`
}

type MCPServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env,omitempty"`
}

func LoadMCPConfig(path string) (*MCPConfig, error) {
	bytes, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config MCPConfig
	if err := json.Unmarshal(bytes, &config); err != nil {
		return nil, fmt.Errorf("%s を解析できません: %w", path, err)
	}

	return &config, nil
}

// Server picks the named entry. An empty name is allowed when the file
// declares exactly one server.
func (c *MCPConfig) Server(name string) (MCPServerConfig, error) {
	if name == "" {
		if len(c.McpServers) != 1 {
			return MCPServerConfig{}, fmt.Errorf("サーバー名を指定してください: %s",
				strings.Join(slices.Sorted(maps.Keys(c.McpServers)), ", "))
		}
		for _, server := range c.McpServers {
			return server, nil
		}
	}

	server, ok := c.McpServers[name]
	if !ok {
		return MCPServerConfig{}, fmt.Errorf("サーバー %s は設定されていません", name)
	}

	return server, nil
}

// WithDefaultEnv returns a copy whose Env also holds the entries of env that
// the server config does not set itself.
func (s MCPServerConfig) WithDefaultEnv(env map[string]string) MCPServerConfig {
	merged := make(map[string]string, len(env)+len(s.Env))
	maps.Copy(merged, env)
	maps.Copy(merged, s.Env)
	s.Env = merged

	return s
}

// ResolveServerConfig turns the orchestrator's positional argument into a
// launch config. A .json file is read as an mcpServers file; .js and .py
// entry points run under their interpreter; anything else is executed
// directly.
func ResolveServerConfig(path, name string, env map[string]string) (MCPServerConfig, error) {
	if filepath.Ext(path) != ".json" {
		return ServerConfigForScript(path, env), nil
	}

	config, err := LoadMCPConfig(path)
	if err != nil {
		return MCPServerConfig{}, err
	}

	server, err := config.Server(name)
	if err != nil {
		return MCPServerConfig{}, err
	}

	return server.WithDefaultEnv(env), nil
}

func ServerConfigForScript(path string, env map[string]string) MCPServerConfig {
	switch filepath.Ext(path) {
	case ".js":
		return MCPServerConfig{Command: "node", Args: []string{path}, Env: env}
	case ".py":
		command := "python3"
		if runtime.GOOS == "windows" {
			command = "python"
		}
		return MCPServerConfig{Command: command, Args: []string{path}, Env: env}
	default:
		return MCPServerConfig{Command: path, Env: env}
	}
}
