package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"shogo-ma/deck-mcp-go/protocol"
)

const (
	maxMessageSize   = 4 * 1024 * 1024
	closeGracePeriod = 2 * time.Second
)

// Client sends requests to a single server and correlates the replies by
// id. Requests are issued one at a time.
type Client struct {
	ServerConfig MCPServerConfig
	Cmd          *exec.Cmd
	Stdin        io.WriteCloser
	Stdout       io.ReadCloser
	Stderr       io.ReadCloser

	timeout time.Duration

	// serializes requests: at most one outstanding
	mu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan *protocol.JSONRPCResult

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error

	group errgroup.Group
}

func NewClient(serverConfig MCPServerConfig, timeout time.Duration) *Client {
	return &Client{
		ServerConfig: serverConfig,
		timeout:      timeout,
		pending:      make(map[string]chan *protocol.JSONRPCResult),
		closed:       make(chan struct{}),
	}
}

// NewStreamClient talks to a server over already connected streams: reader
// carries the server's replies, writer its requests.
func NewStreamClient(reader io.ReadCloser, writer io.WriteCloser, timeout time.Duration) *Client {
	c := NewClient(MCPServerConfig{}, timeout)
	c.attach(reader, writer)
	return c
}

func (c *Client) Connect(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, c.ServerConfig.Command, c.ServerConfig.Args...)
	if c.ServerConfig.Env != nil {
		env := os.Environ()
		for k, v := range c.ServerConfig.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("サーバープロセスの起動に失敗しました: %w", err)
	}

	c.Cmd = cmd
	c.Stderr = stderr
	c.group.Go(c.forwardStderr)
	c.attach(stdout, stdin)

	return nil
}

func (c *Client) attach(reader io.ReadCloser, writer io.WriteCloser) {
	c.Stdout = reader
	c.Stdin = writer
	c.group.Go(c.readLoop)
}

// Close waits for the reader goroutines to drain the server's pipes before
// reaping the process, killing it if it outlives the grace period.
func (c *Client) Close(ctx context.Context) error {
	if c.Stdin != nil {
		_ = c.Stdin.Close()
	}

	if c.Cmd == nil && c.Stdout != nil {
		_ = c.Stdout.Close()
	}

	readers := make(chan error, 1)
	go func() { readers <- c.group.Wait() }()

	var err error
	select {
	case err = <-readers:
	case <-time.After(closeGracePeriod):
		if c.Cmd != nil && c.Cmd.Process != nil {
			if killErr := c.Cmd.Process.Kill(); killErr != nil {
				slog.WarnContext(ctx, "サーバープロセスの停止に失敗しました", slog.Any("error", killErr))
			}
		} else if c.Stdout != nil {
			_ = c.Stdout.Close()
		}
		err = <-readers
	}

	if c.Cmd != nil && c.Cmd.Process != nil {
		if waitErr := c.Cmd.Wait(); waitErr != nil {
			slog.DebugContext(ctx, "サーバープロセスが終了しました", slog.Any("error", waitErr))
		}
	}

	c.shutdown(ErrClientClosed)

	return err
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.closeErr = err
		close(c.closed)
	})
}

func (c *Client) readLoop() error {
	scanner := bufio.NewScanner(c.Stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageSize)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		result := &protocol.JSONRPCResult{}
		if err := json.Unmarshal(line, result); err != nil {
			slog.Warn("サーバーからのメッセージを解析できません", slog.Any("error", err))
			continue
		}

		if result.ID.IsZero() {
			if result.Error != nil {
				slog.Warn("サーバーからエラーが返されました", slog.String("message", result.Error.Message))
			}
			continue
		}

		c.pendingMu.Lock()
		ch, ok := c.pending[result.ID.String()]
		delete(c.pending, result.ID.String())
		c.pendingMu.Unlock()

		if !ok {
			slog.Warn("対応するリクエストのない応答を破棄します", slog.String("id", result.ID.String()))
			continue
		}

		ch <- result
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	c.shutdown(err)

	return nil
}

func (c *Client) forwardStderr() error {
	scanner := bufio.NewScanner(c.Stderr)
	for scanner.Scan() {
		slog.Debug("server", slog.String("stderr", scanner.Text()))
	}

	return nil
}

// https://modelcontextprotocol.io/docs/concepts/architecture#connection-lifecycle
func (c *Client) Initialize(ctx context.Context) error {
	params := protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolVersion,
		ClientInfo: protocol.Implementation{
			Name:    "deck-mcp-client",
			Version: "0.1.0",
		},
		Capabilities: map[string]any{},
	}

	var result protocol.InitializeResult
	if err := c.sendRequest(ctx, protocol.MethodInitialize, params, &result); err != nil {
		return err
	}

	slog.DebugContext(ctx, "サーバーを初期化しました",
		slog.String("server", result.ServerInfo.Name),
		slog.String("version", result.ServerInfo.Version),
	)

	if err := c.sendNotification(protocol.MethodNotificationInitialized); err != nil {
		return err
	}

	return nil
}

func (c *Client) sendRequest(ctx context.Context, method protocol.Method, params any, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.closed:
		return &ChannelClosedError{Err: c.closeErr}
	default:
	}

	if c.Stdin == nil {
		return ErrNotConnected
	}

	id := uuid.New().String()
	request, err := protocol.NewRequest(protocol.StringID(id), method, params)
	if err != nil {
		return err
	}

	ch := make(chan *protocol.JSONRPCResult, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.write(request); err != nil {
		c.shutdown(err)
		return &ChannelClosedError{Err: err}
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case result := <-ch:
		return result.Decode(out)
	case <-c.closed:
		return &ChannelClosedError{Err: c.closeErr}
	case <-timer.C:
		return &ChannelTimeoutError{Method: method.String(), Timeout: c.timeout}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) sendNotification(method protocol.Method) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Stdin == nil {
		return ErrNotConnected
	}

	request, err := protocol.NewNotification(method, nil)
	if err != nil {
		return err
	}

	if err := c.write(request); err != nil {
		c.shutdown(err)
		return &ChannelClosedError{Err: err}
	}

	return nil
}

func (c *Client) write(request *protocol.JSONRPCRequest) error {
	requestJSON, err := json.Marshal(request)
	if err != nil {
		return err
	}

	requestJSON = append(requestJSON, '\n')
	_, err = c.Stdin.Write(requestJSON)

	return err
}

func (c *Client) ListTools(ctx context.Context) ([]protocol.Tool, error) {
	var result protocol.ListToolsResult
	if err := c.sendRequest(ctx, protocol.MethodToolsList, map[string]any{}, &result); err != nil {
		return nil, err
	}

	return result.Tools, nil
}

func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (*protocol.CallToolResult, error) {
	params := protocol.CallToolParams{
		Name:      name,
		Arguments: arguments,
	}

	var result protocol.CallToolResult
	if err := c.sendRequest(ctx, protocol.MethodToolCall, params, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

func (c *Client) ListPrompts(ctx context.Context) ([]protocol.Prompt, error) {
	var result protocol.ListPromptsResult
	if err := c.sendRequest(ctx, protocol.MethodPromptsList, map[string]any{}, &result); err != nil {
		return nil, err
	}

	return result.Prompts, nil
}

func (c *Client) GetPrompt(ctx context.Context, name string, arguments map[string]string) (*protocol.GetPromptResult, error) {
	params := protocol.GetPromptParams{
		Name:      name,
		Arguments: arguments,
	}

	var result protocol.GetPromptResult
	if err := c.sendRequest(ctx, protocol.MethodPromptGet, params, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

func (c *Client) ListResources(ctx context.Context) ([]protocol.Resource, error) {
	var result protocol.ListResourcesResult
	if err := c.sendRequest(ctx, protocol.MethodResourcesList, map[string]any{}, &result); err != nil {
		return nil, err
	}

	return result.Resources, nil
}

func (c *Client) ListResourceTemplates(ctx context.Context) ([]protocol.ResourceTemplate, error) {
	var result protocol.ListResourceTemplatesResult
	if err := c.sendRequest(ctx, protocol.MethodResourceTemplatesList, map[string]any{}, &result); err != nil {
		return nil, err
	}

	return result.ResourceTemplates, nil
}

func (c *Client) ReadResource(ctx context.Context, uri string) (*protocol.ReadResourceResult, error) {
	var result protocol.ReadResourceResult
	if err := c.sendRequest(ctx, protocol.MethodResourceRead, protocol.ReadResourceParams{URI: uri}, &result); err != nil {
		return nil, err
	}

	return &result, nil
}
