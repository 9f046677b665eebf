// Package protocol holds the wire types shared by the agent and the deck
// server: JSON-RPC 2.0 envelopes, capability descriptors and the error
// taxonomy carried inside error replies.
package protocol

import (
	"encoding/json"
)

const (
	JSONRPCVersion  = "2.0"
	ProtocolVersion = "2025-03-26"
)

type Method string

func (m Method) String() string {
	return string(m)
}

const (
	MethodInitialize              Method = "initialize"
	MethodNotificationInitialized Method = "notifications/initialized"
	MethodPing                    Method = "ping"
	MethodToolsList               Method = "tools/list"
	MethodToolCall                Method = "tools/call"
	MethodPromptsList             Method = "prompts/list"
	MethodPromptGet               Method = "prompts/get"
	MethodResourcesList           Method = "resources/list"
	MethodResourceTemplatesList   Method = "resources/templates/list"
	MethodResourceRead            Method = "resources/read"
)

// JSON-RPC error codes. -32001 is the MCP "resource not found" code.
const (
	CodeParseError      = -32700
	CodeInvalidRequest  = -32600
	CodeMethodNotFound  = -32601
	CodeInvalidParams   = -32602
	CodeInternalError   = -32603
	CodeUnknownResource = -32001
)

type JSONRPCRequest struct {
	ID         ID              `json:"id,omitempty"`
	RPCVersion string          `json:"jsonrpc"`
	Method     string          `json:"method"`
	Params     json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request expects no reply.
func (r *JSONRPCRequest) IsNotification() bool {
	return r.ID.IsZero()
}

// JSONRPCResult always carries an id; it is null when the request's id could
// not be read.
type JSONRPCResult struct {
	ID         ID              `json:"id"`
	RPCVersion string          `json:"jsonrpc"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *JSONRPCError   `json:"error,omitempty"`
}

type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// NewNotification builds a request envelope that expects no reply.
func NewNotification(method Method, params any) (*JSONRPCRequest, error) {
	return NewRequest(nil, method, params)
}

func NewRequest(id ID, method Method, params any) (*JSONRPCRequest, error) {
	request := &JSONRPCRequest{
		ID:         id,
		RPCVersion: JSONRPCVersion,
		Method:     method.String(),
	}

	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		request.Params = raw
	}

	return request, nil
}

func NewResult(id ID, result any) (*JSONRPCResult, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}

	return &JSONRPCResult{
		ID:         id,
		RPCVersion: JSONRPCVersion,
		Result:     raw,
	}, nil
}

func NewErrorResult(id ID, err error) *JSONRPCResult {
	return &JSONRPCResult{
		ID:         id,
		RPCVersion: JSONRPCVersion,
		Error:      NewJSONRPCError(err),
	}
}

// Decode unmarshals the result payload, or returns the typed error carried
// by an error reply.
func (r *JSONRPCResult) Decode(v any) error {
	if r.Error != nil {
		return r.Error.Err()
	}

	if len(r.Result) == 0 {
		return nil
	}

	return json.Unmarshal(r.Result, v)
}
