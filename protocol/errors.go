package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

type CapabilityKind string

const (
	KindTool     CapabilityKind = "tool"
	KindPrompt   CapabilityKind = "prompt"
	KindResource CapabilityKind = "resource"
)

// ErrorKind tags the error data of a JSON-RPC error reply so the caller can
// rebuild the typed error on its side of the channel.
type ErrorKind string

const (
	ErrorKindValidation        ErrorKind = "validation"
	ErrorKindUnknownCapability ErrorKind = "unknown_capability"
	ErrorKindUnknownResource   ErrorKind = "unknown_resource"
	ErrorKindProtocol          ErrorKind = "protocol"
	ErrorKindHandler           ErrorKind = "handler"
)

// ValidationError reports a missing or malformed argument. The handler has
// not been invoked when this is returned.
type ValidationError struct {
	Capability string
	Argument   string
	Reason     string
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s の引数 %s が不正です: %s", e.Capability, e.Argument, e.Reason)
	}

	return fmt.Sprintf("%s の必須引数 %s が指定されていません", e.Capability, e.Argument)
}

type UnknownCapabilityError struct {
	Kind CapabilityKind
	Name string
}

func (e *UnknownCapabilityError) Error() string {
	return fmt.Sprintf("%s %s が見つかりません", e.Kind, e.Name)
}

type UnknownResourceError struct {
	URI string
}

func (e *UnknownResourceError) Error() string {
	return fmt.Sprintf("リソース %s に一致するテンプレートがありません", e.URI)
}

// ProtocolError reports a request that could not be decoded or routed.
type ProtocolError struct {
	Code   int
	Method string
	Reason string
}

func (e *ProtocolError) Error() string {
	if e.Method != "" {
		return fmt.Sprintf("プロトコルエラー (%s): %s", e.Method, e.Reason)
	}

	return fmt.Sprintf("プロトコルエラー: %s", e.Reason)
}

// HandlerError wraps a failure raised while a capability handler ran,
// including failures of the upstream API it called.
type HandlerError struct {
	Capability string
	Err        error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s の実行に失敗しました: %v", e.Capability, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// IsRecoverable reports whether err is one of the request-scoped failures
// that a caller reports and moves past.
func IsRecoverable(err error) bool {
	var (
		validationErr *ValidationError
		unknownCapErr *UnknownCapabilityError
		unknownResErr *UnknownResourceError
		protocolErr   *ProtocolError
		handlerErr    *HandlerError
	)

	return errors.As(err, &validationErr) ||
		errors.As(err, &unknownCapErr) ||
		errors.As(err, &unknownResErr) ||
		errors.As(err, &protocolErr) ||
		errors.As(err, &handlerErr)
}

type ErrorData struct {
	Kind       ErrorKind      `json:"kind"`
	Capability string         `json:"capability,omitempty"`
	CapKind    CapabilityKind `json:"capabilityKind,omitempty"`
	Argument   string         `json:"argument,omitempty"`
	URI        string         `json:"uri,omitempty"`
	Method     string         `json:"method,omitempty"`
	Reason     string         `json:"reason,omitempty"`
}

// NewJSONRPCError encodes err into an error object. Errors outside the
// taxonomy are reported as internal errors.
func NewJSONRPCError(err error) *JSONRPCError {
	var (
		validationErr *ValidationError
		unknownCapErr *UnknownCapabilityError
		unknownResErr *UnknownResourceError
		protocolErr   *ProtocolError
		handlerErr    *HandlerError
	)

	switch {
	case errors.As(err, &validationErr):
		return &JSONRPCError{
			Code:    CodeInvalidParams,
			Message: validationErr.Error(),
			Data: ErrorData{
				Kind:       ErrorKindValidation,
				Capability: validationErr.Capability,
				Argument:   validationErr.Argument,
				Reason:     validationErr.Reason,
			},
		}
	case errors.As(err, &unknownCapErr):
		return &JSONRPCError{
			Code:    CodeInvalidParams,
			Message: unknownCapErr.Error(),
			Data: ErrorData{
				Kind:       ErrorKindUnknownCapability,
				Capability: unknownCapErr.Name,
				CapKind:    unknownCapErr.Kind,
			},
		}
	case errors.As(err, &unknownResErr):
		return &JSONRPCError{
			Code:    CodeUnknownResource,
			Message: unknownResErr.Error(),
			Data: ErrorData{
				Kind: ErrorKindUnknownResource,
				URI:  unknownResErr.URI,
			},
		}
	case errors.As(err, &protocolErr):
		code := protocolErr.Code
		if code == 0 {
			code = CodeInvalidRequest
		}
		return &JSONRPCError{
			Code:    code,
			Message: protocolErr.Error(),
			Data: ErrorData{
				Kind:   ErrorKindProtocol,
				Method: protocolErr.Method,
				Reason: protocolErr.Reason,
			},
		}
	case errors.As(err, &handlerErr):
		reason := ""
		if handlerErr.Err != nil {
			reason = handlerErr.Err.Error()
		}
		return &JSONRPCError{
			Code:    CodeInternalError,
			Message: handlerErr.Error(),
			Data: ErrorData{
				Kind:       ErrorKindHandler,
				Capability: handlerErr.Capability,
				Reason:     reason,
			},
		}
	default:
		return &JSONRPCError{
			Code:    CodeInternalError,
			Message: err.Error(),
		}
	}
}

// Err rebuilds the typed error carried by the error object.
func (e *JSONRPCError) Err() error {
	data, ok := e.errorData()
	if !ok {
		return &ProtocolError{Code: e.Code, Reason: e.Message}
	}

	switch data.Kind {
	case ErrorKindValidation:
		return &ValidationError{Capability: data.Capability, Argument: data.Argument, Reason: data.Reason}
	case ErrorKindUnknownCapability:
		return &UnknownCapabilityError{Kind: data.CapKind, Name: data.Capability}
	case ErrorKindUnknownResource:
		return &UnknownResourceError{URI: data.URI}
	case ErrorKindHandler:
		return &HandlerError{Capability: data.Capability, Err: errors.New(data.Reason)}
	default:
		return &ProtocolError{Code: e.Code, Method: data.Method, Reason: data.Reason}
	}
}

func (e *JSONRPCError) errorData() (ErrorData, bool) {
	if e.Data == nil {
		return ErrorData{}, false
	}

	raw, err := json.Marshal(e.Data)
	if err != nil {
		return ErrorData{}, false
	}

	var data ErrorData
	if err := json.Unmarshal(raw, &data); err != nil || data.Kind == "" {
		return ErrorData{}, false
	}

	return data, true
}
