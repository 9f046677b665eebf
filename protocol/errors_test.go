package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// roundTrip encodes err the way the server does and decodes it the way the
// client does.
func roundTrip(t *testing.T, err error) error {
	t.Helper()

	raw, marshalErr := json.Marshal(NewErrorResult(StringID("1"), err))
	require.NoError(t, marshalErr)

	var result JSONRPCResult
	require.NoError(t, json.Unmarshal(raw, &result))

	return result.Decode(&struct{}{})
}

func TestErrorRoundTrip(t *testing.T) {
	t.Run("validation", func(t *testing.T) {
		err := roundTrip(t, &ValidationError{Capability: "adicionar_pilha", Argument: "cards"})

		var target *ValidationError
		require.ErrorAs(t, err, &target)
		assert.Equal(t, "adicionar_pilha", target.Capability)
		assert.Equal(t, "cards", target.Argument)
	})

	t.Run("unknown capability", func(t *testing.T) {
		err := roundTrip(t, &UnknownCapabilityError{Kind: KindPrompt, Name: "nope"})

		var target *UnknownCapabilityError
		require.ErrorAs(t, err, &target)
		assert.Equal(t, KindPrompt, target.Kind)
		assert.Equal(t, "nope", target.Name)
	})

	t.Run("unknown resource", func(t *testing.T) {
		err := roundTrip(t, &UnknownResourceError{URI: "deck://x"})

		var target *UnknownResourceError
		require.ErrorAs(t, err, &target)
		assert.Equal(t, "deck://x", target.URI)
	})

	t.Run("handler", func(t *testing.T) {
		err := roundTrip(t, &HandlerError{Capability: "embaralhar_pilha", Err: errors.New("pile not found")})

		var target *HandlerError
		require.ErrorAs(t, err, &target)
		assert.Equal(t, "embaralhar_pilha", target.Capability)
		assert.EqualError(t, target.Err, "pile not found")
	})

	t.Run("protocol", func(t *testing.T) {
		err := roundTrip(t, &ProtocolError{Code: CodeMethodNotFound, Method: "foo/bar", Reason: "unknown"})

		var target *ProtocolError
		require.ErrorAs(t, err, &target)
		assert.Equal(t, CodeMethodNotFound, target.Code)
		assert.Equal(t, "foo/bar", target.Method)
	})

	t.Run("untyped", func(t *testing.T) {
		err := roundTrip(t, errors.New("boom"))

		var target *ProtocolError
		require.ErrorAs(t, err, &target)
		assert.Equal(t, CodeInternalError, target.Code)
		assert.Equal(t, "boom", target.Reason)
	})
}

func TestNewJSONRPCErrorCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"validation", &ValidationError{Capability: "t", Argument: "a"}, CodeInvalidParams},
		{"unknown capability", &UnknownCapabilityError{Kind: KindTool, Name: "t"}, CodeInvalidParams},
		{"unknown resource", &UnknownResourceError{URI: "u"}, CodeUnknownResource},
		{"handler", &HandlerError{Capability: "t", Err: errors.New("x")}, CodeInternalError},
		{"protocol without code", &ProtocolError{Reason: "x"}, CodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, NewJSONRPCError(tt.err).Code)
		})
	}
}

func TestIsRecoverable(t *testing.T) {
	assert.True(t, IsRecoverable(&ValidationError{}))
	assert.True(t, IsRecoverable(&HandlerError{Err: errors.New("x")}))
	assert.False(t, IsRecoverable(errors.New("x")))
	assert.False(t, IsRecoverable(nil))
}

func TestNewRequestNotification(t *testing.T) {
	request, err := NewNotification(MethodNotificationInitialized, nil)
	require.NoError(t, err)

	assert.True(t, request.IsNotification())
	assert.Empty(t, request.Params)

	raw, err := json.Marshal(request)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"notifications/initialized"}`, string(raw))
}
