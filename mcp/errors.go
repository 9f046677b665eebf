package mcp

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTurnInProgress is returned when a second turn is submitted before the
	// first one finished.
	ErrTurnInProgress = errors.New("前のターンがまだ処理中です")

	ErrNotConnected = errors.New("サーバーに接続されていません")

	ErrClientClosed = errors.New("クライアントは既に閉じられています")
)

// ChannelTimeoutError means no reply arrived within the request timeout.
type ChannelTimeoutError struct {
	Method  string
	Timeout time.Duration
}

func (e *ChannelTimeoutError) Error() string {
	return fmt.Sprintf("%s の応答が %s 以内に返りませんでした", e.Method, e.Timeout)
}

// ChannelClosedError means the stream to the server is gone. The client
// does not reconnect.
type ChannelClosedError struct {
	Err error
}

func (e *ChannelClosedError) Error() string {
	if e.Err == nil {
		return "サーバーとの接続が切断されました"
	}

	return fmt.Sprintf("サーバーとの接続が切断されました: %v", e.Err)
}

func (e *ChannelClosedError) Unwrap() error {
	return e.Err
}

type ModelError struct {
	Err error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("LLMへの問い合わせに失敗しました: %v", e.Err)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// ModelProtocolError reports a model response with an unexpected shape.
type ModelProtocolError struct {
	Reason string
}

func (e *ModelProtocolError) Error() string {
	return fmt.Sprintf("LLMの応答形式が不正です: %s", e.Reason)
}

// IsFatal reports whether err ends the interactive session.
func IsFatal(err error) bool {
	var (
		timeoutErr  *ChannelTimeoutError
		closedErr   *ChannelClosedError
		modelErr    *ModelError
		modelProErr *ModelProtocolError
	)

	return errors.Is(err, ErrNotConnected) ||
		errors.Is(err, ErrClientClosed) ||
		errors.As(err, &timeoutErr) ||
		errors.As(err, &closedErr) ||
		errors.As(err, &modelErr) ||
		errors.As(err, &modelProErr)
}
