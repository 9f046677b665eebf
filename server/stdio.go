package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"shogo-ma/deck-mcp-go/protocol"
)

const maxMessageSize = 4 * 1024 * 1024

// StdioServer reads newline-delimited requests and answers them one at a
// time, in arrival order.
type StdioServer struct {
	router *Router
	reader io.Reader
	writer io.Writer
}

func NewStdioServer(router *Router, reader io.Reader, writer io.Writer) *StdioServer {
	return &StdioServer{
		router: router,
		reader: reader,
		writer: writer,
	}
}

// Serve returns nil when the peer closes the stream.
func (s *StdioServer) Serve(ctx context.Context) error {
	scanner := bufio.NewScanner(s.reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageSize)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var request protocol.JSONRPCRequest
		if err := json.Unmarshal(line, &request); err != nil {
			slog.WarnContext(ctx, "リクエストの解析に失敗しました", slog.Any("error", err))
			if err := s.write(protocol.NewErrorResult(nil, &protocol.ProtocolError{
				Code:   protocol.CodeParseError,
				Reason: err.Error(),
			})); err != nil {
				return err
			}
			continue
		}

		if !request.IsNotification() && !request.ID.Valid() {
			if err := s.write(protocol.NewErrorResult(nil, &protocol.ProtocolError{
				Code:   protocol.CodeInvalidRequest,
				Method: request.Method,
				Reason: fmt.Sprintf("id %s は文字列または数値である必要があります", request.ID),
			})); err != nil {
				return err
			}
			continue
		}

		if request.RPCVersion != protocol.JSONRPCVersion {
			if request.IsNotification() {
				continue
			}
			if err := s.write(protocol.NewErrorResult(request.ID, &protocol.ProtocolError{
				Code:   protocol.CodeInvalidRequest,
				Method: request.Method,
				Reason: fmt.Sprintf("jsonrpc %q には対応していません", request.RPCVersion),
			})); err != nil {
				return err
			}
			continue
		}

		reply := s.router.Handle(ctx, &request)
		if reply == nil {
			continue
		}

		if err := s.write(reply); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("標準入力の読み取り中にエラーが発生しました: %w", err)
	}

	return nil
}

func (s *StdioServer) write(reply *protocol.JSONRPCResult) error {
	replyJSON, err := json.Marshal(reply)
	if err != nil {
		return err
	}

	replyJSON = append(replyJSON, '\n')
	if _, err := s.writer.Write(replyJSON); err != nil {
		return fmt.Errorf("応答の書き込みに失敗しました: %w", err)
	}

	return nil
}
