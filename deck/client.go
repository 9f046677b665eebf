// Package deck talks to the deck-of-cards REST API and exposes it as tools,
// prompts and a resource template.
package deck

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const maxBodySize = 1 << 20

// UpstreamError is returned when the API answers with an error status or a
// body whose "success" field is false.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("deck API エラー (HTTP %d): %s", e.StatusCode, e.Message)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient uses a client with a 30 second timeout when httpClient is nil.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (c *Client) NewDeck(ctx context.Context, deckCount int) (string, error) {
	return c.get(ctx, []string{"new", "shuffle"}, url.Values{"deck_count": {strconv.Itoa(deckCount)}})
}

func (c *Client) Shuffle(ctx context.Context, deckID string) (string, error) {
	return c.get(ctx, []string{deckID, "shuffle"}, nil)
}

func (c *Client) Draw(ctx context.Context, deckID string, count int) (string, error) {
	return c.get(ctx, []string{deckID, "draw"}, url.Values{"count": {strconv.Itoa(count)}})
}

// AddToPile moves cards (comma separated codes, e.g. "AS,2S") into the pile.
func (c *Client) AddToPile(ctx context.Context, deckID, pileName, cards string) (string, error) {
	return c.get(ctx, []string{deckID, "pile", pileName, "add"}, url.Values{"cards": {cards}})
}

func (c *Client) ShufflePile(ctx context.Context, deckID, pileName string) (string, error) {
	return c.get(ctx, []string{deckID, "pile", pileName, "shuffle"}, nil)
}

func (c *Client) ListPile(ctx context.Context, deckID, pileName string) (string, error) {
	return c.get(ctx, []string{deckID, "pile", pileName, "list"}, nil)
}

// get issues one GET to <base>/<segments...>/ and returns the body verbatim.
func (c *Client) get(ctx context.Context, segments []string, query url.Values) (string, error) {
	escaped := make([]string, 0, len(segments))
	for _, segment := range segments {
		escaped = append(escaped, url.PathEscape(segment))
	}

	endpoint := c.baseURL + "/" + strings.Join(escaped, "/") + "/"
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	request.Header.Set("Accept", "application/json")

	slog.DebugContext(ctx, "deck API を呼び出します", slog.String("url", endpoint))

	response, err := c.httpClient.Do(request)
	if err != nil {
		return "", fmt.Errorf("deck API への接続に失敗しました: %w", err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxBodySize))
	if err != nil {
		return "", fmt.Errorf("deck API の応答を読み取れません: %w", err)
	}

	var status struct {
		Success *bool  `json:"success"`
		Error   string `json:"error"`
	}
	decodeErr := json.Unmarshal(body, &status)

	if response.StatusCode >= http.StatusBadRequest {
		message := status.Error
		if message == "" {
			message = strings.TrimSpace(string(body))
		}
		if message == "" {
			message = http.StatusText(response.StatusCode)
		}
		return "", &UpstreamError{StatusCode: response.StatusCode, Message: message}
	}

	if decodeErr != nil {
		return "", fmt.Errorf("deck API の応答が JSON ではありません: %w", decodeErr)
	}

	if status.Success != nil && !*status.Success {
		message := status.Error
		if message == "" {
			message = "success=false"
		}
		return "", &UpstreamError{StatusCode: response.StatusCode, Message: message}
	}

	return string(body), nil
}
