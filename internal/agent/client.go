package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/intelliexo/intelliexo-backend/internal/projects/domain"
)

// FallbackReply is used when the agent answers without a usable response field.
const FallbackReply = "Sorry, no response received."

// ErrAgentUnavailable covers transport failures and bodies that are not valid
// JSON. The status code alone never fails a call: an error status with a JSON
// body settles like any other reply.
var ErrAgentUnavailable = errors.New("agent unavailable")

// Context is what the agent gets to see besides the utterance.
type Context struct {
	PriorMessages []domain.MessageEntry
	Files         []domain.FileRef
}

// Client performs one request/response exchange per turn. No retries, no streaming.
type Client struct {
	BaseURL   string
	SessionID string
	HTTP      *http.Client
}

func New(baseURL, sessionID string, timeout time.Duration) *Client {
	if sessionID == "" {
		sessionID = "default"
	}
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		SessionID: sessionID,
		HTTP:      &http.Client{Timeout: timeout},
	}
}

type chatContext struct {
	Messages  []domain.MessageEntry `json:"messages"`
	Documents string                `json:"documents"`
}

type chatRequest struct {
	Message   string      `json:"message"`
	SessionID string      `json:"session_id"`
	Context   chatContext `json:"context"`
}

// Send posts the utterance and returns the assistant reply text.
// A missing or empty response field resolves to FallbackReply.
func (c *Client) Send(ctx context.Context, utterance string, convCtx Context) (string, error) {
	files := convCtx.Files
	if files == nil {
		files = []domain.FileRef{}
	}
	docs, err := json.Marshal(files)
	if err != nil {
		return "", fmt.Errorf("encode documents: %w", err)
	}

	msgs := convCtx.PriorMessages
	if msgs == nil {
		msgs = []domain.MessageEntry{}
	}
	b, err := json.Marshal(chatRequest{
		Message:   utterance,
		SessionID: c.SessionID,
		Context: chatContext{
			Messages:  msgs,
			Documents: string(docs),
		},
	})
	if err != nil {
		return "", fmt.Errorf("encode agent request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat", bytes.NewReader(b))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrAgentUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAgentUnavailable, err)
	}
	defer resp.Body.Close()

	var out any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: status %d: decode: %v", ErrAgentUnavailable, resp.StatusCode, err)
	}
	return replyText(out), nil
}

// replyText extracts a non-empty string "response" field, falling back otherwise.
func replyText(body any) string {
	obj, ok := body.(map[string]any)
	if !ok {
		return FallbackReply
	}
	if s, ok := obj["response"].(string); ok && s != "" {
		return s
	}
	return FallbackReply
}
