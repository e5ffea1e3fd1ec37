package interpreter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"chromate/internal/domain"
	"chromate/internal/ports"
	"chromate/internal/transcript"
)

const (
	chatPath     = "/api/v1/chat"
	commandsPath = "/api/v1/commands"

	maxResponseBytes = 1 << 20
)

// Config controls the remote interpreter endpoint.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client implements ports.Interpreter over the interpreter's JSON API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://chromate.sunrin.kr"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		http:    httpClient,
		logger:  logger,
	}
}

type chatRequest struct {
	Message     string                 `json:"message"`
	ElementInfo *domain.ElementContext `json:"elementInfo,omitempty"`
	Commands    []string               `json:"commands,omitempty"`
}

type chatResponse struct {
	Action     *string         `json:"action"`
	Parameters json.RawMessage `json:"parameters"`
	Error      string          `json:"error"`
}

// Interpret sends one finalized transcript and returns the normalized action.
func (c *Client) Interpret(ctx context.Context, req ports.InterpretRequest) (domain.Action, error) {
	message := transcript.Normalize(req.Message)
	if message == "" {
		return domain.Action{}, ErrEmptyMessage
	}

	body, err := json.Marshal(chatRequest{
		Message:     message,
		ElementInfo: req.ElementInfo,
		Commands:    req.Commands,
	})
	if err != nil {
		return domain.Action{}, fmt.Errorf("encode chat request: %w", err)
	}

	c.logger.Debug("sending command to interpreter", zap.String("message", message))

	payload, status, err := c.do(ctx, http.MethodPost, chatPath, body)
	if err != nil {
		return domain.Action{}, err
	}

	var response chatResponse
	if err := json.Unmarshal(payload, &response); err != nil {
		return domain.Action{}, &ResponseFormatError{Err: err}
	}
	if msg := strings.TrimSpace(response.Error); msg != "" {
		return domain.Action{}, &RemoteError{Status: status, Message: msg}
	}
	if response.Action == nil {
		return domain.Action{}, &ResponseFormatError{Err: errors.New("response has no action")}
	}

	action, err := NormalizeAction(*response.Action, response.Parameters)
	if err != nil {
		return domain.Action{}, &ResponseFormatError{Err: err}
	}

	c.logger.Debug("interpreter answered",
		zap.String("action", string(action.Kind)),
		zap.String("direction", action.Direction),
		zap.String("url", action.URL),
		zap.String("query", action.Query),
	)
	return action, nil
}

type commandsResponse struct {
	Commands []json.RawMessage `json:"commands"`
}

// Commands fetches the optional catalog of supported phrasings.
func (c *Client) Commands(ctx context.Context) ([]string, error) {
	payload, _, err := c.do(ctx, http.MethodGet, commandsPath, nil)
	if err != nil {
		return nil, err
	}

	var items []json.RawMessage
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, &ResponseFormatError{Err: err}
		}
	} else {
		var wrapped commandsResponse
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, &ResponseFormatError{Err: err}
		}
		items = wrapped.Commands
	}

	commands := make([]string, 0, len(items))
	for _, item := range items {
		if phrase := catalogPhrase(item); phrase != "" {
			commands = append(commands, phrase)
		}
	}
	return commands, nil
}

func catalogPhrase(item json.RawMessage) string {
	var phrase string
	if err := json.Unmarshal(item, &phrase); err == nil {
		return strings.TrimSpace(phrase)
	}
	var entry struct {
		Phrase  string `json:"phrase"`
		Command string `json:"command"`
	}
	if err := json.Unmarshal(item, &entry); err != nil {
		return ""
	}
	if entry.Phrase != "" {
		return strings.TrimSpace(entry.Phrase)
	}
	return strings.TrimSpace(entry.Command)
}

func (c *Client) do(ctx context.Context, method string, path string, body []byte) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("build interpreter request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, &RemoteError{Status: resp.StatusCode}
	}
	if err != nil {
		return nil, resp.StatusCode, &TransportError{Err: err}
	}
	return payload, resp.StatusCode, nil
}
