package openai_compat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"threadbot/internal/providers"
)

var errProviderReported = errors.New("provider reported an error")

type Config struct {
	// Name is the provider label used in errors and Describe output.
	Name       string
	BaseURL    string
	APIKey     string
	Model      string
	MaxTokens  int
	HTTPClient *http.Client
}

type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Name == "" {
		cfg.Name = "openai-compatible"
	}
	return &Client{cfg: cfg}
}

var _ providers.Completion = (*Client)(nil)

func (c *Client) Describe() string {
	return fmt.Sprintf("Bot uses %s with %s", c.cfg.Name, c.cfg.Model)
}

func (c *Client) Complete(ctx context.Context, messages []providers.Message) (string, error) {
	body, endpointURL, err := c.buildPayload(messages)
	if err != nil {
		return "", c.fail("build request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(body))
	if err != nil {
		return "", c.fail("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.cfg.APIKey) != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", c.fail("request canceled", ctxErr)
		}
		return "", c.fail("request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", c.fail("read response body", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", c.fail("authentication failed", statusError(resp.StatusCode, respBody))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return "", c.fail(fmt.Sprintf("provider status %d", resp.StatusCode), statusError(resp.StatusCode, respBody))
	}

	text, err := parseChatCompletions(respBody)
	if err != nil {
		if errors.Is(err, providers.ErrNoAnswer) {
			return "", c.fail("empty completion", err)
		}
		if errors.Is(err, errProviderReported) {
			return "", c.fail("provider error", err)
		}
		return "", c.fail("malformed response", err)
	}
	return text, nil
}

func (c *Client) fail(reason string, err error) error {
	return providers.NewBackendError(c.cfg.Name, reason, err)
}

func (c *Client) buildPayload(messages []providers.Message) ([]byte, string, error) {
	endpointURL, err := c.buildEndpointURL()
	if err != nil {
		return nil, "", err
	}

	wire := make([]map[string]string, 0, len(messages))
	for _, m := range messages {
		wire = append(wire, map[string]string{"role": m.Role, "content": m.Content})
	}

	payload := map[string]any{
		"model":    c.cfg.Model,
		"messages": wire,
	}
	if c.cfg.MaxTokens > 0 {
		payload["max_tokens"] = c.cfg.MaxTokens
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("marshal chat completion payload: %w", err)
	}
	return b, endpointURL, nil
}

func (c *Client) buildEndpointURL() (string, error) {
	base := strings.TrimSpace(c.cfg.BaseURL)
	if base == "" {
		return "", fmt.Errorf("base url is empty")
	}
	if strings.HasSuffix(base, "/chat/completions") {
		return base, nil
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/chat/completions"
	return u.String(), nil
}

func parseChatCompletions(body []byte) (string, error) {
	var resp struct {
		Choices []struct {
			Message struct {
				Content any `json:"content"`
			} `json:"message"`
			Text string `json:"text"`
		} `json:"choices"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode chat completion response: %w", err)
	}
	if resp.Error != nil && strings.TrimSpace(resp.Error.Message) != "" {
		return "", fmt.Errorf("%w: %s", errProviderReported, resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("zero choices: %w", providers.ErrNoAnswer)
	}
	if resp.Choices[0].Text != "" {
		return resp.Choices[0].Text, nil
	}
	if content := anyToText(resp.Choices[0].Message.Content); strings.TrimSpace(content) != "" {
		return content, nil
	}
	return "", fmt.Errorf("missing message content: %w", providers.ErrNoAnswer)
}

func anyToText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				if txt, ok := m["text"].(string); ok {
					parts = append(parts, txt)
				}
			}
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}

func statusError(status int, body []byte) error {
	var decoded struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &decoded); err == nil && strings.TrimSpace(decoded.Error.Message) != "" {
		return fmt.Errorf("status %d: %s", status, decoded.Error.Message)
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	if msg == "" {
		return fmt.Errorf("status %d", status)
	}
	return fmt.Errorf("status %d: %s", status, msg)
}
