package stub

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"threadbot/internal/providers"
)

const Answer = "Mocked answer"

// Client answers every request locally with a fixed reply. It is the
// fallback backend when no provider credentials are configured.
type Client struct {
	model  string
	logger zerolog.Logger
}

func New(model string, logger zerolog.Logger) *Client {
	return &Client{model: model, logger: logger}
}

var _ providers.Completion = (*Client)(nil)

func (c *Client) Describe() string {
	return fmt.Sprintf("Bot uses %s with %s", providers.DisplayName(providers.KindStub), c.model)
}

func (c *Client) Complete(ctx context.Context, messages []providers.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", providers.NewBackendError(providers.DisplayName(providers.KindStub), "request canceled", err)
	}
	for i, m := range messages {
		c.logger.Debug().Int("index", i).Str("role", m.Role).Str("content", m.Content).Msg("stub request message")
	}
	return Answer, nil
}
