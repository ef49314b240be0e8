package providers

import (
	"context"
	"errors"
	"fmt"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var ErrNoAnswer = errors.New("no answer")

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completion is implemented by every backend variant. Implementations are
// built per call and hold no session state.
type Completion interface {
	Complete(ctx context.Context, messages []Message) (string, error)
	Describe() string
}

// BackendError reports a failed completion call: transport, auth, bad or
// empty provider response, provider-reported error or an expired deadline.
type BackendError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *BackendError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Reason, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

func NewBackendError(provider, reason string, err error) *BackendError {
	return &BackendError{Provider: provider, Reason: reason, Err: err}
}

// ConfigError is returned while constructing a backend: unknown provider,
// missing credential or a model selection the provider does not offer.
type ConfigError struct {
	Provider string
	Field    string
	Reason   string
}

func (e *ConfigError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: invalid %s: %s", e.Provider, e.Field, e.Reason)
}
