package registry

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"threadbot/internal/providers"
	"threadbot/internal/providers/openai_compat"
	"threadbot/internal/providers/stub"
)

var defaultBaseURLs = map[string]string{
	providers.KindOpenAI: "https://api.openai.com/v1",
	providers.KindGroq:   "https://api.groq.com/openai/v1",
}

type Credential struct {
	APIKey  string
	BaseURL string
}

type BuildOptions struct {
	Kind       string
	Model      string
	Credential Credential
	MaxTokens  int
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Build constructs the backend variant named by opts.Kind. Invalid
// selections fail here, before any request is made.
func Build(opts BuildOptions) (providers.Completion, error) {
	kind := providers.NormalizeKind(opts.Kind)
	if err := providers.ValidateModel(opts.Kind, opts.Model); err != nil {
		return nil, err
	}

	switch kind {
	case providers.KindOpenAI, providers.KindGroq:
		if strings.TrimSpace(opts.Credential.APIKey) == "" {
			return nil, &providers.ConfigError{Provider: kind, Field: "api key", Reason: "credential is not configured"}
		}
		baseURL := opts.Credential.BaseURL
		if strings.TrimSpace(baseURL) == "" {
			baseURL = defaultBaseURLs[kind]
		}
		return openai_compat.New(openai_compat.Config{
			Name:       providers.DisplayName(kind),
			BaseURL:    baseURL,
			APIKey:     opts.Credential.APIKey,
			Model:      opts.Model,
			MaxTokens:  opts.MaxTokens,
			HTTPClient: opts.HTTPClient,
		}), nil

	case providers.KindStub:
		return stub.New(opts.Model, opts.Logger), nil

	default:
		return nil, &providers.ConfigError{Field: "provider", Reason: "unsupported provider " + opts.Kind}
	}
}

// Selector binds the process-wide provider choice and credentials; each
// Select call builds a fresh backend for one bot's model selection.
type Selector struct {
	kind        string
	credentials map[string]Credential
	maxTokens   int
	httpClient  *http.Client
	logger      zerolog.Logger
}

type SelectorConfig struct {
	Kind        string
	Credentials map[string]Credential
	MaxTokens   int
	HTTPClient  *http.Client
	Logger      zerolog.Logger
}

func NewSelector(cfg SelectorConfig) (*Selector, error) {
	kind := providers.NormalizeKind(cfg.Kind)
	if kind == "" {
		return nil, &providers.ConfigError{Field: "provider", Reason: "unsupported provider " + cfg.Kind}
	}
	creds := make(map[string]Credential, len(cfg.Credentials))
	for k, v := range cfg.Credentials {
		creds[providers.NormalizeKind(k)] = v
	}
	if kind != providers.KindStub && strings.TrimSpace(creds[kind].APIKey) == "" {
		return nil, &providers.ConfigError{Provider: kind, Field: "api key", Reason: "credential is not configured"}
	}
	return &Selector{
		kind:        kind,
		credentials: creds,
		maxTokens:   cfg.MaxTokens,
		httpClient:  cfg.HTTPClient,
		logger:      cfg.Logger,
	}, nil
}

func (s *Selector) Active() string {
	return s.kind
}

func (s *Selector) Select(models providers.ModelSelection) (providers.Completion, error) {
	return Build(BuildOptions{
		Kind:       s.kind,
		Model:      models.Get(s.kind),
		Credential: s.credentials[s.kind],
		MaxTokens:  s.maxTokens,
		HTTPClient: s.httpClient,
		Logger:     s.logger,
	})
}
