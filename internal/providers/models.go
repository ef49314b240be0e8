package providers

import (
	"fmt"
	"sort"
	"strings"
)

const (
	KindOpenAI = "openai"
	KindGroq   = "groq"
	KindStub   = "stub"
)

// catalog lists the selectable models per provider; the first entry is the
// default given to newly created bots.
var catalog = map[string][]string{
	KindOpenAI: {"gpt-3.5-turbo", "gpt-4o-mini", "gpt-4o"},
	KindGroq:   {"llama3-70b-8192", "llama3-8b-8192"},
	KindStub:   {"bright"},
}

var displayNames = map[string]string{
	KindOpenAI: "OpenAI",
	KindGroq:   "Groq",
	KindStub:   "Stub",
}

// ModelSelection maps a provider kind to the model a bot uses with it.
type ModelSelection map[string]string

func (m ModelSelection) Get(kind string) string {
	if m == nil {
		return ""
	}
	return m[NormalizeKind(kind)]
}

func NormalizeKind(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "openai", "open_ai", "open-ai":
		return KindOpenAI
	case "groq":
		return KindGroq
	case "stub", "mock", "local":
		return KindStub
	default:
		return ""
	}
}

func Kinds() []string {
	out := make([]string, 0, len(catalog))
	for k := range catalog {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func Models(kind string) []string {
	models := catalog[NormalizeKind(kind)]
	out := make([]string, len(models))
	copy(out, models)
	return out
}

func DefaultModel(kind string) string {
	models := catalog[NormalizeKind(kind)]
	if len(models) == 0 {
		return ""
	}
	return models[0]
}

func DefaultSelection() ModelSelection {
	sel := ModelSelection{}
	for kind := range catalog {
		sel[kind] = DefaultModel(kind)
	}
	return sel
}

func KnownModel(kind, model string) bool {
	for _, m := range catalog[NormalizeKind(kind)] {
		if m == model {
			return true
		}
	}
	return false
}

func DisplayName(kind string) string {
	if name, ok := displayNames[NormalizeKind(kind)]; ok {
		return name
	}
	return kind
}

// ValidateModel checks a model selection against the provider catalog.
func ValidateModel(kind, model string) error {
	k := NormalizeKind(kind)
	if k == "" {
		return &ConfigError{Field: "provider", Reason: fmt.Sprintf("unsupported provider %q", kind)}
	}
	if strings.TrimSpace(model) == "" {
		return &ConfigError{Provider: k, Field: "model", Reason: "no model selected"}
	}
	if !KnownModel(k, model) {
		return &ConfigError{Provider: k, Field: "model", Reason: fmt.Sprintf("unknown model %q", model)}
	}
	return nil
}
