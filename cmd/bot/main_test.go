package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLogLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"WARNING": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLogLevel(in); got != want {
			t.Fatalf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSanitizeTelegramErr(t *testing.T) {
	token := "12345:secret-token"
	err := errors.New(`Post "https://api.telegram.org/bot12345:secret-token/getMe": dial tcp: timeout`)
	got := sanitizeTelegramErr(err, token)
	if strings.Contains(got, "secret-token") {
		t.Fatalf("token leaked: %q", got)
	}
	if sanitizeTelegramErr(nil, token) != "" {
		t.Fatalf("nil error should render empty")
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if strings.TrimSpace(out.String()) != "threadbot "+version {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestRootRejectsUnknownProviderFlag(t *testing.T) {
	t.Setenv("BOT_TOKEN", "1:x")
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--llm-service", "anthropic"})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "LLM_PROVIDER") {
		t.Fatalf("expected provider validation error, got %v", err)
	}
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	healthHandler(fakePinger{}, nil)(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("unexpected healthy response %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	healthHandler(fakePinger{err: errors.New("down")}, nil)(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
