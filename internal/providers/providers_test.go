package providers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		model   string
		wantErr string
	}{
		{"default provider", Config{APIKey: "k"}, "gpt-4o-mini", ""},
		{"anthropic", Config{Provider: "anthropic", APIKey: "k", Model: "claude-x"}, "claude-x", ""},
		{"local needs no key", Config{Provider: "ollama"}, "llama3.1", ""},
		{"missing key", Config{Provider: "deepseek"}, "", "DEEPSEEK_API_KEY not set"},
		{"unknown", Config{Provider: "nope", APIKey: "k"}, "", "unknown LLM provider: nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.model, c.Model())
		})
	}
}

func TestNewPicksClient(t *testing.T) {
	c, err := New(Config{Provider: "Anthropic", APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &AnthropicClient{}, c)

	c, err = New(Config{Provider: "groq", APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClient{}, c)
}

func TestConfigFromEnv(t *testing.T) {
	env := map[string]string{
		"LLM_PROVIDER":      "deepseek",
		"DEEPSEEK_API_KEY":  "secret",
		"DEEPSEEK_MODEL":    "deepseek-coder",
		"DEEPSEEK_BASE_URL": "http://proxy/v1",
	}
	cfg := configFrom(Config{Model: "pinned"}, func(k string) string { return env[k] })
	assert.Equal(t, Config{Provider: "deepseek", APIKey: "secret", Model: "pinned", BaseURL: "http://proxy/v1"}, cfg)
}

func TestAPIErrorRetryable(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"error, status code: 429, message: rate limited", true},
		{"status code: 503", true},
		{"status code: 401, invalid api key", false},
		{"status code: 400, bad request", false},
		{"dial tcp: connection refused", true},
		{"something odd", false},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			var apiErr *APIError
			require.True(t, errors.As(wrapError("openai", errors.New(tt.msg)), &apiErr))
			assert.Equal(t, tt.want, apiErr.Retryable())
		})
	}
}

type scripted struct {
	errs  []error
	calls int
}

func (s *scripted) Model() string { return "scripted" }

func (s *scripted) Complete(context.Context, string, string) (string, error) {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return "", err
	}
	return "ok", nil
}

func TestWithRetry(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}
	rateLimited := wrapError("openai", errors.New("status code: 429"))

	s := &scripted{errs: []error{rateLimited, rateLimited}}
	text, err := WithRetry(s, policy).Complete(context.Background(), "", "hi")
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, 3, s.calls)

	s = &scripted{errs: []error{rateLimited, rateLimited, rateLimited}}
	_, err = WithRetry(s, policy).Complete(context.Background(), "", "hi")
	assert.ErrorContains(t, err, "giving up after 2 retries")

	s = &scripted{errs: []error{wrapError("openai", errors.New("status code: 401"))}}
	_, err = WithRetry(s, policy).Complete(context.Background(), "", "hi")
	require.Error(t, err)
	assert.Equal(t, 1, s.calls)
	assert.Equal(t, "scripted", WithRetry(s, policy).Model())
}
