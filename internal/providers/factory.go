package providers

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// Config selects and configures a provider. Empty fields fall back to the
// provider's preset.
type Config struct {
	Provider  string
	Model     string
	APIKey    string
	BaseURL   string
	MaxTokens int
}

type preset struct {
	model   string
	baseURL string
	// localKey is sent when no key is configured. Providers without one
	// require a key.
	localKey  string
	anthropic bool
}

var presets = map[string]preset{
	"openai":    {model: "gpt-4o-mini"},
	"anthropic": {model: "claude-3-5-haiku-latest", anthropic: true},
	"kimi":      {model: "kimi-k2-250711", baseURL: "https://ark.ap-southeast.bytepluses.com/api/v3"},
	"gemini":    {model: "gemini-1.5-flash", baseURL: "https://generativelanguage.googleapis.com/v1beta/openai"},
	"lmstudio":  {model: "local-model", baseURL: "http://localhost:1234/v1", localKey: "lm-studio"},
	"ollama":    {model: "llama3.1", baseURL: "http://localhost:11434/v1", localKey: "ollama"},
	"glm":       {model: "glm-4-plus", baseURL: "https://open.bigmodel.cn/api/paas/v4"},
	"minimax":   {model: "abab6.5s-chat", baseURL: "https://api.minimax.chat/v1"},
	"deepseek":  {model: "deepseek-chat", baseURL: "https://api.deepseek.com/v1"},
	"groq":      {model: "llama-3.1-70b-versatile", baseURL: "https://api.groq.com/openai/v1"},
}

// Names lists the supported providers.
func Names() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New creates the completer described by cfg. The provider defaults to
// openai.
func New(cfg Config) (Completer, error) {
	name := strings.ToLower(cfg.Provider)
	if name == "" {
		name = "openai"
	}
	p, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("unknown LLM provider: %s (supported: %s)", cfg.Provider, strings.Join(Names(), ", "))
	}

	model := cfg.Model
	if model == "" {
		model = p.model
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = p.baseURL
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = p.localKey
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%s_API_KEY not set", strings.ToUpper(name))
	}

	if p.anthropic {
		return NewAnthropicClient(apiKey, model, baseURL, cfg.MaxTokens), nil
	}
	return NewOpenAIClient(apiKey, model, baseURL, cfg.MaxTokens), nil
}

// ConfigFromEnv reads LLM_PROVIDER and the provider's <NAME>_API_KEY,
// <NAME>_MODEL and <NAME>_BASE_URL. Fields already set in base win.
func ConfigFromEnv(base Config) Config {
	return configFrom(base, os.Getenv)
}

func configFrom(base Config, getenv func(string) string) Config {
	cfg := base
	if cfg.Provider == "" {
		cfg.Provider = getenv("LLM_PROVIDER")
	}
	if cfg.Provider == "" {
		cfg.Provider = "openai"
	}
	prefix := strings.ToUpper(cfg.Provider) + "_"
	if cfg.APIKey == "" {
		cfg.APIKey = getenv(prefix + "API_KEY")
	}
	if cfg.Model == "" {
		cfg.Model = getenv(prefix + "MODEL")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = getenv(prefix + "BASE_URL")
	}
	return cfg
}
