// Package config loads cpta's layered configuration: built-in defaults, an
// optional cpta.yaml, and CPTA_* environment variables, in increasing
// precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JacobLinCool/cpta/internal/providers"
	"github.com/JacobLinCool/cpta/internal/sandbox"
)

// FileName is the config file name without extension.
const FileName = "cpta"

type SandboxConfig struct {
	Mode      string `mapstructure:"mode" yaml:"mode"`
	Image     string `mapstructure:"image" yaml:"image"`
	CPUQuota  int64  `mapstructure:"cpu_quota" yaml:"cpu_quota"`
	Memory    string `mapstructure:"memory" yaml:"memory"`
	TmpfsSize string `mapstructure:"tmpfs_size" yaml:"tmpfs_size"`
	MaxOutput string `mapstructure:"max_output" yaml:"max_output"`
}

type LLMConfig struct {
	Provider  string `mapstructure:"provider" yaml:"provider"`
	Model     string `mapstructure:"model" yaml:"model,omitempty"`
	APIKey    string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	BaseURL   string `mapstructure:"base_url" yaml:"base_url,omitempty"`
	MaxTokens int    `mapstructure:"max_tokens" yaml:"max_tokens,omitempty"`
}

type LedgerConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

type WatchConfig struct {
	Quiet time.Duration `mapstructure:"quiet" yaml:"quiet"`
}

// Config is the resolved configuration.
type Config struct {
	Root        string        `mapstructure:"root" yaml:"root"`
	Cases       string        `mapstructure:"cases" yaml:"cases"`
	Build       string        `mapstructure:"build" yaml:"build"`
	Concurrency int           `mapstructure:"concurrency" yaml:"concurrency"`
	StepTimeout time.Duration `mapstructure:"step_timeout" yaml:"step_timeout"`
	LogLevel    string        `mapstructure:"log_level" yaml:"log_level"`
	Sandbox     SandboxConfig `mapstructure:"sandbox" yaml:"sandbox"`
	LLM         LLMConfig     `mapstructure:"llm" yaml:"llm"`
	Ledger      LedgerConfig  `mapstructure:"ledger" yaml:"ledger"`
	Watch       WatchConfig   `mapstructure:"watch" yaml:"watch"`
}

// Default returns the built-in configuration.
func Default() *Config {
	sb := sandbox.DefaultConfig()
	return &Config{
		Root:        "./.works",
		Cases:       "./.cases",
		Build:       "./.build",
		Concurrency: 1,
		StepTimeout: 30 * time.Second,
		LogLevel:    "info",
		Sandbox: SandboxConfig{
			Mode:      string(sb.Mode),
			Image:     sb.Image,
			CPUQuota:  sb.CPUQuota,
			Memory:    sb.Memory,
			TmpfsSize: sb.TmpfsSize,
			MaxOutput: sb.MaxOutput,
		},
		LLM:    LLMConfig{Provider: "openai"},
		Ledger: LedgerConfig{Enabled: true, Path: defaultLedgerPath()},
		Watch:  WatchConfig{Quiet: 2 * time.Second},
	}
}

func defaultLedgerPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(".", ".cpta", "ledger.db")
	}
	return filepath.Join(dir, "cpta", "ledger.db")
}

// Load resolves the configuration. An explicit file must exist; otherwise
// cpta.yaml is looked up in the working directory and then in dirs. The
// returned path is the file that was read, or "" if none was.
func Load(file string, dirs ...string) (*Config, string, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(".")
		for _, d := range dirs {
			v.AddConfigPath(d)
		}
	}

	setDefaults(v, Default())

	v.SetEnvPrefix("CPTA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, "", fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return &cfg, v.ConfigFileUsed(), nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("root", d.Root)
	v.SetDefault("cases", d.Cases)
	v.SetDefault("build", d.Build)
	v.SetDefault("concurrency", d.Concurrency)
	v.SetDefault("step_timeout", d.StepTimeout)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("sandbox.mode", d.Sandbox.Mode)
	v.SetDefault("sandbox.image", d.Sandbox.Image)
	v.SetDefault("sandbox.cpu_quota", d.Sandbox.CPUQuota)
	v.SetDefault("sandbox.memory", d.Sandbox.Memory)
	v.SetDefault("sandbox.tmpfs_size", d.Sandbox.TmpfsSize)
	v.SetDefault("sandbox.max_output", d.Sandbox.MaxOutput)
	v.SetDefault("llm.provider", d.LLM.Provider)
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.api_key", d.LLM.APIKey)
	v.SetDefault("llm.base_url", d.LLM.BaseURL)
	v.SetDefault("llm.max_tokens", d.LLM.MaxTokens)
	v.SetDefault("ledger.enabled", d.Ledger.Enabled)
	v.SetDefault("ledger.path", d.Ledger.Path)
	v.SetDefault("watch.quiet", d.Watch.Quiet)
}

// Validate checks values that would otherwise fail deep inside a batch.
func (c *Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.StepTimeout <= 0 {
		return fmt.Errorf("step_timeout must be positive, got %s", c.StepTimeout)
	}
	if _, err := sandbox.ParseMode(c.Sandbox.Mode); err != nil {
		return err
	}
	return nil
}

// SandboxLimits converts the sandbox section into provisioner limits.
func (c *Config) SandboxLimits() sandbox.Config {
	sb := sandbox.DefaultConfig()
	sb.Mode, _ = sandbox.ParseMode(c.Sandbox.Mode)
	if c.Sandbox.Image != "" {
		sb.Image = c.Sandbox.Image
	}
	if c.Sandbox.CPUQuota > 0 {
		sb.CPUQuota = c.Sandbox.CPUQuota
	}
	if c.Sandbox.Memory != "" {
		sb.Memory = c.Sandbox.Memory
	}
	if c.Sandbox.TmpfsSize != "" {
		sb.TmpfsSize = c.Sandbox.TmpfsSize
	}
	sb.MaxOutput = c.Sandbox.MaxOutput
	return sb
}

// Providers converts the llm section, filling gaps from the provider's
// environment variables.
func (c *Config) Providers() providers.Config {
	return providers.ConfigFromEnv(providers.Config{
		Provider:  c.LLM.Provider,
		Model:     c.LLM.Model,
		APIKey:    c.LLM.APIKey,
		BaseURL:   c.LLM.BaseURL,
		MaxTokens: c.LLM.MaxTokens,
	})
}
