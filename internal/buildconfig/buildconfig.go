// Package buildconfig loads the optional per-assignment build configuration.
//
// A build config directory may contain:
//
//	mount/      files restored into the sandbox before the submission
//	.env        KEY=VALUE lines exported to the build
//	build.toml  image, command and timeout overrides
package buildconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const (
	MountDirName = "mount"
	EnvFile      = ".env"
	SettingsFile = "build.toml"
)

// Config is a loaded build configuration.
type Config struct {
	Dir string
	// MountDir is empty when the directory has no mount/.
	MountDir string
	// Env is sorted KEY=VALUE pairs from .env.
	Env []string
	// Image overrides the sandbox image when set.
	Image string
	// Command overrides the build command when set.
	Command []string
	// Timeout overrides the build timeout when positive.
	Timeout time.Duration
}

type settings struct {
	Image   string   `toml:"image"`
	Command []string `toml:"command"`
	Timeout string   `toml:"timeout"`
}

// Load reads the build configuration in dir. It fails if dir is missing.
func Load(dir string) (*Config, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("build config %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("build config %s is not a directory", dir)
	}

	cfg := &Config{Dir: dir}

	mount := filepath.Join(dir, MountDirName)
	if info, err := os.Stat(mount); err == nil && info.IsDir() {
		cfg.MountDir = mount
	}

	envPath := filepath.Join(dir, EnvFile)
	vars, err := godotenv.Read(envPath)
	switch {
	case err == nil:
		cfg.Env = envList(vars)
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to parse %s: %w", envPath, err)
	}

	settingsPath := filepath.Join(dir, SettingsFile)
	data, err := os.ReadFile(settingsPath)
	switch {
	case err == nil:
		if err := cfg.applySettings(settingsPath, data); err != nil {
			return nil, err
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read %s: %w", settingsPath, err)
	}

	return cfg, nil
}

func (c *Config) applySettings(path string, data []byte) error {
	var s settings
	if err := toml.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	c.Image = s.Image
	c.Command = s.Command
	if s.Timeout != "" {
		d, err := time.ParseDuration(s.Timeout)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid timeout %q in %s", s.Timeout, path)
		}
		c.Timeout = d
	}
	return nil
}

// Restores returns the host paths this config contributes to a build
// sandbox, applied before the submission's own files.
func (c *Config) Restores() []string {
	if c == nil || c.MountDir == "" {
		return nil
	}
	return []string{c.MountDir}
}

func envList(vars map[string]string) []string {
	env := make([]string, 0, len(vars))
	for k, v := range vars {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}
