package sandbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/go-units"
	"github.com/rs/zerolog"
)

// Mode represents the sandbox execution mode.
type Mode string

const (
	// ModeDocker uses Docker containers for isolation.
	ModeDocker Mode = "docker"
	// ModeHost runs commands directly on the host (no isolation).
	ModeHost Mode = "host"
	// ModeAuto selects Docker if the daemon answers, otherwise falls back to host.
	ModeAuto Mode = "auto"
)

// ParseMode converts a mode name into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeDocker:
		return ModeDocker, nil
	case ModeHost:
		return ModeHost, nil
	default:
		return "", fmt.Errorf("unknown sandbox mode %q (supported: docker, host, auto)", s)
	}
}

// Config holds the fixed resource limits applied to every sandbox.
type Config struct {
	Mode        Mode
	Image       string // Default image when a Spec does not name one
	CPUPeriod   int64  // CFS period in microseconds
	CPUQuota    int64  // CFS quota in microseconds per period
	Memory      string // Memory and memory+swap cap (e.g. "1g")
	TmpfsSize   string // Size of the /workspace and /tmp overlays
	StopTimeout int    // Seconds the engine waits before killing on stop
	MaxOutput   string // Cap on captured stdout/stderr per stream
}

// DefaultConfig returns the limits every grading sandbox runs with.
func DefaultConfig() Config {
	return Config{
		Mode:        ModeAuto,
		Image:       DefaultImage,
		CPUPeriod:   100000,
		CPUQuota:    100000,
		Memory:      "1g",
		TmpfsSize:   "1g",
		StopTimeout: 600,
		MaxOutput:   "16m",
	}
}

// limits is Config with the size strings resolved to bytes.
type limits struct {
	memory    int64
	tmpfs     int64
	maxOutput int64
}

func (c Config) limits() (limits, error) {
	var l limits
	var err error
	if l.memory, err = units.RAMInBytes(orDefault(c.Memory, "1g")); err != nil {
		return l, fmt.Errorf("invalid memory limit %q: %w", c.Memory, err)
	}
	if l.tmpfs, err = units.RAMInBytes(orDefault(c.TmpfsSize, "1g")); err != nil {
		return l, fmt.Errorf("invalid tmpfs size %q: %w", c.TmpfsSize, err)
	}
	if c.MaxOutput != "" {
		if l.maxOutput, err = units.RAMInBytes(c.MaxOutput); err != nil {
			return l, fmt.Errorf("invalid output limit %q: %w", c.MaxOutput, err)
		}
	}
	return l, nil
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// NewProvisioner returns a provisioner for cfg.Mode:
// - "docker": Docker only, failing if the daemon is unreachable
// - "host": host processes (no isolation)
// - "auto": Docker if reachable, otherwise host
func NewProvisioner(ctx context.Context, cfg Config, logger zerolog.Logger) (Provisioner, error) {
	switch cfg.Mode {
	case ModeDocker:
		return NewDockerProvisioner(ctx, cfg, logger)

	case ModeHost:
		logger.Warn().Msg("using host sandbox (no isolation); only use this for development")
		return NewHostProvisioner(cfg, logger)

	case ModeAuto, "":
		docker, err := NewDockerProvisioner(ctx, cfg, logger)
		if err == nil {
			return docker, nil
		}
		logger.Warn().Err(err).Msg("docker not available, falling back to host sandbox (no isolation)")
		return NewHostProvisioner(cfg, logger)

	default:
		return nil, fmt.Errorf("unknown sandbox mode: %s", cfg.Mode)
	}
}
