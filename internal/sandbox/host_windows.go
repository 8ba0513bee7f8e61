//go:build windows

package sandbox

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

var errHostUnsupported = errors.New("host sandbox is not supported on windows")

// HostProvisioner is unavailable on Windows.
type HostProvisioner struct{}

func NewHostProvisioner(Config, zerolog.Logger) (*HostProvisioner, error) {
	return nil, errHostUnsupported
}

func (p *HostProvisioner) Create(context.Context, Spec) (Sandbox, error) {
	return nil, errHostUnsupported
}
