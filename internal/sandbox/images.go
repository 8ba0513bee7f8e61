package sandbox

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/image"
)

// resolveImage picks the spec's image, then the configured one, then the default.
func resolveImage(spec Spec, cfg Config) string {
	if spec.Image != "" {
		return spec.Image
	}
	if cfg.Image != "" {
		return cfg.Image
	}
	return DefaultImage
}

// ensureImage checks if the image exists locally, and pulls it if not.
func (p *DockerProvisioner) ensureImage(ctx context.Context, name string) error {
	if _, _, err := p.client.ImageInspectWithRaw(ctx, name); err == nil {
		return nil
	}

	p.logger.Info().Str("image", name).Msg("pulling docker image")
	reader, err := p.client.ImagePull(ctx, name, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", name, err)
	}
	defer reader.Close()

	// Drain the pull output (required for pull to complete)
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", name, err)
	}
	p.logger.Info().Str("image", name).Msg("pulled docker image")
	return nil
}
