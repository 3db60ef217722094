package docker

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
)

// ImageBuilder builds and pushes the operator image via the Docker daemon.
type ImageBuilder struct {
	client client.APIClient
	output io.Writer
}

// NewImageBuilder creates an image builder. Build and push progress is
// streamed to output.
func NewImageBuilder(dockerClient client.APIClient, output io.Writer) *ImageBuilder {
	if output == nil {
		output = io.Discard
	}

	return &ImageBuilder{client: dockerClient, output: output}
}

// BuildImage builds the image at contextDir for the given platform and tags it
// with tag. The Dockerfile path is relative to the context directory.
func (b *ImageBuilder) BuildImage(
	ctx context.Context,
	contextDir string,
	dockerfile string,
	tag string,
	platform string,
) error {
	buildContext, err := archive.TarWithOptions(contextDir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("failed to create build context tar: %w", err)
	}
	defer func() { _ = buildContext.Close() }()

	resp, err := b.client.ImageBuild(ctx, buildContext, build.ImageBuildOptions{
		Tags:       []string{tag},
		Dockerfile: dockerfile,
		Platform:   platform,
		Remove:     true,
	})
	if err != nil {
		return fmt.Errorf("failed to build image %s: %w", tag, err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Drain output so the build is not blocked on the stream.
	_, err = io.Copy(b.output, resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read build output: %w", err)
	}

	return nil
}

// PushImage pushes tag to its registry. The local registry accepts any
// credentials, so a fixed placeholder auth is sent.
func (b *ImageBuilder) PushImage(ctx context.Context, tag string) error {
	authConfig := registry.AuthConfig{
		Username: "kindenv",
		Password: "kindenv",
	}

	encodedAuth, err := registry.EncodeAuthConfig(authConfig)
	if err != nil {
		return fmt.Errorf("failed to encode registry auth: %w", err)
	}

	reader, err := b.client.ImagePush(ctx, tag, image.PushOptions{
		RegistryAuth: encodedAuth,
	})
	if err != nil {
		return fmt.Errorf("failed to push image %s: %w", tag, err)
	}

	_, err = io.Copy(b.output, reader)
	closeErr := reader.Close()

	if err != nil {
		return fmt.Errorf("failed to read push output: %w", err)
	}

	if closeErr != nil {
		return fmt.Errorf("failed to close push reader: %w", closeErr)
	}

	return nil
}
