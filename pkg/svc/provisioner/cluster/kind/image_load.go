package kindprovisioner

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/buildforge/kindenv/pkg/client/docker"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

const nodeImportPath = "/tmp/kindenv-image-import.tar"

// LoadImageIntoNodes exports the named image from the local Docker daemon and
// imports it into the containerd store of every node in the cluster, so pods
// can run it without a registry pull.
func LoadImageIntoNodes(
	ctx context.Context,
	dockerClient client.APIClient,
	clusterName string,
	imageTag string,
) error {
	nodes, err := listClusterNodes(ctx, dockerClient, clusterName)
	if err != nil {
		return err
	}

	if len(nodes) == 0 {
		return fmt.Errorf("%w: cluster %s", ErrNoClusterNodes, clusterName)
	}

	archivePath, err := saveImageArchive(ctx, dockerClient, imageTag)
	if err != nil {
		return err
	}

	defer func() { _ = os.Remove(archivePath) }()

	executor := docker.NewContainerExecutor(dockerClient)

	for _, node := range nodes {
		err = importImageToNode(ctx, dockerClient, executor, node, archivePath)
		if err != nil {
			return fmt.Errorf("failed to load image %s into node %s: %w", imageTag, node, err)
		}
	}

	return nil
}

// saveImageArchive streams the image export into a temp file and returns its
// path. The archive can reach hundreds of megabytes, so it never sits in
// memory. The caller removes the file when done.
func saveImageArchive(
	ctx context.Context,
	dockerClient client.APIClient,
	imageTag string,
) (string, error) {
	reader, err := dockerClient.ImageSave(ctx, []string{imageTag})
	if err != nil {
		return "", fmt.Errorf("failed to save image %s: %w", imageTag, err)
	}

	defer func() { _ = reader.Close() }()

	archiveFile, err := os.CreateTemp("", "kindenv-image-*.tar")
	if err != nil {
		return "", fmt.Errorf("failed to create image archive file: %w", err)
	}

	_, err = io.Copy(archiveFile, reader)
	if err != nil {
		_ = archiveFile.Close()
		_ = os.Remove(archiveFile.Name())

		return "", fmt.Errorf("failed to write image archive for %s: %w", imageTag, err)
	}

	err = archiveFile.Close()
	if err != nil {
		_ = os.Remove(archiveFile.Name())

		return "", fmt.Errorf("failed to close image archive file: %w", err)
	}

	return archiveFile.Name(), nil
}

// importImageToNode copies the image archive into the node container and
// imports it into containerd's k8s.io namespace.
func importImageToNode(
	ctx context.Context,
	dockerClient client.APIClient,
	executor *docker.ContainerExecutor,
	nodeName string,
	archivePath string,
) error {
	err := copyFileToContainer(ctx, dockerClient, nodeName, nodeImportPath, archivePath)
	if err != nil {
		return fmt.Errorf("failed to copy image archive to node: %w", err)
	}

	// --all-platforms is deliberately omitted: multi-platform manifests may
	// reference layers the archive does not carry.
	cmd := []string{
		"ctr", "--namespace=k8s.io", "images", "import",
		"--digests",
		nodeImportPath,
	}

	_, err = executor.Exec(ctx, nodeName, cmd, nil)
	if err != nil {
		return fmt.Errorf("ctr import failed: %w", err)
	}

	_, _ = executor.Exec(ctx, nodeName, []string{"rm", "-f", nodeImportPath}, nil)

	return nil
}

// copyFileToContainer streams the file at srcPath to dstPath inside the
// container as a single-entry tar.
func copyFileToContainer(
	ctx context.Context,
	dockerClient client.APIClient,
	containerName string,
	dstPath string,
	srcPath string,
) error {
	srcFile, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", srcPath, err)
	}

	defer func() { _ = srcFile.Close() }()

	info, err := srcFile.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", srcPath, err)
	}

	pipeReader, pipeWriter := io.Pipe()

	go func() {
		tarWriter := tar.NewWriter(pipeWriter)

		header := &tar.Header{
			Name: filepath.Base(dstPath),
			Mode: 0o644,
			Size: info.Size(),
		}

		err := tarWriter.WriteHeader(header)
		if err == nil {
			_, err = io.Copy(tarWriter, srcFile)
		}

		if err == nil {
			err = tarWriter.Close()
		}

		_ = pipeWriter.CloseWithError(err)
	}()

	defer func() { _ = pipeReader.Close() }()

	err = dockerClient.CopyToContainer(
		ctx,
		containerName,
		filepath.Dir(dstPath),
		pipeReader,
		container.CopyToContainerOptions{},
	)
	if err != nil {
		return fmt.Errorf("failed to copy to container: %w", err)
	}

	return nil
}
