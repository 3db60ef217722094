// Package kindprovisioner manages the lifecycle of the ephemeral kind cluster
// using kind's own cobra commands.
package kindprovisioner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/buildforge/kindenv/pkg/runner"
	"sigs.k8s.io/kind/pkg/apis/config/v1alpha4"
	kindcmd "sigs.k8s.io/kind/pkg/cmd"
	createcluster "sigs.k8s.io/kind/pkg/cmd/kind/create/cluster"
	deletecluster "sigs.k8s.io/kind/pkg/cmd/kind/delete/cluster"
	getclusters "sigs.k8s.io/kind/pkg/cmd/kind/get/clusters"
	"sigs.k8s.io/kind/pkg/log"
	"sigs.k8s.io/yaml"
)

// streamLogger adapts an io.Writer to kind's logger interface so kind's
// console output is displayed in real time. Only info-level messages (V(0))
// are enabled.
type streamLogger struct {
	writer io.Writer
}

func (l *streamLogger) Warn(message string) {
	l.write(message)
}

func (l *streamLogger) Warnf(format string, args ...any) {
	l.write(fmt.Sprintf(format, args...))
}

func (l *streamLogger) Error(message string) {
	l.write(message)
}

func (l *streamLogger) Errorf(format string, args ...any) {
	l.write(fmt.Sprintf(format, args...))
}

// noopInfoLogger discards verbose messages (V(1) and higher).
type noopInfoLogger struct{}

func (noopInfoLogger) Info(string)          {}
func (noopInfoLogger) Infof(string, ...any) {}
func (noopInfoLogger) Enabled() bool        { return false }

func (l *streamLogger) V(level log.Level) log.InfoLogger {
	if level > 0 {
		return noopInfoLogger{}
	}

	return l
}

func (l *streamLogger) Info(message string) {
	l.write(message)
}

func (l *streamLogger) Infof(format string, args ...any) {
	l.write(fmt.Sprintf(format, args...))
}

func (l *streamLogger) Enabled() bool {
	return true
}

func (l *streamLogger) write(message string) {
	if l == nil {
		return
	}

	if message == "" {
		_, _ = io.WriteString(l.writer, "\n")

		return
	}

	if strings.ContainsRune(message, '\r') || strings.HasSuffix(message, "\n") {
		_, _ = io.WriteString(l.writer, message)

		return
	}

	_, _ = io.WriteString(l.writer, message+"\n")
}

// Provisioner provisions and tears down the kind cluster via kind's cobra
// commands.
type Provisioner struct {
	clusterName    string
	kubeconfigPath string
	runner         runner.CommandRunner
	stdout         io.Writer
	stderr         io.Writer
}

// NewProvisioner constructs a Provisioner for the named cluster. The
// kubeconfig is written to kubeconfigPath on creation.
func NewProvisioner(clusterName, kubeconfigPath string) *Provisioner {
	return NewProvisionerWithRunner(
		clusterName,
		kubeconfigPath,
		runner.NewCobraCommandRunner(os.Stdout, os.Stderr),
		os.Stdout,
		os.Stderr,
	)
}

// NewProvisionerWithRunner constructs a Provisioner with an explicit command
// runner and output writers, for testing.
func NewProvisionerWithRunner(
	clusterName, kubeconfigPath string,
	commandRunner runner.CommandRunner,
	stdout, stderr io.Writer,
) *Provisioner {
	return &Provisioner{
		clusterName:    clusterName,
		kubeconfigPath: kubeconfigPath,
		runner:         commandRunner,
		stdout:         stdout,
		stderr:         stderr,
	}
}

// Create creates the kind cluster. An existing cluster with the same name is
// deleted first so every run starts from a clean control plane.
func (p *Provisioner) Create(ctx context.Context) error {
	exists, err := p.Exists(ctx)
	if err != nil {
		return err
	}

	if exists {
		err = p.Delete(ctx)
		if err != nil {
			return fmt.Errorf("failed to delete stale cluster: %w", err)
		}
	}

	configPath, cleanup, err := p.writeClusterConfig()
	if err != nil {
		return err
	}
	defer cleanup()

	logger := &streamLogger{writer: p.stdout}
	streams := kindcmd.IOStreams{Out: p.stdout, ErrOut: p.stderr}

	cmd := createcluster.NewCommand(logger, streams)

	args := []string{
		"--name", p.clusterName,
		"--config", configPath,
	}
	if p.kubeconfigPath != "" {
		args = append(args, "--kubeconfig", p.kubeconfigPath)
	}

	_, err = p.runner.Run(ctx, cmd, args)
	if err != nil {
		return fmt.Errorf("failed to create kind cluster: %w", err)
	}

	return nil
}

// Delete deletes the kind cluster. Returns ErrClusterNotFound if it does not
// exist.
func (p *Provisioner) Delete(ctx context.Context) error {
	exists, err := p.Exists(ctx)
	if err != nil {
		return fmt.Errorf("failed to check cluster existence: %w", err)
	}

	if !exists {
		return fmt.Errorf("%w: %s", ErrClusterNotFound, p.clusterName)
	}

	logger := &streamLogger{writer: p.stdout}
	streams := kindcmd.IOStreams{Out: p.stdout, ErrOut: p.stderr}

	cmd := deletecluster.NewCommand(logger, streams)

	args := []string{"--name", p.clusterName}
	if p.kubeconfigPath != "" {
		args = append(args, "--kubeconfig", p.kubeconfigPath)
	}

	_, err = p.runner.Run(ctx, cmd, args)
	if err != nil {
		return fmt.Errorf("failed to delete kind cluster: %w", err)
	}

	return nil
}

// List returns the names of all kind clusters.
func (p *Provisioner) List(ctx context.Context) ([]string, error) {
	var outBuf bytes.Buffer

	logger := &streamLogger{writer: &outBuf}

	// kind's get clusters command writes names to streams.Out directly.
	streams := kindcmd.IOStreams{Out: &outBuf, ErrOut: io.Discard}

	cmd := getclusters.NewCommand(logger, streams)

	result, err := p.runner.Run(ctx, cmd, []string{})
	if err != nil {
		return nil, fmt.Errorf("failed to list kind clusters: %w", err)
	}

	const noKindClustersMsg = "No kind clusters found."

	output := outBuf.Bytes()
	if len(output) == 0 {
		output = []byte(result.Stdout)
	}

	var clusters []string

	for _, line := range bytes.Split(output, []byte("\n")) {
		name := string(bytes.TrimSpace(line))
		if name != "" && name != noKindClustersMsg {
			clusters = append(clusters, name)
		}
	}

	return clusters, nil
}

// Exists reports whether the cluster exists.
func (p *Provisioner) Exists(ctx context.Context) (bool, error) {
	clusters, err := p.List(ctx)
	if err != nil {
		return false, err
	}

	return slices.Contains(clusters, p.clusterName), nil
}

// KubeContext returns the kubeconfig context name kind assigns the cluster.
func (p *Provisioner) KubeContext() string {
	return "kind-" + p.clusterName
}

// writeClusterConfig serializes the cluster config to a temp file, as required
// by kind's cobra command. The returned cleanup removes the file.
func (p *Provisioner) writeClusterConfig() (string, func(), error) {
	tmpFile, err := os.CreateTemp("", "kindenv-config-*.yaml")
	if err != nil {
		return "", nil, fmt.Errorf("create temp config file: %w", err)
	}

	cleanup := func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpFile.Name())
	}

	configYAML, err := yaml.Marshal(p.clusterConfig())
	if err != nil {
		cleanup()

		return "", nil, fmt.Errorf("marshal kind config: %w", err)
	}

	const configFilePerms = 0o600

	err = os.WriteFile(tmpFile.Name(), configYAML, configFilePerms)
	if err != nil {
		cleanup()

		return "", nil, fmt.Errorf("write temp config file: %w", err)
	}

	return tmpFile.Name(), cleanup, nil
}

// clusterConfig returns the kind cluster config: a single control-plane node.
// Registry routing is configured after creation through containerd's hosts
// directory, so no containerd patches are needed here.
func (p *Provisioner) clusterConfig() *v1alpha4.Cluster {
	return &v1alpha4.Cluster{
		TypeMeta: v1alpha4.TypeMeta{
			Kind:       "Cluster",
			APIVersion: "kind.x-k8s.io/v1alpha4",
		},
		Name: p.clusterName,
		Nodes: []v1alpha4.Node{
			{Role: v1alpha4.ControlPlaneRole},
		},
	}
}
