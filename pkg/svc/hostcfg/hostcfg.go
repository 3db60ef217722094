// Package hostcfg patches host-level name resolution and container tooling
// configuration so the platform registry hostname works from the host.
package hostcfg

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// managedMarker tags the lines this tool owns so removal never touches user
// entries.
const managedMarker = "# added by kindenv"

const (
	hostsFileMode    = 0o644
	registryFileMode = 0o644
	registryDirMode  = 0o755
)

// EnsureHostsEntry appends a loopback mapping for hostname to the hosts file
// unless some entry already resolves it. Running twice never produces a second
// line.
func EnsureHostsEntry(path, hostname string) error {
	content, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read hosts file %s: %w", path, err)
	}

	if hostsContainEntry(string(content), hostname) {
		return nil
	}

	var builder strings.Builder

	builder.Write(content)

	if len(content) > 0 && !strings.HasSuffix(string(content), "\n") {
		builder.WriteString("\n")
	}

	builder.WriteString(fmt.Sprintf("127.0.0.1 %s %s\n", hostname, managedMarker))

	err = os.WriteFile(path, []byte(builder.String()), hostsFileMode)
	if err != nil {
		return fmt.Errorf("failed to write hosts file %s: %w", path, err)
	}

	return nil
}

// RemoveHostsEntry deletes the managed mapping for hostname from the hosts
// file. Entries not added by this tool are left alone.
func RemoveHostsEntry(path, hostname string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("failed to read hosts file %s: %w", path, err)
	}

	lines := strings.Split(string(content), "\n")
	kept := make([]string, 0, len(lines))

	for _, line := range lines {
		if strings.Contains(line, managedMarker) && lineResolvesHost(line, hostname) {
			continue
		}

		kept = append(kept, line)
	}

	err = os.WriteFile(path, []byte(strings.Join(kept, "\n")), hostsFileMode)
	if err != nil {
		return fmt.Errorf("failed to write hosts file %s: %w", path, err)
	}

	return nil
}

// WriteInsecureRegistryConfig writes a declarative registries.conf.d drop-in
// marking the given registry locations as insecure, so host-side container
// tools accept the plain-HTTP local registry.
func WriteInsecureRegistryConfig(path string, locations []string) error {
	err := os.MkdirAll(filepath.Dir(path), registryDirMode)
	if err != nil {
		return fmt.Errorf("failed to create registry config directory: %w", err)
	}

	var builder strings.Builder

	builder.WriteString(managedMarker + "\n")

	for _, location := range locations {
		builder.WriteString("\n[[registry]]\n")
		builder.WriteString(fmt.Sprintf("location = %q\n", location))
		builder.WriteString("insecure = true\n")
	}

	err = os.WriteFile(path, []byte(builder.String()), registryFileMode)
	if err != nil {
		return fmt.Errorf("failed to write registry config %s: %w", path, err)
	}

	return nil
}

// RemoveInsecureRegistryConfig deletes the registries.conf.d drop-in. A
// missing file is not an error.
func RemoveInsecureRegistryConfig(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove registry config %s: %w", path, err)
	}

	return nil
}

// hostsContainEntry reports whether any active line in the hosts content
// already resolves hostname.
func hostsContainEntry(content, hostname string) bool {
	for _, line := range strings.Split(content, "\n") {
		if lineResolvesHost(line, hostname) {
			return true
		}
	}

	return false
}

// lineResolvesHost reports whether a hosts line maps hostname, ignoring
// comments and matching whole fields only.
func lineResolvesHost(line, hostname string) bool {
	if idx := strings.Index(line, "#"); idx >= 0 {
		line = line[:idx]
	}

	fields := strings.Fields(line)
	if len(fields) < 2 {
		return false
	}

	return slices.Contains(fields[1:], hostname)
}
