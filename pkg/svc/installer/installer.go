// Package installer defines the contract for cluster infrastructure
// components installed during environment bootstrap.
package installer

import (
	"context"
	"time"
)

// DefaultInstallTimeout is the default timeout for component installation.
const DefaultInstallTimeout = 5 * time.Minute

// Installer defines methods for installing and uninstalling components.
type Installer interface {
	// Install installs the component and waits until it is ready.
	Install(ctx context.Context) error

	// Uninstall removes the component.
	Uninstall(ctx context.Context) error
}
