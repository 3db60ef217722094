package env

import (
	"io"
	"os"
)

// Environment is the mutable orchestration context handed to every bootstrap
// step. Steps read the descriptor and record resolved runtime state for the
// steps that follow.
type Environment struct {
	Config   Config
	Platform Platform

	// RegistryIP is the registry container's address on the cluster network,
	// discovered after the cluster and the registry share that network.
	RegistryIP string

	// KubeconfigPath is the path kind wrote the cluster credentials to.
	KubeconfigPath string

	// Access holds the developer-facing outputs produced at the end of a
	// successful bootstrap.
	Access AccessInfo

	Stdout io.Writer
	Stderr io.Writer
}

// AccessInfo carries the connection details printed after bootstrap. The
// registry credentials are fixed placeholders, the local registry performs no
// authentication.
type AccessInfo struct {
	APIURL           string
	BearerToken      string
	RegistryAddr     string
	RegistryUsername string
	RegistryPassword string
}

// NewEnvironment builds the orchestration context for the given descriptor.
func NewEnvironment(cfg Config) (*Environment, error) {
	platform, err := ResolvePlatform(cfg.HostArch)
	if err != nil {
		return nil, err
	}

	return &Environment{
		Config:   cfg,
		Platform: platform,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
	}, nil
}
