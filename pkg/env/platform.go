package env

import (
	"errors"
	"fmt"
)

// ErrUnsupportedArchitecture is returned when the host CPU architecture has no
// known build platform mapping.
var ErrUnsupportedArchitecture = errors.New("unsupported host architecture")

// Platform describes the container build target derived from the host CPU
// architecture: the platform identifier passed to image builds and the
// architecture tag stamped on produced artifacts.
type Platform struct {
	// BuildPlatform is the OS/architecture pair for image builds, e.g. "linux/amd64".
	BuildPlatform string
	// ArtifactArch is the architecture tag for built artifacts, e.g. "amd64".
	ArtifactArch string
}

// ResolvePlatform maps a host CPU architecture string to its build platform.
// Only 64-bit x86 and ARM64 are supported; anything else is a configuration
// error the run cannot recover from.
func ResolvePlatform(hostArch string) (Platform, error) {
	switch hostArch {
	case "x86_64", "amd64":
		return Platform{BuildPlatform: "linux/amd64", ArtifactArch: "amd64"}, nil
	case "aarch64", "arm64":
		return Platform{BuildPlatform: "linux/arm64", ArtifactArch: "arm64"}, nil
	default:
		return Platform{}, fmt.Errorf("%w: %q", ErrUnsupportedArchitecture, hostArch)
	}
}
