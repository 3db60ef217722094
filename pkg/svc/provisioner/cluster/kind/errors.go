package kindprovisioner

import "errors"

// ErrClusterNotFound is returned when an operation targets a cluster that does
// not exist.
var ErrClusterNotFound = errors.New("cluster not found")

// ErrNoClusterNodes is returned when a cluster has no node containers.
var ErrNoClusterNodes = errors.New("no cluster node containers found")
