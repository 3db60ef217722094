// Package kubectl wraps kubectl's own cobra commands so manifests can be
// applied and deleted in-process, without shelling out to a kubectl binary.
package kubectl

import (
	"github.com/spf13/cobra"
	"k8s.io/cli-runtime/pkg/genericclioptions"
	"k8s.io/cli-runtime/pkg/genericiooptions"
	"k8s.io/kubectl/pkg/cmd/apply"
	cmddelete "k8s.io/kubectl/pkg/cmd/delete"
	cmdutil "k8s.io/kubectl/pkg/cmd/util"
)

// Client creates kubectl commands bound to a kubeconfig.
type Client struct {
	ioStreams genericiooptions.IOStreams
}

// NewClient creates a kubectl client with the given IO streams.
func NewClient(ioStreams genericiooptions.IOStreams) *Client {
	return &Client{ioStreams: ioStreams}
}

// CreateApplyCommand returns kubectl's apply command preset with the
// kubeconfig. Manifest sources are passed as "-f" arguments, including URLs.
func (c *Client) CreateApplyCommand(kubeconfigPath string) *cobra.Command {
	return apply.NewCmdApply("kubectl", c.newFactory(kubeconfigPath), c.ioStreams)
}

// CreateDeleteCommand returns kubectl's delete command preset with the
// kubeconfig.
func (c *Client) CreateDeleteCommand(kubeconfigPath string) *cobra.Command {
	return cmddelete.NewCmdDelete(c.newFactory(kubeconfigPath), c.ioStreams)
}

// newFactory builds a kubectl command factory for the kubeconfig.
func (c *Client) newFactory(kubeconfigPath string) cmdutil.Factory {
	configFlags := genericclioptions.NewConfigFlags(true)
	if kubeconfigPath != "" {
		configFlags.KubeConfig = &kubeconfigPath
	}

	return cmdutil.NewFactory(cmdutil.NewMatchVersionFlags(configFlags))
}
