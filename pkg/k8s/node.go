package k8s

import (
	"context"
	"encoding/json"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
)

// ListNodeNames returns the names of all nodes in the cluster.
func ListNodeNames(ctx context.Context, clientset kubernetes.Interface) ([]string, error) {
	nodes, err := clientset.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	names := make([]string, 0, len(nodes.Items))
	for i := range nodes.Items {
		names = append(names, nodes.Items[i].Name)
	}

	return names, nil
}

// LabelNode merges the given labels onto a node.
func LabelNode(
	ctx context.Context,
	clientset kubernetes.Interface,
	nodeName string,
	labels map[string]string,
) error {
	return patchNodeMetadata(ctx, clientset, nodeName, "labels", labels)
}

// AnnotateNode merges the given annotations onto a node.
func AnnotateNode(
	ctx context.Context,
	clientset kubernetes.Interface,
	nodeName string,
	annotations map[string]string,
) error {
	return patchNodeMetadata(ctx, clientset, nodeName, "annotations", annotations)
}

// patchNodeMetadata applies a strategic merge patch to a node's metadata map.
func patchNodeMetadata(
	ctx context.Context,
	clientset kubernetes.Interface,
	nodeName string,
	field string,
	values map[string]string,
) error {
	patch, err := json.Marshal(map[string]any{
		"metadata": map[string]any{field: values},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal node patch: %w", err)
	}

	_, err = clientset.CoreV1().Nodes().Patch(
		ctx, nodeName, types.StrategicMergePatchType, patch, metav1.PatchOptions{},
	)
	if err != nil {
		return fmt.Errorf("failed to patch node %s %s: %w", nodeName, field, err)
	}

	return nil
}
