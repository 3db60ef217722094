package readiness

import (
	"context"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// WaitForAllNodesReady polls until every node has condition Ready=True. Used
// after cluster creation so later steps see a schedulable cluster.
func WaitForAllNodesReady(
	ctx context.Context,
	clientset kubernetes.Interface,
	interval time.Duration,
	deadline time.Duration,
) error {
	return PollForReadinessEvery(ctx, interval, deadline, func(ctx context.Context) (bool, error) {
		nodes, err := clientset.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
		if err != nil {
			// Continue polling on transient errors
			return false, nil //nolint:nilerr // returning nil to continue polling
		}

		if len(nodes.Items) == 0 {
			return false, nil
		}

		for i := range nodes.Items {
			if !isNodeReady(&nodes.Items[i]) {
				return false, nil
			}
		}

		return true, nil
	})
}

// isNodeReady returns true if the node has condition Ready=True.
func isNodeReady(node *corev1.Node) bool {
	for _, cond := range node.Status.Conditions {
		if cond.Type == corev1.NodeReady {
			return cond.Status == corev1.ConditionTrue
		}
	}

	return false
}
