package readiness

import (
	"context"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// WaitForDeploymentReady polls until the named deployment has all desired
// replicas updated and available at its current generation.
func WaitForDeploymentReady(
	ctx context.Context,
	clientset kubernetes.Interface,
	namespace string,
	name string,
	interval time.Duration,
	deadline time.Duration,
) error {
	return PollForReadinessEvery(ctx, interval, deadline, func(ctx context.Context) (bool, error) {
		deployment, err := clientset.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			// Continue polling until the deployment appears
			return false, nil //nolint:nilerr // returning nil to continue polling
		}

		return isDeploymentReady(deployment), nil
	})
}

// WaitForDeploymentsReady waits for every named deployment in the namespace.
// The deadline applies to each deployment individually.
func WaitForDeploymentsReady(
	ctx context.Context,
	clientset kubernetes.Interface,
	namespace string,
	names []string,
	interval time.Duration,
	deadline time.Duration,
) error {
	for _, name := range names {
		err := WaitForDeploymentReady(ctx, clientset, namespace, name, interval, deadline)
		if err != nil {
			return err
		}
	}

	return nil
}

func isDeploymentReady(deployment *appsv1.Deployment) bool {
	if deployment.Generation > deployment.Status.ObservedGeneration {
		return false
	}

	desired := int32(1)
	if deployment.Spec.Replicas != nil {
		desired = *deployment.Spec.Replicas
	}

	return deployment.Status.UpdatedReplicas == desired &&
		deployment.Status.AvailableReplicas >= desired
}
