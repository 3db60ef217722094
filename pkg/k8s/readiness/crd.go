package readiness

import (
	"context"
	"time"

	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	apiextensionsclient "k8s.io/apiextensions-apiserver/pkg/client/clientset/clientset"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// WaitForCRDEstablished polls until the named CustomResourceDefinition has
// condition Established=True, meaning instances of it can be created.
func WaitForCRDEstablished(
	ctx context.Context,
	client apiextensionsclient.Interface,
	name string,
	interval time.Duration,
	deadline time.Duration,
) error {
	return PollForReadinessEvery(ctx, interval, deadline, func(ctx context.Context) (bool, error) {
		crd, err := client.ApiextensionsV1().CustomResourceDefinitions().Get(
			ctx, name, metav1.GetOptions{},
		)
		if err != nil {
			// Continue polling until the CRD appears
			return false, nil //nolint:nilerr // returning nil to continue polling
		}

		for _, cond := range crd.Status.Conditions {
			if cond.Type == apiextensionsv1.Established {
				return cond.Status == apiextensionsv1.ConditionTrue, nil
			}
		}

		return false, nil
	})
}
