// Package shim fakes the in-cluster identity of the platform image registry.
//
// Workloads resolve the platform registry service name through cluster DNS.
// The shim creates a headless Service plus a manual Endpoints object that
// points the platform name at the local registry container, so manifests
// written for the platform work unchanged against the test environment.
package shim

import (
	"context"
	"errors"
	"fmt"

	"github.com/buildforge/kindenv/pkg/k8s"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// ErrRegistryIPEmpty is returned when Ensure is called without a resolved
// registry container IP.
var ErrRegistryIPEmpty = errors.New("registry IP is empty")

// Shim manages the platform registry identity objects.
type Shim struct {
	clientset kubernetes.Interface
	namespace string
	service   string
	port      int32
}

// NewShim creates a shim for the given platform namespace and service name,
// forwarding traffic to the registry port.
func NewShim(clientset kubernetes.Interface, namespace, service string, port int32) *Shim {
	return &Shim{
		clientset: clientset,
		namespace: namespace,
		service:   service,
		port:      port,
	}
}

// Ensure creates or refreshes the namespace, headless Service and Endpoints
// that resolve the platform registry name to registryIP. Re-running after the
// registry IP changed updates the endpoint addresses.
func (s *Shim) Ensure(ctx context.Context, registryIP string) error {
	if registryIP == "" {
		return ErrRegistryIPEmpty
	}

	err := k8s.EnsurePrivilegedNamespace(ctx, s.clientset, s.namespace)
	if err != nil {
		return fmt.Errorf("failed to ensure namespace %s: %w", s.namespace, err)
	}

	err = s.ensureService(ctx)
	if err != nil {
		return fmt.Errorf("failed to ensure registry service: %w", err)
	}

	err = s.ensureEndpoints(ctx, registryIP)
	if err != nil {
		return fmt.Errorf("failed to ensure registry endpoints: %w", err)
	}

	return nil
}

// Remove deletes the platform namespace and everything in it.
func (s *Shim) Remove(ctx context.Context) error {
	err := k8s.DeleteNamespace(ctx, s.clientset, s.namespace)
	if err != nil {
		return fmt.Errorf("failed to delete namespace %s: %w", s.namespace, err)
	}

	return nil
}

// ensureService creates the headless Service once. The selector stays empty
// so Kubernetes never manages the Endpoints object.
func (s *Shim) ensureService(ctx context.Context) error {
	services := s.clientset.CoreV1().Services(s.namespace)

	_, err := services.Get(ctx, s.service, metav1.GetOptions{})
	if err == nil {
		return nil
	}

	if !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to get service %s: %w", s.service, err)
	}

	service := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      s.service,
			Namespace: s.namespace,
		},
		Spec: corev1.ServiceSpec{
			ClusterIP: corev1.ClusterIPNone,
			Ports: []corev1.ServicePort{
				{
					Name:     "registry",
					Protocol: corev1.ProtocolTCP,
					Port:     s.port,
				},
			},
		},
	}

	_, err = services.Create(ctx, service, metav1.CreateOptions{})
	if err != nil {
		return fmt.Errorf("failed to create service %s: %w", s.service, err)
	}

	return nil
}

// ensureEndpoints creates or updates the manual Endpoints object so it always
// carries the current registry IP.
func (s *Shim) ensureEndpoints(ctx context.Context, registryIP string) error {
	endpoints := s.clientset.CoreV1().Endpoints(s.namespace)

	desired := &corev1.Endpoints{
		ObjectMeta: metav1.ObjectMeta{
			Name:      s.service,
			Namespace: s.namespace,
		},
		Subsets: []corev1.EndpointSubset{
			{
				Addresses: []corev1.EndpointAddress{
					{IP: registryIP},
				},
				Ports: []corev1.EndpointPort{
					{
						Name:     "registry",
						Protocol: corev1.ProtocolTCP,
						Port:     s.port,
					},
				},
			},
		},
	}

	existing, err := endpoints.Get(ctx, s.service, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		_, err = endpoints.Create(ctx, desired, metav1.CreateOptions{})
		if err != nil {
			return fmt.Errorf("failed to create endpoints %s: %w", s.service, err)
		}

		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to get endpoints %s: %w", s.service, err)
	}

	existing.Subsets = desired.Subsets

	_, err = endpoints.Update(ctx, existing, metav1.UpdateOptions{})
	if err != nil {
		return fmt.Errorf("failed to update endpoints %s: %w", s.service, err)
	}

	return nil
}
