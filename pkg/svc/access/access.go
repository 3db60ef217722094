// Package access opens the developer-facing entry points to a bootstrapped
// environment: a port-forward to the operator API and a bearer token for it.
package access

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/buildforge/kindenv/pkg/env"
	"github.com/buildforge/kindenv/pkg/k8s/readiness"
	authenticationv1 "k8s.io/api/authentication/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes"
)

var (
	// ErrServiceHasNoSelector is returned when the API service carries no pod
	// selector to resolve a forward target from.
	ErrServiceHasNoSelector = errors.New("service has no selector")

	// ErrNoReadyPod is returned when no ready pod backs the API service.
	ErrNoReadyPod = errors.New("no ready pod found for service")
)

const settleDialTimeout = 500 * time.Millisecond

// placeholderRegistryCredential is handed to clients as both username and
// password. The local registry accepts anything.
const placeholderRegistryCredential = "kindenv"

// Provisioner wires up host access to the operator API.
type Provisioner struct {
	clientset   kubernetes.Interface
	forwarder   PortForwarder
	environment *env.Environment
}

// NewProvisioner creates an access provisioner for the environment.
func NewProvisioner(
	clientset kubernetes.Interface,
	forwarder PortForwarder,
	environment *env.Environment,
) *Provisioner {
	return &Provisioner{
		clientset:   clientset,
		forwarder:   forwarder,
		environment: environment,
	}
}

// Provision forwards the API service to the configured local port, mints a
// bounded service account token and records both on the environment.
func (p *Provisioner) Provision(ctx context.Context) error {
	cfg := p.environment.Config

	podName, err := p.readyPodForService(ctx, cfg.OperatorNamespace, cfg.APIService)
	if err != nil {
		return err
	}

	err = p.forwarder.Start(ctx, cfg.OperatorNamespace, podName, cfg.APILocalPort, cfg.APIPort)
	if err != nil {
		return err
	}

	err = p.waitForForwardSettle(ctx, cfg.APILocalPort)
	if err != nil {
		return fmt.Errorf("port-forward to %s did not settle: %w", cfg.APIService, err)
	}

	token, err := p.mintToken(ctx)
	if err != nil {
		return err
	}

	p.environment.Access = env.AccessInfo{
		APIURL:           fmt.Sprintf("http://127.0.0.1:%d", cfg.APILocalPort),
		BearerToken:      token,
		RegistryAddr:     cfg.HostRegistryRoute(),
		RegistryUsername: placeholderRegistryCredential,
		RegistryPassword: placeholderRegistryCredential,
	}

	return nil
}

// Teardown closes the port-forward.
func (p *Provisioner) Teardown(_ context.Context) error {
	p.forwarder.Stop()

	return nil
}

// readyPodForService resolves the service's selector to a running, ready pod.
func (p *Provisioner) readyPodForService(
	ctx context.Context,
	namespace, serviceName string,
) (string, error) {
	service, err := p.clientset.CoreV1().Services(namespace).Get(ctx, serviceName, metav1.GetOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to get service %s: %w", serviceName, err)
	}

	if len(service.Spec.Selector) == 0 {
		return "", fmt.Errorf("%w: %s", ErrServiceHasNoSelector, serviceName)
	}

	selector := labels.SelectorFromSet(service.Spec.Selector).String()

	pods, err := p.clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: selector,
	})
	if err != nil {
		return "", fmt.Errorf("failed to list pods for service %s: %w", serviceName, err)
	}

	for _, pod := range pods.Items {
		if isPodReady(&pod) {
			return pod.Name, nil
		}
	}

	return "", fmt.Errorf("%w: %s", ErrNoReadyPod, serviceName)
}

// waitForForwardSettle polls the forwarded local port until it accepts TCP
// connections.
func (p *Provisioner) waitForForwardSettle(ctx context.Context, localPort int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", localPort)

	return readiness.PollForReadinessEvery(
		ctx,
		settleDialTimeout,
		env.DefaultForwardSettle,
		func(_ context.Context) (bool, error) {
			conn, err := net.DialTimeout("tcp", addr, settleDialTimeout)
			if err != nil {
				return false, nil //nolint:nilerr // returning nil to continue polling
			}

			_ = conn.Close()

			return true, nil
		},
	)
}

// mintToken ensures the environment service account exists and requests a
// bounded token for it.
func (p *Provisioner) mintToken(ctx context.Context) (string, error) {
	cfg := p.environment.Config
	serviceAccounts := p.clientset.CoreV1().ServiceAccounts(cfg.OperatorNamespace)

	_, err := serviceAccounts.Create(ctx, &corev1.ServiceAccount{
		ObjectMeta: metav1.ObjectMeta{
			Name:      cfg.ServiceAccount,
			Namespace: cfg.OperatorNamespace,
		},
	}, metav1.CreateOptions{})
	if err != nil && !apierrors.IsAlreadyExists(err) {
		return "", fmt.Errorf("failed to create service account %s: %w", cfg.ServiceAccount, err)
	}

	expirationSeconds := int64(cfg.TokenTTL.Seconds())

	tokenRequest, err := serviceAccounts.CreateToken(ctx, cfg.ServiceAccount, &authenticationv1.TokenRequest{
		Spec: authenticationv1.TokenRequestSpec{
			ExpirationSeconds: &expirationSeconds,
		},
	}, metav1.CreateOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to request token for %s: %w", cfg.ServiceAccount, err)
	}

	return tokenRequest.Status.Token, nil
}

func isPodReady(pod *corev1.Pod) bool {
	if pod.DeletionTimestamp != nil {
		return false
	}

	if pod.Status.Phase != corev1.PodRunning {
		return false
	}

	for _, condition := range pod.Status.Conditions {
		if condition.Type == corev1.PodReady {
			return condition.Status == corev1.ConditionTrue
		}
	}

	return false
}
