package access

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/portforward"
	"k8s.io/client-go/transport/spdy"
)

const forwardStartTimeout = 30 * time.Second

// PortForwarder forwards a local port to a pod port. Starting a forwarder
// stops any forward it already holds, so at most one tunnel exists per
// forwarder.
type PortForwarder interface {
	Start(ctx context.Context, namespace, podName string, localPort, remotePort int) error
	Stop()
}

// SPDYForwarder tunnels TCP to a pod through the API server's portforward
// subresource.
type SPDYForwarder struct {
	clientset  kubernetes.Interface
	restConfig *rest.Config
	out        io.Writer
	errOut     io.Writer
	cancel     context.CancelFunc
}

// NewSPDYForwarder creates a forwarder. Forward diagnostics are streamed to
// out and errOut; nil writers discard.
func NewSPDYForwarder(
	clientset kubernetes.Interface,
	restConfig *rest.Config,
	out, errOut io.Writer,
) *SPDYForwarder {
	if out == nil {
		out = io.Discard
	}

	if errOut == nil {
		errOut = io.Discard
	}

	return &SPDYForwarder{
		clientset:  clientset,
		restConfig: restConfig,
		out:        out,
		errOut:     errOut,
	}
}

// Start opens a forward from 127.0.0.1:localPort to the pod's remotePort and
// blocks until the tunnel is ready. A previously started forward is stopped
// first.
func (f *SPDYForwarder) Start(
	ctx context.Context,
	namespace, podName string,
	localPort, remotePort int,
) error {
	f.Stop()

	requestURL := f.clientset.CoreV1().RESTClient().Post().
		Namespace(namespace).
		Resource("pods").
		Name(podName).
		SubResource("portforward").
		URL()

	transport, upgrader, err := spdy.RoundTripperFor(f.restConfig)
	if err != nil {
		return fmt.Errorf("failed to prepare port-forward transport for pod %s: %w", podName, err)
	}

	dialer := spdy.NewDialer(
		upgrader,
		&http.Client{Transport: transport},
		http.MethodPost,
		requestURL,
	)

	forwardCtx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	forwardErr := make(chan error, 1)

	forwarder, err := portforward.NewOnAddresses(
		dialer,
		[]string{"127.0.0.1"},
		[]string{fmt.Sprintf("%d:%d", localPort, remotePort)},
		forwardCtx.Done(),
		ready,
		f.out,
		f.errOut,
	)
	if err != nil {
		cancel()

		return fmt.Errorf("failed to create port-forwarder for pod %s: %w", podName, err)
	}

	go func() {
		forwardErr <- forwarder.ForwardPorts()
	}()

	select {
	case <-ready:
		f.cancel = cancel

		return nil
	case err := <-forwardErr:
		cancel()

		if err != nil {
			return fmt.Errorf("failed to run port-forward for pod %s: %w", podName, err)
		}

		return fmt.Errorf("port-forward for pod %s terminated before becoming ready", podName)
	case <-ctx.Done():
		cancel()

		return fmt.Errorf("failed to start port-forward for pod %s: %w", podName, ctx.Err())
	case <-time.After(forwardStartTimeout):
		cancel()

		return fmt.Errorf("timed out starting port-forward for pod %s", podName)
	}
}

// Stop tears the tunnel down. Safe to call when no forward is active.
func (f *SPDYForwarder) Stop() {
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
}
