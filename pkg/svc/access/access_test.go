package access_test

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/buildforge/kindenv/pkg/env"
	"github.com/buildforge/kindenv/pkg/svc/access"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	authenticationv1 "k8s.io/api/authentication/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	clienttesting "k8s.io/client-go/testing"
)

type forwardCall struct {
	namespace  string
	podName    string
	localPort  int
	remotePort int
}

type fakeForwarder struct {
	starts []forwardCall
	stops  int
	err    error
}

func (f *fakeForwarder) Start(
	_ context.Context,
	namespace, podName string,
	localPort, remotePort int,
) error {
	if f.err != nil {
		return f.err
	}

	f.starts = append(f.starts, forwardCall{namespace, podName, localPort, remotePort})

	return nil
}

func (f *fakeForwarder) Stop() {
	f.stops++
}

func apiService(selector map[string]string) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: "forge-api", Namespace: "forge-system"},
		Spec:       corev1.ServiceSpec{Selector: selector},
	}
}

func apiPod(name string, ready bool) *corev1.Pod {
	status := corev1.ConditionFalse
	if ready {
		status = corev1.ConditionTrue
	}

	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: "forge-system",
			Labels:    map[string]string{"app": "forge-api"},
		},
		Status: corev1.PodStatus{
			Phase: corev1.PodRunning,
			Conditions: []corev1.PodCondition{
				{Type: corev1.PodReady, Status: status},
			},
		},
	}
}

// listenLocal opens a listener standing in for the forwarded tunnel and
// returns its port.
func listenLocal(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}

			_ = conn.Close()
		}
	}()

	addr, ok := listener.Addr().(*net.TCPAddr)
	require.True(t, ok)

	return addr.Port
}

func newFixture(
	t *testing.T,
	objects ...runtime.Object,
) (*access.Provisioner, *fakeForwarder, *env.Environment) {
	t.Helper()

	cfg := env.Config{
		OperatorNamespace: "forge-system",
		APIService:        "forge-api",
		APIPort:           8000,
		APILocalPort:      listenLocal(t),
		RegistryHostPort:  5001,
		ServiceAccount:    "forge-e2e",
		TokenTTL:          24 * time.Hour,
		HostArch:          "amd64",
	}

	environment, err := env.NewEnvironment(cfg)
	require.NoError(t, err)

	clientset := fake.NewClientset(objects...)
	clientset.PrependReactor(
		"create",
		"serviceaccounts/token",
		func(action clienttesting.Action) (bool, runtime.Object, error) {
			createAction, ok := action.(clienttesting.CreateAction)
			require.True(t, ok)

			request, ok := createAction.GetObject().(*authenticationv1.TokenRequest)
			require.True(t, ok)
			require.NotNil(t, request.Spec.ExpirationSeconds)
			assert.Equal(t, int64(24*60*60), *request.Spec.ExpirationSeconds)

			request.Status.Token = "test-bearer-token"

			return true, request, nil
		},
	)

	forwarder := &fakeForwarder{}

	return access.NewProvisioner(clientset, forwarder, environment), forwarder, environment
}

func TestProvisionForwardsAndMintsToken(t *testing.T) {
	t.Parallel()

	provisioner, forwarder, environment := newFixture(
		t,
		apiService(map[string]string{"app": "forge-api"}),
		apiPod("forge-api-0", true),
	)

	err := provisioner.Provision(t.Context())

	require.NoError(t, err)

	require.Len(t, forwarder.starts, 1)
	call := forwarder.starts[0]
	assert.Equal(t, "forge-system", call.namespace)
	assert.Equal(t, "forge-api-0", call.podName)
	assert.Equal(t, environment.Config.APILocalPort, call.localPort)
	assert.Equal(t, 8000, call.remotePort)

	expectedURL := fmt.Sprintf("http://127.0.0.1:%d", environment.Config.APILocalPort)
	assert.Equal(t, expectedURL, environment.Access.APIURL)
	assert.Equal(t, "test-bearer-token", environment.Access.BearerToken)
	assert.Equal(t, "localhost:5001", environment.Access.RegistryAddr)
	assert.Equal(t, "kindenv", environment.Access.RegistryUsername)
	assert.Equal(t, "kindenv", environment.Access.RegistryPassword)
}

func TestProvisionSkipsNotReadyPods(t *testing.T) {
	t.Parallel()

	provisioner, forwarder, _ := newFixture(
		t,
		apiService(map[string]string{"app": "forge-api"}),
		apiPod("forge-api-0", false),
		apiPod("forge-api-1", true),
	)

	err := provisioner.Provision(t.Context())

	require.NoError(t, err)
	require.Len(t, forwarder.starts, 1)
	assert.Equal(t, "forge-api-1", forwarder.starts[0].podName)
}

func TestProvisionNoReadyPod(t *testing.T) {
	t.Parallel()

	provisioner, _, _ := newFixture(
		t,
		apiService(map[string]string{"app": "forge-api"}),
		apiPod("forge-api-0", false),
	)

	err := provisioner.Provision(t.Context())

	require.ErrorIs(t, err, access.ErrNoReadyPod)
}

func TestProvisionServiceWithoutSelector(t *testing.T) {
	t.Parallel()

	provisioner, _, _ := newFixture(t, apiService(nil))

	err := provisioner.Provision(t.Context())

	require.ErrorIs(t, err, access.ErrServiceHasNoSelector)
}

func TestProvisionMissingService(t *testing.T) {
	t.Parallel()

	provisioner, _, _ := newFixture(t)

	err := provisioner.Provision(t.Context())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to get service forge-api")
}

func TestProvisionForwardError(t *testing.T) {
	t.Parallel()

	provisioner, forwarder, _ := newFixture(
		t,
		apiService(map[string]string{"app": "forge-api"}),
		apiPod("forge-api-0", true),
	)
	forwarder.err = assert.AnError

	err := provisioner.Provision(t.Context())

	require.ErrorIs(t, err, assert.AnError)
}

func TestTeardownStopsForward(t *testing.T) {
	t.Parallel()

	provisioner, forwarder, _ := newFixture(t)

	err := provisioner.Teardown(t.Context())

	require.NoError(t, err)
	assert.Equal(t, 1, forwarder.stops)
}
