package device

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	"github.com/fogmesh/gateway-fog-hub/pkg/crstore"
	fogv1alpha1 "github.com/fogmesh/gateway-fog-hub/pkg/fogapi/v1alpha1"
)

func nnKey(name string) types.NamespacedName {
	return types.NamespacedName{Namespace: "fog-hub", Name: name}
}

func newTestStore(t *testing.T, objs ...runtime.Object) *crstore.Store {
	t.Helper()
	scheme := runtime.NewScheme()
	require.NoError(t, fogv1alpha1.AddToScheme(scheme))

	builder := fake.NewClientBuilder().
		WithScheme(scheme).
		WithStatusSubresource(&fogv1alpha1.Device{}, &fogv1alpha1.Gateway{})
	for _, o := range objs {
		builder = builder.WithRuntimeObjects(o)
	}
	return crstore.New(builder.Build(), "fog-hub")
}

func gatewayFixture(name string, phase fogv1alpha1.GatewayPhase) *fogv1alpha1.Gateway {
	gw := &fogv1alpha1.Gateway{}
	gw.Name, gw.Namespace = name, "fog-hub"
	gw.Status.Phase = phase
	return gw
}

// TestSelectLeastConnections reproduces §8 S7: pre-existing counts
// {5,3,3} pick the lexicographically smallest tied gateway.
func TestSelectLeastConnections(t *testing.T) {
	gwA := gatewayFixture("gw-a", fogv1alpha1.GatewayRunning)
	gwB := gatewayFixture("gw-b", fogv1alpha1.GatewayRunning)
	gwC := gatewayFixture("gw-c", fogv1alpha1.GatewayRunning)

	devices := []runtime.Object{}
	addDevices := func(gw string, n int) {
		for i := 0; i < n; i++ {
			d := &fogv1alpha1.Device{}
			d.Name = fmt.Sprintf("%s-dev-%d", gw, i)
			d.Namespace = "fog-hub"
			d.Status.Gateway = &fogv1alpha1.GatewayReference{Name: gw}
			devices = append(devices, d)
		}
	}
	addDevices("gw-a", 5)
	addDevices("gw-b", 3)
	addDevices("gw-c", 3)

	objs := append([]runtime.Object{gwA, gwB, gwC}, devices...)
	store := newTestStore(t, objs...)

	chosen, err := SelectLeastConnections(context.Background(), store, "")
	require.NoError(t, err)
	require.Equal(t, "gw-b", chosen)
}

func TestReconcileAssignsFreshDevice(t *testing.T) {
	gw := gatewayFixture("gw-a", fogv1alpha1.GatewayRunning)
	dev := &fogv1alpha1.Device{}
	dev.Name, dev.Namespace = "dev-1", "fog-hub"
	dev.Status.Phase = fogv1alpha1.DevicePending

	store := newTestStore(t, gw, dev)
	r := &Reconciler{store: store, cfg: Config{UnreachableTimeout: time.Minute}}

	_, err := r.Reconcile(context.Background(), reconcile.Request{NamespacedName: nnKey(dev.Name)})
	require.NoError(t, err)

	got, err := store.GetDevice(context.Background(), "dev-1")
	require.NoError(t, err)
	require.NotNil(t, got.Status.Gateway)
	require.Equal(t, "gw-a", got.Status.Gateway.Name)
	require.Equal(t, fogv1alpha1.DeviceEnrolling, got.Status.Phase)
}

func TestReconcileFailsOverWhenGatewayLost(t *testing.T) {
	healthy := gatewayFixture("gw-healthy", fogv1alpha1.GatewayRunning)
	dead := gatewayFixture("gw-dead", fogv1alpha1.GatewayStopped)

	dev := &fogv1alpha1.Device{}
	dev.Name, dev.Namespace = "dev-1", "fog-hub"
	dev.Status.Phase = fogv1alpha1.DeviceDisconnected
	dev.Status.Gateway = &fogv1alpha1.GatewayReference{Name: "gw-dead"}

	store := newTestStore(t, healthy, dead, dev)
	r := &Reconciler{store: store, cfg: Config{UnreachableTimeout: time.Minute}}

	_, err := r.Reconcile(context.Background(), reconcile.Request{NamespacedName: nnKey(dev.Name)})
	require.NoError(t, err)

	got, err := store.GetDevice(context.Background(), "dev-1")
	require.NoError(t, err)
	require.Equal(t, "gw-healthy", got.Status.Gateway.Name)
	require.Equal(t, fogv1alpha1.DeviceEnrolling, got.Status.Phase)
}

func TestReconcileMarksUnreachableWhenNoCandidate(t *testing.T) {
	dead := gatewayFixture("gw-dead", fogv1alpha1.GatewayStopped)

	dev := &fogv1alpha1.Device{}
	dev.Name, dev.Namespace = "dev-1", "fog-hub"
	dev.Status.Phase = fogv1alpha1.DeviceUnreachable
	dev.Status.Gateway = &fogv1alpha1.GatewayReference{Name: "gw-dead"}

	store := newTestStore(t, dead, dev)
	r := &Reconciler{store: store, cfg: Config{UnreachableTimeout: time.Minute}}

	_, err := r.Reconcile(context.Background(), reconcile.Request{NamespacedName: nnKey(dev.Name)})
	require.NoError(t, err)

	got, err := store.GetDevice(context.Background(), "dev-1")
	require.NoError(t, err)
	require.Equal(t, fogv1alpha1.DeviceUnreachable, got.Status.Phase)
	require.Equal(t, "gw-dead", got.Status.Gateway.Name)
}
