package failover

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	"github.com/fogmesh/gateway-fog-hub/pkg/crstore"
	fogv1alpha1 "github.com/fogmesh/gateway-fog-hub/pkg/fogapi/v1alpha1"
)

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

func req(name string) reconcile.Request {
	return reconcile.Request{NamespacedName: types.NamespacedName{Namespace: "fog-hub", Name: name}}
}

func TestReconcileReassignsDevicesFromDegradedGateway(t *testing.T) {
	lost := &fogv1alpha1.Gateway{}
	lost.Name, lost.Namespace = "gw-lost", "fog-hub"
	lost.Status.Phase = fogv1alpha1.GatewayDegraded

	healthy := &fogv1alpha1.Gateway{}
	healthy.Name, healthy.Namespace = "gw-healthy", "fog-hub"
	healthy.Status.Phase = fogv1alpha1.GatewayRunning

	dev := &fogv1alpha1.Device{}
	dev.Name, dev.Namespace = "dev-1", "fog-hub"
	dev.Status.Gateway = &fogv1alpha1.GatewayReference{Name: "gw-lost"}
	dev.Status.Phase = fogv1alpha1.DeviceConnected

	other := &fogv1alpha1.Device{}
	other.Name, other.Namespace = "dev-2", "fog-hub"
	other.Status.Gateway = &fogv1alpha1.GatewayReference{Name: "gw-healthy"}
	other.Status.Phase = fogv1alpha1.DeviceConnected

	store := newTestStore(t, lost, healthy, dev, other)
	r := &Reconciler{store: store}

	_, err := r.Reconcile(context.Background(), req("gw-lost"))
	require.NoError(t, err)

	got, err := store.GetDevice(context.Background(), "dev-1")
	require.NoError(t, err)
	require.Equal(t, "gw-healthy", got.Status.Gateway.Name)
	require.Equal(t, fogv1alpha1.DeviceEnrolling, got.Status.Phase)

	untouched, err := store.GetDevice(context.Background(), "dev-2")
	require.NoError(t, err)
	require.Equal(t, "gw-healthy", untouched.Status.Gateway.Name)
}

func TestReconcileMarksUnreachableWhenNoCandidateGateway(t *testing.T) {
	lost := &fogv1alpha1.Gateway{}
	lost.Name, lost.Namespace = "gw-lost", "fog-hub"
	lost.Status.Phase = fogv1alpha1.GatewayStopped

	dev := &fogv1alpha1.Device{}
	dev.Name, dev.Namespace = "dev-1", "fog-hub"
	dev.Status.Gateway = &fogv1alpha1.GatewayReference{Name: "gw-lost"}
	dev.Status.Phase = fogv1alpha1.DeviceConnected

	store := newTestStore(t, lost, dev)
	r := &Reconciler{store: store}

	_, err := r.Reconcile(context.Background(), req("gw-lost"))
	require.NoError(t, err)

	got, err := store.GetDevice(context.Background(), "dev-1")
	require.NoError(t, err)
	require.Equal(t, "gw-lost", got.Status.Gateway.Name)
	require.Equal(t, fogv1alpha1.DeviceUnreachable, got.Status.Phase)
}

func TestReconcileNoopWhenGatewayStillRunning(t *testing.T) {
	gw := &fogv1alpha1.Gateway{}
	gw.Name, gw.Namespace = "gw-a", "fog-hub"
	gw.Status.Phase = fogv1alpha1.GatewayRunning

	dev := &fogv1alpha1.Device{}
	dev.Name, dev.Namespace = "dev-1", "fog-hub"
	dev.Status.Gateway = &fogv1alpha1.GatewayReference{Name: "gw-a"}
	dev.Status.Phase = fogv1alpha1.DeviceConnected

	store := newTestStore(t, gw, dev)
	r := &Reconciler{store: store}

	_, err := r.Reconcile(context.Background(), req("gw-a"))
	require.NoError(t, err)

	got, err := store.GetDevice(context.Background(), "dev-1")
	require.NoError(t, err)
	require.Equal(t, fogv1alpha1.DeviceConnected, got.Status.Phase)
}

func TestReconcileHandlesDeletedGateway(t *testing.T) {
	healthy := &fogv1alpha1.Gateway{}
	healthy.Name, healthy.Namespace = "gw-healthy", "fog-hub"
	healthy.Status.Phase = fogv1alpha1.GatewayRunning

	dev := &fogv1alpha1.Device{}
	dev.Name, dev.Namespace = "dev-1", "fog-hub"
	dev.Status.Gateway = &fogv1alpha1.GatewayReference{Name: "gw-deleted"}
	dev.Status.Phase = fogv1alpha1.DeviceConnected

	store := newTestStore(t, healthy, dev)
	r := &Reconciler{store: store}

	_, err := r.Reconcile(context.Background(), req("gw-deleted"))
	require.NoError(t, err)

	got, err := store.GetDevice(context.Background(), "dev-1")
	require.NoError(t, err)
	require.Equal(t, "gw-healthy", got.Status.Gateway.Name)
}
