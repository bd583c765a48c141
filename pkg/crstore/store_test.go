package crstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	fogv1alpha1 "github.com/fogmesh/gateway-fog-hub/pkg/fogapi/v1alpha1"
)

func newTestStore(t *testing.T, objs ...runtime.Object) *Store {
	t.Helper()
	scheme := runtime.NewScheme()
	require.NoError(t, fogv1alpha1.AddToScheme(scheme))

	builder := fake.NewClientBuilder().
		WithScheme(scheme).
		WithStatusSubresource(&fogv1alpha1.Device{}, &fogv1alpha1.Application{}, &fogv1alpha1.Gateway{})
	for _, o := range objs {
		builder = builder.WithRuntimeObjects(o)
	}
	return New(builder.Build(), "fog-hub")
}

func TestFindDeviceByPublicKey(t *testing.T) {
	dev := &fogv1alpha1.Device{}
	dev.Name = "dev-1"
	dev.Namespace = "fog-hub"
	dev.Spec.PublicKey = []byte{1, 2, 3}

	store := newTestStore(t, dev)

	found, err := store.FindDeviceByPublicKey(context.Background(), []byte{1, 2, 3})
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, "dev-1", found.Name)

	notFound, err := store.FindDeviceByPublicKey(context.Background(), []byte{9, 9})
	require.NoError(t, err)
	require.Nil(t, notFound)
}

func TestPatchDeviceStatus(t *testing.T) {
	dev := &fogv1alpha1.Device{}
	dev.Name = "dev-1"
	dev.Namespace = "fog-hub"
	dev.Status.Phase = fogv1alpha1.DevicePending

	store := newTestStore(t, dev)

	err := store.PatchDeviceStatus(context.Background(), "dev-1", func(s *fogv1alpha1.DeviceStatus) {
		s.Phase = fogv1alpha1.DeviceConnected
		s.LastHeartbeat = 42
	})
	require.NoError(t, err)

	got, err := store.GetDevice(context.Background(), "dev-1")
	require.NoError(t, err)
	require.Equal(t, fogv1alpha1.DeviceConnected, got.Status.Phase)
	require.Equal(t, int64(42), got.Status.LastHeartbeat)
}

func TestCountDevicesForGateway(t *testing.T) {
	d1 := &fogv1alpha1.Device{}
	d1.Name, d1.Namespace = "d1", "fog-hub"
	d1.Status.Gateway = &fogv1alpha1.GatewayReference{Name: "gw-a"}

	d2 := &fogv1alpha1.Device{}
	d2.Name, d2.Namespace = "d2", "fog-hub"
	d2.Status.Gateway = &fogv1alpha1.GatewayReference{Name: "gw-a"}

	d3 := &fogv1alpha1.Device{}
	d3.Name, d3.Namespace = "d3", "fog-hub"
	d3.Status.Gateway = &fogv1alpha1.GatewayReference{Name: "gw-b"}

	store := newTestStore(t, d1, d2, d3)

	count, err := store.CountDevicesForGateway(context.Background(), "gw-a")
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestListRunningGateways(t *testing.T) {
	running := &fogv1alpha1.Gateway{}
	running.Name, running.Namespace = "gw-running", "fog-hub"
	running.Status.Phase = fogv1alpha1.GatewayRunning

	degraded := &fogv1alpha1.Gateway{}
	degraded.Name, degraded.Namespace = "gw-degraded", "fog-hub"
	degraded.Status.Phase = fogv1alpha1.GatewayDegraded

	store := newTestStore(t, running, degraded)

	list, err := store.ListRunningGateways(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "gw-running", list[0].Name)
}
