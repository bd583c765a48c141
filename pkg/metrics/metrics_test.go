package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/fogmesh/gateway-fog-hub/pkg/crstore"
	fogv1alpha1 "github.com/fogmesh/gateway-fog-hub/pkg/fogapi/v1alpha1"
)

func newTestStore(t *testing.T, objs ...runtime.Object) *crstore.Store {
	t.Helper()
	scheme := runtime.NewScheme()
	require.NoError(t, fogv1alpha1.AddToScheme(scheme))
	builder := fake.NewClientBuilder().WithScheme(scheme)
	for _, o := range objs {
		builder = builder.WithRuntimeObjects(o)
	}
	return crstore.New(builder.Build(), "fog-hub")
}

func TestCRCollectorCollectsDeviceAndGatewayCounts(t *testing.T) {
	connected := &fogv1alpha1.Device{}
	connected.Name, connected.Namespace = "dev-1", "fog-hub"
	connected.Status.Phase = fogv1alpha1.DeviceConnected
	connected.Status.Gateway = &fogv1alpha1.GatewayReference{Name: "gw-a"}

	pending := &fogv1alpha1.Device{}
	pending.Name, pending.Namespace = "dev-2", "fog-hub"
	pending.Status.Phase = fogv1alpha1.DevicePending

	store := newTestStore(t, connected, pending)
	c := NewCRCollector(store)

	ch := make(chan prometheus.Metric, 16)
	c.Collect(ch)
	close(ch)

	var sawDeviceMetric, sawGatewayMetric bool
	for m := range ch {
		desc := m.Desc().String()
		if strings.Contains(desc, "fog_hub_devices") {
			sawDeviceMetric = true
		}
		if strings.Contains(desc, "fog_hub_gateway_connected_devices") {
			sawGatewayMetric = true
		}
	}
	require.True(t, sawDeviceMetric)
	require.True(t, sawGatewayMetric)
}

func TestCRCollectorHandlesEmptyStore(t *testing.T) {
	store := newTestStore(t)
	c := NewCRCollector(store)

	ch := make(chan prometheus.Metric, 16)
	c.Collect(ch)
	close(ch)

	count := 0
	for range ch {
		count++
	}
	require.Equal(t, 0, count)
}
