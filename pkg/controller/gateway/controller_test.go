package gateway

import (
	"context"
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

type fakeProber struct{ reachable bool }

func (f fakeProber) Probe(context.Context, string, time.Duration) bool { return f.reachable }

func newTestStore(t *testing.T, objs ...runtime.Object) *crstore.Store {
	t.Helper()
	scheme := runtime.NewScheme()
	require.NoError(t, fogv1alpha1.AddToScheme(scheme))
	builder := fake.NewClientBuilder().
		WithScheme(scheme).
		WithStatusSubresource(&fogv1alpha1.Gateway{})
	for _, o := range objs {
		builder = builder.WithRuntimeObjects(o)
	}
	return crstore.New(builder.Build(), "fog-hub")
}

func TestReconcilePendingBecomesRunningWhenReachable(t *testing.T) {
	gw := &fogv1alpha1.Gateway{}
	gw.Name, gw.Namespace = "gw-a", "fog-hub"
	gw.Spec.Endpoint = "127.0.0.1:0"
	gw.Status.Phase = fogv1alpha1.GatewayPending

	store := newTestStore(t, gw)
	r := &Reconciler{store: store, prober: fakeProber{reachable: true}, cfg: Config{ProbeTimeout: time.Second}}

	_, err := r.Reconcile(context.Background(), reconcile.Request{NamespacedName: types.NamespacedName{Namespace: "fog-hub", Name: "gw-a"}})
	require.NoError(t, err)

	got, err := store.GetGateway(context.Background(), "gw-a")
	require.NoError(t, err)
	require.Equal(t, fogv1alpha1.GatewayRunning, got.Status.Phase)
	require.NotZero(t, got.Status.LastHealth)
}

func TestReconcileRunningDegradesThenStops(t *testing.T) {
	gw := &fogv1alpha1.Gateway{}
	gw.Name, gw.Namespace = "gw-a", "fog-hub"
	gw.Status.Phase = fogv1alpha1.GatewayRunning

	store := newTestStore(t, gw)
	r := &Reconciler{store: store, prober: fakeProber{reachable: false}, cfg: Config{ProbeTimeout: time.Second}}

	_, err := r.Reconcile(context.Background(), reconcile.Request{NamespacedName: types.NamespacedName{Namespace: "fog-hub", Name: "gw-a"}})
	require.NoError(t, err)
	got, err := store.GetGateway(context.Background(), "gw-a")
	require.NoError(t, err)
	require.Equal(t, fogv1alpha1.GatewayDegraded, got.Status.Phase)

	_, err = r.Reconcile(context.Background(), reconcile.Request{NamespacedName: types.NamespacedName{Namespace: "fog-hub", Name: "gw-a"}})
	require.NoError(t, err)
	got, err = store.GetGateway(context.Background(), "gw-a")
	require.NoError(t, err)
	require.Equal(t, fogv1alpha1.GatewayStopped, got.Status.Phase)
}
