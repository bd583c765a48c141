package application

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	"github.com/fogmesh/gateway-fog-hub/pkg/crstore"
	fogv1alpha1 "github.com/fogmesh/gateway-fog-hub/pkg/fogapi/v1alpha1"
	"github.com/fogmesh/gateway-fog-hub/pkg/lifecycle"
)

type fakeApplier struct {
	applied   []lifecycle.ApplyInput
	projected []string
}

func (f *fakeApplier) Apply(in lifecycle.ApplyInput) { f.applied = append(f.applied, in) }
func (f *fakeApplier) ProjectStatus(_ context.Context, appID string) error {
	f.projected = append(f.projected, appID)
	return nil
}

type fakeRegistry struct {
	byGateway map[string]LifecycleApplier
}

func (f *fakeRegistry) Get(gw string) (LifecycleApplier, bool) {
	a, ok := f.byGateway[gw]
	return a, ok
}

func newTestStore(t *testing.T, objs ...runtime.Object) *crstore.Store {
	t.Helper()
	scheme := runtime.NewScheme()
	require.NoError(t, fogv1alpha1.AddToScheme(scheme))
	builder := fake.NewClientBuilder().
		WithScheme(scheme).
		WithStatusSubresource(&fogv1alpha1.Device{}, &fogv1alpha1.Application{})
	for _, o := range objs {
		builder = builder.WithRuntimeObjects(o)
	}
	return crstore.New(builder.Build(), "fog-hub")
}

func TestReconcileDispatchesToGatewayOwnedDevices(t *testing.T) {
	d1 := &fogv1alpha1.Device{}
	d1.Name, d1.Namespace = "d1", "fog-hub"
	d1.Status.Gateway = &fogv1alpha1.GatewayReference{Name: "gw-a"}

	d2 := &fogv1alpha1.Device{}
	d2.Name, d2.Namespace = "d2", "fog-hub"
	// Not yet assigned to any gateway: stays Pending, not dispatched.

	app := &fogv1alpha1.Application{}
	app.Name, app.Namespace = "app-1", "fog-hub"
	app.Spec.TargetDevices = fogv1alpha1.TargetDeviceSelector{DeviceNames: []string{"d1", "d2"}}
	app.Spec.WasmBytes = []byte{0x00, 0x61, 0x73, 0x6d}

	store := newTestStore(t, d1, d2, app)

	applier := &fakeApplier{}
	registry := &fakeRegistry{byGateway: map[string]LifecycleApplier{"gw-a": applier}}

	r := &Reconciler{store: store, lifecycles: registry}
	_, err := r.Reconcile(context.Background(), reconcile.Request{NamespacedName: types.NamespacedName{Namespace: "fog-hub", Name: "app-1"}})
	require.NoError(t, err)

	require.Len(t, applier.applied, 1)
	require.Equal(t, []string{"d1"}, applier.applied[0].TargetDeviceIDs)
	require.Len(t, applier.projected, 1)
}

func TestReconcileSelectorMatchesLabeledDevices(t *testing.T) {
	d1 := &fogv1alpha1.Device{}
	d1.Name, d1.Namespace = "d1", "fog-hub"
	d1.Labels = map[string]string{"region": "west"}
	d1.Status.Gateway = &fogv1alpha1.GatewayReference{Name: "gw-a"}

	d2 := &fogv1alpha1.Device{}
	d2.Name, d2.Namespace = "d2", "fog-hub"
	d2.Labels = map[string]string{"region": "east"}
	d2.Status.Gateway = &fogv1alpha1.GatewayReference{Name: "gw-a"}

	app := &fogv1alpha1.Application{}
	app.Name, app.Namespace = "app-1", "fog-hub"
	app.Spec.TargetDevices = fogv1alpha1.TargetDeviceSelector{
		Selector: &metav1.LabelSelector{MatchLabels: map[string]string{"region": "west"}},
	}

	store := newTestStore(t, d1, d2, app)
	applier := &fakeApplier{}
	registry := &fakeRegistry{byGateway: map[string]LifecycleApplier{"gw-a": applier}}

	r := &Reconciler{store: store, lifecycles: registry}
	_, err := r.Reconcile(context.Background(), reconcile.Request{NamespacedName: types.NamespacedName{Namespace: "fog-hub", Name: "app-1"}})
	require.NoError(t, err)

	require.Len(t, applier.applied, 1)
	require.Equal(t, []string{"d1"}, applier.applied[0].TargetDeviceIDs)
}
