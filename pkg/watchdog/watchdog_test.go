package watchdog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/fogmesh/gateway-fog-hub/pkg/crstore"
	fogv1alpha1 "github.com/fogmesh/gateway-fog-hub/pkg/fogapi/v1alpha1"
	"github.com/fogmesh/gateway-fog-hub/pkg/registry"
)

type fakeSession struct {
	id       string
	lastRx   time.Time
	timeout  time.Duration
	closed   bool
	closeMsg string
}

func (f *fakeSession) DeviceID() string       { return f.id }
func (f *fakeSession) PublicKeyHex() string   { return "ab" }
func (f *fakeSession) Close(reason string)    { f.closed = true; f.closeMsg = reason }
func (f *fakeSession) LastRx() time.Time      { return f.lastRx }
func (f *fakeSession) HeartbeatTimeout() time.Duration { return f.timeout }

type fakeExpirer struct{ calls int }

func (f *fakeExpirer) ExpireStaleCommands(time.Time) { f.calls++ }

func newTestStore(t *testing.T, objs ...runtime.Object) *crstore.Store {
	t.Helper()
	scheme := runtime.NewScheme()
	require.NoError(t, fogv1alpha1.AddToScheme(scheme))
	builder := fake.NewClientBuilder().WithScheme(scheme).WithStatusSubresource(&fogv1alpha1.Device{})
	for _, o := range objs {
		builder = builder.WithRuntimeObjects(o)
	}
	return crstore.New(builder.Build(), "fog-hub")
}

func TestSweepClosesStaleSessionAndMarksUnreachable(t *testing.T) {
	dev := &fogv1alpha1.Device{}
	dev.Name, dev.Namespace = "dev-1", "fog-hub"
	dev.Status.Phase = fogv1alpha1.DeviceConnected

	store := newTestStore(t, dev)
	reg := registry.New()

	now := time.Now()
	stale := &fakeSession{id: "dev-1", lastRx: now.Add(-2 * time.Minute), timeout: 90 * time.Second}
	fresh := &fakeSession{id: "dev-2", lastRx: now, timeout: 90 * time.Second}
	reg.InsertOrReplace(stale)
	reg.InsertOrReplace(fresh)

	expirer := &fakeExpirer{}
	wd := New(reg, expirer, store, Config{Interval: time.Second})
	wd.sweep(context.Background(), now)

	require.True(t, stale.closed)
	require.False(t, fresh.closed)
	require.Equal(t, 1, expirer.calls)

	got, err := store.GetDevice(context.Background(), "dev-1")
	require.NoError(t, err)
	require.Equal(t, fogv1alpha1.DeviceUnreachable, got.Status.Phase)
}
