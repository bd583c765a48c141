package enrollment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/fogmesh/gateway-fog-hub/pkg/crstore"
	fogv1alpha1 "github.com/fogmesh/gateway-fog-hub/pkg/fogapi/v1alpha1"
	"github.com/fogmesh/gateway-fog-hub/pkg/wire"
)

func newTestStore(t *testing.T, objs ...runtime.Object) *crstore.Store {
	t.Helper()
	scheme := runtime.NewScheme()
	require.NoError(t, fogv1alpha1.AddToScheme(scheme))

	builder := fake.NewClientBuilder().
		WithScheme(scheme).
		WithStatusSubresource(&fogv1alpha1.Device{})
	for _, o := range objs {
		builder = builder.WithRuntimeObjects(o)
	}
	return crstore.New(builder.Build(), "fog-hub")
}

func TestHandleEnrollmentRejectsWhenPairingDisabled(t *testing.T) {
	store := newTestStore(t)
	pairing := &PairingMode{}

	svc := New(store, pairing, Config{HeartbeatInterval: 30 * time.Second})
	resp, deviceID, err := svc.HandleEnrollment(context.Background(), []byte{1}, wire.Enrollment{PublicKey: []byte{1}})
	require.NoError(t, err)
	require.False(t, resp.Accepted)
	require.Empty(t, deviceID)
	require.Equal(t, wire.ErrCodePairingDisabled, *resp.Error)
}

func TestHandleEnrollmentRejectsKeyMismatch(t *testing.T) {
	store := newTestStore(t)
	pairing := &PairingMode{}
	pairing.Enable(time.Time{})

	svc := New(store, pairing, Config{})
	resp, _, err := svc.HandleEnrollment(context.Background(), []byte{1, 2}, wire.Enrollment{PublicKey: []byte{9, 9}})
	require.NoError(t, err)
	require.False(t, resp.Accepted)
	require.Equal(t, wire.ErrCodeKeyMismatch, *resp.Error)
}

func TestHandleEnrollmentCreatesDeviceForNewKey(t *testing.T) {
	store := newTestStore(t)
	pairing := &PairingMode{}
	pairing.Enable(time.Time{})

	svc := New(store, pairing, Config{HeartbeatInterval: 30 * time.Second, MaxMessageSize: 65536})
	resp, deviceID, err := svc.HandleEnrollment(context.Background(), []byte{1, 2, 3}, wire.Enrollment{
		PublicKey:  []byte{1, 2, 3},
		DeviceType: "Mps2An385",
		HardwareID: "Board-007",
	})
	require.NoError(t, err)
	require.True(t, resp.Accepted)
	require.NotEmpty(t, deviceID)
	require.Equal(t, uint32(30), resp.Config.HeartbeatIntervalSeconds)

	dev, err := store.GetDevice(context.Background(), deviceID)
	require.NoError(t, err)
	require.Equal(t, fogv1alpha1.DeviceEnrolled, dev.Status.Phase)
	require.Equal(t, []byte{1, 2, 3}, dev.Spec.PublicKey)
}

func TestHandleEnrollmentReusesDisconnectedDevice(t *testing.T) {
	dev := &fogv1alpha1.Device{}
	dev.Name, dev.Namespace = "dev-existing", "fog-hub"
	dev.Spec.PublicKey = []byte{7, 7}
	dev.Status.Phase = fogv1alpha1.DeviceDisconnected

	store := newTestStore(t, dev)
	pairing := &PairingMode{}
	pairing.Enable(time.Time{})

	svc := New(store, pairing, Config{})
	resp, deviceID, err := svc.HandleEnrollment(context.Background(), []byte{7, 7}, wire.Enrollment{PublicKey: []byte{7, 7}})
	require.NoError(t, err)
	require.True(t, resp.Accepted)
	require.Equal(t, "dev-existing", deviceID)
}

func TestHandleEnrollmentRejectsAlreadyConnectedDevice(t *testing.T) {
	dev := &fogv1alpha1.Device{}
	dev.Name, dev.Namespace = "dev-busy", "fog-hub"
	dev.Spec.PublicKey = []byte{5, 5}
	dev.Status.Phase = fogv1alpha1.DeviceConnected

	store := newTestStore(t, dev)
	pairing := &PairingMode{}
	pairing.Enable(time.Time{})

	svc := New(store, pairing, Config{})
	resp, _, err := svc.HandleEnrollment(context.Background(), []byte{5, 5}, wire.Enrollment{PublicKey: []byte{5, 5}})
	require.NoError(t, err)
	require.False(t, resp.Accepted)
	require.Equal(t, wire.ErrCodeAlreadyConnected, *resp.Error)
}

func TestPairingModeDeadlineAutoDisables(t *testing.T) {
	p := &PairingMode{}
	p.Enable(time.Now().Add(-time.Second))
	require.False(t, p.Enabled(time.Now()))
}
