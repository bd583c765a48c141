// Package traffic adapts the lifecycle manager (C6) and CR store (C10)
// into the session layer's TrafficHandler contract (C3), the glue a
// gateway process wires between an authenticated session and the rest of
// the system. It exists as its own package because the session, lifecycle
// and crstore packages intentionally describe only the behavior they use
// of each other (narrow local interfaces), not one another's concrete
// types; something has to compose them, and that composition is gateway-
// process plumbing, not any one of those packages' own concern.
package traffic

import (
	"context"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/fogmesh/gateway-fog-hub/pkg/crstore"
	fogv1alpha1 "github.com/fogmesh/gateway-fog-hub/pkg/fogapi/v1alpha1"
	"github.com/fogmesh/gateway-fog-hub/pkg/session"
	"github.com/fogmesh/gateway-fog-hub/pkg/wire"
)

var _ session.TrafficHandler = (*Adapter)(nil)

// LifecycleAcker is the subset of *lifecycle.Manager the adapter drives.
// Defined locally so this package does not import pkg/lifecycle's full
// surface, only the ack/cancel handlers it forwards to.
type LifecycleAcker interface {
	HandleDeployAck(deviceID, appID string, correlationID uuid.UUID, ack wire.ApplicationDeployAck)
	HandleStopAck(deviceID, appID string, correlationID uuid.UUID, ack wire.ApplicationStopAck)
	HandleCancelled(deviceID, appID string, correlationID uuid.UUID, kind wire.Kind)
}

// Adapter implements session.TrafficHandler by routing acks/cancellations
// to the lifecycle manager (with the appID named in the ack or recorded
// with the cancelled command) and heartbeat/status reports to the CR store.
type Adapter struct {
	lifecycle LifecycleAcker
	store     *crstore.Store
}

// New builds an Adapter bound to one gateway process's lifecycle manager
// and CR store.
func New(lifecycle LifecycleAcker, store *crstore.Store) *Adapter {
	return &Adapter{lifecycle: lifecycle, store: store}
}

// HandleHeartbeat records the device's last-seen timestamp and promotes it
// to Connected if it was Enrolled, Disconnected or Unreachable (§4.3
// "Updates last_rx on every inbound frame"). Dispatched off the session's
// read-loop goroutine since it performs a CR write.
func (a *Adapter) HandleHeartbeat(deviceID string, _ wire.Heartbeat) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.store.PatchDeviceStatus(ctx, deviceID, func(st *fogv1alpha1.DeviceStatus) {
			st.LastHeartbeat = time.Now().Unix()
			switch st.Phase {
			case fogv1alpha1.DeviceEnrolled, fogv1alpha1.DeviceDisconnected, fogv1alpha1.DeviceUnreachable:
				st.Phase = fogv1alpha1.DeviceConnected
			}
		}); err != nil {
			klog.Errorf("traffic: patch heartbeat status for device %q: %v", deviceID, err)
		}
	}()
}

// HandleApplicationStatus mirrors a device's self-reported per-app phase
// into the Device CR's status.reportedApps (§3's ReportedApps map, I5:
// absence is equivalent to Pending).
func (a *Adapter) HandleApplicationStatus(deviceID string, status wire.ApplicationStatus) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.store.PatchDeviceStatus(ctx, deviceID, func(st *fogv1alpha1.DeviceStatus) {
			if st.ReportedApps == nil {
				st.ReportedApps = make(map[string]fogv1alpha1.DeviceAppPhase)
			}
			st.ReportedApps[status.AppID] = fogv1alpha1.DeviceAppPhase(status.Phase)
		}); err != nil {
			klog.Errorf("traffic: patch application status for device %q app %q: %v", deviceID, status.AppID, err)
		}
	}()
}

// HandleDeployAck forwards to the lifecycle manager, which resolves the
// in-flight command by correlationID within the app named in the ack.
func (a *Adapter) HandleDeployAck(deviceID string, correlationID uuid.UUID, ack wire.ApplicationDeployAck) {
	a.lifecycle.HandleDeployAck(deviceID, ack.AppID, correlationID, ack)
}

// HandleStopAck forwards to the lifecycle manager.
func (a *Adapter) HandleStopAck(deviceID string, correlationID uuid.UUID, ack wire.ApplicationStopAck) {
	a.lifecycle.HandleStopAck(deviceID, ack.AppID, correlationID, ack)
}

// HandleCancelled forwards a disconnect-cancelled command to the lifecycle
// manager (§8 P9's CancelledByDisconnect).
func (a *Adapter) HandleCancelled(deviceID string, correlationID uuid.UUID, appID string, kind wire.Kind) {
	a.lifecycle.HandleCancelled(deviceID, appID, correlationID, kind)
}
