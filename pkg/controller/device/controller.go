// Package device implements the device controller (C7, §4.7): it
// reconciles Device CRs, performs least-connections gateway assignment and
// drives failover when a device's assigned gateway stops being Running.
package device

import (
	"context"
	"fmt"
	"sort"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/klog/v2"
	"sigs.k8s.io/controller-runtime/pkg/controller"
	"sigs.k8s.io/controller-runtime/pkg/handler"
	"sigs.k8s.io/controller-runtime/pkg/manager"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"
	"sigs.k8s.io/controller-runtime/pkg/source"

	"github.com/fogmesh/gateway-fog-hub/pkg/crstore"
	fogv1alpha1 "github.com/fogmesh/gateway-fog-hub/pkg/fogapi/v1alpha1"
)

const controllerName = "device_controller"

// Config tunes the device controller's timing behavior.
type Config struct {
	// UnreachableTimeout is how long since LastHeartbeat before a
	// Connected/Disconnected device is marked Unreachable (§4.7 step 4).
	UnreachableTimeout time.Duration
}

// Add creates a new device Reconciler and registers it with mgr.
func Add(mgr manager.Manager, store *crstore.Store, cfg Config) error {
	if cfg.UnreachableTimeout <= 0 {
		cfg.UnreachableTimeout = 5 * time.Minute
	}
	r := &Reconciler{store: store, cfg: cfg}

	c, err := controller.New(controllerName, mgr, controller.Options{Reconciler: r})
	if err != nil {
		return err
	}

	if err := c.Watch(source.Kind(mgr.GetCache(), &fogv1alpha1.Device{},
		&handler.TypedEnqueueRequestForObject[*fogv1alpha1.Device]{},
	)); err != nil {
		return err
	}

	// Gateway transitions (e.g. losing Running) are handled by the
	// failover scheduler (C12), which watches Gateway CRs itself and
	// reassigns affected Devices directly via SelectLeastConnections
	// below rather than this controller also watching Gateway — one
	// event source per concern (§4.12).
	return nil
}

// Reconciler reconciles Device CRs, performing gateway assignment (§4.7).
type Reconciler struct {
	store *crstore.Store
	cfg   Config
}

var _ reconcile.Reconciler = &Reconciler{}

// Reconcile implements §4.7's four steps for one Device.
func (r *Reconciler) Reconcile(ctx context.Context, req reconcile.Request) (reconcile.Result, error) {
	dev, err := r.store.GetDevice(ctx, req.Name)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return reconcile.Result{}, nil
		}
		return reconcile.Result{}, fmt.Errorf("device controller: get device %q: %w", req.Name, err)
	}

	if dev.DeletionTimestamp != nil {
		return reconcile.Result{}, nil
	}

	// Step 4: unreachable detection runs first so a stale device never
	// masks as Connected while we decide on assignment below.
	if (dev.Status.Phase == fogv1alpha1.DeviceConnected || dev.Status.Phase == fogv1alpha1.DeviceDisconnected) &&
		dev.Status.LastHeartbeat > 0 {
		lastSeen := time.Unix(dev.Status.LastHeartbeat, 0)
		if time.Since(lastSeen) > r.cfg.UnreachableTimeout {
			if err := r.store.PatchDeviceStatus(ctx, dev.Name, func(st *fogv1alpha1.DeviceStatus) {
				st.Phase = fogv1alpha1.DeviceUnreachable
			}); err != nil {
				return reconcile.Result{}, fmt.Errorf("device controller: mark unreachable: %w", err)
			}
			dev.Status.Phase = fogv1alpha1.DeviceUnreachable
		}
	}

	// Step 1+2: no gateway assigned yet — initial selection and
	// write-through (I6: persisted before any deploy command follows).
	if dev.Status.Gateway == nil {
		return r.assign(ctx, dev, "")
	}

	// Step 3: disconnection/failover handling — verify the referenced
	// gateway is still Running.
	gw, err := r.store.GetGateway(ctx, dev.Status.Gateway.Name)
	if err != nil && !apierrors.IsNotFound(err) {
		return reconcile.Result{}, fmt.Errorf("device controller: get gateway %q: %w", dev.Status.Gateway.Name, err)
	}
	gatewayHealthy := err == nil && gw.Status.Phase == fogv1alpha1.GatewayRunning
	if gatewayHealthy {
		return reconcile.Result{}, nil
	}

	if dev.Status.Phase != fogv1alpha1.DeviceDisconnected && dev.Status.Phase != fogv1alpha1.DeviceUnreachable {
		// Gateway is unhealthy but we have not yet observed the device
		// leave Connected; nothing to do until a disconnect or the next
		// heartbeat-driven reconcile reports it.
		return reconcile.Result{}, nil
	}

	return r.assign(ctx, dev, dev.Status.Gateway.Name)
}

// assign implements §4.7 step 1 ("Selection") and step 2
// ("Write-through"). exclude is the gateway a failover must not reselect
// (empty for first-time assignment).
func (r *Reconciler) assign(ctx context.Context, dev *fogv1alpha1.Device, exclude string) (reconcile.Result, error) {
	chosen, err := r.selectGateway(ctx, dev, exclude)
	if err != nil {
		return reconcile.Result{}, fmt.Errorf("device controller: select gateway for %q: %w", dev.Name, err)
	}

	if chosen == "" {
		// No healthy candidate remains: leave gateway_ref untouched (or
		// unset) and mark Unreachable (§4.12 "zero candidates remain").
		if err := r.store.PatchDeviceStatus(ctx, dev.Name, func(st *fogv1alpha1.DeviceStatus) {
			st.Phase = fogv1alpha1.DeviceUnreachable
		}); err != nil {
			return reconcile.Result{}, fmt.Errorf("device controller: mark unreachable (no candidates): %w", err)
		}
		return reconcile.Result{RequeueAfter: 30 * time.Second}, nil
	}

	if err := r.store.PatchDeviceStatus(ctx, dev.Name, func(st *fogv1alpha1.DeviceStatus) {
		st.Gateway = &fogv1alpha1.GatewayReference{Name: chosen}
		st.Phase = fogv1alpha1.DeviceEnrolling
	}); err != nil {
		return reconcile.Result{}, fmt.Errorf("device controller: write-through gateway_ref: %w", err)
	}
	klog.V(2).Infof("device controller: assigned %q to gateway %q", dev.Name, chosen)
	return reconcile.Result{}, nil
}

// selectGateway implements §4.7 step 1's hint-then-least-connections rule.
func (r *Reconciler) selectGateway(ctx context.Context, dev *fogv1alpha1.Device, exclude string) (string, error) {
	if dev.Spec.AssignedGatewayHint != nil && *dev.Spec.AssignedGatewayHint != exclude {
		hint := *dev.Spec.AssignedGatewayHint
		gw, err := r.store.GetGateway(ctx, hint)
		if err == nil && gw.Status.Phase == fogv1alpha1.GatewayRunning {
			return hint, nil
		}
		if err != nil && !apierrors.IsNotFound(err) {
			return "", err
		}
	}
	return SelectLeastConnections(ctx, r.store, exclude)
}

// SelectLeastConnections implements §4.7's least-connections assignment
// computed over cluster-wide Device.status.gateway counts (never a single
// gateway process's in-memory registry, per spec §9's open-question
// decision). Exported so the failover scheduler (C12) reuses the exact
// same selection rule (§4.12). Returns "" if no healthy candidate exists.
func SelectLeastConnections(ctx context.Context, store *crstore.Store, exclude string) (string, error) {
	running, err := store.ListRunningGateways(ctx)
	if err != nil {
		return "", err
	}

	type candidate struct {
		name  string
		count int
	}
	candidates := make([]candidate, 0, len(running))
	for _, gw := range running {
		if gw.Name == exclude {
			continue
		}
		count, err := store.CountDevicesForGateway(ctx, gw.Name)
		if err != nil {
			return "", err
		}
		candidates = append(candidates, candidate{name: gw.Name, count: count})
	}
	if len(candidates) == 0 {
		return "", nil
	}

	// Smallest count first; ties broken lexicographically (§4.7, §8 S7).
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].count != candidates[j].count {
			return candidates[i].count < candidates[j].count
		}
		return candidates[i].name < candidates[j].name
	})
	return candidates[0].name, nil
}

// Reachable reports whether dev's Gateway is currently Running. No caller
// in this repository uses it.
func Reachable(ctx context.Context, store *crstore.Store, dev *fogv1alpha1.Device) (bool, error) {
	if dev.Status.Gateway == nil {
		return false, nil
	}
	gw, err := store.GetGateway(ctx, dev.Status.Gateway.Name)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return gw.Status.Phase == fogv1alpha1.GatewayRunning, nil
}
