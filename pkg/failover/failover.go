// Package failover implements the failover scheduler (C12, §4.12): it
// watches Gateway CRs and, when one leaves Running (degraded, stopped, or
// deleted), reassigns every Device currently pointing at it to another
// healthy Gateway using the same least-connections rule the device
// controller (C7) applies on first assignment.
package failover

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/klog/v2"
	"sigs.k8s.io/controller-runtime/pkg/controller"
	"sigs.k8s.io/controller-runtime/pkg/handler"
	"sigs.k8s.io/controller-runtime/pkg/manager"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"
	"sigs.k8s.io/controller-runtime/pkg/source"

	"github.com/fogmesh/gateway-fog-hub/pkg/controller/device"
	"github.com/fogmesh/gateway-fog-hub/pkg/crstore"
	fogv1alpha1 "github.com/fogmesh/gateway-fog-hub/pkg/fogapi/v1alpha1"
)

// maxConcurrentReassignments bounds how many devices this reconcile fans
// the reassignment work out to at once, so a gateway losing thousands of
// devices at once doesn't open thousands of simultaneous API server calls.
const maxConcurrentReassignments = 16

const controllerName = "failover_scheduler"

// Add creates a new failover Reconciler and registers it with mgr.
func Add(mgr manager.Manager, store *crstore.Store) error {
	r := &Reconciler{store: store}

	c, err := controller.New(controllerName, mgr, controller.Options{Reconciler: r})
	if err != nil {
		return err
	}

	return c.Watch(source.Kind(mgr.GetCache(), &fogv1alpha1.Gateway{},
		&handler.TypedEnqueueRequestForObject[*fogv1alpha1.Gateway]{},
	))
}

// Reconciler reassigns devices away from a Gateway that has left Running.
type Reconciler struct {
	store *crstore.Store
}

var _ reconcile.Reconciler = &Reconciler{}

func (r *Reconciler) Reconcile(ctx context.Context, req reconcile.Request) (reconcile.Result, error) {
	gw, err := r.store.GetGateway(ctx, req.Name)
	deleted := apierrors.IsNotFound(err)
	if err != nil && !deleted {
		return reconcile.Result{}, fmt.Errorf("failover: get gateway %q: %w", req.Name, err)
	}

	lost := deleted || gw.Status.Phase != fogv1alpha1.GatewayRunning
	if !lost {
		return reconcile.Result{}, nil
	}

	list, err := r.store.ListDevices(ctx)
	if err != nil {
		return reconcile.Result{}, fmt.Errorf("failover: list devices: %w", err)
	}

	affected := make([]fogv1alpha1.Device, 0)
	for _, d := range list.Items {
		if d.Status.Gateway != nil && d.Status.Gateway.Name == req.Name {
			affected = append(affected, d)
		}
	}
	if len(affected) == 0 {
		return reconcile.Result{}, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentReassignments)

	for i := range affected {
		d := &affected[i]
		g.Go(func() error {
			r.reassign(gctx, d, req.Name)
			return nil
		})
	}
	_ = g.Wait() // reassign reports its own errors; nothing to propagate here

	return reconcile.Result{RequeueAfter: 30 * time.Second}, nil
}

// reassign picks a replacement gateway for one device that lost its
// gateway and patches its status accordingly. Run concurrently across
// affected devices (bounded by maxConcurrentReassignments); failures are
// logged, not returned, so one device's API error never blocks the batch.
func (r *Reconciler) reassign(ctx context.Context, d *fogv1alpha1.Device, lost string) {
	chosen, err := device.SelectLeastConnections(ctx, r.store, lost)
	if err != nil {
		klog.Errorf("failover: select replacement gateway for %q: %v", d.Name, err)
		return
	}

	if chosen == "" {
		// §4.12 "if zero candidates remain, devices are left with their
		// current gateway_ref and phase=Unreachable".
		if err := r.store.PatchDeviceStatus(ctx, d.Name, func(st *fogv1alpha1.DeviceStatus) {
			st.Phase = fogv1alpha1.DeviceUnreachable
		}); err != nil {
			klog.Errorf("failover: mark %q unreachable: %v", d.Name, err)
		}
		return
	}

	if err := r.store.PatchDeviceStatus(ctx, d.Name, func(st *fogv1alpha1.DeviceStatus) {
		st.Gateway = &fogv1alpha1.GatewayReference{Name: chosen}
		st.Phase = fogv1alpha1.DeviceEnrolling
	}); err != nil {
		klog.Errorf("failover: reassign %q to %q: %v", d.Name, chosen, err)
		return
	}
	klog.V(2).Infof("failover: reassigned %q from %q to %q", d.Name, lost, chosen)
}
