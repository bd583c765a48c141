// Package application implements the application controller (C8, §4.8): it
// watches Application CRs (and the Device CRs its selector reaches),
// computes each application's target device set, fans the per-gateway
// subset of that set out to the owning gateway process's lifecycle
// manager, and keeps Application.status refreshed on a tick.
package application

import (
	"context"
	"fmt"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/klog/v2"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller"
	"sigs.k8s.io/controller-runtime/pkg/handler"
	"sigs.k8s.io/controller-runtime/pkg/manager"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"
	"sigs.k8s.io/controller-runtime/pkg/source"

	"github.com/fogmesh/gateway-fog-hub/pkg/crstore"
	fogv1alpha1 "github.com/fogmesh/gateway-fog-hub/pkg/fogapi/v1alpha1"
	"github.com/fogmesh/gateway-fog-hub/pkg/lifecycle"
)

const controllerName = "application_controller"

// LifecycleApplier is the subset of *lifecycle.Manager the application
// controller drives: handing it a diffed desired state (§4.6 "Apply plan")
// and asking it to refresh the CR's reported status.
type LifecycleApplier interface {
	Apply(in lifecycle.ApplyInput)
	ProjectStatus(ctx context.Context, appID string) error
}

// LifecycleRegistry resolves a Gateway name to the LifecycleApplier running
// inside that gateway's process. In the default single-binary deployment
// (§ SPEC_FULL "Gateway process vs. controller-manager process") there is
// exactly one entry, reached by direct in-process method calls; a multi-process
// deployment would back this by whatever forwarding mechanism §4.8 point 2
// leaves abstract (an internal channel when co-located, an intent
// CR/annotation otherwise) — this repo implements the co-located case.
type LifecycleRegistry interface {
	Get(gatewayName string) (LifecycleApplier, bool)
}

// Add creates a new application Reconciler and registers it with mgr.
func Add(mgr manager.Manager, store *crstore.Store, lifecycles LifecycleRegistry) error {
	r := &Reconciler{store: store, lifecycles: lifecycles}

	c, err := controller.New(controllerName, mgr, controller.Options{Reconciler: r})
	if err != nil {
		return err
	}

	if err := c.Watch(source.Kind(mgr.GetCache(), &fogv1alpha1.Application{},
		&handler.TypedEnqueueRequestForObject[*fogv1alpha1.Application]{},
	)); err != nil {
		return err
	}

	// Device changes (new gateway assignment, disconnection) can shift
	// which gateway a target device's commands must route through;
	// re-enqueue every Application on any Device change. Application
	// counts are low-cardinality (one fog deployment serves a bounded set
	// of apps), so an unfiltered fan-out is cheap enough without needing a
	// label index.
	return c.Watch(source.Kind(mgr.GetCache(), &fogv1alpha1.Device{},
		handler.TypedEnqueueRequestsFromMapFunc[*fogv1alpha1.Device](r.deviceToApplications),
	))
}

// Reconciler reconciles Application CRs, computing target sets and
// fanning deploy/stop intents out to gateway-local lifecycle managers.
type Reconciler struct {
	store      *crstore.Store
	lifecycles LifecycleRegistry
}

var _ reconcile.Reconciler = &Reconciler{}

func (r *Reconciler) deviceToApplications(ctx context.Context, _ *fogv1alpha1.Device) []reconcile.Request {
	apps, err := r.store.ListApplications(ctx)
	if err != nil {
		klog.Errorf("application controller: list applications for device map: %v", err)
		return nil
	}
	reqs := make([]reconcile.Request, 0, len(apps.Items))
	for _, a := range apps.Items {
		reqs = append(reqs, reconcile.Request{NamespacedName: client.ObjectKey{Namespace: a.Namespace, Name: a.Name}})
	}
	return reqs
}

// Reconcile implements §4.8's four steps for one Application.
func (r *Reconciler) Reconcile(ctx context.Context, req reconcile.Request) (reconcile.Result, error) {
	app, err := r.store.GetApplication(ctx, req.Name)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return reconcile.Result{}, nil
		}
		return reconcile.Result{}, fmt.Errorf("application controller: get application %q: %w", req.Name, err)
	}
	if app.DeletionTimestamp != nil {
		return reconcile.Result{}, nil
	}

	targets, err := r.targetDevices(ctx, app)
	if err != nil {
		return reconcile.Result{}, fmt.Errorf("application controller: compute target set for %q: %w", app.Name, err)
	}

	byGateway := make(map[string][]string)
	for _, d := range targets {
		if d.Status.Gateway == nil {
			// Devices not yet assigned to a gateway remain Pending
			// in status (§4.8 point 1); nothing to dispatch yet.
			continue
		}
		byGateway[d.Status.Gateway.Name] = append(byGateway[d.Status.Gateway.Name], d.Name)
	}

	for gwName, deviceIDs := range byGateway {
		applier, ok := r.lifecycles.Get(gwName)
		if !ok {
			// Gateway not co-located with this controller-manager
			// process; §4.8 point 2's external forwarding path is not
			// exercised by this deployment topology.
			continue
		}
		applier.Apply(lifecycle.ApplyInput{
			AppID:            app.Name,
			WasmBytes:        app.Spec.WasmBytes,
			Image:            app.Spec.Image,
			Config:           app.Spec.Config,
			Env:              app.Spec.Env,
			Args:             app.Spec.Args,
			RollbackEligible: app.Spec.RollbackEligible,
			TargetDeviceIDs:  deviceIDs,
		})
		if err := applier.ProjectStatus(ctx, app.Name); err != nil {
			klog.Errorf("application controller: project status for %q via gateway %q: %v", app.Name, gwName, err)
		}
	}

	// §4.8 point 3: keep reported status fresh even absent new events.
	return reconcile.Result{RequeueAfter: 10 * time.Second}, nil
}

// targetDevices implements §4.8 step 1: the explicit device-name list, or
// the label selector, evaluated against every Device CR.
func (r *Reconciler) targetDevices(ctx context.Context, app *fogv1alpha1.Application) ([]fogv1alpha1.Device, error) {
	sel := app.Spec.TargetDevices

	if len(sel.DeviceNames) > 0 {
		out := make([]fogv1alpha1.Device, 0, len(sel.DeviceNames))
		for _, name := range sel.DeviceNames {
			d, err := r.store.GetDevice(ctx, name)
			if err != nil {
				if apierrors.IsNotFound(err) {
					continue
				}
				return nil, err
			}
			out = append(out, *d)
		}
		return out, nil
	}

	if sel.Selector == nil {
		return nil, nil
	}
	labelSelector, err := metav1.LabelSelectorAsSelector(sel.Selector)
	if err != nil {
		return nil, fmt.Errorf("parse target device selector: %w", err)
	}

	list, err := r.store.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]fogv1alpha1.Device, 0, len(list.Items))
	for _, d := range list.Items {
		if labelSelector.Matches(labels.Set(d.Labels)) {
			out = append(out, d)
		}
	}
	return out, nil
}
