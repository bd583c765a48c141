// Package gateway implements the gateway controller (C9, §4.9): it
// reconciles Gateway CRs, probes endpoint reachability and drives the
// Pending -> Running -> {Degraded,Stopped} phase transitions that the
// device controller (C7) and failover scheduler (C12) key their
// assignment decisions off of.
package gateway

import (
	"context"
	"fmt"
	"net"
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

const controllerName = "gateway_controller"

// Prober checks whether a Gateway's TLS endpoint is currently reachable.
// The default implementation dials the endpoint; tests substitute a fake.
type Prober interface {
	Probe(ctx context.Context, endpoint string, timeout time.Duration) bool
}

// DialProber probes reachability with a plain TCP dial, enough to confirm
// the listener is up without performing a full TLS handshake (the gateway
// process itself, not this controller, terminates TLS — §4.9 describes
// provisioning "a reachable network address", not a protocol check).
type DialProber struct{}

func (DialProber) Probe(ctx context.Context, endpoint string, timeout time.Duration) bool {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Config tunes the gateway controller's probing behavior.
type Config struct {
	ProbeTimeout time.Duration
}

// Add creates a new gateway Reconciler and registers it with mgr.
func Add(mgr manager.Manager, store *crstore.Store, prober Prober, cfg Config) error {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 3 * time.Second
	}
	if prober == nil {
		prober = DialProber{}
	}
	r := &Reconciler{store: store, prober: prober, cfg: cfg}

	c, err := controller.New(controllerName, mgr, controller.Options{Reconciler: r})
	if err != nil {
		return err
	}

	return c.Watch(source.Kind(mgr.GetCache(), &fogv1alpha1.Gateway{},
		&handler.TypedEnqueueRequestForObject[*fogv1alpha1.Gateway]{},
	))
}

// Reconciler reconciles Gateway CRs (§4.9).
type Reconciler struct {
	store  *crstore.Store
	prober Prober
	cfg    Config
}

var _ reconcile.Reconciler = &Reconciler{}

func (r *Reconciler) Reconcile(ctx context.Context, req reconcile.Request) (reconcile.Result, error) {
	gw, err := r.store.GetGateway(ctx, req.Name)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return reconcile.Result{}, nil
		}
		return reconcile.Result{}, fmt.Errorf("gateway controller: get gateway %q: %w", req.Name, err)
	}

	if gw.DeletionTimestamp != nil {
		// §4.9 "On deletion, sets Stopped and expects C7 to failover
		// attached devices" — the failover scheduler (C12) watches this
		// same transition independently.
		if gw.Status.Phase != fogv1alpha1.GatewayStopped {
			if err := r.store.PatchGatewayStatus(ctx, gw.Name, func(st *fogv1alpha1.GatewayStatus) {
				st.Phase = fogv1alpha1.GatewayStopped
			}); err != nil {
				return reconcile.Result{}, fmt.Errorf("gateway controller: mark stopped on delete: %w", err)
			}
		}
		return reconcile.Result{}, nil
	}

	reachable := r.prober.Probe(ctx, gw.Spec.Endpoint, r.cfg.ProbeTimeout)
	now := time.Now().Unix()

	nextPhase := gw.Status.Phase
	switch {
	case reachable:
		nextPhase = fogv1alpha1.GatewayRunning
	case gw.Status.Phase == fogv1alpha1.GatewayRunning:
		// Was healthy, the probe just failed: degrade rather than
		// immediately declaring it Stopped, giving a transient blip one
		// reconcile's grace before failover reassigns devices.
		nextPhase = fogv1alpha1.GatewayDegraded
	case gw.Status.Phase == fogv1alpha1.GatewayDegraded:
		nextPhase = fogv1alpha1.GatewayStopped
	default:
		nextPhase = fogv1alpha1.GatewayPending
	}

	if err := r.store.PatchGatewayStatus(ctx, gw.Name, func(st *fogv1alpha1.GatewayStatus) {
		st.Phase = nextPhase
		if reachable {
			st.LastHealth = now
		}
	}); err != nil {
		return reconcile.Result{}, fmt.Errorf("gateway controller: patch status: %w", err)
	}

	if nextPhase != gw.Status.Phase {
		klog.V(2).Infof("gateway controller: %q %s -> %s", gw.Name, gw.Status.Phase, nextPhase)
	}

	return reconcile.Result{RequeueAfter: 10 * time.Second}, nil
}
