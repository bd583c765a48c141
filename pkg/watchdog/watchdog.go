// Package watchdog implements the heartbeat watchdog (C11, §4.11): a
// per-gateway background task that closes sessions whose last inbound
// frame is older than their configured heartbeat timeout, and delegates
// expired in-flight deploy/stop commands to the lifecycle manager (C6).
package watchdog

import (
	"context"
	"time"

	"k8s.io/klog/v2"

	"github.com/fogmesh/gateway-fog-hub/pkg/crstore"
	fogv1alpha1 "github.com/fogmesh/gateway-fog-hub/pkg/fogapi/v1alpha1"
	"github.com/fogmesh/gateway-fog-hub/pkg/registry"
)

// HeartbeatSession is the subset of *session.Session the watchdog needs:
// enough to judge staleness and close it. Defined locally so this package
// does not import pkg/session.
type HeartbeatSession interface {
	registry.SessionHandle
	LastRx() time.Time
	HeartbeatTimeout() time.Duration
}

// LifecycleExpirer is the subset of *lifecycle.Manager the watchdog drives
// independently of inbound traffic (§4.11 "also inspects any in_flight
// command past its deadline").
type LifecycleExpirer interface {
	ExpireStaleCommands(now time.Time)
}

// Config tunes the watchdog's cadence.
type Config struct {
	// Interval is how often the watchdog scans the registry (§4.11: "a
	// fixed cadence, e.g. every 5 s").
	Interval time.Duration
}

// Watchdog is the per-gateway stale-session scanner.
type Watchdog struct {
	reg   *registry.Registry
	lm    LifecycleExpirer
	store *crstore.Store
	cfg   Config
}

// New creates a Watchdog bound to one gateway process's registry,
// lifecycle manager and CR store.
func New(reg *registry.Registry, lm LifecycleExpirer, store *crstore.Store, cfg Config) *Watchdog {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	return &Watchdog{reg: reg, lm: lm, store: store, cfg: cfg}
}

// Run drives the watchdog's ticker loop until ctx is cancelled. Intended
// to be launched as its own goroutine by the gateway process's main loop.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			w.sweep(ctx, now)
		}
	}
}

// sweep performs one scan: closing stale sessions and expiring stale
// in-flight commands. Exported indirectly through Run for production use;
// called directly by tests for determinism.
func (w *Watchdog) sweep(ctx context.Context, now time.Time) {
	for _, handle := range w.reg.Snapshot() {
		hb, ok := handle.(HeartbeatSession)
		if !ok {
			continue
		}
		if now.Sub(hb.LastRx()) <= hb.HeartbeatTimeout() {
			continue
		}

		deviceID := hb.DeviceID()
		klog.V(2).Infof("watchdog: closing stale session for device %q (last_rx=%s)", deviceID, hb.LastRx())
		hb.Close("heartbeat timeout")

		if deviceID == "" || w.store == nil {
			continue
		}
		if err := w.store.PatchDeviceStatus(ctx, deviceID, func(st *fogv1alpha1.DeviceStatus) {
			st.Phase = fogv1alpha1.DeviceUnreachable
		}); err != nil {
			klog.Errorf("watchdog: mark device %q unreachable: %v", deviceID, err)
		}
	}

	if w.lm != nil {
		w.lm.ExpireStaleCommands(now)
	}
}
