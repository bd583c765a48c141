// Package lifecycle implements the WASM lifecycle manager (C6, §4.6): it
// tracks a desired/reported pair for every (application, device) target,
// issues deploy/stop commands over authenticated sessions, retries on
// timeout with exponential backoff, and projects reported state into the
// Application CR's status.
package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/klog/v2"

	"github.com/fogmesh/gateway-fog-hub/pkg/crstore"
	fogv1alpha1 "github.com/fogmesh/gateway-fog-hub/pkg/fogapi/v1alpha1"
	"github.com/fogmesh/gateway-fog-hub/pkg/metrics"
	"github.com/fogmesh/gateway-fog-hub/pkg/registry"
	"github.com/fogmesh/gateway-fog-hub/pkg/retry"
	"github.com/fogmesh/gateway-fog-hub/pkg/wire"
)

// CommandSession is the subset of *session.Session the manager needs to
// dispatch a command. Defined locally (rather than importing pkg/session's
// concrete type) so the manager depends only on the behavior it uses.
type CommandSession interface {
	SendCommand(kind wire.Kind, body any, appID string, deadline time.Time) (uuid.UUID, error)
}

// SessionLookup resolves a device id to its current authenticated session,
// if any.
type SessionLookup interface {
	LookupByID(deviceID string) (CommandSession, bool)
}

// registrySessionLookup adapts a *registry.Registry — whose SessionHandle
// interface doesn't itself expose SendCommand — into a SessionLookup by
// type-asserting each handle to CommandSession. Every handle the registry
// holds is in practice a *session.Session, which implements both.
type registrySessionLookup struct {
	reg *registry.Registry
}

// FromRegistry builds a SessionLookup backed by a device registry.
func FromRegistry(reg *registry.Registry) SessionLookup {
	return &registrySessionLookup{reg: reg}
}

func (r *registrySessionLookup) LookupByID(deviceID string) (CommandSession, bool) {
	h, ok := r.reg.LookupByID(deviceID)
	if !ok {
		return nil, false
	}
	cs, ok := h.(CommandSession)
	return cs, ok
}

// Config tunes the manager's retry behavior.
type Config struct {
	CommandTimeout time.Duration
	Backoff        retry.Config
}

// Manager owns every application's Plan and drives it toward its desired
// state (§4.6). One Manager serves one gateway process.
type Manager struct {
	mu       sync.Mutex
	plans    map[string]*Plan
	sessions SessionLookup
	store    *crstore.Store
	cfg      Config
}

// New creates a Manager. sessions resolves device ids to live sessions;
// store projects reported state into Application CR status.
func New(sessions SessionLookup, store *crstore.Store, cfg Config) *Manager {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 30 * time.Second
	}
	return &Manager{
		plans:    make(map[string]*Plan),
		sessions: sessions,
		store:    store,
		cfg:      cfg,
	}
}

// ApplyInput is the application controller's diffed desired state for one
// Application CR (§4.6 "Apply plan").
type ApplyInput struct {
	AppID            string
	WasmBytes        []byte
	Image            *string
	Config           map[string]string
	Env              map[string]string
	Args             []string
	RollbackEligible bool
	TargetDeviceIDs  []string
}

// Apply reconciles a Plan's target set and wasm payload against the
// application controller's latest desired state.
func (m *Manager) Apply(in ApplyInput) {
	m.mu.Lock()
	defer m.mu.Unlock()

	plan, ok := m.plans[in.AppID]
	if !ok {
		plan = newPlan(in.AppID)
		m.plans[in.AppID] = plan
	}

	wasmChanged := !bytesEqual(plan.WasmBytes, in.WasmBytes) || !stringPtrEqual(plan.Image, in.Image)

	plan.WasmBytes = in.WasmBytes
	plan.Image = in.Image
	plan.Config = in.Config
	plan.Env = in.Env
	plan.Args = in.Args
	plan.RollbackEligible = in.RollbackEligible

	newTargets := make(map[string]struct{}, len(in.TargetDeviceIDs))
	for _, id := range in.TargetDeviceIDs {
		newTargets[id] = struct{}{}
	}

	// Devices added to target: desired=Run.
	for id := range newTargets {
		if _, existed := plan.TargetSet[id]; !existed {
			sub, ok := plan.PerDevice[id]
			if !ok {
				sub = &Sub{Reported: fogv1alpha1.DeviceAppPending}
				plan.PerDevice[id] = sub
			}
			sub.Desired = DesiredRun
		}
	}

	// Devices removed from target with a live instance: desired=Stop.
	for id := range plan.TargetSet {
		if _, stillTarget := newTargets[id]; !stillTarget {
			if sub, ok := plan.PerDevice[id]; ok && sub.Reported != fogv1alpha1.DeviceAppStopped {
				sub.Desired = DesiredStop
			}
		}
	}

	plan.TargetSet = newTargets

	// On wasm_bytes (or image) change: redeploy every Run-desired device.
	if wasmChanged {
		for id := range plan.TargetSet {
			sub := plan.PerDevice[id]
			if sub.Desired == DesiredRun {
				sub.Reported = fogv1alpha1.DeviceAppPending
				sub.Attempts = 0
				sub.NextAttemptAt = time.Time{}
				sub.InFlight = nil
			}
		}
	}
}

// ReconcileStep runs one pass of §4.6's "Reconcile step" over every plan:
// dispatching due commands, expiring timed-out in-flight commands, and
// handling rollback. Intended to be called on traffic events or a fixed
// tick from the owning gateway process.
func (m *Manager) ReconcileStep(ctx context.Context, now time.Time) {
	m.mu.Lock()
	plans := make([]*Plan, 0, len(m.plans))
	for _, p := range m.plans {
		plans = append(plans, p)
	}
	m.mu.Unlock()

	for _, plan := range plans {
		m.reconcilePlan(ctx, plan, now)
	}
}

func (m *Manager) reconcilePlan(ctx context.Context, plan *Plan, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for deviceID, sub := range plan.PerDevice {
		if sub.InFlight != nil {
			if now.After(sub.InFlight.Deadline) {
				sub.InFlight = nil
				sub.Attempts++
				sub.NextAttemptAt = now.Add(retry.DelayForAttempt(sub.Attempts, m.cfg.Backoff))
				sub.LastError = "command timed out awaiting acknowledgment"
			}
			continue
		}

		if reportedSatisfies(sub) {
			continue
		}
		if now.Before(sub.NextAttemptAt) {
			continue
		}

		sess, ok := m.sessions.LookupByID(deviceID)
		if !ok {
			continue // no session: leave pending, not counted as an attempt
		}

		kind, body := commandFor(plan, deviceID, sub)
		deadline := now.Add(m.cfg.CommandTimeout)
		msgID, err := sess.SendCommand(kind, body, plan.AppID, deadline)
		if err != nil {
			sub.Attempts++
			sub.LastError = err.Error()
			sub.NextAttemptAt = now.Add(retry.DelayForAttempt(sub.Attempts, m.cfg.Backoff))
			metrics.DeploymentAttempts.With(prometheus.Labels{"kind": string(kind), "outcome": "send_error"}).Inc()
			continue
		}
		sub.InFlight = &InFlight{MessageID: msgID, Kind: kind, Deadline: deadline}
		metrics.DeploymentAttempts.With(prometheus.Labels{"kind": string(kind), "outcome": "dispatched"}).Inc()
	}

	m.maybeRollback(plan, now)
}

func reportedSatisfies(sub *Sub) bool {
	switch sub.Desired {
	case DesiredRun:
		// A permanent failure is not retried until the plan changes.
		return sub.Reported == fogv1alpha1.DeviceAppRunning || sub.Reported == fogv1alpha1.DeviceAppFailed
	case DesiredStop, DesiredAbsent:
		return sub.Reported == fogv1alpha1.DeviceAppStopped || sub.Reported == fogv1alpha1.DeviceAppFailed
	default:
		return true
	}
}

func commandFor(plan *Plan, deviceID string, sub *Sub) (wire.Kind, any) {
	if sub.Desired == DesiredRun {
		return wire.KindDeployApplication, wire.DeployApplication{
			AppID:     plan.AppID,
			Name:      plan.AppID,
			WasmBytes: plan.WasmBytes,
			Config:    plan.Config,
			Env:       plan.Env,
			Args:      plan.Args,
		}
	}
	return wire.KindStopApplication, wire.StopApplication{AppID: plan.AppID}
}

// HandleDeployAck processes a device's ApplicationDeployAck.
func (m *Manager) HandleDeployAck(deviceID, appID string, correlationID uuid.UUID, ack wire.ApplicationDeployAck) {
	m.handleAck(deviceID, appID, correlationID, ack.Success, ack.Error, fogv1alpha1.DeviceAppRunning)
}

// HandleStopAck processes a device's ApplicationStopAck.
func (m *Manager) HandleStopAck(deviceID, appID string, correlationID uuid.UUID, ack wire.ApplicationStopAck) {
	m.handleAck(deviceID, appID, correlationID, ack.Success, ack.Error, fogv1alpha1.DeviceAppStopped)
}

func (m *Manager) handleAck(deviceID, appID string, correlationID uuid.UUID, success bool, errMsg *string, onSuccess fogv1alpha1.DeviceAppPhase) {
	m.mu.Lock()
	defer m.mu.Unlock()

	plan, ok := m.plans[appID]
	if !ok {
		return
	}
	sub, ok := plan.PerDevice[deviceID]
	if !ok || sub.InFlight == nil || sub.InFlight.MessageID != correlationID {
		return
	}

	kind := sub.InFlight.Kind
	sub.InFlight = nil

	if success {
		sub.Reported = onSuccess
		sub.Attempts = 0
		sub.NextAttemptAt = time.Time{}
		sub.LastError = ""
		metrics.DeploymentAttempts.With(prometheus.Labels{"kind": string(kind), "outcome": "ack_success"}).Inc()
		return
	}

	msg := ""
	if errMsg != nil {
		msg = *errMsg
	}
	sub.LastError = msg
	if isPermanentError(msg) {
		sub.Reported = fogv1alpha1.DeviceAppFailed
		metrics.DeploymentAttempts.With(prometheus.Labels{"kind": string(kind), "outcome": "ack_failed_permanent"}).Inc()
		return
	}
	sub.Attempts++
	sub.NextAttemptAt = time.Now().Add(retry.DelayForAttempt(sub.Attempts, m.cfg.Backoff))
	metrics.DeploymentAttempts.With(prometheus.Labels{"kind": string(kind), "outcome": "ack_failed_transient"}).Inc()
}

// isPermanentError classifies an ack's error string (§4.6 "transient" vs
// "permanent"). The spec leaves the exact taxonomy to the implementation;
// this repo treats an explicit "permanent" marker in the message as
// authoritative and everything else as worth retrying.
func isPermanentError(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "permanent")
}

// HandleCancelled processes a command cancelled by session disconnect
// (§8 P9's CancelledByDisconnect): treated as transient, eligible for
// immediate retry once a session re-establishes.
func (m *Manager) HandleCancelled(deviceID, appID string, correlationID uuid.UUID, kind wire.Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()

	plan, ok := m.plans[appID]
	if !ok {
		return
	}
	sub, ok := plan.PerDevice[deviceID]
	if !ok || sub.InFlight == nil || sub.InFlight.MessageID != correlationID {
		return
	}
	sub.InFlight = nil
	sub.LastError = "cancelled by disconnect"
}

// maybeRollback implements §4.6's rollback policy: any Failed device on a
// Run intent, with the plan marked rollback-eligible, triggers
// StopApplication on every currently Running device and fails the app.
func (m *Manager) maybeRollback(plan *Plan, now time.Time) {
	if !plan.RollbackEligible {
		return
	}

	anyFailedOnRun := false
	for _, sub := range plan.PerDevice {
		if sub.Desired == DesiredRun && sub.Reported == fogv1alpha1.DeviceAppFailed {
			anyFailedOnRun = true
			break
		}
	}
	if !anyFailedOnRun {
		return
	}

	for deviceID, sub := range plan.PerDevice {
		if sub.Reported == fogv1alpha1.DeviceAppRunning {
			sub.Desired = DesiredStop
			if sub.InFlight == nil {
				if sess, ok := m.sessions.LookupByID(deviceID); ok {
					deadline := now.Add(m.cfg.CommandTimeout)
					if msgID, err := sess.SendCommand(wire.KindStopApplication, wire.StopApplication{AppID: plan.AppID}, plan.AppID, deadline); err == nil {
						sub.InFlight = &InFlight{MessageID: msgID, Kind: wire.KindStopApplication, Deadline: deadline}
					}
				}
			}
		}
	}
}

// ProjectStatus writes the plan's current aggregate phase, per-device
// states and deployment progress into the Application CR's status (§4.6
// "Persistence").
func (m *Manager) ProjectStatus(ctx context.Context, appID string) error {
	m.mu.Lock()
	plan, ok := m.plans[appID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("lifecycle: no plan for app %q", appID)
	}

	perDevice := make(map[string]fogv1alpha1.DeviceAppPhase, len(plan.PerDevice))
	errs := make(map[string]string)
	for id, sub := range plan.PerDevice {
		perDevice[id] = sub.Reported
		if sub.LastError != "" {
			errs[id] = sub.LastError
		}
	}
	phase := AggregatePhase(plan)
	progress := DeploymentProgress(plan)

	rollbackFailed := phase == fogv1alpha1.ApplicationFailed && plan.RollbackEligible
	m.mu.Unlock()

	if rollbackFailed {
		klog.Warningf("lifecycle: app %q reached Failed with rollback enabled", appID)
	}

	return m.store.PatchApplicationStatus(ctx, appID, func(st *fogv1alpha1.ApplicationStatus) {
		st.Phase = phase
		st.PerDevice = perDevice
		st.DeploymentProgress = progress
		st.Errors = errs
		st.RollbackFailed = rollbackFailed
	})
}

// ExpireStaleCommands advances every plan's in-flight commands whose
// deadlines have passed without relying on a tick argument from
// ReconcileStep's caller — exposed separately so the watchdog (C11) can
// invoke it on its own cadence per §4.11 ("also inspects any in_flight
// command past its deadline").
func (m *Manager) ExpireStaleCommands(now time.Time) {
	m.mu.Lock()
	plans := make([]*Plan, 0, len(m.plans))
	for _, p := range m.plans {
		plans = append(plans, p)
	}
	m.mu.Unlock()

	for _, plan := range plans {
		m.mu.Lock()
		for _, sub := range plan.PerDevice {
			if sub.InFlight != nil && now.After(sub.InFlight.Deadline) {
				sub.InFlight = nil
				sub.Attempts++
				sub.NextAttemptAt = now.Add(retry.DelayForAttempt(sub.Attempts, m.cfg.Backoff))
				sub.LastError = "command timed out awaiting acknowledgment"
			}
		}
		m.mu.Unlock()
	}
}

// AppIDs returns the application ids the manager currently holds a Plan
// for, letting a standalone gateway process (not co-located with the
// controller-manager's application controller) drive its own
// ProjectStatus tick without a second channel back to C8.
func (m *Manager) AppIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.plans))
	for id := range m.plans {
		ids = append(ids, id)
	}
	return ids
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func stringPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
