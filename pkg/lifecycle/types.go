package lifecycle

import (
	"time"

	"github.com/google/uuid"

	fogv1alpha1 "github.com/fogmesh/gateway-fog-hub/pkg/fogapi/v1alpha1"
	"github.com/fogmesh/gateway-fog-hub/pkg/wire"
)

// Desired is what the lifecycle manager wants a (app, device) pair to
// become, independent of what the device has reported so far (§4.6).
type Desired string

const (
	DesiredRun    Desired = "Run"
	DesiredStop   Desired = "Stop"
	DesiredAbsent Desired = "Absent"
)

// InFlight is the one outstanding command for a Sub, mirroring the
// MessageId/Kind/deadline tuple the session itself tracks in pending_acks.
type InFlight struct {
	MessageID uuid.UUID
	Kind      wire.Kind
	Deadline  time.Time
}

// Sub is the per-device state for one application (§4.6's `Sub`).
type Sub struct {
	Desired       Desired
	Reported      fogv1alpha1.DeviceAppPhase
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	InFlight      *InFlight
}

// Plan is the per-application desired/reported state across its target
// device set (§4.6's `Plan`).
type Plan struct {
	AppID            string
	WasmBytes        []byte
	Image            *string
	Config           map[string]string
	Env              map[string]string
	Args             []string
	RollbackEligible bool

	TargetSet map[string]struct{}
	PerDevice map[string]*Sub
}

func newPlan(appID string) *Plan {
	return &Plan{
		AppID:     appID,
		TargetSet: make(map[string]struct{}),
		PerDevice: make(map[string]*Sub),
	}
}
