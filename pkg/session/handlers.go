package session

import (
	"context"

	"github.com/google/uuid"

	"github.com/fogmesh/gateway-fog-hub/pkg/wire"
)

// EnrollmentHandler resolves an Enrollment frame into a decision (C5). It is
// called once per session, while the session sits in Enrolling. The
// returned deviceID is empty when accepted==false.
type EnrollmentHandler interface {
	HandleEnrollment(ctx context.Context, peerPublicKey []byte, req wire.Enrollment) (resp wire.EnrollmentResponse, deviceID string, err error)
}

// TrafficHandler receives application-plane traffic from an authenticated
// session and routes it to the lifecycle manager (C6) and CR store (C10).
// Implementations must not block the read loop for long; heavy work should
// be handed off.
type TrafficHandler interface {
	HandleHeartbeat(deviceID string, hb wire.Heartbeat)
	HandleApplicationStatus(deviceID string, status wire.ApplicationStatus)
	HandleDeployAck(deviceID string, correlationID uuid.UUID, ack wire.ApplicationDeployAck)
	HandleStopAck(deviceID string, correlationID uuid.UUID, ack wire.ApplicationStopAck)

	// HandleCancelled is invoked for every in-flight command still
	// pending when the session closes, resolving it with
	// CancelledByDisconnect (§7, §8 P9).
	HandleCancelled(deviceID string, correlationID uuid.UUID, appID string, kind wire.Kind)
}
