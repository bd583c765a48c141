// Package session implements the per-connection device session state
// machine (C3): AwaitingEnrollment -> Enrolling -> Authenticated -> Closing,
// the heartbeat bookkeeping the watchdog (C11) reads, and the correlated
// pending-acks table the lifecycle manager (C6) drives deploy/stop commands
// through.
package session

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/fogmesh/gateway-fog-hub/pkg/transport"
	"github.com/fogmesh/gateway-fog-hub/pkg/wire"
)

// DefaultFrameRateLimit and DefaultFrameBurst bound how fast one device may
// push frames at its gateway before Run starts replying ErrCodeRateLimited
// instead of dispatching — cheap backpressure against a misbehaving or
// compromised device hammering the session with heartbeats/status reports.
const (
	DefaultFrameRateLimit rate.Limit = 20
	DefaultFrameBurst     int        = 40
)

// PendingAck is one outstanding deploy/stop command awaiting
// acknowledgment, keyed by MessageId in the session's pending_acks table
// (§3 "Session").
type PendingAck struct {
	AppID    string
	Kind     wire.Kind // KindDeployApplication or KindStopApplication
	Deadline time.Time
}

// Config bundles a Session's collaborators and tunables. Config values are
// fixed at construction; Session itself holds all mutable state.
type Config struct {
	// ConnID is an opaque identifier for logging, independent of DeviceID
	// (which is not known until enrollment succeeds).
	ConnID string

	EnrollmentHandler EnrollmentHandler
	TrafficHandler    TrafficHandler

	// OnAuthenticated is invoked once, synchronously, right after the
	// session transitions to Authenticated — the caller's hook to insert
	// the session into the device registry (I2).
	OnAuthenticated func(s *Session)

	// OnClosed is invoked once the session has fully closed — the
	// caller's hook to remove it from the registry.
	OnClosed func(s *Session)

	MaxPayloadBytes int
	MaxClockSkew    time.Duration

	// HeartbeatTimeout is exposed for the watchdog's staleness check; the
	// session itself does not enforce it.
	HeartbeatTimeout time.Duration

	// FrameRateLimit and FrameBurst bound inbound frame processing; zero
	// values fall back to DefaultFrameRateLimit/DefaultFrameBurst.
	FrameRateLimit rate.Limit
	FrameBurst     int
}

// Session is one device connection's state machine. All exported methods
// are safe for concurrent use; Run must be called exactly once, from the
// goroutine that owns the connection.
type Session struct {
	cfg  Config
	conn *transport.Conn

	peerPublicKey []byte

	mu       sync.Mutex
	state    State
	deviceID string
	lastRx   time.Time
	lastTx   time.Time

	writeMu sync.Mutex

	pendingMu   sync.Mutex
	pendingAcks map[uuid.UUID]PendingAck

	limiter *rate.Limiter

	closeOnce   sync.Once
	closeCh     chan struct{}
	closeReason string
}

// New creates a Session for an already TLS-authenticated connection. The
// session starts in AwaitingEnrollment.
func New(conn *transport.Conn, cfg Config) *Session {
	if cfg.MaxPayloadBytes == 0 {
		cfg.MaxPayloadBytes = wire.DefaultMaxPayloadBytes
	}
	if cfg.MaxClockSkew == 0 {
		cfg.MaxClockSkew = wire.DefaultMaxClockSkew
	}
	if cfg.FrameRateLimit == 0 {
		cfg.FrameRateLimit = DefaultFrameRateLimit
	}
	if cfg.FrameBurst == 0 {
		cfg.FrameBurst = DefaultFrameBurst
	}
	now := time.Now()
	return &Session{
		cfg:           cfg,
		conn:          conn,
		peerPublicKey: conn.SubjectPublicKeyInfo(),
		state:         AwaitingEnrollment,
		lastRx:        now,
		lastTx:        now,
		limiter:       rate.NewLimiter(cfg.FrameRateLimit, cfg.FrameBurst),
		closeCh:       make(chan struct{}),
		pendingAcks:   make(map[uuid.UUID]PendingAck),
	}
}

// DeviceID returns the bound device id, empty before enrollment succeeds.
// Implements registry.SessionHandle.
func (s *Session) DeviceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceID
}

// PublicKeyHex returns the hex-encoded peer SubjectPublicKeyInfo.
// Implements registry.SessionHandle.
func (s *Session) PublicKeyHex() string {
	return hex.EncodeToString(s.peerPublicKey)
}

// PublicKey returns the raw peer SubjectPublicKeyInfo bytes.
func (s *Session) PublicKey() []byte {
	return s.peerPublicKey
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastRx returns the timestamp of the most recently received frame, the
// value the watchdog compares against heartbeat_timeout (I4).
func (s *Session) LastRx() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRx
}

// HeartbeatTimeout returns the configured staleness threshold.
func (s *Session) HeartbeatTimeout() time.Duration {
	return s.cfg.HeartbeatTimeout
}

// ConnID returns the connection identifier used in logs.
func (s *Session) ConnID() string {
	return s.cfg.ConnID
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
}

func (s *Session) touchRx() {
	s.mu.Lock()
	s.lastRx = time.Now()
	s.mu.Unlock()
}

// Run drives the session's read loop until the connection closes, the
// context is cancelled, or the session transitions to Closing. It returns
// once the loop has exited and cleanup has run.
func (s *Session) Run(ctx context.Context) {
	defer s.Close("read loop exited")

	for {
		select {
		case <-s.closeCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		frame, err := s.conn.ReadFrame()
		if err != nil {
			if err != io.EOF {
				s.closeReasonOnce(fmt.Sprintf("read error: %v", err))
			}
			return
		}

		env, err := wire.DecodeEnvelope(frame)
		if err != nil {
			s.sendError(wire.ErrCodeInvalidMessage, "malformed envelope")
			continue
		}
		if err := env.Validate(time.Now(), s.cfg.MaxPayloadBytes, s.cfg.MaxClockSkew); err != nil {
			s.sendError(wire.ErrCodeInvalidMessage, err.Error())
			continue
		}

		if _, err := wire.Negotiate(wire.CurrentVersion, env.ProtocolVersion); err != nil {
			s.sendError(wire.ErrCodeUnsupportedFeature, err.Error())
			s.Close("unsupported protocol major version")
			return
		}

		s.touchRx()

		if !s.limiter.Allow() {
			s.sendError(wire.ErrCodeRateLimited, "frame rate exceeded")
			continue
		}

		if !s.dispatch(ctx, env) {
			return
		}
	}
}

// dispatch handles one decoded, validated envelope. It returns false if the
// session should stop reading (terminal close already initiated).
func (s *Session) dispatch(ctx context.Context, env wire.Envelope) bool {
	switch s.State() {
	case AwaitingEnrollment:
		return s.dispatchAwaitingEnrollment(ctx, env)
	case Enrolling:
		s.sendError(wire.ErrCodeRateLimited, "enrollment in progress")
		return true
	case Authenticated:
		return s.dispatchAuthenticated(env)
	default: // Closing
		return false
	}
}

func (s *Session) dispatchAwaitingEnrollment(ctx context.Context, env wire.Envelope) bool {
	if env.Kind != wire.KindEnrollment {
		s.sendError(wire.ErrCodeInvalidMessage, "expected Enrollment")
		s.Close("non-enrollment frame before enrollment")
		return false
	}

	var req wire.Enrollment
	if err := env.Decode(&req); err != nil {
		s.sendError(wire.ErrCodeInvalidMessage, "malformed enrollment body")
		s.Close("malformed enrollment body")
		return false
	}

	s.setState(Enrolling)
	go s.runEnrollment(ctx, req)
	return true
}

func (s *Session) runEnrollment(ctx context.Context, req wire.Enrollment) {
	resp, deviceID, err := s.cfg.EnrollmentHandler.HandleEnrollment(ctx, s.peerPublicKey, req)
	if err != nil {
		code := wire.ErrCodeInvalidMessage
		resp = wire.EnrollmentResponse{Accepted: false, Error: &code}
	}

	respEnv, encErr := wire.NewEnvelope(wire.KindEnrollmentResponse, resp, nil)
	if encErr == nil {
		s.writeEnvelope(respEnv)
	}

	if !resp.Accepted {
		s.Close("enrollment rejected")
		return
	}

	s.mu.Lock()
	s.deviceID = deviceID
	s.state = Authenticated
	s.mu.Unlock()

	if s.cfg.OnAuthenticated != nil {
		s.cfg.OnAuthenticated(s)
	}
}

func (s *Session) dispatchAuthenticated(env wire.Envelope) bool {
	switch env.Kind {
	case wire.KindHeartbeat:
		var hb wire.Heartbeat
		if err := env.Decode(&hb); err == nil {
			s.cfg.TrafficHandler.HandleHeartbeat(s.DeviceID(), hb)
		}
	case wire.KindApplicationStatus:
		var st wire.ApplicationStatus
		if err := env.Decode(&st); err == nil {
			s.cfg.TrafficHandler.HandleApplicationStatus(s.DeviceID(), st)
		}
	case wire.KindApplicationDeployAck:
		var ack wire.ApplicationDeployAck
		if err := env.Decode(&ack); err == nil && env.CorrelationID != nil {
			s.resolvePendingAck(*env.CorrelationID)
			s.cfg.TrafficHandler.HandleDeployAck(s.DeviceID(), *env.CorrelationID, ack)
		}
	case wire.KindApplicationStopAck:
		var ack wire.ApplicationStopAck
		if err := env.Decode(&ack); err == nil && env.CorrelationID != nil {
			s.resolvePendingAck(*env.CorrelationID)
			s.cfg.TrafficHandler.HandleStopAck(s.DeviceID(), *env.CorrelationID, ack)
		}
	case wire.KindPing:
		var ping wire.Ping
		if err := env.Decode(&ping); err == nil {
			pongEnv, err := wire.NewEnvelope(wire.KindPong, wire.Pong{Sequence: ping.Sequence}, nil)
			if err == nil {
				s.writeEnvelope(pongEnv)
			}
		}
	case wire.KindError:
		// Peer-reported protocol error; nothing to do but keep the
		// connection open unless the transport itself fails.
	default:
		// Unknown kind: tolerated for forward compatibility (§4.1).
	}
	return true
}

// SendCommand encodes and writes a DeployApplication or StopApplication
// envelope, recording it in the pending-acks table keyed by the returned
// message id. Returns an error if the session is not Authenticated.
func (s *Session) SendCommand(kind wire.Kind, body any, appID string, deadline time.Time) (uuid.UUID, error) {
	if s.State() != Authenticated {
		return uuid.Nil, fmt.Errorf("session: not authenticated (state=%s)", s.State())
	}

	env, err := wire.NewEnvelope(kind, body, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("session: encode command: %w", err)
	}

	s.pendingMu.Lock()
	s.pendingAcks[env.MessageID] = PendingAck{AppID: appID, Kind: kind, Deadline: deadline}
	s.pendingMu.Unlock()

	if err := s.writeEnvelope(env); err != nil {
		s.pendingMu.Lock()
		delete(s.pendingAcks, env.MessageID)
		s.pendingMu.Unlock()
		return uuid.Nil, err
	}
	return env.MessageID, nil
}

func (s *Session) resolvePendingAck(id uuid.UUID) {
	s.pendingMu.Lock()
	delete(s.pendingAcks, id)
	s.pendingMu.Unlock()
}

// ExpiredPendingAcks removes and returns every pending ack whose deadline
// has passed. The watchdog does not call it; it expires in-flight
// commands through the lifecycle manager instead.
func (s *Session) ExpiredPendingAcks(now time.Time) map[uuid.UUID]PendingAck {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	expired := make(map[uuid.UUID]PendingAck)
	for id, p := range s.pendingAcks {
		if now.After(p.Deadline) {
			expired[id] = p
			delete(s.pendingAcks, id)
		}
	}
	return expired
}

func (s *Session) sendError(code wire.ErrorCode, message string) {
	env, err := wire.NewEnvelope(wire.KindError, wire.Error{Code: code, Message: message}, nil)
	if err != nil {
		return
	}
	_ = s.writeEnvelope(env)
}

func (s *Session) writeEnvelope(env wire.Envelope) error {
	data, err := wire.EncodeEnvelope(env)
	if err != nil {
		return fmt.Errorf("session: encode envelope: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.WriteFrame(data); err != nil {
		return fmt.Errorf("session: write frame: %w", err)
	}
	s.mu.Lock()
	s.lastTx = time.Now()
	s.mu.Unlock()
	return nil
}

func (s *Session) closeReasonOnce(reason string) {
	s.mu.Lock()
	if s.closeReason == "" {
		s.closeReason = reason
	}
	s.mu.Unlock()
}

// Close transitions the session to Closing, releases the connection and
// cancels every in-flight command with CancelledByDisconnect. Safe to call
// multiple times and from multiple goroutines.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.closeReasonOnce(reason)
		s.setState(Closing)
		close(s.closeCh)
		_ = s.conn.Close()

		s.pendingMu.Lock()
		pending := s.pendingAcks
		s.pendingAcks = make(map[uuid.UUID]PendingAck)
		s.pendingMu.Unlock()

		deviceID := s.DeviceID()
		if s.cfg.TrafficHandler != nil {
			for id, p := range pending {
				s.cfg.TrafficHandler.HandleCancelled(deviceID, id, p.AppID, p.Kind)
			}
		}

		if s.cfg.OnClosed != nil {
			s.cfg.OnClosed(s)
		}
	})
}
