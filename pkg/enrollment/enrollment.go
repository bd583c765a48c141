// Package enrollment implements the gateway's enrollment protocol (C5,
// §4.5): pairing-mode gating, TLS-identity binding (I1), Device CR
// lookup/creation, and the EnrollmentResponse the session layer (C3)
// writes back to the device.
package enrollment

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/api/errors"

	"github.com/fogmesh/gateway-fog-hub/pkg/crstore"
	fogv1alpha1 "github.com/fogmesh/gateway-fog-hub/pkg/fogapi/v1alpha1"
	"github.com/fogmesh/gateway-fog-hub/pkg/metrics"
	"github.com/fogmesh/gateway-fog-hub/pkg/wire"

	"github.com/prometheus/client_golang/prometheus"
)

// Config carries the static parameters an accepted device is told to use
// (§4.5 step 5).
type Config struct {
	HeartbeatInterval time.Duration
	MaxMessageSize    uint32
	FeatureFlags      []string
}

// PairingMode is the gateway's mutable pairing-mode gate: a boolean with an
// optional deadline after which it auto-disables (§4.5 step 1). Safe for
// concurrent use; the HTTP admin API (external, §1) toggles it, the
// enrollment service reads it.
type PairingMode struct {
	mu       sync.Mutex
	enabled  bool
	deadline time.Time // zero means no deadline
}

// Enable turns pairing mode on, optionally until deadline (zero value means
// no automatic expiry).
func (p *PairingMode) Enable(deadline time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = true
	p.deadline = deadline
}

// Disable turns pairing mode off immediately.
func (p *PairingMode) Disable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = false
	p.deadline = time.Time{}
}

// Enabled reports whether pairing mode is currently active, applying the
// deadline auto-expiry as a side effect of the check.
func (p *PairingMode) Enabled(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.enabled && !p.deadline.IsZero() && now.After(p.deadline) {
		p.enabled = false
		p.deadline = time.Time{}
	}
	return p.enabled
}

// Service resolves Enrollment requests into EnrollmentResponses, mutating
// Device CRs through the shared CR store.
type Service struct {
	store   *crstore.Store
	pairing *PairingMode
	cfg     Config
}

// New creates an enrollment Service bound to one gateway process's pairing
// gate and CR store.
func New(store *crstore.Store, pairing *PairingMode, cfg Config) *Service {
	return &Service{store: store, pairing: pairing, cfg: cfg}
}

// HandleEnrollment implements session.EnrollmentHandler, running the
// protocol described in §4.5.
func (s *Service) HandleEnrollment(ctx context.Context, peerPublicKey []byte, req wire.Enrollment) (wire.EnrollmentResponse, string, error) {
	if !s.pairing.Enabled(time.Now()) {
		metrics.EnrollmentOutcomes.With(prometheus.Labels{"outcome": string(wire.ErrCodePairingDisabled)}).Inc()
		return rejected(wire.ErrCodePairingDisabled), "", nil
	}

	if !bytes.Equal(req.PublicKey, peerPublicKey) {
		metrics.EnrollmentOutcomes.With(prometheus.Labels{"outcome": string(wire.ErrCodeKeyMismatch)}).Inc()
		return rejected(wire.ErrCodeKeyMismatch), "", nil
	}

	existing, err := s.store.FindDeviceByPublicKey(ctx, peerPublicKey)
	if err != nil {
		return wire.EnrollmentResponse{}, "", fmt.Errorf("enrollment: find device by public key: %w", err)
	}

	var deviceName string
	if existing != nil {
		switch existing.Status.Phase {
		case fogv1alpha1.DevicePending, fogv1alpha1.DeviceEnrolling,
			fogv1alpha1.DeviceDisconnected, fogv1alpha1.DeviceUnreachable:
			deviceName = existing.Name
		case fogv1alpha1.DeviceConnected:
			metrics.EnrollmentOutcomes.With(prometheus.Labels{"outcome": string(wire.ErrCodeAlreadyConnected)}).Inc()
			return rejected(wire.ErrCodeAlreadyConnected), "", nil
		default:
			deviceName = existing.Name
		}
	} else {
		created, err := s.createDevice(ctx, peerPublicKey, req)
		if err != nil {
			return wire.EnrollmentResponse{}, "", fmt.Errorf("enrollment: create device: %w", err)
		}
		deviceName = created.Name
	}

	now := time.Now().Unix()
	if err := s.store.PatchDeviceStatus(ctx, deviceName, func(st *fogv1alpha1.DeviceStatus) {
		st.Phase = fogv1alpha1.DeviceEnrolled
		st.EnrolledAt = now
	}); err != nil {
		return wire.EnrollmentResponse{}, "", fmt.Errorf("enrollment: patch device status: %w", err)
	}

	metrics.EnrollmentOutcomes.With(prometheus.Labels{"outcome": "accepted"}).Inc()

	resp := wire.EnrollmentResponse{
		Accepted: true,
		DeviceID: deviceName,
		Config: &wire.DeviceConfig{
			HeartbeatIntervalSeconds: uint32(s.cfg.HeartbeatInterval.Seconds()),
			MaxMessageSize:           s.cfg.MaxMessageSize,
			FeatureFlags:             s.cfg.FeatureFlags,
		},
	}
	return resp, deviceName, nil
}

func (s *Service) createDevice(ctx context.Context, peerPublicKey []byte, req wire.Enrollment) (*fogv1alpha1.Device, error) {
	dev := &fogv1alpha1.Device{
		Spec: fogv1alpha1.DeviceSpec{
			PublicKey:    peerPublicKey,
			McuType:      fogv1alpha1.McuType(req.DeviceType),
			Capabilities: req.Capabilities,
		},
		Status: fogv1alpha1.DeviceStatus{
			Phase: fogv1alpha1.DeviceEnrolling,
		},
	}
	if name := sanitizeName(req.HardwareID); name != "" {
		dev.Name = name
	} else {
		dev.GenerateName = "dev-"
	}

	if err := s.store.CreateDevice(ctx, dev); err != nil {
		if errors.IsAlreadyExists(err) && dev.Name != "" {
			return s.store.GetDevice(ctx, dev.Name)
		}
		return nil, err
	}
	return dev, nil
}

func rejected(code wire.ErrorCode) wire.EnrollmentResponse {
	c := code
	return wire.EnrollmentResponse{Accepted: false, Error: &c}
}

// sanitizeName lower-cases a hardware id into a DNS-1123-safe Kubernetes
// object name; the enrollment protocol does not constrain hardware_id's
// character set, but CR names must.
func sanitizeName(hardwareID string) string {
	out := make([]byte, 0, len(hardwareID))
	for i := 0; i < len(hardwareID); i++ {
		c := hardwareID[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			out = append(out, c)
		case c >= 'A' && c <= 'Z':
			out = append(out, c-'A'+'a')
		case c == '-' || c == '.':
			out = append(out, c)
		default:
			out = append(out, '-')
		}
	}
	if len(out) == 0 {
		return ""
	}
	return "dev-" + string(out)
}
