package wire

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		body any
	}{
		{"enrollment", KindEnrollment, Enrollment{
			DeviceType:      "Mps2An385",
			Capabilities:    []string{"wasm", "tls"},
			PublicKey:       []byte{1, 2, 3, 4},
			FirmwareVersion: "1.0.0",
			HardwareID:      "d1",
		}},
		{"heartbeat", KindHeartbeat, Heartbeat{
			UptimeSeconds: 120,
			MemoryBytes:   65536,
			CPUPercent:    3.2,
			AppCount:      2,
		}},
		{"deploy", KindDeployApplication, DeployApplication{
			AppID:     "a1",
			Name:      "blink",
			WasmBytes: []byte{0x00, 0x61, 0x73, 0x6d},
		}},
		{"error", KindError, Error{Code: ErrCodeKeyMismatch, Message: "mismatch"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := NewEnvelope(tt.kind, tt.body, nil)
			require.NoError(t, err)

			data, err := EncodeEnvelope(env)
			require.NoError(t, err)

			decoded, err := DecodeEnvelope(data)
			require.NoError(t, err)
			require.Equal(t, tt.kind, decoded.Kind)
			require.Equal(t, env.MessageID, decoded.MessageID)

			require.NoError(t, decoded.Validate(time.Now(), 0, 0))
		})
	}
}

func TestEnvelopeValidateRejectsOversizePayload(t *testing.T) {
	env, err := NewEnvelope(KindDeployApplication, DeployApplication{
		AppID:     "a1",
		WasmBytes: make([]byte, 2048),
	}, nil)
	require.NoError(t, err)

	err = env.Validate(time.Now(), 1024, 0)
	require.ErrorIs(t, err, ErrOversizePayload)
}

func TestEnvelopeValidateRejectsClockSkew(t *testing.T) {
	env, err := NewEnvelope(KindPing, Ping{Sequence: 1}, nil)
	require.NoError(t, err)
	env.TimestampUnix = time.Now().Add(-time.Hour).Unix()

	err = env.Validate(time.Now(), 0, time.Minute)
	require.ErrorIs(t, err, ErrClockSkew)
}

func TestEnvelopeValidateRejectsEmptyMessageID(t *testing.T) {
	env := Envelope{Kind: KindPing}
	err := env.Validate(time.Now(), 0, 0)
	require.ErrorIs(t, err, ErrEmptyRequiredField)
}

func TestNegotiateVersion(t *testing.T) {
	local := Version{Major: 1, Minor: 2, Patch: 3}
	peer := Version{Major: 1, Minor: 1, Patch: 9}

	got, err := Negotiate(local, peer)
	require.NoError(t, err)
	require.Equal(t, Version{Major: 1, Minor: 1, Patch: 3}, got)
}

func TestNegotiateVersionMajorMismatch(t *testing.T) {
	_, err := Negotiate(Version{Major: 1}, Version{Major: 2})
	require.ErrorIs(t, err, ErrUnsupportedFeature)
}

func TestCorrelationIDRoundTrip(t *testing.T) {
	corr := uuid.New()
	env, err := NewEnvelope(KindApplicationDeployAck, ApplicationDeployAck{AppID: "a1", Success: true}, &corr)
	require.NoError(t, err)

	data, err := EncodeEnvelope(env)
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(data)
	require.NoError(t, err)
	require.NotNil(t, decoded.CorrelationID)
	require.Equal(t, corr, *decoded.CorrelationID)
}
