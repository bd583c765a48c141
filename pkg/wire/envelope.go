package wire

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// DefaultMaxPayloadBytes is the default oversize-payload cutoff (§4.1).
const DefaultMaxPayloadBytes = 1 << 20 // 1 MiB

// DefaultMaxClockSkew bounds how far an envelope's timestamp may drift from
// local time before it is rejected (§4.1).
const DefaultMaxClockSkew = 5 * time.Minute

// Envelope is the versioned wire format shared by every message exchanged
// between a device and its gateway (§4.1). Body is a tagged union: Kind
// names the variant, Payload holds its CBOR-encoded bytes so unknown kinds
// can be received, logged and preserved without decode failure (forward
// compatibility).
type Envelope struct {
	MessageID       uuid.UUID       `cbor:"1,keyasint"`
	ProtocolVersion Version         `cbor:"2,keyasint"`
	TimestampUnix   int64           `cbor:"3,keyasint"`
	CorrelationID   *uuid.UUID      `cbor:"4,keyasint,omitempty"`
	Kind            Kind            `cbor:"5,keyasint"`
	Payload         cbor.RawMessage `cbor:"6,keyasint,omitempty"`
}

// NewEnvelope builds an envelope around body, encoding it into Payload.
func NewEnvelope(kind Kind, body any, correlationID *uuid.UUID) (Envelope, error) {
	raw, err := Marshal(body)
	if err != nil {
		return Envelope{}, fmt.Errorf("wire: encode %s payload: %w", kind, err)
	}
	return Envelope{
		MessageID:       uuid.New(),
		ProtocolVersion: CurrentVersion,
		TimestampUnix:   time.Now().Unix(),
		CorrelationID:   correlationID,
		Kind:            kind,
		Payload:         raw,
	}, nil
}

// Decode unmarshals the envelope's Payload into v, which must match Kind.
func (e Envelope) Decode(v any) error {
	return Unmarshal(e.Payload, v)
}

// Validate enforces the structural checks specified in §4.1: no empty
// required strings the codec itself can name (message id, kind), no
// oversize payload, and no excessive clock skew relative to now.
func (e Envelope) Validate(now time.Time, maxPayloadBytes int, maxSkew time.Duration) error {
	if e.MessageID == uuid.Nil {
		return fmt.Errorf("%w: message_id", ErrEmptyRequiredField)
	}
	if e.Kind == "" {
		return fmt.Errorf("%w: kind", ErrEmptyRequiredField)
	}
	if maxPayloadBytes <= 0 {
		maxPayloadBytes = DefaultMaxPayloadBytes
	}
	if len(e.Payload) > maxPayloadBytes {
		return fmt.Errorf("%w: %d bytes > %d", ErrOversizePayload, len(e.Payload), maxPayloadBytes)
	}
	if maxSkew <= 0 {
		maxSkew = DefaultMaxClockSkew
	}
	ts := time.Unix(e.TimestampUnix, 0)
	skew := now.Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > maxSkew {
		return fmt.Errorf("%w: %s from now", ErrClockSkew, skew)
	}
	return nil
}
