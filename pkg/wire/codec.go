package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder mode for fog hub envelopes: canonical key
// ordering so two encoders never disagree on the bytes for the same
// value, and indefinite-length items forbidden so a decoder can always
// bound a single frame by its prefix length.
var encMode cbor.EncMode

// decMode is the CBOR decoder mode: lenient, because §4.1 requires unknown
// fields to be tolerated (and preserved, via cbor.RawMessage payloads) for
// forward compatibility across protocol_version skews.
var decMode cbor.DecMode

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
		Time:        cbor.TimeUnix,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: build CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("wire: build CBOR decoder mode: %v", err))
	}
}

// Marshal encodes a value to canonical CBOR bytes.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR bytes into v, tolerating unknown fields.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// EncodeEnvelope encodes an Envelope for transmission; it does not call
// Validate.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	return Marshal(env)
}

// DecodeEnvelope decodes CBOR bytes into an Envelope without interpreting
// its Payload; callers decode the payload with Envelope.Decode once Kind
// has been dispatched on.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("wire: decode envelope: %w", err)
	}
	return env, nil
}
