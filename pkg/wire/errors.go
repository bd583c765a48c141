package wire

import "errors"

// Protocol-level error codes carried in Error{code, message, retry_after?}
// bodies (§4.1, §7 ProtocolError/AuthError taxonomy).
type ErrorCode string

const (
	ErrCodeInvalidMessage     ErrorCode = "InvalidMessage"
	ErrCodeRateLimited        ErrorCode = "RateLimited"
	ErrCodeUnsupportedFeature ErrorCode = "UnsupportedFeature"
	ErrCodePairingDisabled    ErrorCode = "PairingDisabled"
	ErrCodeKeyMismatch        ErrorCode = "KeyMismatch"
	ErrCodeAlreadyConnected   ErrorCode = "AlreadyConnected"
)

// Sentinel errors returned by the codec itself (decode/validate failures),
// distinct from the ErrorCode values carried on the wire to a peer.
var (
	ErrEmptyRequiredField = errors.New("wire: required field is empty")
	ErrOversizePayload    = errors.New("wire: payload exceeds configured maximum size")
	ErrClockSkew          = errors.New("wire: envelope timestamp outside configured skew")
	ErrUnknownMessageKind = errors.New("wire: unknown message kind")
	ErrUnsupportedFeature = errors.New("wire: unsupported protocol major version")
	ErrReservedMessageID  = errors.New("wire: message id is reserved")
)
