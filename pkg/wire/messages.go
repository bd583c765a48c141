package wire

// Kind identifies which variant of the tagged-union envelope body is
// present. Client→Server and Server→Client variants share one enum so a
// single codec can peek and dispatch regardless of direction (§4.1).
type Kind string

const (
	// Client -> Server
	KindEnrollment           Kind = "Enrollment"
	KindHeartbeat            Kind = "Heartbeat"
	KindApplicationStatus    Kind = "ApplicationStatus"
	KindApplicationDeployAck Kind = "ApplicationDeployAck"
	KindApplicationStopAck   Kind = "ApplicationStopAck"
	KindPing                 Kind = "Ping"

	// Server -> Client
	KindEnrollmentResponse Kind = "EnrollmentResponse"
	KindDeployApplication  Kind = "DeployApplication"
	KindStopApplication    Kind = "StopApplication"
	KindPong               Kind = "Pong"

	// Bidirectional
	KindError Kind = "Error"
)

// Enrollment is sent by a device opening its first session (§4.1, §4.5).
type Enrollment struct {
	DeviceType      string   `cbor:"1,keyasint"`
	Capabilities    []string `cbor:"2,keyasint,omitempty"`
	PublicKey       []byte   `cbor:"3,keyasint"`
	FirmwareVersion string   `cbor:"4,keyasint"`
	HardwareID      string   `cbor:"5,keyasint"`
}

// EnrollmentResponse is the gateway's reply to Enrollment.
type EnrollmentResponse struct {
	Accepted bool           `cbor:"1,keyasint"`
	DeviceID string         `cbor:"2,keyasint,omitempty"`
	Config   *DeviceConfig  `cbor:"3,keyasint,omitempty"`
	Error    *ErrorCode     `cbor:"4,keyasint,omitempty"`
}

// DeviceConfig carries gateway-assigned runtime parameters back to a newly
// enrolled device.
type DeviceConfig struct {
	HeartbeatIntervalSeconds uint32   `cbor:"1,keyasint"`
	MaxMessageSize           uint32   `cbor:"2,keyasint"`
	FeatureFlags             []string `cbor:"3,keyasint,omitempty"`
}

// Heartbeat is the periodic inbound liveness frame (§4.3).
type Heartbeat struct {
	UptimeSeconds uint64         `cbor:"1,keyasint"`
	MemoryBytes   uint64         `cbor:"2,keyasint"`
	CPUPercent    float64        `cbor:"3,keyasint"`
	AppCount      uint32         `cbor:"4,keyasint"`
	Telemetry     map[string]any `cbor:"5,keyasint,omitempty"`
}

// ApplicationStatus reports a device's observed phase for one application.
type ApplicationStatus struct {
	AppID   string  `cbor:"1,keyasint"`
	Phase   string  `cbor:"2,keyasint"`
	Metrics *string `cbor:"3,keyasint,omitempty"`
	Error   *string `cbor:"4,keyasint,omitempty"`
}

// ApplicationDeployAck acknowledges a DeployApplication command.
type ApplicationDeployAck struct {
	AppID   string  `cbor:"1,keyasint"`
	Success bool    `cbor:"2,keyasint"`
	Error   *string `cbor:"3,keyasint,omitempty"`
}

// ApplicationStopAck acknowledges a StopApplication command.
type ApplicationStopAck struct {
	AppID   string  `cbor:"1,keyasint"`
	Success bool    `cbor:"2,keyasint"`
	Error   *string `cbor:"3,keyasint,omitempty"`
}

// DeployApplication instructs a device to start running an application.
type DeployApplication struct {
	AppID     string            `cbor:"1,keyasint"`
	Name      string            `cbor:"2,keyasint"`
	WasmBytes []byte            `cbor:"3,keyasint,omitempty"`
	Config    map[string]string `cbor:"4,keyasint,omitempty"`
	Env       map[string]string `cbor:"5,keyasint,omitempty"`
	Args      []string          `cbor:"6,keyasint,omitempty"`
}

// StopApplication instructs a device to stop running an application.
type StopApplication struct {
	AppID string `cbor:"1,keyasint"`
}

// Ping and Pong are the keep-alive control messages (§4.3, mirrors
// mash-go's transport keep-alive sequence numbers).
type Ping struct {
	Sequence uint32 `cbor:"1,keyasint"`
}

type Pong struct {
	Sequence uint32 `cbor:"1,keyasint"`
}

// Error carries a protocol or application-level error to the peer.
type Error struct {
	Code       ErrorCode `cbor:"1,keyasint"`
	Message    string    `cbor:"2,keyasint"`
	RetryAfter *uint32   `cbor:"3,keyasint,omitempty"`
}
