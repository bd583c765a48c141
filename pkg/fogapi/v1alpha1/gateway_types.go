package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// GatewayPhase is the observed availability of a Gateway endpoint.
// +kubebuilder:validation:Enum=Pending;Running;Degraded;Stopped
type GatewayPhase string

const (
	GatewayPending  GatewayPhase = "Pending"
	GatewayRunning  GatewayPhase = "Running"
	GatewayDegraded GatewayPhase = "Degraded"
	GatewayStopped  GatewayPhase = "Stopped"
)

// +genclient
// +k8s:deepcopy-gen:interfaces=k8s.io/apimachinery/pkg/runtime.Object

// Gateway is one Gateway Fog hub endpoint: a TLS+CBOR southbound listener
// plus an HTTP admin port.
// +kubebuilder:subresource:status
// +kubebuilder:resource:shortName=gw;gws
type Gateway struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   GatewaySpec   `json:"spec,omitempty"`
	Status GatewayStatus `json:"status,omitempty"`
}

// GatewaySpec is the desired configuration of one Gateway endpoint.
type GatewaySpec struct {
	// Endpoint is "host:port" as reachable by devices and controllers.
	Endpoint string `json:"endpoint"`

	// +kubebuilder:default=8443
	TLSPort int32 `json:"tlsPort,omitempty"`
	// +kubebuilder:default=8080
	HTTPPort int32 `json:"httpPort,omitempty"`

	MaxDevices int32  `json:"maxDevices,omitempty"`
	Region     string `json:"region,omitempty"`

	// HeartbeatInterval records how often the gateway expects Heartbeat
	// frames. The gateway process does not read this field: the interval
	// advertised in EnrollmentResponse.config comes from the process's own
	// heartbeat-interval setting.
	HeartbeatInterval metav1.Duration `json:"heartbeatInterval,omitempty"`

	// EnrollmentTimeout records a bound on how long pairing mode stays
	// enabled once toggled on with a deadline (§4.5). No component in this
	// repository reads it.
	EnrollmentTimeout metav1.Duration `json:"enrollmentTimeout,omitempty"`

	// ConnectionTimeout records a bound for the TLS handshake and
	// per-message suspension points (§5). No component in this repository
	// reads it.
	ConnectionTimeout metav1.Duration `json:"connectionTimeout,omitempty"`
}

// GatewayStatus is the observed state of one Gateway endpoint.
type GatewayStatus struct {
	Phase GatewayPhase `json:"phase,omitempty"`

	// ConnectedDevices is the gateway's last-reported authenticated
	// session count; no component in this repository writes it.
	// Informational only — load-balancing decisions use
	// cluster-wide Device.status.gateway counts, not this field (§9).
	// +optional
	ConnectedDevices int32 `json:"connectedDevices,omitempty"`

	// LastHealth is the unix-seconds timestamp of the last successful
	// endpoint reachability probe (§4.9).
	// +optional
	LastHealth int64 `json:"lastHealth,omitempty"`
}

// +k8s:deepcopy-gen:interfaces=k8s.io/apimachinery/pkg/runtime.Object

// GatewayList is a list of Gateway resources.
type GatewayList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Gateway `json:"items"`
}
