// Package fogapi declares the typed boundaries between this repository's
// core (C1-C12) and the external collaborators §1/§6 name as out of scope:
// the REST/HTTP admin API, the React dashboard, the Renode/QEMU board
// provisioner, the on-device WASM runtime, the on-device firmware's
// sensor/actuator bindings, certificate authority bootstrapping, and metric
// scrapers beyond the `/metrics` endpoint this repo exposes. None of these
// are implemented here; the interfaces exist so the core compiles and
// tests against fakes without importing any of those systems.
package fogapi

import (
	"context"

	fogv1alpha1 "github.com/fogmesh/gateway-fog-hub/pkg/fogapi/v1alpha1"
)

// AdminAPI is the shape of the northbound REST surface's interaction with
// the core (§6 "Northbound admin surface"): CRUD on the three CR kinds
// plus per-device actions and pairing-mode toggling. The REST layer itself
// — routing, encoding, auth — is external; this repo only needs the shape
// of the calls it would make against the CR store and enrollment service.
type AdminAPI interface {
	EnrollDevice(ctx context.Context, hardwareID string, publicKey []byte) (*fogv1alpha1.Device, error)
	ConnectDevice(ctx context.Context, deviceName string) error
	DisconnectDevice(ctx context.Context, deviceName string) error
	SetPairingMode(ctx context.Context, gatewayName string, enabled bool, timeoutSeconds *uint32) error
}

// BoardProvisioner is the Renode/QEMU provisioner's boundary with the core
// (§1 "it registers boards but its internals are external"): it calls in to
// start/stop an emulated board and reports the hardware identity the
// enrollment service (C5) then binds to a Device CR.
type BoardProvisioner interface {
	StartBoard(ctx context.Context, mcuType fogv1alpha1.McuType) (hardwareID string, err error)
	StopBoard(ctx context.Context, hardwareID string) error
}

// WasmRuntime is the on-device WASM execution boundary (§1, Non-goals:
// "defining the wire format of the WASM module itself"). The gateway never
// runs WASM itself; it only transports `wasm_bytes` to a device whose
// firmware embeds a runtime satisfying some version of this contract. This
// interface documents the capability the protocol's DeployApplication
// message assumes exists on the other end of the link.
type WasmRuntime interface {
	LoadModule(wasmBytes []byte, config, env map[string]string, args []string) error
	Stop() error
}

// SensorBindings is the on-device firmware's sensor/actuator boundary
// (§1), outside this repo's scope beyond the opaque `Telemetry` map a
// Heartbeat may carry (`wire.Heartbeat.Telemetry`).
type SensorBindings interface {
	ReadTelemetry() map[string]any
}

// CertificateAuthority is the device/gateway certificate issuance boundary
// (§1, Non-goals: "certificate issuance"). The TLS acceptor (C2) verifies
// against a configured CA pool (`transport.TLSConfig.ClientCAs`) but never
// issues or rotates certificates itself.
type CertificateAuthority interface {
	IssueDeviceCertificate(ctx context.Context, publicKey []byte) (certPEM []byte, err error)
}

// MetricScraper is the northbound metrics consumer's boundary (§1): this
// repo exposes Prometheus collectors (`pkg/metrics`) on `/metrics`; the
// scraper that polls it is external.
type MetricScraper interface {
	Scrape(ctx context.Context, endpoint string) ([]byte, error)
}
