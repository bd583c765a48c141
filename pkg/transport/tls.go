package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
)

// ALPNProtocol is the application-layer protocol negotiated by the fog hub
// wire protocol (§4.1).
const ALPNProtocol = "fogmesh/1"

// TLSConfig holds the material needed to build the gateway's server-side TLS
// configuration. The gateway always requires mutual TLS: the device
// certificate's public key is the identity bound to a Device CR (I1), and
// unauthenticated connections are never accepted (§4.2).
type TLSConfig struct {
	// Certificate is the gateway's own TLS certificate.
	Certificate tls.Certificate

	// ClientCAs is the pool of CA certificates trusted to sign device
	// certificates. A connection whose client certificate does not chain
	// to this pool fails the handshake before reaching the session layer.
	ClientCAs *x509.CertPool

	// InsecureSkipVerify disables client certificate verification. Only
	// for local development and tests — never set in a running gateway.
	InsecureSkipVerify bool
}

// NewServerTLSConfig builds the gateway's TLS 1.3, mutual-auth server
// configuration (§4.2).
func NewServerTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("transport: TLSConfig is required")
	}
	if len(cfg.Certificate.Certificate) == 0 {
		return nil, fmt.Errorf("transport: gateway certificate is required")
	}

	tlsConfig := &tls.Config{
		MinVersion:   tls.VersionTLS13,
		MaxVersion:   tls.VersionTLS13,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		Certificates: []tls.Certificate{cfg.Certificate},
		ClientCAs:    cfg.ClientCAs,
		NextProtos:   []string{ALPNProtocol},
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		SessionTicketsDisabled: true,
	}

	if cfg.InsecureSkipVerify {
		tlsConfig.ClientAuth = tls.RequestClientCert
		tlsConfig.InsecureSkipVerify = true
	}

	return tlsConfig, nil
}

// VerifyTLS13 checks that a connection negotiated TLS 1.3, rejecting the
// downgrade silently accepted by looser configurations.
func VerifyTLS13(state tls.ConnectionState) error {
	if state.Version != tls.VersionTLS13 {
		return fmt.Errorf("transport: TLS version %#x is not TLS 1.3", state.Version)
	}
	return nil
}

// VerifyALPN checks that the gateway's protocol was negotiated over ALPN,
// rejecting connections from peers speaking a different protocol on the
// same port.
func VerifyALPN(state tls.ConnectionState) error {
	if state.NegotiatedProtocol != ALPNProtocol {
		return fmt.Errorf("transport: ALPN protocol %q is not %q", state.NegotiatedProtocol, ALPNProtocol)
	}
	return nil
}

// VerifyConnection runs the standard post-handshake checks the gateway
// applies to every accepted connection before it reaches the session layer.
func VerifyConnection(state tls.ConnectionState) error {
	if err := VerifyTLS13(state); err != nil {
		return err
	}
	if err := VerifyALPN(state); err != nil {
		return err
	}
	if len(state.PeerCertificates) == 0 {
		return fmt.Errorf("transport: no client certificate presented")
	}
	return nil
}

// ExtractSubjectPublicKeyInfo returns the DER-encoded SubjectPublicKeyInfo of
// the connection's leaf client certificate. This is the identity bound to a
// Device CR's spec.publicKey (I1): two certificates with different serial
// numbers or validity windows but the same key bind to the same device.
func ExtractSubjectPublicKeyInfo(state tls.ConnectionState) ([]byte, error) {
	if len(state.PeerCertificates) == 0 {
		return nil, fmt.Errorf("transport: no client certificate presented")
	}
	leaf := state.PeerCertificates[0]
	spki, err := x509.MarshalPKIXPublicKey(leaf.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("transport: marshal SubjectPublicKeyInfo: %w", err)
	}
	return spki, nil
}
