package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"
)

// AcceptorConfig configures the gateway's TLS listener (C2).
type AcceptorConfig struct {
	// Address to listen on, e.g. ":8443".
	Address string

	// TLSConfig is the mutual-TLS server configuration.
	TLSConfig *TLSConfig

	// MaxMessageSize bounds a single framed message (default DefaultMaxMessageSize).
	MaxMessageSize uint32

	// HandshakeTimeout bounds how long the TLS handshake may take before
	// the connection is dropped (§4.2 enrollment timeout budget).
	HandshakeTimeout time.Duration
}

// Conn is an accepted, TLS-authenticated, framed connection handed off to
// the session layer. It owns the raw net.Conn and exposes only the framing
// and identity primitives a session needs.
type Conn struct {
	*Framer

	raw        net.Conn
	remoteAddr net.Addr
	spki       []byte
}

// RemoteAddr returns the peer's network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.remoteAddr
}

// SubjectPublicKeyInfo returns the DER-encoded public key presented by the
// peer's client certificate (I1).
func (c *Conn) SubjectPublicKeyInfo() []byte {
	return c.spki
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.raw.Close()
}

// NewConn wraps an already-established connection as a framed, identified
// Conn. Exported for tests and for tooling that simulates a device peer
// over a plain net.Conn (e.g. net.Pipe) instead of a real TLS accept.
func NewConn(raw net.Conn, spki []byte, maxMessageSize uint32) *Conn {
	if maxMessageSize == 0 {
		maxMessageSize = DefaultMaxMessageSize
	}
	return &Conn{
		Framer:     NewFramerWithMaxSize(raw, maxMessageSize),
		raw:        raw,
		remoteAddr: raw.RemoteAddr(),
		spki:       spki,
	}
}

// SetReadDeadline and SetWriteDeadline forward to the raw connection so
// callers can bound individual frame reads and writes.
func (c *Conn) SetReadDeadline(t time.Time) error  { return c.raw.SetReadDeadline(t) }
func (c *Conn) SetWriteDeadline(t time.Time) error { return c.raw.SetWriteDeadline(t) }

// Acceptor listens for device connections, completes the mutual-TLS
// handshake, extracts the peer's identity and hands back a framed Conn.
// It deliberately does not own session state: the caller (pkg/session)
// decides what an accepted connection means.
type Acceptor struct {
	cfg      AcceptorConfig
	listener net.Listener
	tlsConf  *tls.Config
}

// NewAcceptor builds an Acceptor without starting to listen.
func NewAcceptor(cfg AcceptorConfig) (*Acceptor, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("transport: listen address is required")
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}

	tlsConf, err := NewServerTLSConfig(cfg.TLSConfig)
	if err != nil {
		return nil, err
	}

	return &Acceptor{cfg: cfg, tlsConf: tlsConf}, nil
}

// Listen opens the TCP listener. Must be called once before Accept.
func (a *Acceptor) Listen() error {
	listener, err := net.Listen("tcp", a.cfg.Address)
	if err != nil {
		return fmt.Errorf("transport: listen on %s: %w", a.cfg.Address, err)
	}
	a.listener = listener
	return nil
}

// Addr returns the listener's bound address. Only valid after Listen.
func (a *Acceptor) Addr() net.Addr {
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Close stops accepting new connections.
func (a *Acceptor) Close() error {
	if a.listener == nil {
		return nil
	}
	return a.listener.Close()
}

// Accept blocks for the next device connection, completes its TLS
// handshake and returns a framed Conn ready for enrollment. Returns the
// raw net.Listener error (including on listener Close, which callers
// should treat as a shutdown signal) if the accept itself fails; returns a
// transport error if a connection is accepted but fails the handshake or
// post-handshake verification — callers should log and continue accepting
// rather than treat it as fatal.
func (a *Acceptor) Accept(ctx context.Context) (*Conn, error) {
	raw, err := a.listener.Accept()
	if err != nil {
		return nil, err
	}

	tlsConn := tls.Server(raw, a.tlsConf)

	handshakeCtx, cancel := context.WithTimeout(ctx, a.cfg.HandshakeTimeout)
	defer cancel()

	if err := tlsConn.HandshakeContext(handshakeCtx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("transport: TLS handshake with %s: %w", raw.RemoteAddr(), err)
	}

	state := tlsConn.ConnectionState()
	if err := VerifyConnection(state); err != nil {
		tlsConn.Close()
		return nil, fmt.Errorf("transport: verify connection from %s: %w", raw.RemoteAddr(), err)
	}

	spki, err := ExtractSubjectPublicKeyInfo(state)
	if err != nil {
		tlsConn.Close()
		return nil, fmt.Errorf("transport: %s: %w", raw.RemoteAddr(), err)
	}

	return &Conn{
		Framer:     NewFramerWithMaxSize(tlsConn, a.cfg.MaxMessageSize),
		raw:        tlsConn,
		remoteAddr: raw.RemoteAddr(),
		spki:       spki,
	}, nil
}
