// Package gatewayproc wires the gateway-process components (C2-C6, C11) —
// TLS acceptor, session registry, enrollment, lifecycle manager and
// watchdog — into one runnable unit. Both cmd/gateway (standalone) and
// cmd/fog-hub (co-located with the controller-manager process) construct a
// Process the same way, an Add-style constructor called identically from
// a standalone binary and from the co-located manager setup rather than
// duplicated per binary.
package gatewayproc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/fogmesh/gateway-fog-hub/pkg/crstore"
	"github.com/fogmesh/gateway-fog-hub/pkg/enrollment"
	"github.com/fogmesh/gateway-fog-hub/pkg/lifecycle"
	"github.com/fogmesh/gateway-fog-hub/pkg/registry"
	"github.com/fogmesh/gateway-fog-hub/pkg/retry"
	"github.com/fogmesh/gateway-fog-hub/pkg/session"
	"github.com/fogmesh/gateway-fog-hub/pkg/traffic"
	"github.com/fogmesh/gateway-fog-hub/pkg/transport"
	"github.com/fogmesh/gateway-fog-hub/pkg/watchdog"
)

// Config configures one gateway process's southbound listener and protocol
// tunables. The zero value is not usable; all durations default when unset.
type Config struct {
	// GatewayName identifies this process's own Gateway CR (§4.9); used
	// only for logging here. This process does not write its Gateway CR's
	// status: the gateway controller's probe sets phase and last_health,
	// and connected_devices is not written by any component.
	GatewayName string

	ListenAddress string

	TLSCertFile     string
	TLSKeyFile      string
	TLSClientCAFile string

	// InsecureSkipVerify disables client certificate verification. Only
	// for local development — never set in a running gateway.
	InsecureSkipVerify bool

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	CommandTimeout    time.Duration
	MaxMessageSize    uint32
	FeatureFlags      []string

	WatchdogInterval  time.Duration
	ReconcileInterval time.Duration

	Backoff retry.Config
}

func (c *Config) setDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 3 * c.HeartbeatInterval
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 30 * time.Second
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = 5 * time.Second
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = 2 * time.Second
	}
	if c.Backoff.Initial <= 0 {
		c.Backoff = retry.Config{Initial: time.Second, Max: time.Minute, Multiplier: 2}
	}
}

// Process is one gateway's running southbound stack.
type Process struct {
	cfg       Config
	store     *crstore.Store
	registry  *registry.Registry
	lifecycle *lifecycle.Manager
	pairing   *enrollment.PairingMode
	enroll    *enrollment.Service
	acceptor  *transport.Acceptor
	watchdog  *watchdog.Watchdog
}

// New builds a Process bound to the given CR store. It loads the gateway's
// TLS material from disk but does not yet listen.
func New(store *crstore.Store, cfg Config) (*Process, error) {
	cfg.setDefaults()

	tlsConf, err := loadTLSConfig(cfg)
	if err != nil {
		return nil, err
	}

	acceptor, err := transport.NewAcceptor(transport.AcceptorConfig{
		Address:        cfg.ListenAddress,
		TLSConfig:      tlsConf,
		MaxMessageSize: cfg.MaxMessageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("gatewayproc: build acceptor: %w", err)
	}

	reg := registry.New()
	lm := lifecycle.New(lifecycle.FromRegistry(reg), store, lifecycle.Config{
		CommandTimeout: cfg.CommandTimeout,
		Backoff:        cfg.Backoff,
	})
	pairing := &enrollment.PairingMode{}
	enroll := enrollment.New(store, pairing, enrollment.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		MaxMessageSize:    cfg.MaxMessageSize,
		FeatureFlags:      cfg.FeatureFlags,
	})
	wd := watchdog.New(reg, lm, store, watchdog.Config{Interval: cfg.WatchdogInterval})

	return &Process{
		cfg:       cfg,
		store:     store,
		registry:  reg,
		lifecycle: lm,
		pairing:   pairing,
		enroll:    enroll,
		acceptor:  acceptor,
		watchdog:  wd,
	}, nil
}

// Lifecycle returns the process's lifecycle manager, the seam the
// application controller dispatches through when co-located (§4.8 point 2).
func (p *Process) Lifecycle() *lifecycle.Manager { return p.lifecycle }

// Pairing returns the process's pairing-mode gate, toggled by the admin
// API (external, §1).
func (p *Process) Pairing() *enrollment.PairingMode { return p.pairing }

func loadTLSConfig(cfg Config) (*transport.TLSConfig, error) {
	cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
	if err != nil {
		return nil, fmt.Errorf("gatewayproc: load gateway certificate: %w", err)
	}

	if cfg.InsecureSkipVerify {
		return &transport.TLSConfig{Certificate: cert, InsecureSkipVerify: true}, nil
	}

	caPEM, err := os.ReadFile(cfg.TLSClientCAFile)
	if err != nil {
		return nil, fmt.Errorf("gatewayproc: read client CA bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("gatewayproc: no certificates parsed from %s", cfg.TLSClientCAFile)
	}

	return &transport.TLSConfig{Certificate: cert, ClientCAs: pool}, nil
}

// Run starts listening and blocks, accepting device connections and
// driving the watchdog and lifecycle reconcile loops, until ctx is
// cancelled.
func (p *Process) Run(ctx context.Context) error {
	if err := p.acceptor.Listen(); err != nil {
		return err
	}
	defer p.acceptor.Close()

	klog.Infof("gatewayproc: listening for devices on %s (gateway=%q)", p.acceptor.Addr(), p.cfg.GatewayName)

	go p.watchdog.Run(ctx)
	go p.reconcileLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		conn, err := p.acceptor.Accept(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			klog.Errorf("gatewayproc: accept: %v", err)
			continue
		}
		go p.handleConn(ctx, conn)
	}
}

func (p *Process) handleConn(ctx context.Context, conn *transport.Conn) {
	trafficAdapter := traffic.New(p.lifecycle, p.store)

	sess := session.New(conn, session.Config{
		ConnID:            uuid.New().String(),
		EnrollmentHandler: p.enroll,
		TrafficHandler:    trafficAdapter,
		OnAuthenticated: func(s *session.Session) {
			p.registry.InsertOrReplace(s)
		},
		OnClosed: func(s *session.Session) {
			p.registry.Remove(s.DeviceID(), s)
		},
		HeartbeatTimeout: p.cfg.HeartbeatTimeout,
	})
	sess.Run(ctx)
}

// reconcileLoop drives the lifecycle manager's retry/backoff sweep and, in
// the absence of a co-located application controller (§4.8 point 2), also
// projects each known application's status back onto its Application CR —
// in a standalone gateway process deployment, nothing else would.
func (p *Process) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			p.lifecycle.ReconcileStep(ctx, now)
			for _, appID := range p.lifecycle.AppIDs() {
				if err := p.lifecycle.ProjectStatus(ctx, appID); err != nil {
					klog.Errorf("gatewayproc: project status for app %q: %v", appID, err)
				}
			}
		}
	}
}
