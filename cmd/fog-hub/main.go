// Command fog-hub is the default single-binary deployment: the gateway
// process (C2-C6, C11-C12) and the controller-manager process (C7-C10)
// co-located in one address space, with the application controller (C8)
// dispatching into the local lifecycle manager (C6) by direct in-process
// method calls rather than any external forwarding mechanism (§4.8 point 2,
// "forwarding to it through an internal channel if co-located").
package main

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/client/config"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/manager"
	"sigs.k8s.io/controller-runtime/pkg/manager/signals"
	"sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/fogmesh/gateway-fog-hub/pkg/controller/application"
	"github.com/fogmesh/gateway-fog-hub/pkg/controller/device"
	"github.com/fogmesh/gateway-fog-hub/pkg/controller/gateway"
	"github.com/fogmesh/gateway-fog-hub/pkg/crstore"
	"github.com/fogmesh/gateway-fog-hub/pkg/failover"
	fogv1alpha1 "github.com/fogmesh/gateway-fog-hub/pkg/fogapi/v1alpha1"
	"github.com/fogmesh/gateway-fog-hub/pkg/gatewayproc"
	fogmetrics "github.com/fogmesh/gateway-fog-hub/pkg/metrics"
)

// coLocatedRegistry resolves exactly one gateway name — this process's
// own — to its in-process lifecycle manager. A multi-gateway deployment
// that still wants one controller-manager per gateway would run one
// fog-hub binary per gateway, each with its own Gateway CR name, rather
// than one binary fronting many; §9 notes gateway count is expected to be
// small relative to device count.
type coLocatedRegistry struct {
	gatewayName string
	lifecycle   application.LifecycleApplier
}

func (r coLocatedRegistry) Get(name string) (application.LifecycleApplier, bool) {
	if name != r.gatewayName {
		return nil, false
	}
	return r.lifecycle, true
}

func main() {
	ctrl.SetLogger(klog.NewKlogr())

	if err := newRootCommand().Execute(); err != nil {
		klog.Fatal(err)
	}
}

func newRootCommand() *cobra.Command {
	var (
		namespace        string
		gatewayName      string
		listenAddress    string
		metricsAddress   string
		healthAddr       string
		tlsCertFile      string
		tlsKeyFile       string
		tlsClientCAFile  string
		insecureNoVerify bool
		heartbeatInt     time.Duration
		heartbeatTimeout time.Duration
		commandTimeout   time.Duration
		maxMessageSize   uint32
		leaderElect      bool
	)

	cmd := &cobra.Command{
		Use:   "fog-hub",
		Short: "Run the fog hub gateway and controller-manager co-located in one process",
		RunE: func(cmd *cobra.Command, args []string) error {
			if gatewayName == "" {
				return fmt.Errorf("fog-hub: --gateway-name is required")
			}

			restCfg, err := config.GetConfig()
			if err != nil {
				return fmt.Errorf("fog-hub: load kubeconfig: %w", err)
			}

			syncPeriod := 10 * time.Minute
			mgr, err := manager.New(restCfg, manager.Options{
				Metrics: server.Options{BindAddress: metricsAddress},
				Cache: cache.Options{
					SyncPeriod:        &syncPeriod,
					DefaultNamespaces: map[string]cache.Config{namespace: {}},
				},
				HealthProbeBindAddress: healthAddr,
				LeaderElection:         leaderElect,
				LeaderElectionID:       "fog-hub-leader",
			})
			if err != nil {
				return fmt.Errorf("fog-hub: build manager: %w", err)
			}
			if err := fogv1alpha1.AddToScheme(mgr.GetScheme()); err != nil {
				return fmt.Errorf("fog-hub: register fog CR types: %w", err)
			}

			store := crstore.New(mgr.GetClient(), namespace)

			proc, err := gatewayproc.New(store, gatewayproc.Config{
				GatewayName:        gatewayName,
				ListenAddress:      listenAddress,
				TLSCertFile:        tlsCertFile,
				TLSKeyFile:         tlsKeyFile,
				TLSClientCAFile:    tlsClientCAFile,
				InsecureSkipVerify: insecureNoVerify,
				HeartbeatInterval:  heartbeatInt,
				HeartbeatTimeout:   heartbeatTimeout,
				CommandTimeout:     commandTimeout,
				MaxMessageSize:     maxMessageSize,
			})
			if err != nil {
				return fmt.Errorf("fog-hub: build gateway process: %w", err)
			}

			lifecycles := coLocatedRegistry{gatewayName: gatewayName, lifecycle: proc.Lifecycle()}

			if err := device.Add(mgr, store, device.Config{}); err != nil {
				return fmt.Errorf("fog-hub: register device controller: %w", err)
			}
			if err := application.Add(mgr, store, lifecycles); err != nil {
				return fmt.Errorf("fog-hub: register application controller: %w", err)
			}
			if err := gateway.Add(mgr, store, nil, gateway.Config{}); err != nil {
				return fmt.Errorf("fog-hub: register gateway controller: %w", err)
			}
			if err := failover.Add(mgr, store); err != nil {
				return fmt.Errorf("fog-hub: register failover scheduler: %w", err)
			}

			prometheus.MustRegister(fogmetrics.NewCRCollector(store))

			if err := mgr.AddReadyzCheck("ping", healthz.Ping); err != nil {
				return err
			}
			if err := mgr.AddHealthzCheck("ping", healthz.Ping); err != nil {
				return err
			}

			ctx := signals.SetupSignalHandler()

			go func() {
				if err := proc.Run(ctx); err != nil {
					klog.Errorf("fog-hub: southbound process exited: %v", err)
				}
			}()

			return mgr.Start(ctx)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&namespace, "namespace", "fog-hub", "Namespace the fog hub custom resources live in.")
	flags.StringVar(&gatewayName, "gateway-name", "", "Name of this process's own Gateway custom resource (required).")
	flags.StringVar(&listenAddress, "listen-address", ":8443", "Address the mutual-TLS device listener binds to.")
	flags.StringVar(&metricsAddress, "metrics-bind-address", ":8080", "Address for hosting Prometheus metrics.")
	flags.StringVar(&healthAddr, "health-addr", ":9440", "Address for health checking.")
	flags.StringVar(&tlsCertFile, "tls-cert-file", "", "Path to the gateway's TLS certificate.")
	flags.StringVar(&tlsKeyFile, "tls-key-file", "", "Path to the gateway's TLS private key.")
	flags.StringVar(&tlsClientCAFile, "tls-client-ca-file", "", "Path to the CA bundle trusted to sign device certificates.")
	flags.BoolVar(&insecureNoVerify, "insecure-skip-verify", false, "Disable client certificate verification (development only).")
	flags.DurationVar(&heartbeatInt, "heartbeat-interval", 30*time.Second, "Heartbeat interval advertised to devices.")
	flags.DurationVar(&heartbeatTimeout, "heartbeat-timeout", 90*time.Second, "How long since last_rx before a session is considered stale.")
	flags.DurationVar(&commandTimeout, "command-timeout", 30*time.Second, "How long a deploy/stop command waits for an ack before retry.")
	flags.Uint32Var(&maxMessageSize, "max-message-size", 0, "Maximum framed message size in bytes (0 = protocol default).")
	flags.BoolVar(&leaderElect, "leader-elect", false, "Enable leader election for the control loops.")

	return cmd
}
