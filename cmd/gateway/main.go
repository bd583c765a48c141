// Command gateway runs the fog hub's southbound device-facing process
// (C2-C6, C11-C12): the mutual-TLS acceptor, session registry, enrollment
// service, lifecycle manager, heartbeat watchdog and failover scheduler.
// The device, application and gateway controllers (C7-C9) run in the
// separate controller-manager process (cmd/controller-manager) — see
// cmd/fog-hub for the co-located single-binary deployment that runs both.
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

	"github.com/fogmesh/gateway-fog-hub/pkg/crstore"
	"github.com/fogmesh/gateway-fog-hub/pkg/failover"
	fogv1alpha1 "github.com/fogmesh/gateway-fog-hub/pkg/fogapi/v1alpha1"
	"github.com/fogmesh/gateway-fog-hub/pkg/gatewayproc"
	fogmetrics "github.com/fogmesh/gateway-fog-hub/pkg/metrics"
)

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
		Use:   "gateway",
		Short: "Run the fog hub gateway process",
		RunE: func(cmd *cobra.Command, args []string) error {
			restCfg, err := config.GetConfig()
			if err != nil {
				return fmt.Errorf("gateway: load kubeconfig: %w", err)
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
				LeaderElectionID:       "fog-hub-gateway-leader",
			})
			if err != nil {
				return fmt.Errorf("gateway: build manager: %w", err)
			}
			if err := fogv1alpha1.AddToScheme(mgr.GetScheme()); err != nil {
				return fmt.Errorf("gateway: register fog CR types: %w", err)
			}

			store := crstore.New(mgr.GetClient(), namespace)

			if err := failover.Add(mgr, store); err != nil {
				return fmt.Errorf("gateway: register failover scheduler: %w", err)
			}

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
				return fmt.Errorf("gateway: build gateway process: %w", err)
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
					klog.Errorf("gateway: southbound process exited: %v", err)
				}
			}()

			return mgr.Start(ctx)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&namespace, "namespace", "fog-hub", "Namespace the fog hub custom resources live in.")
	flags.StringVar(&gatewayName, "gateway-name", "", "Name of this process's own Gateway custom resource.")
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
	flags.BoolVar(&leaderElect, "leader-elect", false, "Enable leader election for the failover scheduler.")

	return cmd
}
