// Command controller-manager runs the fog hub's cluster-facing control
// loops (C7-C10): the device, application and gateway controllers, backed
// by the CR store adapter. In this standalone deployment topology the
// application controller has no co-located lifecycle manager to dispatch
// into — §4.8's external forwarding path (an intent CR/annotation relay to
// a remote gateway process) is left unexercised; use cmd/fog-hub for the
// co-located single-binary deployment that wires the two together.
package main

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
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
	fogv1alpha1 "github.com/fogmesh/gateway-fog-hub/pkg/fogapi/v1alpha1"
	fogmetrics "github.com/fogmesh/gateway-fog-hub/pkg/metrics"
)

// noGatewaysCoLocated is the LifecycleRegistry for a controller-manager
// process with no gateway process sharing its address space; every lookup
// misses, and application.Reconcile's existing fallback (skip dispatch,
// keep scanning other gateways) applies.
type noGatewaysCoLocated struct{}

func (noGatewaysCoLocated) Get(string) (application.LifecycleApplier, bool) { return nil, false }

func main() {
	ctrl.SetLogger(klog.NewKlogr())

	var (
		namespace              string
		metricsAddress         string
		healthAddr             string
		leaderElect            bool
		leaderElectNamespace   string
		deviceUnreachableAfter time.Duration
		gatewayProbeTimeout    time.Duration
	)

	pflag.StringVar(&namespace, "namespace", "fog-hub", "Namespace the fog hub custom resources live in.")
	pflag.StringVar(&metricsAddress, "metrics-bind-address", ":8081", "Address for hosting Prometheus metrics.")
	pflag.StringVar(&healthAddr, "health-addr", ":9441", "Address for health checking.")
	pflag.BoolVar(&leaderElect, "leader-elect", false, "Enable leader election for the controller-manager process.")
	pflag.StringVar(&leaderElectNamespace, "leader-elect-resource-namespace", "", "Namespace of the resource used for leader election locking.")
	pflag.DurationVar(&deviceUnreachableAfter, "device-unreachable-timeout", 5*time.Minute, "How long since last_heartbeat before a device is marked Unreachable.")
	pflag.DurationVar(&gatewayProbeTimeout, "gateway-probe-timeout", 3*time.Second, "Timeout for a Gateway endpoint reachability probe.")
	pflag.Parse()

	if err := run(namespace, metricsAddress, healthAddr, leaderElect, leaderElectNamespace, deviceUnreachableAfter, gatewayProbeTimeout); err != nil {
		klog.Fatal(err)
	}
}

func run(namespace, metricsAddress, healthAddr string, leaderElect bool, leaderElectNamespace string, deviceUnreachableAfter, gatewayProbeTimeout time.Duration) error {
	restCfg, err := config.GetConfig()
	if err != nil {
		return fmt.Errorf("controller-manager: load kubeconfig: %w", err)
	}

	syncPeriod := 10 * time.Minute
	mgr, err := manager.New(restCfg, manager.Options{
		Metrics: server.Options{BindAddress: metricsAddress},
		Cache: cache.Options{
			SyncPeriod:        &syncPeriod,
			DefaultNamespaces: map[string]cache.Config{namespace: {}},
		},
		HealthProbeBindAddress:  healthAddr,
		LeaderElection:          leaderElect,
		LeaderElectionNamespace: leaderElectNamespace,
		LeaderElectionID:        "fog-hub-controller-manager-leader",
	})
	if err != nil {
		return fmt.Errorf("controller-manager: build manager: %w", err)
	}
	if err := fogv1alpha1.AddToScheme(mgr.GetScheme()); err != nil {
		return fmt.Errorf("controller-manager: register fog CR types: %w", err)
	}

	store := crstore.New(mgr.GetClient(), namespace)

	if err := device.Add(mgr, store, device.Config{UnreachableTimeout: deviceUnreachableAfter}); err != nil {
		return fmt.Errorf("controller-manager: register device controller: %w", err)
	}
	if err := application.Add(mgr, store, noGatewaysCoLocated{}); err != nil {
		return fmt.Errorf("controller-manager: register application controller: %w", err)
	}
	if err := gateway.Add(mgr, store, nil, gateway.Config{ProbeTimeout: gatewayProbeTimeout}); err != nil {
		return fmt.Errorf("controller-manager: register gateway controller: %w", err)
	}

	prometheus.MustRegister(fogmetrics.NewCRCollector(store))

	if err := mgr.AddReadyzCheck("ping", healthz.Ping); err != nil {
		return err
	}
	if err := mgr.AddHealthzCheck("ping", healthz.Ping); err != nil {
		return err
	}

	return mgr.Start(signals.SetupSignalHandler())
}
