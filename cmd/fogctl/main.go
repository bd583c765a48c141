// Command fogctl is a small operator CLI for inspecting fog hub custom
// resources directly, independent of the REST admin API (external, §1,
// §6) which this repo does not implement. It talks to the same Device,
// Application and Gateway CRs the controllers reconcile, through the same
// C10 CR store adapter.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/config"

	"github.com/fogmesh/gateway-fog-hub/pkg/crstore"
	fogv1alpha1 "github.com/fogmesh/gateway-fog-hub/pkg/fogapi/v1alpha1"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var namespace string

	root := &cobra.Command{
		Use:   "fogctl",
		Short: "Inspect fog hub Device, Application and Gateway custom resources",
	}
	root.PersistentFlags().StringVar(&namespace, "namespace", "fog-hub", "Namespace the fog hub custom resources live in.")

	root.AddCommand(newGetCommand(&namespace))
	return root
}

func newGetCommand(namespace *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get {devices|gateways|applications}",
		Short: "List fog hub custom resources",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := newStore(*namespace)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			switch args[0] {
			case "devices", "device":
				return printDevices(ctx, store, cmd.OutOrStdout())
			case "gateways", "gateway", "gw", "gws":
				return printGateways(ctx, store, cmd.OutOrStdout())
			case "applications", "application", "app", "apps":
				return printApplications(ctx, store, cmd.OutOrStdout())
			default:
				return fmt.Errorf("fogctl: unknown resource %q (want devices, gateways or applications)", args[0])
			}
		},
	}
	return cmd
}

func newStore(namespace string) (*crstore.Store, error) {
	restCfg, err := config.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("fogctl: load kubeconfig: %w", err)
	}
	scheme := runtime.NewScheme()
	if err := clientgoscheme.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("fogctl: register built-in types: %w", err)
	}
	if err := fogv1alpha1.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("fogctl: register fog CR types: %w", err)
	}
	c, err := client.New(restCfg, client.Options{Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("fogctl: build client: %w", err)
	}
	return crstore.New(c, namespace), nil
}

func printDevices(ctx context.Context, store *crstore.Store, out io.Writer) error {
	list, err := store.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("fogctl: list devices: %w", err)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPHASE\tGATEWAY\tLAST_HEARTBEAT")
	for _, d := range list.Items {
		gw := "-"
		if d.Status.Gateway != nil {
			gw = d.Status.Gateway.Name
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Name, d.Status.Phase, gw, formatUnixOrDash(d.Status.LastHeartbeat))
	}
	return tw.Flush()
}

func printGateways(ctx context.Context, store *crstore.Store, out io.Writer) error {
	list, err := store.ListGateways(ctx)
	if err != nil {
		return fmt.Errorf("fogctl: list gateways: %w", err)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPHASE\tENDPOINT\tCONNECTED_DEVICES")
	for _, g := range list.Items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", g.Name, g.Status.Phase, g.Spec.Endpoint, g.Status.ConnectedDevices)
	}
	return tw.Flush()
}

func printApplications(ctx context.Context, store *crstore.Store, out io.Writer) error {
	list, err := store.ListApplications(ctx)
	if err != nil {
		return fmt.Errorf("fogctl: list applications: %w", err)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPHASE\tPROGRESS")
	for _, a := range list.Items {
		fmt.Fprintf(tw, "%s\t%s\t%.0f%%\n", a.Name, a.Status.Phase, a.Status.DeploymentProgress*100)
	}
	return tw.Flush()
}

func formatUnixOrDash(sec int64) string {
	if sec == 0 {
		return "-"
	}
	return time.Unix(sec, 0).UTC().Format(time.RFC3339)
}
