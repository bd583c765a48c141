// Package crstore adapts the three fog hub custom resources (Device,
// Application, Gateway) behind a narrow get/list/patch interface (C10),
// the single seam through which the session layer, the controllers and the
// lifecycle manager read and write cluster state. Every status mutation
// goes through the Status() subresource client and is retried on write
// conflict, an optimistic-concurrency pattern applied directly via
// client.Client calls rather than a generated clientset.
package crstore

import (
	"context"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/client-go/util/retry"
	"sigs.k8s.io/controller-runtime/pkg/client"

	fogv1alpha1 "github.com/fogmesh/gateway-fog-hub/pkg/fogapi/v1alpha1"
)

// Store wraps a controller-runtime client with fog-hub-specific
// read/write helpers. The zero value is not usable; construct with New.
type Store struct {
	client.Client
	namespace string
}

// New creates a Store that scopes unqualified operations to namespace (the
// fog hub's CRs are expected to live in one operator namespace per
// cluster).
func New(c client.Client, namespace string) *Store {
	return &Store{Client: c, namespace: namespace}
}

// Namespace returns the namespace this store operates in.
func (s *Store) Namespace() string {
	return s.namespace
}

// IsNotFound reports whether err is a Kubernetes "not found" API error.
func IsNotFound(err error) bool {
	return apierrors.IsNotFound(err)
}

// --- Device ---

// GetDevice fetches a Device CR by name.
func (s *Store) GetDevice(ctx context.Context, name string) (*fogv1alpha1.Device, error) {
	var d fogv1alpha1.Device
	if err := s.Get(ctx, client.ObjectKey{Namespace: s.namespace, Name: name}, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDevices lists every Device CR in the store's namespace.
func (s *Store) ListDevices(ctx context.Context, opts ...client.ListOption) (*fogv1alpha1.DeviceList, error) {
	var list fogv1alpha1.DeviceList
	allOpts := append([]client.ListOption{client.InNamespace(s.namespace)}, opts...)
	if err := s.List(ctx, &list, allOpts...); err != nil {
		return nil, err
	}
	return &list, nil
}

// FindDeviceByPublicKey scans Device CRs for one whose spec.publicKey
// matches key. The fog hub's device count per cluster (low thousands) does
// not warrant a secondary index CR or label-based lookup; a list-and-scan
// is cheap enough at that cardinality.
func (s *Store) FindDeviceByPublicKey(ctx context.Context, key []byte) (*fogv1alpha1.Device, error) {
	list, err := s.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	for i := range list.Items {
		if string(list.Items[i].Spec.PublicKey) == string(key) {
			return &list.Items[i], nil
		}
	}
	return nil, nil
}

// CreateDevice creates a new Device CR.
func (s *Store) CreateDevice(ctx context.Context, d *fogv1alpha1.Device) error {
	d.Namespace = s.namespace
	return s.Create(ctx, d)
}

// PatchDeviceStatus re-fetches the Device, applies mutate to its status and
// writes it through the status subresource, retrying on conflict.
func (s *Store) PatchDeviceStatus(ctx context.Context, name string, mutate func(*fogv1alpha1.DeviceStatus)) error {
	return retry.RetryOnConflict(retry.DefaultBackoff, func() error {
		d, err := s.GetDevice(ctx, name)
		if err != nil {
			return err
		}
		mutate(&d.Status)
		return s.Status().Update(ctx, d)
	})
}

// --- Application ---

// GetApplication fetches an Application CR by name.
func (s *Store) GetApplication(ctx context.Context, name string) (*fogv1alpha1.Application, error) {
	var a fogv1alpha1.Application
	if err := s.Get(ctx, client.ObjectKey{Namespace: s.namespace, Name: name}, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// ListApplications lists every Application CR in the store's namespace.
func (s *Store) ListApplications(ctx context.Context, opts ...client.ListOption) (*fogv1alpha1.ApplicationList, error) {
	var list fogv1alpha1.ApplicationList
	allOpts := append([]client.ListOption{client.InNamespace(s.namespace)}, opts...)
	if err := s.List(ctx, &list, allOpts...); err != nil {
		return nil, err
	}
	return &list, nil
}

// PatchApplicationStatus re-fetches the Application, applies mutate to its
// status and writes it through the status subresource, retrying on
// conflict.
func (s *Store) PatchApplicationStatus(ctx context.Context, name string, mutate func(*fogv1alpha1.ApplicationStatus)) error {
	return retry.RetryOnConflict(retry.DefaultBackoff, func() error {
		a, err := s.GetApplication(ctx, name)
		if err != nil {
			return err
		}
		mutate(&a.Status)
		return s.Status().Update(ctx, a)
	})
}

// --- Gateway ---

// GetGateway fetches a Gateway CR by name.
func (s *Store) GetGateway(ctx context.Context, name string) (*fogv1alpha1.Gateway, error) {
	var g fogv1alpha1.Gateway
	if err := s.Get(ctx, client.ObjectKey{Namespace: s.namespace, Name: name}, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// ListGateways lists every Gateway CR in the store's namespace.
func (s *Store) ListGateways(ctx context.Context, opts ...client.ListOption) (*fogv1alpha1.GatewayList, error) {
	var list fogv1alpha1.GatewayList
	allOpts := append([]client.ListOption{client.InNamespace(s.namespace)}, opts...)
	if err := s.List(ctx, &list, allOpts...); err != nil {
		return nil, err
	}
	return &list, nil
}

// ListRunningGateways returns every Gateway CR whose status.phase is
// Running, the candidate set for device assignment and failover (§4.7,
// §4.9).
func (s *Store) ListRunningGateways(ctx context.Context) ([]fogv1alpha1.Gateway, error) {
	list, err := s.ListGateways(ctx)
	if err != nil {
		return nil, err
	}
	running := make([]fogv1alpha1.Gateway, 0, len(list.Items))
	for _, g := range list.Items {
		if g.Status.Phase == fogv1alpha1.GatewayRunning {
			running = append(running, g)
		}
	}
	return running, nil
}

// PatchGatewayStatus re-fetches the Gateway, applies mutate to its status
// and writes it through the status subresource, retrying on conflict.
func (s *Store) PatchGatewayStatus(ctx context.Context, name string, mutate func(*fogv1alpha1.GatewayStatus)) error {
	return retry.RetryOnConflict(retry.DefaultBackoff, func() error {
		g, err := s.GetGateway(ctx, name)
		if err != nil {
			return err
		}
		mutate(&g.Status)
		return s.Status().Update(ctx, g)
	})
}

// CountDevicesForGateway counts Device CRs whose status.gateway currently
// references gatewayName, the basis for least-connections assignment
// (§4.7) — computed cluster-wide, not from any one gateway process's
// in-memory registry, since a process only knows its own connections.
func (s *Store) CountDevicesForGateway(ctx context.Context, gatewayName string) (int, error) {
	list, err := s.ListDevices(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, d := range list.Items {
		if d.Status.Gateway != nil && d.Status.Gateway.Name == gatewayName {
			count++
		}
	}
	return count, nil
}
