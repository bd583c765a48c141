// Package v1alpha1 contains the Device, Application and Gateway custom
// resource types that make up the fog hub's cluster-side source of truth.
//
// +k8s:deepcopy-gen=package,register
// +groupName=fog.fogmesh.io
package v1alpha1
