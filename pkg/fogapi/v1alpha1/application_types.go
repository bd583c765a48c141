package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// ApplicationPhase is the aggregate deployment phase of an Application
// across its target device set (§4.6 aggregation rule).
// +kubebuilder:validation:Enum=Creating;Deploying;Running;PartiallyRunning;Stopping;Stopped;Failed
type ApplicationPhase string

const (
	ApplicationCreating         ApplicationPhase = "Creating"
	ApplicationDeploying        ApplicationPhase = "Deploying"
	ApplicationRunning          ApplicationPhase = "Running"
	ApplicationPartiallyRunning ApplicationPhase = "PartiallyRunning"
	ApplicationStopping         ApplicationPhase = "Stopping"
	ApplicationStopped          ApplicationPhase = "Stopped"
	ApplicationFailed           ApplicationPhase = "Failed"
)

// TargetDeviceSelector names the devices an Application should be deployed
// to, either by an explicit name list or a label selector over Devices.
type TargetDeviceSelector struct {
	// +optional
	DeviceNames []string `json:"deviceNames,omitempty"`

	// +optional
	Selector *metav1.LabelSelector `json:"selector,omitempty"`
}

// +genclient
// +k8s:deepcopy-gen:interfaces=k8s.io/apimachinery/pkg/runtime.Object

// Application is the declarative record of one WASM application and the
// devices it should run on.
// +kubebuilder:subresource:status
// +kubebuilder:resource:shortName=app;apps
type Application struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   ApplicationSpec   `json:"spec,omitempty"`
	Status ApplicationStatus `json:"status,omitempty"`
}

// ApplicationSpec is the desired deployment of a WASM application.
type ApplicationSpec struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// WasmBytes is the concrete deployable form: the raw WASM module.
	// +optional
	WasmBytes []byte `json:"wasmBytes,omitempty"`

	// Image is an image-registry reference accepted alongside WasmBytes.
	// The lifecycle manager uses it only to detect a change and trigger a
	// redeploy: DeployApplication carries WasmBytes alone, and no signature
	// validation is performed on Image.
	// +optional
	Image *string `json:"image,omitempty"`

	TargetDevices TargetDeviceSelector `json:"targetDevices"`

	// Config is opaque application configuration forwarded verbatim in
	// DeployApplication envelopes.
	// +optional
	Config map[string]string `json:"config,omitempty"`

	// Env and Args are forwarded to the on-device WASM runtime unchanged.
	// +optional
	Env map[string]string `json:"env,omitempty"`
	// +optional
	Args []string `json:"args,omitempty"`

	// RollbackEligible enables the lifecycle manager's rollback policy
	// (§4.6): any device Failed on a Run intent triggers StopApplication
	// on every currently-Running device for this app. Off by default.
	// +optional
	RollbackEligible bool `json:"rollbackEligible,omitempty"`
}

// ApplicationStatus is the gateway-reported, controller-aggregated state.
type ApplicationStatus struct {
	Phase ApplicationPhase `json:"phase,omitempty"`

	// PerDevice mirrors the lifecycle manager's per-device reported phase,
	// keyed by DeviceId.
	// +optional
	PerDevice map[string]DeviceAppPhase `json:"perDevice,omitempty"`

	// DeploymentProgress is the fraction of target devices Running,
	// in [0,1].
	// +optional
	DeploymentProgress float64 `json:"deploymentProgress,omitempty"`

	// Errors collects the most recent per-device error strings, keyed by
	// DeviceId, for operator visibility.
	// +optional
	Errors map[string]string `json:"errors,omitempty"`

	// RollbackFailed reports whether the application's aggregate phase is
	// Failed while RollbackEligible is set (§4.6 "Rollback"), i.e. the
	// failure happened under the rollback policy, which moves every device
	// still Running to a Stop intent.
	// +optional
	RollbackFailed bool `json:"rollbackFailed,omitempty"`
}

// +k8s:deepcopy-gen:interfaces=k8s.io/apimachinery/pkg/runtime.Object

// ApplicationList is a list of Application resources.
type ApplicationList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Application `json:"items"`
}
