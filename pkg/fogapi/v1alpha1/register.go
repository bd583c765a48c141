package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// GroupName is the API group for fog hub custom resources.
const GroupName = "fog.fogmesh.io"

// GroupVersion is the v1alpha1 group version for this package's types.
var GroupVersion = schema.GroupVersion{Group: GroupName, Version: "v1alpha1"}

// SchemeBuilder collects functions that add types to a Scheme.
var SchemeBuilder = runtime.NewSchemeBuilder(addKnownTypes)

// AddToScheme adds all fog hub types to the given scheme.
var AddToScheme = SchemeBuilder.AddToScheme

func addKnownTypes(scheme *runtime.Scheme) error {
	scheme.AddKnownTypes(GroupVersion,
		&Device{},
		&DeviceList{},
		&Application{},
		&ApplicationList{},
		&Gateway{},
		&GatewayList{},
	)
	metav1.AddToGroupVersion(scheme, GroupVersion)
	return nil
}
