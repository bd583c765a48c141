package lifecycle

import fogv1alpha1 "github.com/fogmesh/gateway-fog-hub/pkg/fogapi/v1alpha1"

// AggregatePhase derives an Application's overall phase from its
// per-device reported states, per §4.6's aggregation rule.
func AggregatePhase(plan *Plan) fogv1alpha1.ApplicationPhase {
	if len(plan.PerDevice) == 0 {
		return fogv1alpha1.ApplicationCreating
	}

	var running, pendingOrDeploying, stopped, failed, stopping int
	for _, sub := range plan.PerDevice {
		switch sub.Reported {
		case fogv1alpha1.DeviceAppRunning:
			running++
		case fogv1alpha1.DeviceAppPending, fogv1alpha1.DeviceAppDeploying:
			pendingOrDeploying++
		case fogv1alpha1.DeviceAppStopped:
			stopped++
		case fogv1alpha1.DeviceAppStopping:
			stopping++
		case fogv1alpha1.DeviceAppFailed:
			failed++
		}
	}

	total := len(plan.PerDevice)

	switch {
	case running == total:
		return fogv1alpha1.ApplicationRunning
	case running > 0 && failed == 0:
		return fogv1alpha1.ApplicationDeploying
	case stopped+stopping == total && allDesiredStop(plan):
		if stopping > 0 {
			return fogv1alpha1.ApplicationStopping
		}
		return fogv1alpha1.ApplicationStopped
	case failed > 0 && running == 0:
		return fogv1alpha1.ApplicationFailed
	case running > 0 && failed > 0:
		return fogv1alpha1.ApplicationPartiallyRunning
	default:
		return fogv1alpha1.ApplicationDeploying
	}
}

func allDesiredStop(plan *Plan) bool {
	for _, sub := range plan.PerDevice {
		if sub.Desired != DesiredStop && sub.Desired != DesiredAbsent {
			return false
		}
	}
	return true
}

// DeploymentProgress is the fraction of target devices currently Running
// (§4.6).
func DeploymentProgress(plan *Plan) float64 {
	if len(plan.TargetSet) == 0 {
		return 0
	}
	running := 0
	for deviceID := range plan.TargetSet {
		if sub, ok := plan.PerDevice[deviceID]; ok && sub.Reported == fogv1alpha1.DeviceAppRunning {
			running++
		}
	}
	return float64(running) / float64(len(plan.TargetSet))
}
