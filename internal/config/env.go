package config

import "time"

// All daemon configuration env vars use the PODWATCH_ prefix; duration
// values require explicit units (e.g. 5m, 40s, 2h). The key for each setting
// is documented on the corresponding Config field.

// Standard k8s env keys used as fallback when PODWATCH_* are unset.
const (
	envKeyKubeConfigFallback = "KUBECONFIG"
	envKeyKubeMasterFallback = "KUBERNETES_MASTER"
)

// Lower bounds for tunables. Values below these are configuration mistakes,
// not aggressive tuning.
const (
	envMinSessionTimeout = time.Second
	envMinLookback       = time.Second
	envMinPollBound      = 100 * time.Millisecond
	envMinBackoffInitial = 10 * time.Millisecond
	envMinCancelGrace    = 100 * time.Millisecond
)
