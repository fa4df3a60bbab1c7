package monitor

import (
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/api/resource"
)

// PodStatus is one observed lifecycle state of a pod. The set is closed:
// transition decisions switch over it exhaustively.
type PodStatus string

const (
	PodStatusAdded             PodStatus = "ADDED"
	PodStatusReady             PodStatus = "READY"
	PodStatusNotReady          PodStatus = "NOT_READY"
	PodStatusDeletionScheduled PodStatus = "DELETION_SCHEDULED"
	PodStatusDeleted           PodStatus = "DELETED"
)

// Valid reports whether s is a member of the closed status set.
func (s PodStatus) Valid() bool {
	switch s {
	case PodStatusAdded, PodStatusReady, PodStatusNotReady, PodStatusDeletionScheduled, PodStatusDeleted:
		return true
	}

	return false
}

// PodEvent is one recorded status change. Immutable once appended.
type PodEvent struct {
	Timestamp       time.Time `json:"timestamp"`
	Status          PodStatus `json:"status"`
	ResourceVersion string    `json:"resourceVersion"`
}

// OwnerRef identifies one owner of a pod (a ReplicaSet, StatefulSet, ...).
type OwnerRef struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
	UID  string `json:"uid"`
}

// PodIdentity identifies one physical pod generation. Correlation across
// recreation compares owner references, name and namespace; the pod UID is
// deliberately absent because it changes even when the name is reused.
type PodIdentity struct {
	Name            string     `json:"name"`
	Namespace       string     `json:"namespace"`
	OwnerReferences []OwnerRef `json:"ownerReferences,omitempty"`
}

// Key returns the snapshot map key for this identity.
func (id PodIdentity) Key() PodKey {
	return PodKey{Namespace: id.Namespace, Name: id.Name}
}

// ownersIntersect reports whether the two identities share at least one owner.
func ownersIntersect(a, b PodIdentity) bool {
	for _, oa := range a.OwnerReferences {
		for _, ob := range b.OwnerReferences {
			if oa == ob {
				return true
			}
		}
	}

	return false
}

func cloneIdentity(id PodIdentity) PodIdentity {
	out := id
	if id.OwnerReferences != nil {
		out.OwnerReferences = make([]OwnerRef, len(id.OwnerReferences))
		copy(out.OwnerReferences, id.OwnerReferences)
	}

	return out
}

// PodKey addresses a pod inside one snapshot.
type PodKey struct {
	Namespace string
	Name      string
}

func (k PodKey) String() string {
	return k.Namespace + "/" + k.Name
}

// PodObservation is the observed condition of one pod inside a snapshot.
type PodObservation struct {
	Identity          PodIdentity
	Ready             bool
	DeletionScheduled bool
}

// status maps an observation to the lifecycle status it implies for a pod
// that is already tracked. A set deletion timestamp wins over readiness.
func (o PodObservation) status() PodStatus {
	switch {
	case o.DeletionScheduled:
		return PodStatusDeletionScheduled
	case o.Ready:
		return PodStatusReady
	default:
		return PodStatusNotReady
	}
}

// PodsSnapshot is one point-in-time view of the selected pods. Immutable
// once constructed; consumed exactly once by the tracker.
type PodsSnapshot struct {
	Timestamp       time.Time
	ResourceVersion string
	Pods            map[PodKey]PodObservation
}

// Clone returns a deep copy, so the producer may keep mutating its own state.
func (s *PodsSnapshot) Clone() *PodsSnapshot {
	out := &PodsSnapshot{
		Timestamp:       s.Timestamp,
		ResourceVersion: s.ResourceVersion,
		Pods:            make(map[PodKey]PodObservation, len(s.Pods)),
	}
	for k, o := range s.Pods {
		o.Identity = cloneIdentity(o.Identity)
		out.Pods[k] = o
	}

	return out
}

// MonitoredPod is one logical slot being watched. It may be backed by more
// than one physical pod generation when the scheduler replaces a deleted pod.
type MonitoredPod struct {
	LogicalID           string        `json:"logicalId"`
	PhysicalGenerations []PodIdentity `json:"physicalGenerations"`
	EventHistory        []PodEvent    `json:"eventHistory"`
	Rescheduled         bool          `json:"rescheduled"`
}

func (mp MonitoredPod) clone() MonitoredPod {
	out := mp
	out.PhysicalGenerations = make([]PodIdentity, len(mp.PhysicalGenerations))
	for i := range mp.PhysicalGenerations {
		out.PhysicalGenerations[i] = cloneIdentity(mp.PhysicalGenerations[i])
	}

	out.EventHistory = make([]PodEvent, len(mp.EventHistory))
	copy(out.EventHistory, mp.EventHistory)

	return out
}

// RecoveryMetrics are the derived durations for one logical pod. A nil field
// means the measurement never became applicable (e.g. the pod was not
// rescheduled, or never returned to ready).
type RecoveryMetrics struct {
	LogicalID         string         `json:"logicalId"`
	ReadinessTime     *time.Duration `json:"readinessTime"`
	ReschedulingTime  *time.Duration `json:"reschedulingTime"`
	TotalRecoveryTime *time.Duration `json:"totalRecoveryTime"`
}

// RecoveryState says whether a disrupted pod made it back to ready before the
// observation window closed.
type RecoveryState string

const (
	RecoveryStateRecovered RecoveryState = "RECOVERED"
	RecoveryStateTimedOut  RecoveryState = "TIMED_OUT"
)

// PodUsage is a point-in-time resource usage sample for one pod.
type PodUsage struct {
	CPUUsage    *resource.Quantity `json:"cpuUsage,omitempty"`
	MemoryUsage *resource.Quantity `json:"memoryUsage,omitempty"`
}

// PodRecovery is the per-pod judgement produced when a session ends or when
// metrics are queried mid-run.
type PodRecovery struct {
	LogicalID   string          `json:"logicalId"`
	Namespace   string          `json:"namespace"`
	PodName     string          `json:"podName"`
	State       RecoveryState   `json:"state"`
	Rescheduled bool            `json:"rescheduled"`
	Metrics     RecoveryMetrics `json:"metrics"`
	Usage       *PodUsage       `json:"usage,omitempty"`
}

// SessionStatus is the orchestrator state machine. Terminal states are final;
// a new run requires a fresh session.
type SessionStatus string

const (
	SessionIdle      SessionStatus = "IDLE"
	SessionRunning   SessionStatus = "RUNNING"
	SessionSettled   SessionStatus = "SETTLED"
	SessionTimedOut  SessionStatus = "TIMED_OUT"
	SessionCancelled SessionStatus = "CANCELLED"
)

// Terminal reports whether the status permits no further transitions.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionSettled, SessionTimedOut, SessionCancelled:
		return true
	case SessionIdle, SessionRunning:
		return false
	}

	return false
}

var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionIdle:    {SessionRunning},
	SessionRunning: {SessionSettled, SessionTimedOut, SessionCancelled},
}

func (s SessionStatus) canTransitionTo(next SessionStatus) bool {
	for _, allowed := range sessionTransitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}

// SessionResult is the definite outcome of one monitoring session. Callers
// always receive one, whatever the session went through.
type SessionResult struct {
	SessionID   string        `json:"sessionId"`
	Status      SessionStatus `json:"status"`
	StartedAt   time.Time     `json:"startedAt"`
	EndedAt     time.Time     `json:"endedAt"`
	Recovered   []PodRecovery `json:"recovered"`
	Unrecovered []PodRecovery `json:"unrecovered"`
	Err         string        `json:"error,omitempty"`
}

func (r *SessionResult) clone() *SessionResult {
	out := *r
	out.Recovered = clonePodRecoveries(r.Recovered)
	out.Unrecovered = clonePodRecoveries(r.Unrecovered)

	return &out
}

func clonePodRecoveries(in []PodRecovery) []PodRecovery {
	if in == nil {
		return nil
	}

	out := make([]PodRecovery, len(in))
	copy(out, in)

	return out
}

// SessionSummary is the compact listing form of a session.
type SessionSummary struct {
	SessionID string        `json:"sessionId"`
	Status    SessionStatus `json:"status"`
	Selector  Selector      `json:"selector"`
	StartedAt time.Time     `json:"startedAt"`
	Tracked   int           `json:"tracked"`
	Disrupted int           `json:"disrupted"`
}

// IngestStats summarizes what one snapshot ingest changed.
type IngestStats struct {
	ResourceVersion string
	Stale           bool
	Added           int
	Deleted         int
	Transitions     int
	Rescheduled     int
	Vacated         int
	EventsByStatus  map[PodStatus]int
}

// Events returns the total number of events the ingest appended.
func (s IngestStats) Events() int {
	n := 0
	for _, c := range s.EventsByStatus {
		n += c
	}

	return n
}

// FetchOutcome classifies one snapshot source call for observability.
type FetchOutcome string

const (
	FetchOK      FetchOutcome = "ok"
	FetchResync  FetchOutcome = "resync"
	FetchFailure FetchOutcome = "failure"
)

// CorrelationPolicy selects the deterministic ordering used when several
// replacement candidates qualify for the same vacated slot.
type CorrelationPolicy string

const (
	// PolicyEarliestAdded prefers the candidate observed first; name prefix
	// length breaks timestamp ties.
	PolicyEarliestAdded CorrelationPolicy = "earliest-added"
	// PolicyNamePrefix prefers the candidate sharing the longest name prefix
	// with the deleted pod; observation time breaks prefix ties.
	PolicyNamePrefix CorrelationPolicy = "name-prefix"
)

// Valid reports whether p is a known policy.
func (p CorrelationPolicy) Valid() bool {
	switch p {
	case PolicyEarliestAdded, PolicyNamePrefix:
		return true
	}

	return false
}

// ParseCorrelationPolicy validates a policy name from config or API input.
func ParseCorrelationPolicy(s string) (CorrelationPolicy, error) {
	if s == "" {
		return PolicyEarliestAdded, nil
	}

	p := CorrelationPolicy(s)
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}

	return p, nil
}
