package monitor

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"
)

// slot is the tracker-internal mutable record behind one MonitoredPod.
// The published MonitoredPod leaves the tracker only as a copy.
type slot struct {
	pod        MonitoredPod
	activeKey  PodKey
	lastStatus PodStatus
	active     bool
	everReady  bool
	disrupted  bool
	vacated    bool
	addedAt    time.Time
	deletedAt  time.Time
	// goneAt is when the latest generation's removal began (first
	// DELETION_SCHEDULED, or DELETED for a hard kill). A replacement can
	// only have appeared at or after this instant.
	goneAt time.Time
}

// latestIdentity returns the identity of the newest physical generation.
func (s *slot) latestIdentity() PodIdentity {
	return s.pod.PhysicalGenerations[len(s.pod.PhysicalGenerations)-1]
}

// recoveredNow reports whether the slot's active generation is ready.
func (s *slot) recoveredNow() bool {
	return s.active && s.lastStatus == PodStatusReady
}

// Tracker owns the live map of monitored pods. All mutation flows through
// Ingest, which the session calls from a single goroutine; readers receive
// copies, never references into live state.
type Tracker struct {
	logger     *slog.Logger
	correlator *correlator

	mu            sync.RWMutex
	slots         map[string]*slot
	byKey         map[PodKey]*slot
	lastRV        string
	lastTS        time.Time
	anyDisruption bool
	disruptedN    int
}

// NewTracker creates a tracker with the given correlation policy and
// lookback window. Zero values select the defaults.
func NewTracker(logger *slog.Logger, policy CorrelationPolicy, lookback time.Duration) *Tracker {
	if policy == "" {
		policy = PolicyEarliestAdded
	}

	if lookback <= 0 {
		lookback = DefaultLookback
	}

	return &Tracker{
		logger:     logger,
		correlator: newCorrelator(policy, lookback),
		slots:      make(map[string]*slot),
		byKey:      make(map[PodKey]*slot),
	}
}

// Ingest diffs one snapshot against the known live set and appends the
// resulting events. Snapshots whose resource version does not advance are
// ignored apart from lookback expiry. Deletions are processed before
// additions so the correlator sees a freed slot before its candidate
// replacement from the same snapshot.
func (t *Tracker) Ingest(snap *PodsSnapshot) IngestStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := IngestStats{
		ResourceVersion: snap.ResourceVersion,
		EventsByStatus:  make(map[PodStatus]int),
	}

	// Observation time is clamped so histories stay non-decreasing even if
	// the source hands back a snapshot with a skewed clock.
	ts := snap.Timestamp
	if ts.Before(t.lastTS) {
		ts = t.lastTS
	}

	if t.lastRV != "" && !newerResourceVersion(snap.ResourceVersion, t.lastRV) {
		stats.Stale = true
		stats.Vacated = t.expire(ts)

		return stats
	}

	t.lastRV = snap.ResourceVersion
	t.lastTS = ts

	t.ingestDeletions(snap, ts, &stats)
	added := t.ingestTransitions(snap, ts, &stats)
	t.ingestAdditions(added, ts, snap.ResourceVersion, &stats)

	stats.Vacated = t.expire(ts)

	if stats.Events() > 0 {
		t.logger.Debug("snapshot ingested",
			"resourceVersion", snap.ResourceVersion,
			"added", stats.Added,
			"deleted", stats.Deleted,
			"transitions", stats.Transitions,
			"rescheduled", stats.Rescheduled,
		)
	}

	return stats
}

func (t *Tracker) ingestDeletions(snap *PodsSnapshot, ts time.Time, stats *IngestStats) {
	var gone []*slot

	for key, s := range t.byKey {
		if _, ok := snap.Pods[key]; !ok {
			gone = append(gone, s)
		}
	}

	sort.Slice(gone, func(i, j int) bool {
		return gone[i].activeKey.String() < gone[j].activeKey.String()
	})

	for _, s := range gone {
		t.appendEvent(s, PodStatusDeleted, ts, snap.ResourceVersion, stats)
		delete(t.byKey, s.activeKey)
		s.active = false
		s.deletedAt = ts
		stats.Deleted++

		// A replacement may have been observed before the deletion itself;
		// claim it from the recent additions first.
		if cand := t.correlator.takeRecentFor(s, ts); cand != nil {
			t.merge(s, cand)
			stats.Rescheduled++

			continue
		}

		t.correlator.notePending(s)
	}
}

// ingestTransitions appends status changes for pods present in both the
// known set and the snapshot, and returns the observations not tracked yet.
func (t *Tracker) ingestTransitions(snap *PodsSnapshot, ts time.Time, stats *IngestStats) []PodObservation {
	keys := make([]PodKey, 0, len(snap.Pods))
	for key := range snap.Pods {
		keys = append(keys, key)
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	var added []PodObservation

	for _, key := range keys {
		obs := snap.Pods[key]

		s, ok := t.byKey[key]
		if !ok {
			added = append(added, obs)

			continue
		}

		desired := obs.status()
		if desired != s.lastStatus {
			t.appendEvent(s, desired, ts, snap.ResourceVersion, stats)
			stats.Transitions++
		}
	}

	return added
}

func (t *Tracker) ingestAdditions(added []PodObservation, ts time.Time, rv string, stats *IngestStats) {
	for _, obs := range added {
		if p := t.correlator.takePendingFor(obs.Identity, ts); p != nil {
			t.attachGeneration(p, obs, ts, rv, stats)
			stats.Rescheduled++
			stats.Added++

			continue
		}

		t.addSlot(obs, ts, rv, stats)
		stats.Added++
	}
}

// appendEvent records one status change. Repeated identical observations
// are idempotent; a DELETED event is terminal for the generation because the
// key leaves byKey and nothing appends to an inactive slot.
func (t *Tracker) appendEvent(s *slot, status PodStatus, ts time.Time, rv string, stats *IngestStats) {
	if s.lastStatus == status {
		return
	}

	s.pod.EventHistory = append(s.pod.EventHistory, PodEvent{
		Timestamp:       ts,
		Status:          status,
		ResourceVersion: rv,
	})
	s.lastStatus = status

	switch status {
	case PodStatusReady:
		s.everReady = true
	case PodStatusNotReady:
		// A pod settling in after creation is not a disruption; a pod that
		// was ready and stopped being ready is.
		if s.everReady {
			t.markDisrupted(s)
		}
	case PodStatusDeletionScheduled, PodStatusDeleted:
		if s.goneAt.IsZero() {
			s.goneAt = ts
		}

		t.markDisrupted(s)
	case PodStatusAdded:
	}

	stats.EventsByStatus[status]++
}

func (t *Tracker) markDisrupted(s *slot) {
	if s.disrupted {
		return
	}

	s.disrupted = true
	t.disruptedN++
	t.anyDisruption = true
}

func (t *Tracker) addSlot(obs PodObservation, ts time.Time, rv string, stats *IngestStats) {
	id := cloneIdentity(obs.Identity)

	logicalID := id.Namespace + "/" + id.Name
	for n := 2; ; n++ {
		if _, taken := t.slots[logicalID]; !taken {
			break
		}
		// Same name reused by an uncorrelated pod: keep logical ids unique.
		logicalID = fmt.Sprintf("%s/%s#%d", id.Namespace, id.Name, n)
	}

	s := &slot{
		pod: MonitoredPod{
			LogicalID:           logicalID,
			PhysicalGenerations: []PodIdentity{id},
		},
		activeKey: id.Key(),
		active:    true,
		addedAt:   ts,
	}

	t.appendEvent(s, PodStatusAdded, ts, rv, stats)
	t.appendEvent(s, obs.status(), ts, rv, stats)

	t.slots[logicalID] = s
	t.byKey[s.activeKey] = s
	t.correlator.noteRecent(s)
}

// attachGeneration appends a correlated replacement to a vacated slot.
func (t *Tracker) attachGeneration(s *slot, obs PodObservation, ts time.Time, rv string, stats *IngestStats) {
	id := cloneIdentity(obs.Identity)

	s.pod.PhysicalGenerations = append(s.pod.PhysicalGenerations, id)
	s.pod.Rescheduled = true
	s.active = true
	s.activeKey = id.Key()
	s.addedAt = ts
	s.goneAt = time.Time{}
	s.lastStatus = ""

	t.appendEvent(s, PodStatusAdded, ts, rv, stats)
	t.appendEvent(s, obs.status(), ts, rv, stats)

	t.byKey[s.activeKey] = s
}

// merge absorbs a provisional standalone slot (the replacement, observed
// before its predecessor's deletion) into the deleted slot. Histories are
// merged by timestamp, so the combined sequence stays non-decreasing.
func (t *Tracker) merge(dst, src *slot) {
	dst.pod.EventHistory = mergeEventHistories(dst.pod.EventHistory, src.pod.EventHistory)
	dst.pod.PhysicalGenerations = append(dst.pod.PhysicalGenerations, src.pod.PhysicalGenerations...)
	dst.pod.Rescheduled = true
	dst.lastStatus = src.lastStatus
	dst.active = src.active
	dst.activeKey = src.activeKey
	dst.addedAt = src.addedAt
	dst.goneAt = src.goneAt
	dst.everReady = dst.everReady || src.everReady

	delete(t.slots, src.pod.LogicalID)
	t.byKey[src.activeKey] = dst
	t.correlator.dropRecent(src)

	t.logger.Debug("replacement correlated",
		"logicalId", dst.pod.LogicalID,
		"replacement", src.pod.LogicalID,
	)
}

func (t *Tracker) expire(now time.Time) int {
	vacated := t.correlator.expirePending(now)
	for _, s := range vacated {
		s.vacated = true
		t.logger.Debug("slot permanently vacated", "logicalId", s.pod.LogicalID)
	}

	t.correlator.expireRecent(now)

	return len(vacated)
}

// Settled reports whether the session may stop early: at least one
// disruption was observed and every disrupted slot is back to ready with no
// correlation pending.
func (t *Tracker) Settled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.anyDisruption {
		return false
	}

	return t.allRecoveredLocked()
}

// AllRecovered reports whether no disrupted slot remains unrecovered.
// Vacuously true when nothing was ever disrupted.
func (t *Tracker) AllRecovered() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.allRecoveredLocked()
}

func (t *Tracker) allRecoveredLocked() bool {
	for _, s := range t.slots {
		if s.disrupted && !s.recoveredNow() {
			return false
		}
	}

	return true
}

// Counts returns the number of tracked and disrupted logical pods.
func (t *Tracker) Counts() (tracked, disrupted int) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.slots), t.disruptedN
}

// MonitoredPods returns copies of all logical pods, ordered by logical id.
func (t *Tracker) MonitoredPods() []MonitoredPod {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]MonitoredPod, 0, len(t.slots))
	for _, s := range t.slots {
		out = append(out, s.pod.clone())
	}

	sort.Slice(out, func(i, j int) bool { return out[i].LogicalID < out[j].LogicalID })

	return out
}

// EventHistory returns a copy of one logical pod's event sequence.
func (t *Tracker) EventHistory(logicalID string) ([]PodEvent, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.slots[logicalID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLogicalID, logicalID)
	}

	out := make([]PodEvent, len(s.pod.EventHistory))
	copy(out, s.pod.EventHistory)

	return out, nil
}

// RecoveryMetrics computes the current metric set for every disrupted slot.
// Safe to call while the session is running; operates on copies.
func (t *Tracker) RecoveryMetrics() []RecoveryMetrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]RecoveryMetrics, 0, t.disruptedN)

	for _, s := range t.slots {
		if !s.disrupted {
			continue
		}

		out = append(out, computeRecoveryMetrics(s.pod))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].LogicalID < out[j].LogicalID })

	return out
}

// Results produces the terminal per-pod judgements. Only disrupted slots
// appear; pods that sailed through the experiment untouched are not part of
// the recovery report.
func (t *Tracker) Results() []PodRecovery {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]PodRecovery, 0, t.disruptedN)

	for _, s := range t.slots {
		if !s.disrupted {
			continue
		}

		out = append(out, buildPodRecovery(s.pod, s.recoveredNow()))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].LogicalID < out[j].LogicalID })

	return out
}

// newerResourceVersion compares two resource versions. They are numeric on
// real clusters; when either side does not parse, the cursor is treated as
// opaque and any change counts as progress.
func newerResourceVersion(next, prev string) bool {
	if next == prev {
		return false
	}

	a, errA := strconv.ParseUint(next, 10, 64)
	b, errB := strconv.ParseUint(prev, 10, 64)

	if errA == nil && errB == nil {
		return a > b
	}

	return true
}

// mergeEventHistories merges two timestamp-sorted histories, keeping the
// older generation first on equal timestamps.
func mergeEventHistories(a, b []PodEvent) []PodEvent {
	out := make([]PodEvent, 0, len(a)+len(b))

	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if b[j].Timestamp.Before(a[i].Timestamp) {
			out = append(out, b[j])
			j++

			continue
		}

		out = append(out, a[i])
		i++
	}

	out = append(out, a[i:]...)
	out = append(out, b[j:]...)

	return out
}
