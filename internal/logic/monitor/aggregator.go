package monitor

import "time"

// computeRecoveryMetrics derives the three recovery durations from one
// logical pod's merged history. Works on a copy; never mutates.
//
// Anchoring rules:
//   - A disruption is a DELETION_SCHEDULED or DELETED event, or a NOT_READY
//     that follows a READY. A pod settling in right after creation is not
//     disrupted yet.
//   - Readiness is measured on the final generation: from its first
//     disruption for an original pod, or from its ADDED for a rescheduled
//     replacement (a fresh pod is implicitly not ready).
//   - Rescheduling is the gap between a generation's DELETED and the next
//     generation's ADDED, floored at zero per gap (a replacement may be
//     observed before its predecessor's final deletion) and summed across
//     generations.
func computeRecoveryMetrics(mp MonitoredPod) RecoveryMetrics {
	m := RecoveryMetrics{LogicalID: mp.LogicalID}
	history := mp.EventHistory

	var addedIdx, deletedIdx []int

	for i := range history {
		switch history[i].Status {
		case PodStatusAdded:
			addedIdx = append(addedIdx, i)
		case PodStatusDeleted:
			deletedIdx = append(deletedIdx, i)
		case PodStatusReady, PodStatusNotReady, PodStatusDeletionScheduled:
		}
	}

	if mp.Rescheduled && len(addedIdx) > 1 {
		var total time.Duration

		pairs := 0
		for i := 0; i < len(deletedIdx) && i+1 < len(addedIdx); i++ {
			gap := history[addedIdx[i+1]].Timestamp.Sub(history[deletedIdx[i]].Timestamp)
			if gap < 0 {
				gap = 0
			}

			total += gap
			pairs++
		}

		if pairs > 0 {
			m.ReschedulingTime = &total
		}
	}

	disruptionIdx, disrupted := firstDisruption(history)
	if !disrupted {
		return m
	}

	finalStart := 0
	if len(addedIdx) > 0 {
		finalStart = addedIdx[len(addedIdx)-1]
	}

	if anchorIdx, ok := readinessAnchor(history, finalStart, mp.Rescheduled); ok {
		if readyIdx, ok := firstReadyAt(history, anchorIdx); ok {
			d := history[readyIdx].Timestamp.Sub(history[anchorIdx].Timestamp)
			m.ReadinessTime = &d
		}
	}

	recoveredFrom := disruptionIdx
	if finalStart > recoveredFrom {
		recoveredFrom = finalStart
	}

	if readyIdx, ok := firstReadyAt(history, recoveredFrom); ok {
		d := history[readyIdx].Timestamp.Sub(history[disruptionIdx].Timestamp)
		m.TotalRecoveryTime = &d
	}

	return m
}

// firstDisruption finds the event that started the outage.
func firstDisruption(history []PodEvent) (int, bool) {
	everReady := false

	for i := range history {
		switch history[i].Status {
		case PodStatusReady:
			everReady = true
		case PodStatusNotReady:
			if everReady {
				return i, true
			}
		case PodStatusDeletionScheduled, PodStatusDeleted:
			return i, true
		case PodStatusAdded:
		}
	}

	return 0, false
}

// readinessAnchor finds where the final generation's readiness clock starts.
func readinessAnchor(history []PodEvent, finalStart int, rescheduled bool) (int, bool) {
	if rescheduled {
		return finalStart, true
	}

	everReady := false

	for i := finalStart; i < len(history); i++ {
		switch history[i].Status {
		case PodStatusReady:
			everReady = true
		case PodStatusNotReady:
			if everReady {
				return i, true
			}
		case PodStatusDeletionScheduled:
			return i, true
		case PodStatusAdded, PodStatusDeleted:
		}
	}

	return 0, false
}

// firstReadyAt returns the first READY event at or after index from. Events
// of an earlier generation can still appear past from in a merged history,
// but only as DELETED, so a READY hit always belongs to the final generation.
func firstReadyAt(history []PodEvent, from int) (int, bool) {
	for i := from; i < len(history); i++ {
		if history[i].Status == PodStatusReady {
			return i, true
		}
	}

	return 0, false
}

// buildPodRecovery assembles the terminal judgement for one disrupted pod.
func buildPodRecovery(mp MonitoredPod, recoveredNow bool) PodRecovery {
	final := mp.PhysicalGenerations[len(mp.PhysicalGenerations)-1]

	state := RecoveryStateTimedOut
	if recoveredNow {
		state = RecoveryStateRecovered
	}

	return PodRecovery{
		LogicalID:   mp.LogicalID,
		Namespace:   final.Namespace,
		PodName:     final.Name,
		State:       state,
		Rescheduled: mp.Rescheduled,
		Metrics:     computeRecoveryMetrics(mp),
	}
}
