package monitor

import (
	"sort"
	"time"
)

// correlator matches deleted slots with their replacements. A replacement
// qualifies when its owner reference set intersects the deleted generation's
// owners and the namespace matches; the configured policy fixes a total
// order over qualifying candidates, so ambiguity never escapes.
//
// Both directions are covered: a deletion may claim a replacement that was
// observed first (pending list vs recent list), because real schedulers
// start the successor while the predecessor is still terminating.
type correlator struct {
	policy   CorrelationPolicy
	lookback time.Duration

	// pending holds deleted slots awaiting a replacement, in deletion order.
	pending []*slot
	// recent holds young single-generation slots that may turn out to be
	// someone's replacement, in addition order.
	recent []*slot
}

func newCorrelator(policy CorrelationPolicy, lookback time.Duration) *correlator {
	return &correlator{
		policy:   policy,
		lookback: lookback,
	}
}

func (c *correlator) notePending(s *slot) {
	c.pending = append(c.pending, s)
}

func (c *correlator) noteRecent(s *slot) {
	c.recent = append(c.recent, s)
}

func (c *correlator) dropRecent(s *slot) {
	c.recent = removeSlot(c.recent, s)
}

// takeRecentFor finds the replacement for a slot deleted at now among the
// recently added standalone pods, removing it from candidacy.
func (c *correlator) takeRecentFor(deleted *slot, now time.Time) *slot {
	deletedGen := deleted.latestIdentity()

	var cands []*slot

	for _, r := range c.recent {
		if !r.active || r.disrupted || len(r.pod.PhysicalGenerations) != 1 {
			continue
		}

		if now.Sub(r.addedAt) > c.lookback {
			continue
		}

		// A pod that predates the deletion's onset is a scale-up, not a
		// replacement.
		if r.addedAt.Before(deleted.goneAt) {
			continue
		}

		if !correlatable(deletedGen, r.pod.PhysicalGenerations[0]) {
			continue
		}

		cands = append(cands, r)
	}

	if len(cands) == 0 {
		return nil
	}

	c.rankRecent(cands, deletedGen.Name)

	pick := cands[0]
	c.dropRecent(pick)

	return pick
}

// takePendingFor finds the vacated slot a newly added pod replaces, removing
// it from the pending list.
func (c *correlator) takePendingFor(id PodIdentity, addedAt time.Time) *slot {
	var cands []*slot

	for _, p := range c.pending {
		if addedAt.Sub(p.deletedAt) > c.lookback {
			continue
		}

		if !correlatable(p.latestIdentity(), id) {
			continue
		}

		cands = append(cands, p)
	}

	if len(cands) == 0 {
		return nil
	}

	c.rankPending(cands, id.Name)

	pick := cands[0]
	c.pending = removeSlot(c.pending, pick)

	return pick
}

// expirePending removes and returns pending slots whose lookback window has
// closed; their logical slot is permanently vacated.
func (c *correlator) expirePending(now time.Time) []*slot {
	var expired, keep []*slot

	for _, p := range c.pending {
		if now.Sub(p.deletedAt) > c.lookback {
			expired = append(expired, p)

			continue
		}

		keep = append(keep, p)
	}

	c.pending = keep

	return expired
}

// expireRecent prunes candidates past the lookback window. The slots stay
// tracked; they are just no longer eligible to be anyone's replacement.
func (c *correlator) expireRecent(now time.Time) {
	var keep []*slot

	for _, r := range c.recent {
		if !r.active || now.Sub(r.addedAt) > c.lookback {
			continue
		}

		keep = append(keep, r)
	}

	c.recent = keep
}

// rankRecent orders replacement candidates for one deleted pod.
func (c *correlator) rankRecent(cands []*slot, deletedName string) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		aName := a.pod.PhysicalGenerations[0].Name
		bName := b.pod.PhysicalGenerations[0].Name

		switch c.policy {
		case PolicyNamePrefix:
			ap, bp := commonPrefixLen(aName, deletedName), commonPrefixLen(bName, deletedName)
			if ap != bp {
				return ap > bp
			}

			if !a.addedAt.Equal(b.addedAt) {
				return a.addedAt.Before(b.addedAt)
			}
		case PolicyEarliestAdded:
			fallthrough
		default:
			if !a.addedAt.Equal(b.addedAt) {
				return a.addedAt.Before(b.addedAt)
			}

			ap, bp := commonPrefixLen(aName, deletedName), commonPrefixLen(bName, deletedName)
			if ap != bp {
				return ap > bp
			}
		}

		return aName < bName
	})
}

// rankPending orders vacated slots competing for one new pod.
func (c *correlator) rankPending(cands []*slot, addedName string) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		aName := a.latestIdentity().Name
		bName := b.latestIdentity().Name

		switch c.policy {
		case PolicyNamePrefix:
			ap, bp := commonPrefixLen(aName, addedName), commonPrefixLen(bName, addedName)
			if ap != bp {
				return ap > bp
			}

			if !a.deletedAt.Equal(b.deletedAt) {
				return a.deletedAt.Before(b.deletedAt)
			}
		case PolicyEarliestAdded:
			fallthrough
		default:
			if !a.deletedAt.Equal(b.deletedAt) {
				return a.deletedAt.Before(b.deletedAt)
			}

			ap, bp := commonPrefixLen(aName, addedName), commonPrefixLen(bName, addedName)
			if ap != bp {
				return ap > bp
			}
		}

		return a.pod.LogicalID < b.pod.LogicalID
	})
}

func correlatable(deleted, candidate PodIdentity) bool {
	if deleted.Namespace != candidate.Namespace {
		return false
	}

	return ownersIntersect(deleted, candidate)
}

func commonPrefixLen(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}

	return n
}

func removeSlot(list []*slot, target *slot) []*slot {
	for i, s := range list {
		if s == target {
			return append(list[:i], list[i+1:]...)
		}
	}

	return list
}
