package schedule

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	cron "github.com/netresearch/go-cron"
)

var _parser = cron.MustNewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Schedule yields drill run times from a cron spec, with optional random
// jitter so replicated daemons do not fire at the same instant.
type Schedule struct {
	schedule  cron.Schedule
	jitterMax time.Duration
}

// New parses the spec once so malformed schedules fail at startup. If tz is
// non-empty and the spec carries no CRON_TZ=/TZ= prefix, the spec is
// evaluated in that timezone; it defaults to UTC otherwise.
func New(spec, tz string, jitterMax time.Duration) (*Schedule, error) {
	parsed, err := _parser.Parse(buildSpec(spec, tz))
	if err != nil {
		return nil, fmt.Errorf("parse cron spec %q: %w", spec, err)
	}

	return &Schedule{schedule: parsed, jitterMax: jitterMax}, nil
}

// NextAfter returns the next occurrence strictly after the given time, moved
// forward by a random jitter in [0, jitterMax).
func (s *Schedule) NextAfter(after time.Time) time.Time {
	next := s.schedule.Next(after)
	if s.jitterMax > 0 {
		next = next.Add(rand.N(s.jitterMax))
	}

	return next
}

func buildSpec(spec, tz string) string {
	hasTZPrefix := strings.HasPrefix(spec, "CRON_TZ=") ||
		strings.HasPrefix(spec, "TZ=")

	if hasTZPrefix {
		return spec
	}

	if tz != "" {
		return "CRON_TZ=" + tz + " " + spec
	}

	return "CRON_TZ=UTC " + spec
}
