// Package schedule decides when bots are due to run.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/tcmartin/botrunner/pkg/cronexpr"
	"github.com/tcmartin/botrunner/pkg/models"
)

// ErrScheduleConfig indicates a schedule that cannot be evaluated:
// missing or mismatched fields, bad cron syntax, unknown timezone, or a
// one-time date in the past at configuration time.
var ErrScheduleConfig = errors.New("invalid schedule configuration")

// Evaluator answers due-now and next-run questions for schedules. It is
// stateless: the cron next-run cache lives on the Schedule record
// (NextRunAt) so it survives across sweeps and processes.
type Evaluator struct{}

// NewEvaluator creates a schedule evaluator
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Validate checks a schedule on the configuration path. Errors wrap
// ErrScheduleConfig and are surfaced to the caller that supplied the
// configuration, never silently accepted.
func (e *Evaluator) Validate(s models.Schedule, now time.Time) error {
	switch s.Type {
	case models.ScheduleTypeCron:
		if s.CronExpression == "" {
			return fmt.Errorf("%w: cron schedule requires a cron expression", ErrScheduleConfig)
		}
		if !s.OneTimeDate.IsZero() {
			return fmt.Errorf("%w: cron schedule must not set a one-time date", ErrScheduleConfig)
		}
		if err := cronexpr.Validate(s.CronExpression); err != nil {
			return fmt.Errorf("%w: %v", ErrScheduleConfig, err)
		}
	case models.ScheduleTypeOneTime:
		if s.OneTimeDate.IsZero() {
			return fmt.Errorf("%w: one-time schedule requires a date", ErrScheduleConfig)
		}
		if s.CronExpression != "" {
			return fmt.Errorf("%w: one-time schedule must not set a cron expression", ErrScheduleConfig)
		}
		if !s.OneTimeDate.After(now) {
			return fmt.Errorf("%w: one-time date %s is in the past", ErrScheduleConfig, s.OneTimeDate.Format(time.RFC3339))
		}
	default:
		return fmt.Errorf("%w: unknown schedule type %q", ErrScheduleConfig, s.Type)
	}

	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return fmt.Errorf("%w: unknown timezone %q", ErrScheduleConfig, s.Timezone)
		}
	}

	return nil
}

// IsDue reports whether the schedule is due at now. For cron schedules
// it compares the cached NextRunAt against now; a schedule with an
// empty cache is primed in place (caller persists) and reported not due
// so the first sweep after creation does not fire immediately. For
// one-time schedules it is due once the date has passed; firing
// disables the schedule, so Enabled doubles as the already-fired guard.
func (e *Evaluator) IsDue(s *models.Schedule, now time.Time) (bool, error) {
	if !s.Enabled {
		return false, nil
	}

	switch s.Type {
	case models.ScheduleTypeOneTime:
		if s.OneTimeDate.IsZero() {
			return false, fmt.Errorf("%w: one-time schedule for bot %s has no date", ErrScheduleConfig, s.BotID)
		}
		return !s.OneTimeDate.After(now), nil

	case models.ScheduleTypeCron:
		if s.CronExpression == "" {
			return false, fmt.Errorf("%w: cron schedule for bot %s has no expression", ErrScheduleConfig, s.BotID)
		}
		if s.NextRunAt.IsZero() {
			next, err := cronexpr.NextRun(s.CronExpression, now, s.Location())
			if err != nil {
				return false, fmt.Errorf("%w: %v", ErrScheduleConfig, err)
			}
			s.NextRunAt = next
			return false, nil
		}
		return !s.NextRunAt.After(now), nil

	default:
		return false, fmt.Errorf("%w: unknown schedule type %q for bot %s", ErrScheduleConfig, s.Type, s.BotID)
	}
}

// NextRuns returns up to count upcoming fire instants for preview
// purposes. A disabled schedule has no upcoming runs; a one-time
// schedule yields at most one.
func (e *Evaluator) NextRuns(s models.Schedule, now time.Time, count int) ([]time.Time, error) {
	if !s.Enabled || count <= 0 {
		return []time.Time{}, nil
	}

	switch s.Type {
	case models.ScheduleTypeOneTime:
		if s.OneTimeDate.After(now) {
			return []time.Time{s.OneTimeDate}, nil
		}
		return []time.Time{}, nil

	case models.ScheduleTypeCron:
		runs, err := cronexpr.NextRuns(s.CronExpression, now, s.Location(), count)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrScheduleConfig, err)
		}
		return runs, nil

	default:
		return nil, fmt.Errorf("%w: unknown schedule type %q", ErrScheduleConfig, s.Type)
	}
}

// OnFired returns the schedule as it should be persisted after a fire at
// now. One-time schedules come back disabled so they never fire twice.
// Cron schedules come back with NextRunAt advanced strictly past now.
func (e *Evaluator) OnFired(s models.Schedule, now time.Time) models.Schedule {
	fired := s

	switch s.Type {
	case models.ScheduleTypeOneTime:
		fired.Enabled = false

	case models.ScheduleTypeCron:
		next, err := cronexpr.NextRun(s.CronExpression, now, s.Location())
		if err != nil {
			// Leave the cache empty; the next sweep re-primes it
			fired.NextRunAt = time.Time{}
			return fired
		}
		fired.NextRunAt = next
	}

	return fired
}

// Describe returns a human-readable summary of the schedule's timing
func (e *Evaluator) Describe(s models.Schedule) string {
	switch s.Type {
	case models.ScheduleTypeOneTime:
		return fmt.Sprintf("Once at %s", s.OneTimeDate.Format(time.RFC3339))
	case models.ScheduleTypeCron:
		return cronexpr.Describe(s.CronExpression)
	}
	return string(s.Type)
}
