package models

import "time"

// ScheduleType distinguishes recurring cron schedules from one-shot dates
type ScheduleType string

// Schedule types
const (
	ScheduleTypeCron    ScheduleType = "cron"
	ScheduleTypeOneTime ScheduleType = "one_time"
)

// Schedule is the timing configuration attached to a bot. Exactly one of
// CronExpression/OneTimeDate is populated, matching Type. This struct is
// also the durable representation other tooling may read.
type Schedule struct {
	// BotID is the ID of the bot this schedule belongs to
	BotID string `json:"bot_id"`

	// Type of the schedule
	Type ScheduleType `json:"type"`

	// CronExpression is the 5-field cron expression (required iff Type is cron)
	CronExpression string `json:"cron_expression,omitempty"`

	// OneTimeDate is the single fire instant (required iff Type is one_time)
	OneTimeDate time.Time `json:"one_time_date,omitempty"`

	// Timezone is the IANA timezone name for cron evaluation; defaults to UTC
	Timezone string `json:"timezone,omitempty"`

	// Enabled indicates whether the schedule participates in sweeps
	Enabled bool `json:"enabled"`

	// NextRunAt is the cached next due instant for cron schedules,
	// maintained by the evaluator so repeated due checks do not drift
	NextRunAt time.Time `json:"next_run_at,omitempty"`
}

// Location resolves the schedule's timezone, falling back to UTC for an
// empty or unknown name. Configuration paths validate the name
// explicitly; this fallback keeps the sweep path evaluable.
func (s *Schedule) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
