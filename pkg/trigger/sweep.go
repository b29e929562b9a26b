package trigger

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/tcmartin/botrunner/pkg/lease"
	"github.com/tcmartin/botrunner/pkg/models"
	"github.com/tcmartin/botrunner/pkg/schedule"
	"github.com/tcmartin/botrunner/pkg/storage"
)

// BotRunResult records the outcome of one bot's dispatch within a sweep
type BotRunResult struct {
	// BotID that was dispatched
	BotID string `json:"bot_id"`

	// ExecutionID of the created execution, when one was created
	ExecutionID string `json:"execution_id,omitempty"`

	// Success indicates the execution finished in state completed
	Success bool `json:"success"`

	// Error message for dispatch failures or failed executions
	Error string `json:"error,omitempty"`
}

// SweepResult aggregates one RunDueBots invocation
type SweepResult struct {
	// Executed is the number of bots dispatched
	Executed int `json:"executed"`

	// Successful is the number of executions that completed
	Successful int `json:"successful"`

	// Failed is the number of dispatch errors or failed executions
	Failed int `json:"failed"`

	// Results holds one entry per dispatched bot
	Results []BotRunResult `json:"results"`
}

// DueBot describes a bot the sweep would dispatch, for dry runs
type DueBot struct {
	// ID of the bot
	ID string `json:"id"`

	// Name of the bot
	Name string `json:"name"`

	// Schedule that made the bot due
	Schedule models.Schedule `json:"schedule"`
}

// Sweeper is the periodic driver: once per invocation it lists enabled
// schedules, asks the evaluator which are due, and dispatches each due
// bot. Due bots run concurrently; a per-bot lease keeps overlapping
// sweeps from double-triggering the same bot.
type Sweeper struct {
	bots      storage.BotStore
	schedules storage.ScheduleStore
	evaluator *schedule.Evaluator

	dispatcher *Dispatcher
	leases     lease.Lease

	// leaseTTL bounds how long a bot stays locked if a sweep dies
	leaseTTL time.Duration

	// maxConcurrent caps parallel dispatches within one sweep
	maxConcurrent int
}

// NewSweeper creates a sweep driver
func NewSweeper(bots storage.BotStore, schedules storage.ScheduleStore, evaluator *schedule.Evaluator, dispatcher *Dispatcher, leases lease.Lease, leaseTTL time.Duration, maxConcurrent int) *Sweeper {
	if leaseTTL <= 0 {
		leaseTTL = time.Minute
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	return &Sweeper{
		bots:          bots,
		schedules:     schedules,
		evaluator:     evaluator,
		dispatcher:    dispatcher,
		leases:        leases,
		leaseTTL:      leaseTTL,
		maxConcurrent: maxConcurrent,
	}
}

// RunDueBots performs one sweep at now. One bot's failure never stops
// the sweep for the others; per-bot outcomes land in the result. Fired
// one-time schedules are disabled before the sweep returns so they
// never fire twice.
func (s *Sweeper) RunDueBots(ctx context.Context, now time.Time) (SweepResult, error) {
	due, err := s.collectDue(now, true)
	if err != nil {
		return SweepResult{}, err
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		res SweepResult
		sem = make(chan struct{}, s.maxConcurrent)
	)

	for _, sched := range due {
		wg.Add(1)
		sem <- struct{}{}

		go func(sched models.Schedule) {
			defer wg.Done()
			defer func() { <-sem }()

			result := s.runOne(ctx, sched, now)
			if result == nil {
				// Another sweep holds the lease for this bot
				return
			}

			mu.Lock()
			res.Executed++
			if result.Success {
				res.Successful++
			} else {
				res.Failed++
			}
			res.Results = append(res.Results, *result)
			mu.Unlock()
		}(sched)
	}

	wg.Wait()

	return res, nil
}

// GetBotsToRun previews which bots the sweep would dispatch at now,
// without dispatching or persisting anything.
func (s *Sweeper) GetBotsToRun(now time.Time) ([]DueBot, error) {
	due, err := s.collectDue(now, false)
	if err != nil {
		return nil, err
	}

	bots := make([]DueBot, 0, len(due))
	for _, sched := range due {
		name := ""
		if bot, err := s.bots.GetBot(sched.BotID); err == nil {
			name = bot.Name
		}
		bots = append(bots, DueBot{
			ID:       sched.BotID,
			Name:     name,
			Schedule: sched,
		})
	}

	return bots, nil
}

// collectDue lists enabled schedules and filters to the due ones. A
// schedule that fails to evaluate is treated as not due and logged,
// never allowed to abort the sweep. When persist is set, freshly primed
// cron caches are written back.
func (s *Sweeper) collectDue(now time.Time, persist bool) ([]models.Schedule, error) {
	schedules, err := s.schedules.ListEnabledSchedules()
	if err != nil {
		return nil, err
	}

	due := make([]models.Schedule, 0, len(schedules))
	for _, sched := range schedules {
		before := sched.NextRunAt
		isDue, err := s.evaluator.IsDue(&sched, now)
		if err != nil {
			log.Printf("sweep: schedule for bot %s failed to evaluate, skipping: %v", sched.BotID, err)
			continue
		}

		// IsDue primes an empty cron cache in place; persist it so the
		// next sweep starts from the same reference
		if persist && sched.NextRunAt != before {
			if err := s.schedules.SaveSchedule(sched); err != nil {
				log.Printf("sweep: failed to persist primed schedule for bot %s: %v", sched.BotID, err)
			}
		}

		if isDue {
			due = append(due, sched)
		}
	}

	return due, nil
}

// runOne dispatches a single due bot under its lease. Returns nil when
// the lease is already held (an overlapping sweep owns this bot).
func (s *Sweeper) runOne(ctx context.Context, sched models.Schedule, now time.Time) *BotRunResult {
	acquired, err := s.leases.Acquire(ctx, sched.BotID, s.leaseTTL)
	if err != nil {
		return &BotRunResult{BotID: sched.BotID, Error: "lease acquire failed: " + err.Error()}
	}
	if !acquired {
		return nil
	}
	defer s.leases.Release(ctx, sched.BotID)

	// Advance (cron) or disable (one-time) the schedule before the
	// actions run: even if the bot's execution fails, the fire itself
	// is consumed
	fired := s.evaluator.OnFired(sched, now)
	if fired.Type == models.ScheduleTypeOneTime {
		if err := s.schedules.DisableSchedule(sched.BotID); err != nil {
			log.Printf("sweep: failed to disable one-time schedule for bot %s: %v", sched.BotID, err)
		}
	} else if err := s.schedules.SaveSchedule(fired); err != nil {
		log.Printf("sweep: failed to persist fired schedule for bot %s: %v", sched.BotID, err)
	}

	exec, err := s.dispatcher.Dispatch(ctx, sched.BotID, models.TriggerSchedule, map[string]interface{}{})
	if err != nil {
		return &BotRunResult{BotID: sched.BotID, Error: err.Error()}
	}

	result := &BotRunResult{
		BotID:       sched.BotID,
		ExecutionID: exec.ID,
		Success:     exec.Status == models.ExecutionCompleted,
	}
	if exec.Error != "" {
		result.Error = exec.Error
	}

	return result
}
