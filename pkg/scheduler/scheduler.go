// Package scheduler runs dispatcher operations on cron schedules, such as the
// periodic scan of every library.
package scheduler

import (
	"context"
	"time"

	"github.com/guido-cesarano/librarytasks/pkg/logger"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is a scheduled operation. It receives a context bounded by the job timeout.
type Job func(ctx context.Context) error

// Scheduler wraps a cron runner. Runs of the same job never overlap: a run still in
// progress when the next one is due causes that next run to be skipped.
type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration
	log     zerolog.Logger
}

// New creates a Scheduler. Specs accept an optional seconds field and descriptors
// such as "@every 6h". timeout bounds each run; zero means no bound.
func New(timeout time.Duration) *Scheduler {
	log := logger.Component("scheduler")
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(cron.NewParser(
				cron.SecondOptional|cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor,
			)),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		timeout: timeout,
		log:     log,
	}
}

// Add registers job under name on the cron spec.
func (s *Scheduler) Add(spec, name string, job Job) (cron.EntryID, error) {
	return s.cron.AddFunc(spec, func() {
		ctx := context.Background()
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}

		start := time.Now()
		if err := job(ctx); err != nil {
			s.log.Error().Err(err).Str("job", name).Str("spec", spec).Msg("Scheduled job failed")
			return
		}
		s.log.Info().Str("job", name).Dur("duration", time.Since(start)).Msg("Scheduled job completed")
	})
}

// Entries returns the number of registered jobs.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Start starts the cron scheduler in a background goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
