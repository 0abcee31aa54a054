// Package scheduler fires the configured daily scrape.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Job is what the scheduler runs each day.
type Job func(ctx context.Context) error

// Daily runs a job every day at a fixed wall-clock time.
type Daily struct {
	hour, minute int
	job          Job
	logger       *zap.Logger
	now          func() time.Time
	after        func(d time.Duration) <-chan time.Time
}

// NewDaily parses at as HH:MM in local time.
func NewDaily(at string, job Job, logger *zap.Logger) (*Daily, error) {
	t, err := time.Parse("15:04", at)
	if err != nil {
		return nil, fmt.Errorf("schedule time %q: %w", at, err)
	}
	return &Daily{
		hour:   t.Hour(),
		minute: t.Minute(),
		job:    job,
		logger: logger.Named("scheduler"),
		now:    time.Now,
		after:  time.After,
	}, nil
}

// Next returns the first occurrence strictly after from.
func (d *Daily) Next(from time.Time) time.Time {
	next := time.Date(from.Year(), from.Month(), from.Day(), d.hour, d.minute, 0, 0, from.Location())
	if !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Run blocks until ctx is done. Job errors are logged and do not stop the
// schedule.
func (d *Daily) Run(ctx context.Context) {
	for ctx.Err() == nil {
		now := d.now()
		next := d.Next(now)
		d.logger.Info("next scheduled run", zap.Time("at", next))

		select {
		case <-ctx.Done():
			return
		case <-d.after(next.Sub(now)):
		}

		if err := d.job(ctx); err != nil {
			d.logger.Error("scheduled run failed", zap.Error(err))
		}
	}
}
