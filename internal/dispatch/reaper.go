package dispatch

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/suPer8Hu/gengenie/internal/tryon"
)

const reapBatch = 100

type StaleJobs interface {
	Stale(ctx context.Context, olderThan time.Duration, limit int) ([]tryon.Job, error)
	Complete(ctx context.Context, jobID string, outcome tryon.Outcome) (tryon.Completion, error)
}

// Reaper fails jobs that have been generating for longer than StaleAfter, so a
// lost delivery or a crashed worker still ends in a refund.
type Reaper struct {
	Jobs       StaleJobs
	StaleAfter time.Duration
	Interval   time.Duration
	Logger     zerolog.Logger
}

func (r *Reaper) Run(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n, err := r.ReapOnce(ctx); err != nil {
				r.Logger.Error().Err(err).Msg("reap stale jobs")
			} else if n > 0 {
				r.Logger.Info().Int("count", n).Msg("stale jobs failed")
			}
		}
	}
}

// ReapOnce fails one batch of stale jobs and returns how many it moved.
func (r *Reaper) ReapOnce(ctx context.Context) (int, error) {
	jobs, err := r.Jobs.Stale(ctx, r.StaleAfter, reapBatch)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, j := range jobs {
		res, err := r.Jobs.Complete(ctx, j.ID, tryon.Failed{Reason: reasonTimedOut})
		if err != nil {
			r.Logger.Error().Err(err).Str("job_id", j.ID).Msg("fail stale job")
			continue
		}
		if res.Applied {
			n++
		}
	}
	return n, nil
}
