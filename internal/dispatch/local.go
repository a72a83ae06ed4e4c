package dispatch

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/suPer8Hu/gengenie/internal/tryon"
)

var ErrDispatcherStopped = errors.New("dispatcher stopped")

// Local runs jobs on goroutines inside the api process, bounded by
// concurrency. For development and tests; jobs in flight are lost on exit
// and later failed by the reaper.
type Local struct {
	ctx     context.Context
	handler *Handler
	sem     chan struct{}
	wg      sync.WaitGroup
	logger  zerolog.Logger
}

func NewLocal(ctx context.Context, handler *Handler, concurrency int, logger zerolog.Logger) *Local {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Local{
		ctx:     ctx,
		handler: handler,
		sem:     make(chan struct{}, concurrency),
		logger:  logger,
	}
}

func (l *Local) Dispatch(_ context.Context, job *tryon.Job) error {
	if l.ctx.Err() != nil {
		return ErrDispatcherStopped
	}
	jobID := job.ID
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		select {
		case l.sem <- struct{}{}:
		case <-l.ctx.Done():
			return
		}
		defer func() { <-l.sem }()

		if err := l.handler.Handle(l.ctx, jobID); err != nil {
			l.logger.Error().Err(err).Str("job_id", jobID).Msg("local job failed")
		}
	}()
	return nil
}

// Wait blocks until every dispatched job has finished.
func (l *Local) Wait() {
	l.wg.Wait()
}
