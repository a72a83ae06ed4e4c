package dispatch

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/suPer8Hu/gengenie/internal/tryon"
)

// Jobs is the part of the try-on service the worker needs.
type Jobs interface {
	Lookup(ctx context.Context, jobID string) (*tryon.Job, error)
	Complete(ctx context.Context, jobID string, outcome tryon.Outcome) (tryon.Completion, error)
}

// Handler is the completion handler keyed by job id. Every transport
// (rabbitmq, asynq, in-process) ends up here.
type Handler struct {
	jobs   Jobs
	exec   *Executor
	logger zerolog.Logger
}

func NewHandler(jobs Jobs, exec *Executor, logger zerolog.Logger) *Handler {
	return &Handler{jobs: jobs, exec: exec, logger: logger}
}

// Handle executes the job and reports its outcome. A nil error means the
// delivery can be acknowledged; an error asks the transport to retry.
func (h *Handler) Handle(ctx context.Context, jobID string) error {
	job, err := h.jobs.Lookup(ctx, jobID)
	if errors.Is(err, tryon.ErrNotFound) {
		h.logger.Warn().Str("job_id", jobID).Msg("delivery for unknown job dropped")
		return nil
	}
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		h.logger.Debug().Str("job_id", jobID).Str("status", string(job.Status)).Msg("job already terminal, skipping")
		return nil
	}

	outcome := h.exec.Execute(ctx, job)
	if err := ctx.Err(); err != nil {
		// shutting down: leave the job generating so the delivery is retried
		return err
	}

	_, err = h.jobs.Complete(context.WithoutCancel(ctx), jobID, outcome)
	return err
}
