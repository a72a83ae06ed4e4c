package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/suPer8Hu/gengenie/internal/media"
	"github.com/suPer8Hu/gengenie/internal/metrics"
	"github.com/suPer8Hu/gengenie/internal/synth"
	"github.com/suPer8Hu/gengenie/internal/tryon"
)

const (
	reasonTimedOut  = "generation timed out"
	reasonPolicy    = "content policy rejection"
	reasonNoOutput  = "synthesis returned no output"
	maxReasonLength = 300
)

// MediaStore resolves input references for the provider and keeps inline
// outputs.
type MediaStore interface {
	ResolveURL(ctx context.Context, ref string) (string, error)
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Executor runs one synthesis call for a job and always returns a terminal
// outcome: provider errors, timeouts, panics, policy rejections and empty
// output all become Failed.
type Executor struct {
	Providers *synth.Registry
	Provider  string
	Timeout   time.Duration
	Media     MediaStore // nil: inputs are passed through, inline output fails
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
}

func (e *Executor) Execute(ctx context.Context, job *tryon.Job) tryon.Outcome {
	ctx, span := otel.Tracer("gengenie/dispatch").Start(ctx, "dispatch.execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.kind", string(job.Kind)),
		attribute.String("synth.provider", e.Provider),
	)

	done := e.Metrics.ExecutionStarted(string(job.Kind))
	outcome := e.execute(ctx, job)
	done(string(outcome.Status()))
	span.SetAttributes(attribute.String("job.status", string(outcome.Status())))
	return outcome
}

func (e *Executor) execute(ctx context.Context, job *tryon.Job) tryon.Outcome {
	start := time.Now()

	req, err := e.request(ctx, job)
	if err != nil {
		return tryon.Failed{Reason: failureReason("prepare inputs", err)}
	}

	provider, err := e.Providers.Get(ctx, e.Provider, string(job.Kind))
	if err != nil {
		return tryon.Failed{Reason: failureReason("no provider", err)}
	}

	callCtx := ctx
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	res, err := generate(callCtx, provider, req)
	cost := time.Since(start)
	if err != nil {
		e.Logger.Warn().Err(err).
			Str("job_id", job.ID).
			Str("kind", string(job.Kind)).
			Dur("cost", cost).
			Msg("synthesis failed")

		switch {
		case errors.Is(err, synth.ErrPolicyRejected):
			return tryon.Failed{Reason: reasonPolicy}
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded):
			return tryon.Failed{Reason: reasonTimedOut}
		}
		return tryon.Failed{Reason: failureReason("generation failed", err)}
	}
	if res.Empty() {
		return tryon.Failed{Reason: reasonNoOutput}
	}

	ref := strings.TrimSpace(res.URL)
	if len(res.Data) > 0 {
		if e.Media == nil {
			return tryon.Failed{Reason: "generation failed: no media store for inline output"}
		}
		ref, err = e.Media.Put(ctx, media.ResultKey(job.ID, res.ContentType), res.Data, res.ContentType)
		if err != nil {
			return tryon.Failed{Reason: failureReason("store result", err)}
		}
	}

	e.Logger.Info().
		Str("job_id", job.ID).
		Str("kind", string(job.Kind)).
		Dur("cost", cost).
		Msg("synthesis succeeded")
	return tryon.Succeeded{ResultRef: ref}
}

func (e *Executor) request(ctx context.Context, job *tryon.Job) (synth.Request, error) {
	req := synth.Request{
		JobID:       job.ID,
		Kind:        string(job.Kind),
		AspectRatio: string(job.AspectRatio),
	}
	if job.Prompt != nil {
		req.Prompt = *job.Prompt
	}
	if job.ProductLabel != nil {
		req.ProductLabel = *job.ProductLabel
	}
	for i, ref := range job.Inputs() {
		if e.Media != nil {
			u, err := e.Media.ResolveURL(ctx, ref)
			if err != nil {
				return synth.Request{}, err
			}
			ref = u
		}
		req.Inputs[i] = ref
	}
	return req, nil
}

func generate(ctx context.Context, p synth.Provider, req synth.Request) (res synth.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider panicked: %v", r)
		}
	}()
	return p.Generate(ctx, req)
}

func failureReason(prefix string, err error) string {
	msg := prefix + ": " + err.Error()
	if len(msg) <= maxReasonLength {
		return msg
	}
	// cut on a rune boundary so the stored reason stays valid UTF-8
	n := maxReasonLength
	for n > 0 && !utf8.RuneStart(msg[n]) {
		n--
	}
	return msg[:n]
}
