package tryon

import (
	"context"
	"time"
)

// JobView is the client projection of a job, media references resolved to
// fetchable URLs.
type JobView struct {
	ID           string      `json:"id"`
	Kind         Kind        `json:"kind"`
	Status       Status      `json:"status"`
	Inputs       []string    `json:"inputs"`
	Prompt       *string     `json:"prompt,omitempty"`
	AspectRatio  AspectRatio `json:"aspect_ratio"`
	ProductLabel *string     `json:"product_label,omitempty"`
	Result       *string     `json:"result,omitempty"`
	Error        *string     `json:"error,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
}

func (s *Service) View(ctx context.Context, j *Job) JobView {
	v := JobView{
		ID:           j.ID,
		Kind:         j.Kind,
		Status:       j.Status,
		Inputs:       []string{s.resolve(ctx, j.PersonRef), s.resolve(ctx, j.GarmentRef)},
		Prompt:       j.Prompt,
		AspectRatio:  j.AspectRatio,
		ProductLabel: j.ProductLabel,
		CreatedAt:    j.CreatedAt,
		CompletedAt:  j.CompletedAt,
	}
	switch o := j.Outcome().(type) {
	case Succeeded:
		url := s.resolve(ctx, o.ResultRef)
		v.Result = &url
	case Failed:
		reason := o.Reason
		v.Error = &reason
	}
	return v
}

func (s *Service) Views(ctx context.Context, jobs []Job) []JobView {
	out := make([]JobView, 0, len(jobs))
	for i := range jobs {
		out = append(out, s.View(ctx, &jobs[i]))
	}
	return out
}

func (s *Service) resolve(ctx context.Context, ref string) string {
	if s.resolver == nil || ref == "" {
		return ref
	}
	url, err := s.resolver.ResolveURL(ctx, ref)
	if err != nil {
		s.logger.Warn().Err(err).Str("ref", ref).Msg("resolve media url")
		return ref
	}
	return url
}
