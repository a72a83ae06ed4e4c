package synth

import (
	"context"
	"time"
)

// MockProvider is the development provider: after Delay it "dresses" the
// subject by echoing the subject photo back as the result.
type MockProvider struct {
	Delay time.Duration
	Err   error
}

func (p *MockProvider) Generate(ctx context.Context, req Request) (Result, error) {
	if p.Delay > 0 {
		t := time.NewTimer(p.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-t.C:
		}
	}
	if p.Err != nil {
		return Result{}, p.Err
	}
	return Result{URL: req.Inputs[0]}, nil
}
