package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/suPer8Hu/gengenie/internal/tryon"
)

// JobEvent is pushed to the owner's channel when a job reaches a terminal
// state. Clients still fetch the job itself through the polling API.
type JobEvent struct {
	JobID       string       `json:"job_id"`
	Kind        tryon.Kind   `json:"kind"`
	Status      tryon.Status `json:"status"`
	Error       string       `json:"error,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

func eventsChannel(userID string) string {
	return "gengenie:jobs:" + userID
}

// JobCompleted publishes the completion to the owner's channel.
func (s *Store) JobCompleted(ctx context.Context, job *tryon.Job) error {
	ev := JobEvent{
		JobID:       job.ID,
		Kind:        job.Kind,
		Status:      job.Status,
		CompletedAt: job.CompletedAt,
	}
	if job.Error != nil {
		ev.Error = *job.Error
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := s.rdb.Publish(ctx, eventsChannel(job.OwnerID), b).Err(); err != nil {
		return fmt.Errorf("publish job event: %w", err)
	}
	return nil
}

// SubscribeJobEvents streams the user's job events until ctx is done or the
// returned stop func is called.
func (s *Store) SubscribeJobEvents(ctx context.Context, userID string) (<-chan JobEvent, func(), error) {
	sub := s.rdb.Subscribe(ctx, eventsChannel(userID))
	// wait for the subscription to be confirmed so no event is missed
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe job events: %w", err)
	}

	out := make(chan JobEvent, 16)
	go func() {
		defer close(out)
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				var ev JobEvent
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, func() { _ = sub.Close() }, nil
}
