package queue

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"

	"github.com/suPer8Hu/gengenie/internal/tryon"
)

// Client enqueues admitted jobs on an asynq (redis) queue. The job id is the
// task id, so a job is never enqueued twice.
type Client struct {
	client  *asynq.Client
	queue   string
	timeout time.Duration
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string, timeout time.Duration) *Client {
	return &Client{
		client:  asynq.NewClient(redisOpt),
		queue:   queueName,
		timeout: timeout,
	}
}

func (c *Client) Dispatch(ctx context.Context, job *tryon.Job) error {
	task, err := NewGenerateTask(GeneratePayload{
		JobID:       job.ID,
		Kind:        string(job.Kind),
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	opts := []asynq.Option{
		asynq.Queue(c.queue),
		asynq.TaskID(job.ID),
		asynq.MaxRetry(3),
	}
	if c.timeout > 0 {
		// room for the provider call plus the completion write
		opts = append(opts, asynq.Timeout(c.timeout+30*time.Second))
	}
	_, err = c.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

func (c *Client) Close() error {
	return c.client.Close()
}
