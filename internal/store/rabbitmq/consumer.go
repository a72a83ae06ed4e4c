package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const retryHeader = "x-retry-count"

type HandleFunc func(ctx context.Context, jobID string) error

type ConsumerConfig struct {
	URL         string
	Queue       string
	Concurrency int
	MaxRetries  int
	RetryDelay  time.Duration
}

// Consumer feeds deliveries to a fixed worker pool. A handler error sends the
// message through the retry queue until MaxRetries, then to the DLQ.
type Consumer struct {
	cfg    ConsumerConfig
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger zerolog.Logger
}

func NewConsumer(cfg ConsumerConfig, logger zerolog.Logger) (*Consumer, error) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("rabbit dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbit channel: %w", err)
	}
	if err := declareTopology(ch, cfg.Queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare %s topology: %w", cfg.Queue, err)
	}
	// strict concurrency control
	if err := ch.Qos(cfg.Concurrency, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("qos: %w", err)
	}
	return &Consumer{cfg: cfg, conn: conn, ch: ch, logger: logger}, nil
}

func (c *Consumer) Close() error {
	_ = c.ch.Close()
	return c.conn.Close()
}

// Run consumes until ctx is done, then drains the pool and returns.
func (c *Consumer) Run(ctx context.Context, handle HandleFunc) error {
	msgs, err := c.ch.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	c.logger.Info().
		Str("queue", c.cfg.Queue).
		Int("concurrency", c.cfg.Concurrency).
		Msg("consumer started")

	// worker pool
	jobs := make(chan amqp.Delivery, c.cfg.Concurrency*2)

	var wg sync.WaitGroup
	wg.Add(c.cfg.Concurrency)
	for i := 0; i < c.cfg.Concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				c.process(ctx, workerID, d, handle)
			}
		}(i)
	}

	defer func() {
		close(jobs)
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("consumer shutting down")
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			jobs <- d
		}
	}
}

func (c *Consumer) process(ctx context.Context, workerID int, d amqp.Delivery, handle HandleFunc) {
	var m JobMessage
	if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" {
		c.logger.Error().Err(err).Int("worker", workerID).Msg("bad message")
		_ = d.Nack(false, false)
		return
	}

	start := time.Now()
	err := handle(ctx, m.JobID)
	if err == nil {
		if err := d.Ack(false); err != nil {
			c.logger.Error().Err(err).Int("worker", workerID).Str("job_id", m.JobID).Msg("ack failed")
		}
		return
	}

	if ctx.Err() != nil {
		// shutting down: put it back for the next worker
		_ = d.Nack(false, true)
		return
	}

	attempt := retryCount(d.Headers) + 1
	log := c.logger.Warn().Err(err).
		Int("worker", workerID).
		Str("job_id", m.JobID).
		Int("attempt", attempt).
		Dur("cost", time.Since(start))

	if attempt > c.cfg.MaxRetries {
		log.Msg("job exhausted retries, dead-lettering")
		_ = d.Nack(false, false)
		return
	}

	log.Msg("job failed, scheduling retry")
	delay := strconv.FormatInt(c.cfg.RetryDelay.Milliseconds()*int64(attempt), 10)
	if err := publish(ctx, c.ch, retryQueue(c.cfg.Queue), m, amqp.Table{retryHeader: int32(attempt)}, delay); err != nil {
		c.logger.Error().Err(err).Str("job_id", m.JobID).Msg("schedule retry failed")
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

func retryCount(h amqp.Table) int {
	switch v := h[retryHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}
