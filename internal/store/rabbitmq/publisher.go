package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/suPer8Hu/gengenie/internal/tryon"
)

// Publisher sends admitted jobs to the work queue. A dropped connection or
// channel is reopened on the next Dispatch.
type Publisher struct {
	url   string
	queue string
	dial  func(url string) (*amqp.Connection, error)

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

type JobMessage struct {
	JobID string `json:"job_id"`
	Kind  string `json:"kind,omitempty"`
}

func NewPublisher(url, queue string) (*Publisher, error) {
	p := &Publisher{url: url, queue: queue, dial: amqp.Dial}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.channelLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resetLocked()
}

// Dispatch publishes the admitted job for the worker pool. A publish that
// fails on a dead channel is retried once on a fresh one.
func (p *Publisher) Dispatch(ctx context.Context, job *tryon.Job) error {
	msg := JobMessage{JobID: job.ID, Kind: string(job.Kind)}

	p.mu.Lock()
	defer p.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		ch, err := p.channelLocked()
		if err != nil {
			return err
		}
		if lastErr = publish(ctx, ch, p.queue, msg, nil, ""); lastErr == nil {
			return nil
		}
		if !ch.IsClosed() {
			return lastErr
		}
		_ = p.resetLocked()
	}
	return lastErr
}

// channelLocked returns an open channel, dialing and declaring the topology
// again when the previous connection or channel was closed.
func (p *Publisher) channelLocked() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	if p.conn == nil || p.conn.IsClosed() {
		conn, err := p.dial(p.url)
		if err != nil {
			p.conn, p.ch = nil, nil
			return nil, fmt.Errorf("rabbit dial: %w", err)
		}
		p.conn = conn
	}
	ch, err := p.conn.Channel()
	if err != nil {
		_ = p.resetLocked()
		return nil, fmt.Errorf("rabbit channel: %w", err)
	}
	if err := declareTopology(ch, p.queue); err != nil {
		_ = ch.Close()
		_ = p.resetLocked()
		return nil, fmt.Errorf("declare %s topology: %w", p.queue, err)
	}
	p.ch = ch
	return ch, nil
}

func (p *Publisher) resetLocked() error {
	var err error
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil && !p.conn.IsClosed() {
		err = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
	return err
}

func publish(ctx context.Context, ch *amqp.Channel, queue string, msg JobMessage, headers amqp.Table, expiration string) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return ch.PublishWithContext(cctx,
		"",    // default exchange
		queue, // routing key = queue
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Headers:      headers,
			Expiration:   expiration,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}
