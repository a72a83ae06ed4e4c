package rabbitmq

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

// Queue names derived from the main queue.
func retryQueue(queue string) string { return queue + ".retry" }
func deadQueue(queue string) string { return queue + ".dlq" }

// declareTopology declares the main queue, a retry queue whose messages
// dead-letter back into the main queue when their TTL expires, and a DLQ for
// messages that exhausted their retries. Publisher and consumer both call it.
func declareTopology(ch *amqp.Channel, queue string) error {
	// DLQ
	if _, err := ch.QueueDeclare(
		deadQueue(queue),
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false,
		nil,
	); err != nil {
		return err
	}

	// Retry queue: message TTL -> dead-letter back to main queue
	if _, err := ch.QueueDeclare(
		retryQueue(queue),
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": queue,
		},
	); err != nil {
		return err
	}

	// Main queue: dead-letter to DLQ on reject/nack(requeue=false)
	_, err := ch.QueueDeclare(
		queue,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": deadQueue(queue),
		},
	)
	return err
}
