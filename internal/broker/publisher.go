// Package broker wraps github.com/rabbitmq/amqp091-go for both sides of the
// pipeline: the Gateway's Publisher (one connection, reused across
// requests) and the Executor's Consumer (internal/broker/consumer.go).
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ExchangeName is the single durable, non-auto-delete direct exchange every
// job is published through.
const ExchangeName = "mlapi_exchange"

// ErrNoWorkers is returned when the destination queue does not exist,
// meaning no worker has announced itself for that model's worker_id.
var ErrNoWorkers = errors.New("no workers listening for model")

// Publisher publishes job payloads to a worker's dedicated queue via the
// shared direct exchange. Safe for concurrent use by multiple goroutines.
type Publisher struct {
	conn *amqp.Connection
	mu   sync.Mutex
	ch   *amqp.Channel
}

// Dial connects to the broker and declares the shared exchange.
func Dial(uri string) (*Publisher, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("broker dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("broker channel: %w", err)
	}
	if err := ch.ExchangeDeclare(ExchangeName, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("exchange declare: %w", err)
	}
	return &Publisher{conn: conn, ch: ch}, nil
}

// Close tears down the channel and connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		p.ch.Close()
	}
	return p.conn.Close()
}

// Publish sends body (UTF-8 JSON) to workerID's queue via the exchange.
// Before publishing, it passively declares the queue to detect "no workers
// listening" distinctly from a generic broker failure.
func (p *Publisher) Publish(ctx context.Context, workerID string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.ch.QueueDeclarePassive(workerID, true, false, false, false, nil); err != nil {
		// A failed passive declare closes the channel (with a 404 when the
		// queue is missing); reopen it so the connection stays usable for
		// future calls.
		p.reopenChannel()
		var amqpErr *amqp.Error
		if errors.As(err, &amqpErr) && amqpErr.Code == amqp.NotFound {
			return ErrNoWorkers
		}
		return fmt.Errorf("queue declare: %w", err)
	}

	err := p.ch.PublishWithContext(ctx, ExchangeName, workerID, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

func (p *Publisher) reopenChannel() {
	ch, err := p.conn.Channel()
	if err != nil {
		return
	}
	if err := ch.ExchangeDeclare(ExchangeName, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		ch.Close()
		return
	}
	p.ch = ch
}
