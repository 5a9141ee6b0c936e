package broker

import (
	"fmt"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer owns the Executor's single connection and channel to the
// broker. Only the goroutine running Run ever touches ch; acknowledgement
// requests from job-processing goroutines are hopped back to it over
// ackRequests.
type Consumer struct {
	conn *amqp.Connection
	ch   *amqp.Channel

	workerID string

	ackRequests chan ackRequest
	deliveries  <-chan amqp.Delivery
}

type ackRequest struct {
	tag  uint64
	done chan<- error
}

// DialConsumer connects to the broker, declares the shared exchange, and
// declares+binds the worker's own auto-delete queue.
func DialConsumer(uri, workerID string) (*Consumer, error) {
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
	q, err := ch.QueueDeclare(workerID, false, true, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("queue declare: %w", err)
	}
	if err := ch.QueueBind(q.Name, workerID, ExchangeName, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("queue bind: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("qos: %w", err)
	}

	deliveries, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("consume: %w", err)
	}

	return &Consumer{
		conn:        conn,
		ch:          ch,
		workerID:    workerID,
		ackRequests: make(chan ackRequest),
		deliveries:  deliveries,
	}, nil
}

// Close tears down the channel and connection.
func (c *Consumer) Close() error {
	c.ch.Close()
	return c.conn.Close()
}

// Run reads deliveries and ack requests until stop is closed, dispatching
// each delivery to handle on its own goroutine. Only this goroutine ever
// calls c.ch.Ack, satisfying the single-channel-owner discipline.
func (c *Consumer) Run(stop <-chan struct{}, handle func(amqp.Delivery, func())) {
	for {
		select {
		case <-stop:
			return
		case d, ok := <-c.deliveries:
			if !ok {
				return
			}
			tag := d.DeliveryTag
			go handle(d, func() { c.requestAck(tag) })
		case req := <-c.ackRequests:
			err := c.ch.Ack(req.tag, false)
			if err != nil {
				log.Printf("broker: ack failed for delivery %d: %v", req.tag, err)
			}
			req.done <- err
		}
	}
}

// requestAck hops an acknowledgement request to the channel-owning Run
// goroutine and blocks until it completes.
func (c *Consumer) requestAck(tag uint64) {
	done := make(chan error, 1)
	c.ackRequests <- ackRequest{tag: tag, done: done}
	<-done
}
