package messaging

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQ implements the broker's event bus on a fanout exchange: every
// gateway instance binds its own exclusive queue, so each published event
// reaches each instance exactly once (per AMQP's best-effort delivery).
type RabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel

	mu       sync.Mutex
	declared map[string]bool
}

func NewRabbitMQ(uri string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	return &RabbitMQ{
		conn:     conn,
		channel:  ch,
		declared: make(map[string]bool),
	}, nil
}

func (r *RabbitMQ) Close() {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		r.conn.Close()
	}
}

func (r *RabbitMQ) declareExchange(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.declared[name] {
		return nil
	}

	err := r.channel.ExchangeDeclare(
		name,     // name
		"fanout", // kind
		false,    // durable: room events are transient
		true,     // auto-delete when unused
		false,    // internal
		false,    // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", name, err)
	}

	r.declared[name] = true
	return nil
}

// Publish sends body to the named fanout exchange.
func (r *RabbitMQ) Publish(ctx context.Context, channel string, body []byte) error {
	if err := r.declareExchange(channel); err != nil {
		return err
	}

	return r.channel.PublishWithContext(ctx,
		channel, // exchange
		"",      // routing key: ignored by fanout
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
}

// Subscribe binds a fresh exclusive queue to the fanout exchange and pumps
// every delivery to fn. The queue dies with the connection, so a restarted
// instance never replays stale events.
func (r *RabbitMQ) Subscribe(channel string, fn func(body []byte)) error {
	if err := r.declareExchange(channel); err != nil {
		return err
	}

	q, err := r.channel.QueueDeclare(
		"",    // server-generated name
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := r.channel.QueueBind(q.Name, "", channel, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue to %s: %w", channel, err)
	}

	deliveries, err := r.channel.Consume(
		q.Name,
		"",    // consumer tag
		true,  // auto-ack: lost events are acceptable here
		true,  // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to consume from %s: %w", q.Name, err)
	}

	go func() {
		for d := range deliveries {
			fn(d.Body)
		}
	}()

	return nil
}
