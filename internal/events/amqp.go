package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Channel is the subset of *amqp.Channel the forwarder uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPForwarder republishes bus events to a RabbitMQ topic exchange, using the
// event type as routing key. Messages are persistent.
type AMQPForwarder struct {
	exchange string
	timeout  time.Duration
	logger   *zerolog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   Channel
}

// DialAMQP connects to url and declares a durable topic exchange.
func DialAMQP(url, exchange string, logger *zerolog.Logger) (*AMQPForwarder, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	f, err := NewAMQPForwarder(ch, exchange, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	f.conn = conn
	return f, nil
}

// NewAMQPForwarder declares the exchange on ch.
func NewAMQPForwarder(ch Channel, exchange string, logger *zerolog.Logger) (*AMQPForwarder, error) {
	if err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // kind
		true,     // durable
		false,    // autoDelete
		false,    // internal
		false,    // noWait
		nil,      // args
	); err != nil {
		return nil, fmt.Errorf("rabbitmq exchange declare: %w", err)
	}
	l := logger.With().Str("component", "amqp").Logger()
	return &AMQPForwarder{exchange: exchange, timeout: 5 * time.Second, logger: &l, ch: ch}, nil
}

// Handle is an EventHandler. Publish failures are logged and returned.
func (f *AMQPForwarder) Handle(event Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    fmt.Sprintf("%d-%d", event.CreatedAt.UnixNano(), event.ID),
		Type:         event.Type,
		Timestamp:    event.CreatedAt.UTC(),
		Body:         event.Payload,
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ch.PublishWithContext(ctx, f.exchange, event.Type, false, false, pub); err != nil {
		f.logger.Error().Err(err).Str("type", event.Type).Msg("rabbitmq publish failed")
		return err
	}
	return nil
}

// Close closes the channel and, if owned, the connection.
func (f *AMQPForwarder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := f.ch.Close()
	if f.conn != nil {
		if cerr := f.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
