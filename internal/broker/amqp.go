package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"validator/internal/logger"
)

var log = logger.NewNamed("broker")

// AMQP is a RabbitMQ-backed broker. The connection is dialed lazily and
// redialed on the next call after it drops; failed calls are not retried.
type AMQP struct {
	url      string
	prefetch int

	mu    sync.Mutex
	conn  *amqp.Connection
	pubCh *amqp.Channel
}

// NewAMQP creates a broker for url. prefetch bounds unacked deliveries per consumer.
func NewAMQP(url string, prefetch int) *AMQP {
	if prefetch <= 0 {
		prefetch = 1
	}
	return &AMQP{url: url, prefetch: prefetch}
}

// connection must be called with mu held.
func (a *AMQP) connection() (*amqp.Connection, error) {
	if a.conn != nil && !a.conn.IsClosed() {
		return a.conn, nil
	}
	a.pubCh = nil
	conn, err := amqp.Dial(a.url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	log.Info("connected to broker")
	a.conn = conn
	return conn, nil
}

func (a *AMQP) withChannel(fn func(ch *amqp.Channel) error) error {
	a.mu.Lock()
	conn, err := a.connection()
	a.mu.Unlock()
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()
	return fn(ch)
}

// DeclareExchange declares a durable direct exchange.
func (a *AMQP) DeclareExchange(exchange string) error {
	return a.withChannel(func(ch *amqp.Channel) error {
		return ch.ExchangeDeclare(exchange, amqp.ExchangeDirect, true, false, false, false, nil)
	})
}

// DeclareQueue declares exchange and a durable queue bound to it.
func (a *AMQP) DeclareQueue(exchange, queue, routingKey string) error {
	return a.withChannel(func(ch *amqp.Channel) error {
		if err := ch.ExchangeDeclare(exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", exchange, err)
		}
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}
		if err := ch.QueueBind(queue, routingKey, exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", queue, err)
		}
		return nil
	})
}

// Publish sends a persistent JSON message.
func (a *AMQP) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	conn, err := a.connection()
	if err != nil {
		return err
	}
	if a.pubCh == nil || a.pubCh.IsClosed() {
		ch, err := conn.Channel()
		if err != nil {
			return fmt.Errorf("open channel: %w", err)
		}
		a.pubCh = ch
	}
	err = a.pubCh.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		a.pubCh = nil
		return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
	}
	return nil
}

// Consume opens a dedicated channel and streams deliveries from queue.
func (a *AMQP) Consume(ctx context.Context, queue string) (<-chan Delivery, error) {
	a.mu.Lock()
	conn, err := a.connection()
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Qos(a.prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	tag := "validator-" + uuid.NewString()
	msgs, err := ch.Consume(queue, tag, false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("consume %s: %w", queue, err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					log.Warn("consumer channel closed", zap.String("queue", queue))
					return
				}
				select {
				case out <- amqpDelivery{m}:
				case <-ctx.Done():
					_ = m.Nack(false, true)
					return
				}
			}
		}
	}()
	return out, nil
}

// Close closes the connection.
func (a *AMQP) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil || a.conn.IsClosed() {
		return nil
	}
	return a.conn.Close()
}

type amqpDelivery struct {
	d amqp.Delivery
}

func (d amqpDelivery) Body() []byte { return d.d.Body }

func (d amqpDelivery) Ack() error { return d.d.Ack(false) }

func (d amqpDelivery) Nack(requeue bool) error { return d.d.Nack(false, requeue) }
