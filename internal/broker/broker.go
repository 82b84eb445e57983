package broker

import (
	"context"
	"errors"
)

// ErrClosed is returned by a broker that has been closed.
var ErrClosed = errors.New("broker closed")

// Delivery is one consumed message.
type Delivery interface {
	Body() []byte
	// Ack confirms the message was processed.
	Ack() error
	// Nack rejects the message; requeue asks for redelivery.
	Nack(requeue bool) error
}

// Publisher sends a message to an exchange with a routing key.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
}

// Consumer streams deliveries from a queue. The channel is closed when ctx
// is done or the underlying connection is lost.
type Consumer interface {
	Consume(ctx context.Context, queue string) (<-chan Delivery, error)
}

// Broker is a full transport with topology declaration.
type Broker interface {
	Publisher
	Consumer
	DeclareExchange(exchange string) error
	DeclareQueue(exchange, queue, routingKey string) error
	Close() error
}
