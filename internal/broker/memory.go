package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/cheggaaa/mb/v3"
)

// Memory is an in-process broker with direct exchange semantics.
// Each queue is an unbounded mb buffer shared by competing consumers.
type Memory struct {
	mu       sync.Mutex
	bindings map[string]map[string][]string // exchange -> routing key -> queues
	queues   map[string]*mb.MB[*memDelivery]
	closed   bool
}

// NewMemory creates an empty in-memory broker.
func NewMemory() *Memory {
	return &Memory{
		bindings: make(map[string]map[string][]string),
		queues:   make(map[string]*mb.MB[*memDelivery]),
	}
}

// DeclareExchange creates exchange if it does not exist.
func (m *Memory) DeclareExchange(exchange string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.bindings[exchange]; !ok {
		m.bindings[exchange] = make(map[string][]string)
	}
	return nil
}

// DeclareQueue creates queue and binds it to exchange under routingKey.
func (m *Memory) DeclareQueue(exchange, queue, routingKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.queues[queue]; !ok {
		m.queues[queue] = mb.New[*memDelivery](0)
	}
	keys, ok := m.bindings[exchange]
	if !ok {
		keys = make(map[string][]string)
		m.bindings[exchange] = keys
	}
	for _, q := range keys[routingKey] {
		if q == queue {
			return nil
		}
	}
	keys[routingKey] = append(keys[routingKey], queue)
	return nil
}

// Publish routes body to every queue bound with routingKey.
// Unroutable messages are dropped, like a non-mandatory AMQP publish.
func (m *Memory) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	keys, ok := m.bindings[exchange]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("exchange %q not declared", exchange)
	}
	targets := make([]*mb.MB[*memDelivery], 0, len(keys[routingKey]))
	for _, name := range keys[routingKey] {
		targets = append(targets, m.queues[name])
	}
	m.mu.Unlock()

	for _, q := range targets {
		d := &memDelivery{body: append([]byte(nil), body...), queue: q}
		if err := q.Add(ctx, d); err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}
	}
	return nil
}

// Consume streams deliveries from queue until ctx is done or the broker closes.
func (m *Memory) Consume(ctx context.Context, queue string) (<-chan Delivery, error) {
	m.mu.Lock()
	q, ok := m.queues[queue]
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if !ok {
		return nil, fmt.Errorf("queue %q not declared", queue)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			d, err := q.WaitOne(ctx)
			if err != nil {
				return
			}
			select {
			case out <- d:
			case <-ctx.Done():
				// taken but not handed out: put it back for other consumers
				_ = q.Add(context.Background(), d)
				return
			}
		}
	}()
	return out, nil
}

// QueueLen returns the number of messages waiting in queue.
func (m *Memory) QueueLen(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.queues[queue]; ok {
		return q.Len()
	}
	return 0
}

// Close closes every queue. Consumers see their channels close.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, q := range m.queues {
		_ = q.Close()
	}
	return nil
}

type memDelivery struct {
	body  []byte
	queue *mb.MB[*memDelivery]
}

func (d *memDelivery) Body() []byte { return d.body }

func (d *memDelivery) Ack() error { return nil }

func (d *memDelivery) Nack(requeue bool) error {
	if !requeue {
		return nil
	}
	return d.queue.Add(context.Background(), &memDelivery{body: d.body, queue: d.queue})
}
