package replica

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"validator/internal/broker"
	"validator/internal/logger"
	"validator/internal/message"
	"validator/internal/storage"
)

var log = logger.NewNamed("replica")

// Reply statuses.
const (
	StatusProcessed = "processed"
	StatusNotFound  = "not_found"
)

// Config holds the worker wiring.
type Config struct {
	ID               string
	RequestExchange  string
	ResponseExchange string
	// Route is the routing key this replica is bound with.
	Route          string
	ProcessingTime time.Duration
	// DriftRate is the probability of answering from a stale stock level.
	DriftRate    float64
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// Queue returns the queue name the worker consumes.
func (c Config) Queue() string {
	return c.Route + "_queue"
}

// Worker consumes dispatches for one replica and publishes replies.
type Worker struct {
	cfg   Config
	br    broker.Broker
	store storage.Store

	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// NewWorker creates a worker over store.
func NewWorker(cfg Config, br broker.Broker, store storage.Store) *Worker {
	return &Worker{
		cfg:   cfg,
		br:    br,
		store: store,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		now:   time.Now,
	}
}

// Declare creates the exchanges and the worker's bound queue.
func (w *Worker) Declare() error {
	if err := w.br.DeclareExchange(w.cfg.RequestExchange); err != nil {
		return err
	}
	if err := w.br.DeclareExchange(w.cfg.ResponseExchange); err != nil {
		return err
	}
	return w.br.DeclareQueue(w.cfg.RequestExchange, w.cfg.Queue(), w.cfg.Route)
}

// Run consumes until ctx is done, reconnecting with backoff.
func (w *Worker) Run(ctx context.Context) error {
	backoff := broker.NewBackoff(w.cfg.ReconnectMin, w.cfg.ReconnectMax)
	for {
		err := w.Declare()
		var deliveries <-chan broker.Delivery
		if err == nil {
			deliveries, err = w.br.Consume(ctx, w.cfg.Queue())
		}
		if err != nil {
			log.Warn("consume failed", zap.String("replica", w.cfg.ID), zap.Error(err))
		} else {
			log.Info("waiting for requests", zap.String("replica", w.cfg.ID), zap.String("queue", w.cfg.Queue()))
			if w.drain(ctx, deliveries) {
				backoff.Reset()
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := backoff.Wait(ctx); err != nil {
			return err
		}
	}
}

func (w *Worker) drain(ctx context.Context, deliveries <-chan broker.Delivery) bool {
	handled := false
	for {
		select {
		case <-ctx.Done():
			return handled
		case d, ok := <-deliveries:
			if !ok {
				return handled
			}
			handled = true
			w.Handle(ctx, d)
		}
	}
}

// Handle answers one dispatch. The delivery is acknowledged only after the
// reply is published; a failed publish is requeued.
func (w *Worker) Handle(ctx context.Context, d broker.Delivery) {
	msg, err := message.DecodeDispatch(d.Body())
	if err != nil {
		log.Warn("dropping malformed request", zap.String("replica", w.cfg.ID), zap.Error(err))
		settle(d.Nack(false))
		return
	}

	if len(msg.Repair) > 0 {
		w.handleRepair(msg, d)
		return
	}

	log.Debug("processing request", zap.String("replica", w.cfg.ID), zap.String("requestId", msg.RequestID))
	if err := sleep(ctx, w.cfg.ProcessingTime); err != nil {
		settle(d.Nack(true))
		return
	}

	resp, err := w.Answer(msg.RequestID, msg.Payload)
	if err != nil {
		log.Error("answer failed", zap.String("requestId", msg.RequestID), zap.Error(err))
		settle(d.Nack(true))
		return
	}
	body, err := message.Encode(message.Reply{
		RequestID: msg.RequestID,
		ReplicaID: w.cfg.ID,
		Response:  resp,
	})
	if err != nil {
		settle(d.Nack(false))
		return
	}
	if err := w.br.Publish(ctx, w.cfg.ResponseExchange, msg.ReplyTag, body); err != nil {
		log.Warn("publish reply failed", zap.String("requestId", msg.RequestID), zap.Error(err))
		settle(d.Nack(true))
		return
	}
	settle(d.Ack())
	log.Debug("completed request", zap.String("replica", w.cfg.ID), zap.String("requestId", msg.RequestID))
}

func (w *Worker) handleRepair(msg message.Dispatch, d broker.Delivery) {
	var p storage.Product
	if err := json.Unmarshal(msg.Repair, &p); err != nil {
		log.Warn("dropping malformed repair", zap.String("requestId", msg.RequestID), zap.Error(err))
		settle(d.Nack(false))
		return
	}
	if err := w.store.PutRepair(p); err != nil {
		log.Warn("repair rejected", zap.String("requestId", msg.RequestID), zap.Error(err))
		settle(d.Nack(!errors.Is(err, storage.ErrInvalidProduct)))
		return
	}
	log.Info("applied repair",
		zap.String("replica", w.cfg.ID),
		zap.String("requestId", msg.RequestID),
		zap.String("productId", p.ProductID))
	settle(d.Ack())
}

// Answer builds the reply for a request payload.
// product_id looks up one product, category lists products, anything else
// gets a status summary.
func (w *Worker) Answer(requestID string, payload map[string]any) (map[string]any, error) {
	data := map[string]any{}
	status := StatusProcessed

	switch {
	case payload["product_id"] != nil:
		id := fmt.Sprint(payload["product_id"])
		p, err := w.store.Get(id)
		if err != nil {
			return nil, err
		}
		if p == nil {
			status = StatusNotFound
			data["product_id"] = id
			data["in_stock"] = false
			data["quantity"] = 0
		} else {
			w.drift(p)
			data["product_id"] = p.ProductID
			data["name"] = p.Name
			data["in_stock"] = p.InStock
			data["quantity"] = p.Quantity
			data["price"] = p.Price
		}
	case payload["category"] != nil:
		category := fmt.Sprint(payload["category"])
		products, err := w.store.List(category)
		if err != nil {
			return nil, err
		}
		items := make([]any, 0, len(products))
		for i := range products {
			w.drift(&products[i])
			items = append(items, map[string]any{
				"product_id": products[i].ProductID,
				"in_stock":   products[i].InStock,
				"quantity":   products[i].Quantity,
			})
		}
		data["category"] = category
		data["products"] = items
		data["count"] = len(items)
	default:
		products, err := w.store.List("")
		if err != nil {
			return nil, err
		}
		data["status"] = "ok"
		data["products"] = len(products)
	}

	data["instance"] = w.cfg.ID
	data["timestamp"] = float64(w.now().UnixNano()) / 1e9

	return map[string]any{
		"replica_id":      w.cfg.ID,
		"request_id":      requestID,
		"status":          status,
		"processing_time": w.cfg.ProcessingTime.Seconds(),
		"data":            data,
	}, nil
}

// drift occasionally reports a stale stock level for p.
func (w *Worker) drift(p *storage.Product) {
	if w.cfg.DriftRate <= 0 {
		return
	}
	w.mu.Lock()
	hit := w.rng.Float64() < w.cfg.DriftRate
	w.mu.Unlock()
	if hit {
		p.Quantity++
		p.InStock = true
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func settle(err error) {
	if err != nil {
		log.Warn("settle delivery", zap.Error(err))
	}
}
