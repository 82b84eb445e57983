package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"validator/internal/broker"
	"validator/internal/correlation"
	"validator/internal/logger"
	"validator/internal/message"
	"validator/internal/replication"
)

var log = logger.NewNamed("dispatch")

// ErrDispatch wraps any failure to hand a request to the broker.
var ErrDispatch = errors.New("dispatch failed")

// Request is one client request in flight.
type Request struct {
	ID        string
	Payload   map[string]any
	Targets   []string
	CreatedAt time.Time
}

// Config holds the dispatcher wiring.
type Config struct {
	Exchange string
	ReplyTag string
	// Routes maps replica id to its routing key.
	Routes map[string]string
}

// Dispatcher assigns ids and fans requests out.
type Dispatcher struct {
	pub    broker.Publisher
	store  *correlation.Store
	policy *replication.Policy
	cfg    Config
	seq    atomic.Uint64
	obs    Observer
}

// Observer hooks are optional.
type Observer struct {
	// Registered is called once the request is in the store, before any
	// publish.
	Registered func(req Request)
	// Published is called after each successful publish.
	Published func(requestID, replicaID string)
}

// New creates a dispatcher.
func New(pub broker.Publisher, store *correlation.Store, policy *replication.Policy, cfg Config, obs Observer) *Dispatcher {
	return &Dispatcher{
		pub:    pub,
		store:  store,
		policy: policy,
		cfg:    cfg,
		obs:    obs,
	}
}

// Targets returns the replicas a payload would be sent to.
func (d *Dispatcher) Targets(payload map[string]any) []string {
	return d.policy.GetReplicasForPayload(payload)
}

// Dispatch registers a new request and publishes it to every target.
// The entry exists in the store before the first publish so that no reply
// can arrive ahead of it. On failure the entry is removed.
func (d *Dispatcher) Dispatch(ctx context.Context, payload map[string]any) (Request, error) {
	req := Request{
		ID:        strconv.FormatUint(d.seq.Inc(), 10),
		Payload:   payload,
		Targets:   d.Targets(payload),
		CreatedAt: time.Now(),
	}

	if err := d.store.Register(req.ID); err != nil {
		return req, fmt.Errorf("%w: register %s: %w", ErrDispatch, req.ID, err)
	}
	if d.obs.Registered != nil {
		d.obs.Registered(req)
	}

	body, err := message.Encode(message.Dispatch{
		RequestID: req.ID,
		Payload:   payload,
		ReplyTag:  d.cfg.ReplyTag,
	})
	if err != nil {
		d.store.Discard(req.ID)
		return req, fmt.Errorf("%w: encode %s: %w", ErrDispatch, req.ID, err)
	}

	for _, target := range req.Targets {
		route, ok := d.cfg.Routes[target]
		if !ok {
			d.store.Discard(req.ID)
			return req, fmt.Errorf("%w: no route for replica %s", ErrDispatch, target)
		}
		if err := d.pub.Publish(ctx, d.cfg.Exchange, route, body); err != nil {
			d.store.Discard(req.ID)
			log.Warn("publish failed",
				zap.String("requestId", req.ID),
				zap.String("replica", target),
				zap.Error(err))
			return req, fmt.Errorf("%w: publish %s to %s: %w", ErrDispatch, req.ID, route, err)
		}
		log.Debug("dispatched", zap.String("requestId", req.ID), zap.String("replica", target))
		if d.obs.Published != nil {
			d.obs.Published(req.ID, target)
		}
	}
	return req, nil
}
