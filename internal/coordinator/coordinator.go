package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"validator/internal/broker"
	"validator/internal/config"
	"validator/internal/correlation"
	"validator/internal/dispatch"
	"validator/internal/events"
	"validator/internal/ingest"
	"validator/internal/logger"
	"validator/internal/membership"
	"validator/internal/message"
	"validator/internal/metrics"
	"validator/internal/quorum"
	"validator/internal/repair"
	"validator/internal/replication"
)

var log = logger.NewNamed("coordinator")

// ErrInvalidInput is returned for an empty or missing payload.
var ErrInvalidInput = errors.New("no JSON data provided")

// Result is the outcome of one processed request.
type Result struct {
	RequestID string
	Targets   []string
	Verdict   quorum.Verdict
	// WaitTime covers the whole lifecycle, grace included.
	WaitTime time.Duration
}

// Success reports whether a consensus value was chosen.
func (r *Result) Success() bool {
	return r != nil && r.Verdict.Success()
}

// Coordinator owns the correlation store and everything that touches it.
type Coordinator struct {
	cfg      *config.Config
	br       broker.Broker
	store    *correlation.Store
	disp     *dispatch.Dispatcher
	resolver *quorum.Resolver
	ingestor *ingest.Ingestor
	repairer *repair.ReadRepairer
	members  *membership.Membership
	events   *events.Log
	metrics  *metrics.Metrics
}

// New wires a coordinator over br. ev and m may be nil.
func New(cfg *config.Config, br broker.Broker, store *correlation.Store, ev *events.Log, m *metrics.Metrics) (*Coordinator, error) {
	replicas, err := config.ParseReplicas(cfg.Replicas)
	if err != nil {
		return nil, fmt.Errorf("parse replicas: %w", err)
	}
	routes := config.Routes(replicas)
	policy, err := replication.NewPolicy(cfg.Targets, routes)
	if err != nil {
		return nil, fmt.Errorf("target policy: %w", err)
	}
	if ev == nil {
		ev = events.Nop()
	}

	ids := make([]string, 0, len(replicas))
	for _, r := range replicas {
		ids = append(ids, r.ID)
	}
	c := &Coordinator{
		cfg:     cfg,
		br:      br,
		store:   store,
		members: membership.New(ids, cfg.Coordinator.SuspectAfter, cfg.Coordinator.DeadAfter),
		events:  ev,
		metrics: m,
	}
	c.disp = dispatch.New(br, store, policy, dispatch.Config{
		Exchange: cfg.Broker.RequestExchange,
		ReplyTag: cfg.Coordinator.ReplyTag,
		Routes:   routes,
	}, dispatch.Observer{
		Registered: func(req dispatch.Request) {
			ev.Started(req.ID, req.Targets)
		},
		Published: ev.Dispatched,
	})
	c.resolver = quorum.NewResolver(store, quorum.NewCanonicalizer(cfg.Coordinator.VolatileFields), quorum.Options{
		Grace:        cfg.Coordinator.Grace,
		Timeout:      cfg.Coordinator.Timeout,
		PollInterval: cfg.Coordinator.PollInterval,
		Threshold:    cfg.Coordinator.Quorum,
	})
	c.ingestor = ingest.New(br, store, ingest.Options{
		Queue:        cfg.Broker.ReplyQueue,
		Declare:      c.Declare,
		ReconnectMin: cfg.Broker.ReconnectMin,
		ReconnectMax: cfg.Broker.ReconnectMax,
	}, ingest.Observer{
		Reply: m.Reply,
		Received: func(r message.Reply, status string, receivedAt time.Time) {
			c.members.Observe(r.ReplicaID, receivedAt)
			ev.Received(r.RequestID, r.ReplicaID, status, receivedAt, r.Response)
		},
		Reconnect: m.Reconnect,
	})
	if cfg.Coordinator.ReadRepair {
		c.repairer = repair.NewReadRepairer(br, cfg.Broker.RequestExchange, routes, cfg.Coordinator.RepairTimeout)
		c.repairer.OnSent = ev.Repair
	}
	return c, nil
}

// Declare creates the exchanges and the reply queue.
func (c *Coordinator) Declare() error {
	b := c.cfg.Broker
	if err := c.br.DeclareExchange(b.RequestExchange); err != nil {
		return fmt.Errorf("declare %s: %w", b.RequestExchange, err)
	}
	if err := c.br.DeclareExchange(b.ResponseExchange); err != nil {
		return fmt.Errorf("declare %s: %w", b.ResponseExchange, err)
	}
	if err := c.br.DeclareQueue(b.ResponseExchange, b.ReplyQueue, c.cfg.Coordinator.ReplyTag); err != nil {
		return fmt.Errorf("declare %s: %w", b.ReplyQueue, err)
	}
	return nil
}

// Run drains replies until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	return c.ingestor.Run(ctx)
}

// InFlight returns the number of unresolved requests.
func (c *Coordinator) InFlight() int {
	return c.store.Len()
}

// Replicas reports the liveness of every replica seen or configured.
func (c *Coordinator) Replicas() []membership.Member {
	return c.members.Snapshot()
}

// AliveReplicas returns the ids of replicas that replied recently.
func (c *Coordinator) AliveReplicas() []string {
	return c.members.Alive()
}

// Close stops accepting replies and waits for pending repairs.
func (c *Coordinator) Close() {
	c.store.Close()
	if c.repairer != nil {
		c.repairer.Wait()
	}
}

// Process dispatches payload and waits for the vote. A failed vote is a
// Result, not an error; errors mean the request never reached the replicas.
func (c *Coordinator) Process(ctx context.Context, payload map[string]any) (*Result, error) {
	if len(payload) == 0 {
		return nil, ErrInvalidInput
	}
	start := time.Now()

	req, err := c.disp.Dispatch(ctx, payload)
	if err != nil {
		c.metrics.Dispatch("error")
		c.events.Finished(req.ID, "dispatch_failed", time.Since(start))
		log.Error("dispatch failed", zap.String("requestId", req.ID), zap.Error(err))
		return &Result{RequestID: req.ID, Targets: req.Targets, WaitTime: time.Since(start)}, err
	}
	defer c.store.Discard(req.ID)
	c.metrics.Dispatch("ok")

	v := c.resolver.Resolve(ctx, req.ID, req.Targets)
	res := &Result{
		RequestID: req.ID,
		Targets:   req.Targets,
		Verdict:   v,
		WaitTime:  time.Since(start),
	}
	c.record(res)

	if v.Success() && c.repairer != nil && len(v.Discrepant) > 0 {
		c.repairer.Repair(req.ID, v.Value.Payload, v.Discrepant)
	}
	return res, nil
}

func (c *Coordinator) record(res *Result) {
	v := res.Verdict
	state := v.State.String()
	var value map[string]any
	if v.Value != nil {
		value = v.Value.Payload
	}
	c.events.Vote(res.RequestID, state, value, v.Discrepant, v.NonResponding, res.WaitTime)
	c.events.Finished(res.RequestID, state, res.WaitTime)
	c.metrics.Verdict(state, res.WaitTime.Seconds())

	fields := []zap.Field{
		zap.String("requestId", res.RequestID),
		zap.String("state", state),
		zap.Int("responses", len(v.Responses)),
		zap.Strings("agreeing", v.Agreeing),
		zap.Strings("discrepant", v.Discrepant),
		zap.Strings("nonResponding", v.NonResponding),
		zap.Duration("waitTime", res.WaitTime),
	}
	if v.Success() {
		log.Info("consensus reached", fields...)
	} else {
		log.Warn("no consensus", fields...)
	}
}
