package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"validator/internal/broker"
	"validator/internal/correlation"
	"validator/internal/logger"
	"validator/internal/message"
)

var log = logger.NewNamed("ingest")

// Result labels reported to Observer.
const (
	ResultAccepted  = "accepted"
	ResultDuplicate = "duplicate"
	ResultLate      = "late"
	ResultMalformed = "malformed"
	ResultRequeued  = "requeued"
)

// Observer hooks are optional.
type Observer struct {
	Reply     func(result string)
	Received  func(reply message.Reply, status string, receivedAt time.Time)
	Reconnect func()
}

// Options configure the reply queue and reconnect backoff. Declare, if set,
// recreates the queue and its binding before every Consume.
type Options struct {
	Queue        string
	Declare      func() error
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// Ingestor consumes the reply queue forever.
type Ingestor struct {
	consumer broker.Consumer
	store    *correlation.Store
	opts     Options
	obs      Observer
	now      func() time.Time
}

// New creates an ingestor.
func New(consumer broker.Consumer, store *correlation.Store, opts Options, obs Observer) *Ingestor {
	return &Ingestor{
		consumer: consumer,
		store:    store,
		opts:     opts,
		obs:      obs,
		now:      time.Now,
	}
}

// Run consumes until ctx is done. Consumer failures and closed delivery
// channels are retried with exponential backoff.
func (in *Ingestor) Run(ctx context.Context) error {
	backoff := broker.NewBackoff(in.opts.ReconnectMin, in.opts.ReconnectMax)
	for {
		deliveries, err := in.consume(ctx)
		if err == nil {
			log.Info("consuming replies", zap.String("queue", in.opts.Queue))
			if in.drain(ctx, deliveries) {
				backoff.Reset()
			}
		} else {
			log.Warn("consume failed", zap.String("queue", in.opts.Queue), zap.Error(err))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if in.obs.Reconnect != nil {
			in.obs.Reconnect()
		}
		log.Info("reconnecting to reply queue")
		if err := backoff.Wait(ctx); err != nil {
			return err
		}
	}
}

func (in *Ingestor) consume(ctx context.Context) (<-chan broker.Delivery, error) {
	if in.opts.Declare != nil {
		if err := in.opts.Declare(); err != nil {
			return nil, fmt.Errorf("declare %s: %w", in.opts.Queue, err)
		}
	}
	return in.consumer.Consume(ctx, in.opts.Queue)
}

// drain handles deliveries until the channel closes or ctx is done and
// reports whether at least one delivery was handled.
func (in *Ingestor) drain(ctx context.Context, deliveries <-chan broker.Delivery) bool {
	handled := false
	for {
		select {
		case <-ctx.Done():
			return handled
		case d, ok := <-deliveries:
			if !ok {
				log.Warn("reply stream closed")
				return handled
			}
			handled = true
			in.Handle(d)
		}
	}
}

// Handle processes one delivery and settles it with the broker.
func (in *Ingestor) Handle(d broker.Delivery) {
	reply, err := message.DecodeReply(d.Body())
	if err != nil {
		log.Warn("dropping malformed reply", zap.Error(err), zap.ByteString("body", d.Body()))
		in.settle(d.Nack(false))
		in.report(ResultMalformed)
		return
	}

	receivedAt := in.now()
	result, err := in.store.Append(reply.RequestID, correlation.Response{
		ReplicaID:  reply.ReplicaID,
		Payload:    reply.Response,
		ReceivedAt: receivedAt,
	})
	if errors.Is(err, correlation.ErrClosed) {
		log.Warn("store closed, requeueing reply", zap.String("requestId", reply.RequestID))
		in.settle(d.Nack(true))
		in.report(ResultRequeued)
		return
	}

	status := result.String()
	switch result {
	case correlation.Accepted:
		log.Debug("reply stored",
			zap.String("requestId", reply.RequestID),
			zap.String("replica", reply.ReplicaID))
	default:
		log.Info("reply dropped",
			zap.String("requestId", reply.RequestID),
			zap.String("replica", reply.ReplicaID),
			zap.String("reason", status))
	}
	if in.obs.Received != nil {
		in.obs.Received(reply, status, receivedAt)
	}
	in.settle(d.Ack())
	in.report(status)
}

func (in *Ingestor) report(result string) {
	if in.obs.Reply != nil {
		in.obs.Reply(result)
	}
}

func (in *Ingestor) settle(err error) {
	if err != nil {
		log.Warn("settle delivery", zap.Error(err))
	}
}
