package repair

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"validator/internal/broker"
	"validator/internal/logger"
	"validator/internal/message"
)

var log = logger.NewNamed("repair")

// Result labels passed to OnSent.
const (
	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// ReadRepairer performs asynchronous read repair to converge stale replicas.
type ReadRepairer struct {
	pub      broker.Publisher
	exchange string
	// routes maps replica id to routing key
	routes  map[string]string
	timeout time.Duration
	wg      sync.WaitGroup

	// OnSent is called once per discrepant replica. Optional.
	OnSent func(requestID, replicaID, status string)
}

// NewReadRepairer creates a new read repairer.
func NewReadRepairer(pub broker.Publisher, exchange string, routes map[string]string, timeout time.Duration) *ReadRepairer {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &ReadRepairer{
		pub:      pub,
		exchange: exchange,
		routes:   routes,
		timeout:  timeout,
	}
}

// RepairValue extracts the stored record from a consensus reply. Only
// single product answers carry one.
func RepairValue(response map[string]any) (map[string]any, bool) {
	data, ok := response["data"].(map[string]any)
	if !ok {
		return nil, false
	}
	if id, ok := data["product_id"]; !ok || id == nil {
		return nil, false
	}
	return data, true
}

// Repair asynchronously sends the consensus value to each stale replica.
// It never blocks the caller and does not retry.
func (r *ReadRepairer) Repair(requestID string, consensus map[string]any, stale []string) bool {
	if len(stale) == 0 {
		return false
	}
	value, ok := RepairValue(consensus)
	if !ok {
		return false
	}
	body, err := json.Marshal(value)
	if err != nil {
		log.Warn("encode repair value", zap.String("requestId", requestID), zap.Error(err))
		return false
	}
	stale = append([]string(nil), stale...)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if err := recover(); err != nil {
				log.Error("read repair panic", zap.String("requestId", requestID), zap.Any("panic", err))
			}
		}()

		// detached from the request: the client already has its answer
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		log.Info("read repair triggered", zap.String("requestId", requestID), zap.Strings("stale", stale))

		repaired, failed := 0, 0
		for _, replicaID := range stale {
			status := StatusSent
			if err := r.repairReplica(ctx, requestID, replicaID, body); err != nil {
				log.Warn("read repair failed",
					zap.String("requestId", requestID),
					zap.String("replica", replicaID),
					zap.Error(err))
				status = StatusFailed
				failed++
			} else {
				repaired++
			}
			if r.OnSent != nil {
				r.OnSent(requestID, replicaID, status)
			}
		}

		log.Info("read repair completed",
			zap.String("requestId", requestID),
			zap.Int("repaired", repaired),
			zap.Int("failed", failed))
	}()
	return true
}

func (r *ReadRepairer) repairReplica(ctx context.Context, requestID, replicaID string, value []byte) error {
	route, ok := r.routes[replicaID]
	if !ok {
		return fmt.Errorf("no route for replica %s", replicaID)
	}
	body, err := message.Encode(message.Dispatch{
		RequestID: requestID,
		Repair:    value,
	})
	if err != nil {
		return err
	}
	return r.pub.Publish(ctx, r.exchange, route, body)
}

// Wait blocks until every started repair has finished.
func (r *ReadRepairer) Wait() {
	r.wg.Wait()
}
