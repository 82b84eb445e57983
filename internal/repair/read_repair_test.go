package repair

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"validator/internal/message"
)

// mockPublisher records repair publishes.
type mockPublisher struct {
	mu     sync.Mutex
	keys   []string
	bodies [][]byte
	err    error
}

func (m *mockPublisher) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.keys = append(m.keys, routingKey)
	m.bodies = append(m.bodies, body)
	return nil
}

var routes = map[string]string{"1": "microservice_1", "2": "microservice_2", "3": "microservice_3"}

func consensus() map[string]any {
	return map[string]any{
		"status": "processed",
		"data":   map[string]any{"product_id": "P001", "in_stock": true, "quantity": float64(50)},
	}
}

func TestReadRepairer_Repair_StaleReplica(t *testing.T) {
	pub := &mockPublisher{}
	repairer := NewReadRepairer(pub, "requests", routes, time.Second)

	if !repairer.Repair("7", consensus(), []string{"3"}) {
		t.Fatal("Expected repair to start")
	}
	repairer.Wait()

	if len(pub.keys) != 1 || pub.keys[0] != "microservice_3" {
		t.Fatalf("Expected one repair to microservice_3, got %v", pub.keys)
	}
	msg, err := message.DecodeDispatch(pub.bodies[0])
	if err != nil {
		t.Fatalf("DecodeDispatch: %v", err)
	}
	if msg.RequestID != "7" {
		t.Errorf("Expected request id 7, got %s", msg.RequestID)
	}
	var value map[string]any
	if err := json.Unmarshal(msg.Repair, &value); err != nil {
		t.Fatalf("Unmarshal repair: %v", err)
	}
	if value["product_id"] != "P001" || value["quantity"] != float64(50) {
		t.Errorf("Unexpected repair value: %v", value)
	}
}

func TestReadRepairer_Repair_NothingToDo(t *testing.T) {
	pub := &mockPublisher{}
	repairer := NewReadRepairer(pub, "requests", routes, time.Second)

	if repairer.Repair("1", consensus(), nil) {
		t.Error("Expected no repair without stale replicas")
	}
	listing := map[string]any{"data": map[string]any{"category": "accessories"}}
	if repairer.Repair("2", listing, []string{"2"}) {
		t.Error("Expected no repair for a value without product_id")
	}
	repairer.Wait()
	if len(pub.keys) != 0 {
		t.Errorf("Expected no publishes, got %v", pub.keys)
	}
}

func TestReadRepairer_Repair_Failures(t *testing.T) {
	pub := &mockPublisher{err: errors.New("channel closed")}
	repairer := NewReadRepairer(pub, "requests", routes, time.Second)

	var mu sync.Mutex
	got := map[string]string{}
	repairer.OnSent = func(requestID, replicaID, status string) {
		mu.Lock()
		got[replicaID] = status
		mu.Unlock()
	}

	repairer.Repair("3", consensus(), []string{"2", "9"})
	repairer.Wait()

	if got["2"] != StatusFailed {
		t.Errorf("Expected replica 2 failed, got %q", got["2"])
	}
	if got["9"] != StatusFailed {
		t.Errorf("Expected unknown replica 9 failed, got %q", got["9"])
	}
}

func TestRepairValue(t *testing.T) {
	tests := []struct {
		name     string
		response map[string]any
		want     bool
	}{
		{"product", consensus(), true},
		{"no data", map[string]any{"status": "ok"}, false},
		{"data not object", map[string]any{"data": "x"}, false},
		{"null product", map[string]any{"data": map[string]any{"product_id": nil}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := RepairValue(tt.response); ok != tt.want {
				t.Errorf("RepairValue() ok = %v, want %v", ok, tt.want)
			}
		})
	}
}
