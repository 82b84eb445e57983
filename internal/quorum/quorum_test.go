package quorum

import (
	"testing"
	"time"

	"validator/internal/correlation"
)

var volatile = []string{"replica_id", "microservice_id", "instance", "timestamp"}

func reply(replica string, qty int) correlation.Response {
	return correlation.Response{
		ReplicaID: replica,
		Payload: map[string]any{
			"microservice_id": replica,
			"status":          "processed",
			"data": map[string]any{
				"product_id": "P001",
				"quantity":   qty,
				"instance":   replica,
				"timestamp":  float64(time.Now().UnixNano()),
			},
		},
		ReceivedAt: time.Now(),
	}
}

// TestTally_ConsensusIffTwoAgree tests that consensus is reached iff some form occurs >= 2 times
func TestTally_ConsensusIffTwoAgree(t *testing.T) {
	tests := []struct {
		name       string
		quantities []int
		reached    bool
		index      int
		discrepant []string
	}{
		{"no responses", nil, false, -1, nil},
		{"single response", []int{1}, false, -1, []string{"r0"}},
		{"two agree", []int{5, 5}, true, 0, nil},
		{"two differ", []int{5, 6}, false, -1, []string{"r0", "r1"}},
		{"two of three agree", []int{5, 6, 5}, true, 0, []string{"r1"}},
		{"late pair wins", []int{7, 5, 5}, true, 1, []string{"r0"}},
		{"all distinct", []int{1, 2, 3}, false, -1, []string{"r0", "r1", "r2"}},
		{"all agree", []int{4, 4, 4}, true, 0, nil},
	}

	canon := NewCanonicalizer(volatile)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			responses := make([]correlation.Response, len(tt.quantities))
			for i, q := range tt.quantities {
				responses[i] = reply("r"+string(rune('0'+i)), q)
			}

			d := Tally(responses, canon, DefaultThreshold)

			if d.Reached != tt.reached {
				t.Errorf("Expected reached=%v, got %v (count=%d)", tt.reached, d.Reached, d.Count)
			}
			if d.Index != tt.index {
				t.Errorf("Expected index %d, got %d", tt.index, d.Index)
			}
			if len(d.Discrepant) != len(tt.discrepant) {
				t.Fatalf("Expected discrepant %v, got %v", tt.discrepant, d.Discrepant)
			}
			for i := range d.Discrepant {
				if d.Discrepant[i] != tt.discrepant[i] {
					t.Errorf("Expected discrepant %v, got %v", tt.discrepant, d.Discrepant)
				}
			}
		})
	}
}

func TestTally_SameReplicaTwiceIsNotQuorum(t *testing.T) {
	canon := NewCanonicalizer(volatile)
	responses := []correlation.Response{reply("r1", 5), reply("r1", 5)}

	d := Tally(responses, canon, DefaultThreshold)
	if d.Reached {
		t.Error("A replica delivered twice must not form a quorum with itself")
	}
	if d.Count != 1 {
		t.Errorf("Expected count 1, got %d", d.Count)
	}
}

func TestTally_TieGoesToFirstObserved(t *testing.T) {
	canon := NewCanonicalizer(volatile)
	responses := []correlation.Response{
		reply("a", 1), reply("b", 2), reply("c", 2), reply("d", 1),
	}

	d := Tally(responses, canon, DefaultThreshold)
	if !d.Reached {
		t.Fatal("Expected consensus")
	}
	if d.Index != 0 {
		t.Errorf("Expected first observed form to win the tie, got index %d", d.Index)
	}
	if len(d.Agreeing) != 2 || d.Agreeing[0] != "a" || d.Agreeing[1] != "d" {
		t.Errorf("Unexpected agreeing set %v", d.Agreeing)
	}
}

func TestTally_CustomThreshold(t *testing.T) {
	canon := NewCanonicalizer(volatile)
	responses := []correlation.Response{reply("a", 1), reply("b", 1)}

	if Tally(responses, canon, 3).Reached {
		t.Error("Expected no consensus with threshold 3")
	}
	if !Tally(responses, canon, 0).Reached {
		t.Error("Expected default threshold for non-positive values")
	}
}

func TestTally_UnencodableNeverAgrees(t *testing.T) {
	canon := NewCanonicalizer(nil)
	bad := func(id string) correlation.Response {
		return correlation.Response{ReplicaID: id, Payload: map[string]any{"ch": make(chan int)}}
	}

	d := Tally([]correlation.Response{bad("a"), bad("b")}, canon, DefaultThreshold)
	if d.Reached {
		t.Error("Unencodable replies must not agree")
	}
}

func TestNonResponding(t *testing.T) {
	targets := []string{"1", "2", "3"}
	got := NonResponding(targets, []correlation.Response{{ReplicaID: "2"}, {ReplicaID: "9"}})
	if len(got) != 2 || got[0] != "1" || got[1] != "3" {
		t.Errorf("Expected [1 3], got %v", got)
	}
	if len(NonResponding(targets, nil)) != 3 {
		t.Error("Expected every target when nobody answered")
	}
}

func TestCanonicalizer_Strip(t *testing.T) {
	canon := NewCanonicalizer([]string{"timestamp"})
	in := map[string]any{
		"timestamp": 1.0,
		"items":     []any{map[string]any{"timestamp": 2.0, "id": "x"}},
	}

	out := canon.Strip(in)
	if _, ok := out["timestamp"]; ok {
		t.Error("top-level timestamp not stripped")
	}
	item := out["items"].([]any)[0].(map[string]any)
	if _, ok := item["timestamp"]; ok {
		t.Error("nested timestamp not stripped")
	}
	if _, ok := in["timestamp"]; !ok {
		t.Error("input must not be modified")
	}
}
