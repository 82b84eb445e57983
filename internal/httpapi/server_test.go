package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"validator/internal/coordinator"
	"validator/internal/correlation"
	"validator/internal/dispatch"
	"validator/internal/membership"
	"validator/internal/quorum"
)

type stubProcessor struct {
	res     *coordinator.Result
	err     error
	payload map[string]any
	calls   int
}

func (s *stubProcessor) Process(ctx context.Context, payload map[string]any) (*coordinator.Result, error) {
	s.calls++
	s.payload = payload
	return s.res, s.err
}

func do(t *testing.T, h http.Handler, method, path, body string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	var out map[string]any
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

func TestProcess_Success(t *testing.T) {
	value := correlation.Response{ReplicaID: "2", Payload: map[string]any{"status": "processed"}}
	proc := &stubProcessor{res: &coordinator.Result{
		RequestID: "12",
		Targets:   []string{"1", "2", "3"},
		Verdict:   quorum.Verdict{State: quorum.ConsensusReached, Value: &value},
		WaitTime:  1234 * time.Millisecond,
	}}
	h := New(proc, nil).Handler()

	code, body := do(t, h, "POST", "/process", `{"product_id":"P001"}`)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "12", body["request_id"])
	assert.Equal(t, "1.23s", body["wait_time"])
	assert.Equal(t, map[string]any{"status": "processed"}, body["response"])
	assert.Equal(t, []any{"1", "2", "3"}, body["targets"])
	assert.Equal(t, "P001", proc.payload["product_id"])
}

func TestProcess_Failure(t *testing.T) {
	proc := &stubProcessor{res: &coordinator.Result{
		RequestID: "3",
		Targets:   []string{"1", "2", "3"},
		Verdict: quorum.Verdict{
			State: quorum.TimedOut,
			Responses: []correlation.Response{
				{ReplicaID: "1", Payload: map[string]any{"q": 1.0}},
				{ReplicaID: "2", Payload: map[string]any{"q": 2.0}},
			},
			Discrepant:    []string{"1", "2"},
			NonResponding: []string{"3"},
		},
		WaitTime: 8300 * time.Millisecond,
	}}
	h := New(proc, nil).Handler()

	code, body := do(t, h, "POST", "/process", `{"product_id":"P001"}`)

	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "3", body["request_id"])
	assert.Equal(t, []any{"3", "1", "2"}, body["failed_replicas"])
	assert.Equal(t, []any{"1", "2"}, body["discrepant_replicas"])
	assert.Equal(t, []any{"3"}, body["non_responding_replicas"])
	assert.Len(t, body["responses"], 2)
	assert.Equal(t, "8.30s", body["wait_time"])
	assert.NotEmpty(t, body["error"])
}

func TestProcess_BadInput(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"empty object", "{}"},
		{"not json", "product_id=P001"},
		{"array", `[1,2]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &stubProcessor{}
			code, body := do(t, New(proc, nil).Handler(), "POST", "/process", tt.body)

			assert.Equal(t, http.StatusBadRequest, code)
			assert.NotEmpty(t, body["error"])
			assert.Equal(t, 0, proc.calls, "no dispatch on bad input")
		})
	}
}

func TestProcess_DispatchError(t *testing.T) {
	proc := &stubProcessor{
		res: &coordinator.Result{RequestID: "4"},
		err: errors.Join(dispatch.ErrDispatch, errors.New("broker unreachable")),
	}

	code, body := do(t, New(proc, nil).Handler(), "POST", "/process", `{"a":1}`)

	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "4", body["request_id"])
	assert.Contains(t, body["error"], "broker unreachable")
}

func TestHealth(t *testing.T) {
	s := New(&stubProcessor{}, nil)
	s.now = func() time.Time { return time.Unix(1700000000, 0) }

	code, body := do(t, s.Handler(), "GET", "/health", "")

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "validador", body["service"])
	assert.Equal(t, float64(1700000000), body["timestamp"])
}

type reportingProcessor struct {
	stubProcessor
	members []membership.Member
}

func (r *reportingProcessor) Replicas() []membership.Member { return r.members }

func (r *reportingProcessor) AliveReplicas() []string { return []string{"1"} }

func TestHealth_Replicas(t *testing.T) {
	proc := &reportingProcessor{members: []membership.Member{
		{ID: "1", Status: membership.Alive, LastSeen: time.Unix(1700000000, 0), Replies: 3},
		{ID: "2", Status: membership.Unknown},
	}}

	code, body := do(t, New(proc, nil).Handler(), "GET", "/health", "")

	assert.Equal(t, http.StatusOK, code)
	replicas, ok := body["replicas"].([]any)
	require.True(t, ok, "replicas missing: %v", body)
	require.Len(t, replicas, 2)
	first := replicas[0].(map[string]any)
	assert.Equal(t, "1", first["id"])
	assert.Equal(t, "alive", first["status"])
	assert.Equal(t, float64(3), first["replies"])
	assert.Equal(t, "unknown", replicas[1].(map[string]any)["status"])
	assert.Equal(t, []any{"1"}, body["alive_replicas"])
}

func TestHealth_NoReporter(t *testing.T) {
	_, body := do(t, New(&stubProcessor{}, nil).Handler(), "GET", "/health", "")
	assert.NotContains(t, body, "replicas")
	assert.NotContains(t, body, "alive_replicas")
}

func TestRoutes(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	h := New(&stubProcessor{}, metrics).Handler()

	code, _ := do(t, h, "GET", "/process", "")
	assert.Equal(t, http.StatusMethodNotAllowed, code)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, "ok", rec.Body.String())

	code, _ = do(t, New(&stubProcessor{}, nil).Handler(), "GET", "/metrics", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestFormatWait(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0.00s"},
		{304 * time.Millisecond, "0.30s"},
		{8 * time.Second, "8.00s"},
	}
	for _, tt := range tests {
		if got := FormatWait(tt.d); got != tt.want {
			t.Errorf("FormatWait(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
