package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"validator/internal/coordinator"
	"validator/internal/logger"
	"validator/internal/membership"
	"validator/internal/quorum"
)

var log = logger.NewNamed("httpapi")

// maxBody bounds a request payload.
const maxBody = 1 << 20

// Processor is the part of the coordinator the HTTP layer needs.
type Processor interface {
	Process(ctx context.Context, payload map[string]any) (*coordinator.Result, error)
}

// ReplicaReporter is implemented by processors that track replica liveness.
type ReplicaReporter interface {
	Replicas() []membership.Member
	AliveReplicas() []string
}

// Server serves /process, /health and optionally /metrics.
type Server struct {
	proc    Processor
	metrics http.Handler
	now     func() time.Time
}

// New creates a server. metrics may be nil.
func New(proc Processor, metrics http.Handler) *Server {
	return &Server{proc: proc, metrics: metrics, now: time.Now}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /process", s.handleProcess)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

type successBody struct {
	RequestID string         `json:"request_id"`
	Targets   []string       `json:"targets"`
	Response  map[string]any `json:"response"`
	WaitTime  string         `json:"wait_time"`
}

type failureBody struct {
	Error                 string           `json:"error"`
	RequestID             string           `json:"request_id"`
	Responses             []map[string]any `json:"responses"`
	FailedReplicas        []string         `json:"failed_replicas"`
	DiscrepantReplicas    []string         `json:"discrepant_replicas"`
	NonRespondingReplicas []string         `json:"non_responding_replicas"`
	WaitTime              string           `json:"wait_time"`
}

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	payload, err := decodePayload(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	res, err := s.proc.Process(r.Context(), payload)
	switch {
	case errors.Is(err, coordinator.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	case err != nil:
		body := errorBody{Error: err.Error()}
		if res != nil {
			body.RequestID = res.RequestID
		}
		writeJSON(w, http.StatusInternalServerError, body)
		return
	}

	v := res.Verdict
	if v.Success() {
		writeJSON(w, http.StatusOK, successBody{
			RequestID: res.RequestID,
			Targets:   res.Targets,
			Response:  v.Value.Payload,
			WaitTime:  FormatWait(res.WaitTime),
		})
		return
	}

	responses := make([]map[string]any, 0, len(v.Responses))
	for _, resp := range v.Responses {
		responses = append(responses, resp.Payload)
	}
	writeJSON(w, http.StatusInternalServerError, failureBody{
		Error:                 failureMessage(v.State),
		RequestID:             res.RequestID,
		Responses:             responses,
		FailedReplicas:        nonNil(v.Failed()),
		DiscrepantReplicas:    nonNil(v.Discrepant),
		NonRespondingReplicas: nonNil(v.NonResponding),
		WaitTime:              FormatWait(res.WaitTime),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":    "healthy",
		"service":   "validador",
		"timestamp": float64(s.now().UnixNano()) / 1e9,
	}
	if rr, ok := s.proc.(ReplicaReporter); ok {
		body["replicas"] = rr.Replicas()
		body["alive_replicas"] = nonNil(rr.AliveReplicas())
	}
	writeJSON(w, http.StatusOK, body)
}

// decodePayload reads a non-empty JSON object.
func decodePayload(body io.Reader) (map[string]any, error) {
	var payload map[string]any
	dec := json.NewDecoder(io.LimitReader(body, maxBody))
	if err := dec.Decode(&payload); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, coordinator.ErrInvalidInput
		}
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if len(payload) == 0 {
		return nil, coordinator.ErrInvalidInput
	}
	return payload, nil
}

func failureMessage(state quorum.State) string {
	switch state {
	case quorum.NoConsensus:
		return "no consensus among replicas"
	case quorum.TimedOut:
		return "timed out waiting for replica quorum"
	default:
		return "request failed: " + state.String()
	}
}

// FormatWait renders a duration as seconds with two decimals.
func FormatWait(d time.Duration) string {
	return fmt.Sprintf("%.2fs", d.Seconds())
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("write response", zap.Error(err))
	}
}
