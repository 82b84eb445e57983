package replication

import (
	"fmt"

	"validator/internal/config"
)

// Rule sends payloads carrying Field to Replicas.
type Rule struct {
	Field    string
	Replicas []string
}

// Policy is the fan-out preference list keyed by payload shape.
// It is a pure function of which fields are present; values are ignored.
type Policy struct {
	rules    []Rule
	fallback []string
}

// NewPolicy builds a policy from configuration. Every replica id must be
// known to routes.
func NewPolicy(t config.Targets, routes map[string]string) (*Policy, error) {
	p := &Policy{fallback: append([]string(nil), t.Default...)}
	for _, r := range t.Rules {
		if err := checkKnown(r.Replicas, routes); err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Field, err)
		}
		p.rules = append(p.rules, Rule{Field: r.Field, Replicas: append([]string(nil), r.Replicas...)})
	}
	if err := checkKnown(p.fallback, routes); err != nil {
		return nil, fmt.Errorf("default targets: %w", err)
	}
	return p, nil
}

func checkKnown(ids []string, routes map[string]string) error {
	if len(ids) == 0 {
		return fmt.Errorf("no replicas")
	}
	for _, id := range ids {
		if _, ok := routes[id]; !ok {
			return fmt.Errorf("unknown replica %q", id)
		}
	}
	return nil
}

// GetReplicasForPayload returns the ordered target list for payload.
// The first rule whose field is present wins.
func (p *Policy) GetReplicasForPayload(payload map[string]any) []string {
	for _, r := range p.rules {
		if _, ok := payload[r.Field]; ok {
			return append([]string(nil), r.Replicas...)
		}
	}
	return append([]string(nil), p.fallback...)
}
