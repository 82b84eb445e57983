package quorum

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Canonicalizer turns a reply payload into a comparable key.
type Canonicalizer struct {
	volatile map[string]struct{}
}

// NewCanonicalizer creates a canonicalizer that ignores the given fields
// at any depth of the payload.
func NewCanonicalizer(volatileFields []string) *Canonicalizer {
	v := make(map[string]struct{}, len(volatileFields))
	for _, f := range volatileFields {
		v[f] = struct{}{}
	}
	return &Canonicalizer{volatile: v}
}

// Key returns the canonical form of payload. Payloads that differ only in
// volatile fields produce the same key.
func (c *Canonicalizer) Key(payload map[string]any) (string, error) {
	stripped, _ := c.strip(payload).(map[string]any)
	st, err := structpb.NewStruct(stripped)
	if err != nil {
		return "", fmt.Errorf("canonical form: %w", err)
	}
	b, err := proto.MarshalOptions{Deterministic: true}.Marshal(st)
	if err != nil {
		return "", fmt.Errorf("canonical form: %w", err)
	}
	return string(b), nil
}

// Strip returns a copy of payload without volatile fields.
func (c *Canonicalizer) Strip(payload map[string]any) map[string]any {
	m, _ := c.strip(payload).(map[string]any)
	return m
}

func (c *Canonicalizer) strip(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if _, skip := c.volatile[k]; skip {
				continue
			}
			out[k] = c.strip(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = c.strip(val)
		}
		return out
	default:
		return v
	}
}
