package node

import (
	"google.golang.org/protobuf/types/known/structpb"

	"validator/internal/coordinator"
)

// anySlice converts to the []any form structpb accepts.
func anySlice(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

func successStruct(res *coordinator.Result) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"request_id": res.RequestID,
		"targets":    anySlice(res.Targets),
		"response":   res.Verdict.Value.Payload,
		"wait_time":  res.WaitTime.Seconds(),
	})
}

func failureStruct(res *coordinator.Result) (*structpb.Struct, error) {
	v := res.Verdict
	responses := make([]any, 0, len(v.Responses))
	for _, r := range v.Responses {
		responses = append(responses, r.Payload)
	}
	return structpb.NewStruct(map[string]any{
		"request_id":              res.RequestID,
		"state":                   v.State.String(),
		"responses":               responses,
		"failed_replicas":         anySlice(v.Failed()),
		"discrepant_replicas":     anySlice(v.Discrepant),
		"non_responding_replicas": anySlice(v.NonResponding),
		"wait_time":               res.WaitTime.Seconds(),
	})
}
