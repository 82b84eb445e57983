// Package node exposes the coordinator over gRPC: a unary Process call
// carrying google.protobuf.Struct payloads, the standard health service and
// server reflection.
package node
