// Package it runs a whole validator deployment in-process: the coordinator,
// its HTTP and gRPC ingress, and replica workers over the in-memory broker.
package it
