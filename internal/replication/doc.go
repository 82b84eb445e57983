// Package replication decides which replicas receive a request.
package replication
