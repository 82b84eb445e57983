// Package dispatch publishes a request to its target replicas.
package dispatch
