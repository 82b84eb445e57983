// Package replica implements the inventory worker that answers dispatched
// requests. Several workers with their own stores form the replica set the
// coordinator votes over.
package replica
