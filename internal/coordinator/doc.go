// Package coordinator ties dispatch, reply ingestion and the quorum vote
// into one request lifecycle.
package coordinator
