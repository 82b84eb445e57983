// Package ingest drains replica replies from the broker into the
// correlation store.
package ingest
