// Package quorum decides a single answer from divergent replica replies.
// It canonicalises replies, tallies agreement and runs the deadline-bounded
// wait that resolves a request.
package quorum
