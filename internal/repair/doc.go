// Package repair pushes the consensus value back to replicas that answered
// differently, so they converge on the next read.
package repair
