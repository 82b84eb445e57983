// Package membership tracks replica liveness from the replies the
// coordinator receives. It never probes; a replica is as alive as its
// last reply.
package membership
