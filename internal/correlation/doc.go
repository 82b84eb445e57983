// Package correlation holds the replies received so far for every
// in-flight request. It is the only state shared between the reply
// ingestor and the per-request resolvers.
package correlation
