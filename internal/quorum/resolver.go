package quorum

import (
	"context"
	"time"

	"validator/internal/correlation"
)

// State is the lifecycle state of a request.
type State int

const (
	Pending State = iota
	ConsensusReached
	NoConsensus
	TimedOut
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case ConsensusReached:
		return "consensus_reached"
	case NoConsensus:
		return "no_consensus"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Verdict is the terminal outcome of resolving one request.
type Verdict struct {
	RequestID string
	State     State
	// Value is the chosen reply when State is ConsensusReached.
	Value         *correlation.Response
	Agreeing      []string
	Responses     []correlation.Response
	Discrepant    []string
	NonResponding []string
	Targets       []string
	Elapsed       time.Duration
}

// Success reports whether consensus was reached.
func (v Verdict) Success() bool {
	return v.State == ConsensusReached
}

// Failed returns non-responding replicas followed by discrepant ones.
func (v Verdict) Failed() []string {
	failed := make([]string, 0, len(v.NonResponding)+len(v.Discrepant))
	failed = append(failed, v.NonResponding...)
	return append(failed, v.Discrepant...)
}

// Options tune the resolver loop.
type Options struct {
	Grace        time.Duration
	Timeout      time.Duration
	PollInterval time.Duration
	Threshold    int
}

// Resolver waits for replies to a request and decides its verdict.
type Resolver struct {
	store *correlation.Store
	canon *Canonicalizer
	opts  Options
}

// NewResolver creates a resolver reading from store.
func NewResolver(store *correlation.Store, canon *Canonicalizer, opts Options) *Resolver {
	if opts.Timeout <= 0 {
		opts.Timeout = 8 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	return &Resolver{
		store: store,
		canon: canon,
		opts:  opts,
	}
}

// Resolve waits until a quorum agrees, every target has answered, the
// deadline passes or ctx is done, then removes the request from the store
// and returns the verdict. The deadline starts after the grace delay.
func (r *Resolver) Resolve(ctx context.Context, id string, targets []string) Verdict {
	if r.opts.Grace > 0 {
		grace := time.NewTimer(r.opts.Grace)
		select {
		case <-grace.C:
		case <-ctx.Done():
			grace.Stop()
		}
	}

	start := time.Now()
	deadline := time.NewTimer(r.opts.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	var last []correlation.Response
wait:
	for ctx.Err() == nil {
		responses, changed, ok := r.store.Snapshot(id)
		if !ok {
			break
		}
		last = responses

		if Tally(responses, r.canon, r.opts.Threshold).Reached {
			break
		}
		if len(NonResponding(targets, responses)) == 0 {
			break
		}

		select {
		case <-changed:
		case <-ticker.C:
		case <-deadline.C:
			break wait
		case <-ctx.Done():
			break wait
		}
	}

	final, ok := r.store.Take(id)
	if !ok {
		final = last
	}
	v := r.verdict(id, targets, final)
	v.Elapsed = time.Since(start)
	return v
}

// verdict computes the verdict for a final set of replies.
func (r *Resolver) verdict(id string, targets []string, responses []correlation.Response) Verdict {
	d := Tally(responses, r.canon, r.opts.Threshold)
	v := Verdict{
		RequestID:     id,
		Responses:     responses,
		Targets:       targets,
		Discrepant:    d.Discrepant,
		NonResponding: NonResponding(targets, responses),
	}
	switch {
	case d.Reached:
		v.State = ConsensusReached
		chosen := responses[d.Index]
		v.Value = &chosen
		v.Agreeing = d.Agreeing
	case len(v.NonResponding) == 0:
		v.State = NoConsensus
	default:
		v.State = TimedOut
	}
	return v
}
