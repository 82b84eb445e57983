package quorum

import (
	"strconv"

	"validator/internal/correlation"
)

// DefaultThreshold is the number of distinct replicas that must agree.
const DefaultThreshold = 2

// Decision is the outcome of tallying a set of replies.
type Decision struct {
	Reached bool
	// Count is the number of distinct replicas behind the most frequent form.
	Count int
	// Index is the lowest index of a reply with the winning form, -1 if none.
	Index      int
	Agreeing   []string
	Discrepant []string
}

// Tally groups replies by canonical form and checks the most frequent one
// against threshold. Ties go to the form observed first.
func Tally(responses []correlation.Response, canon *Canonicalizer, threshold int) Decision {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if len(responses) == 0 {
		return Decision{Index: -1}
	}

	type group struct {
		first    int
		replicas []string
	}

	keys := make([]string, len(responses))
	groups := make(map[string]*group)
	order := make([]string, 0, len(responses))
	counted := make(map[string]map[string]struct{})

	for i, r := range responses {
		key, err := canon.Key(r.Payload)
		if err != nil {
			// an unencodable reply can never agree with anything
			key = "\x00invalid:" + strconv.Itoa(i)
		}
		keys[i] = key

		g, exists := groups[key]
		if !exists {
			g = &group{first: i}
			groups[key] = g
			order = append(order, key)
			counted[key] = make(map[string]struct{})
		}
		if _, dup := counted[key][r.ReplicaID]; dup {
			continue
		}
		counted[key][r.ReplicaID] = struct{}{}
		g.replicas = append(g.replicas, r.ReplicaID)
	}

	var best *group
	var bestKey string
	for _, key := range order {
		g := groups[key]
		if best == nil || len(g.replicas) > len(best.replicas) {
			best = g
			bestKey = key
		}
	}

	d := Decision{
		Count: len(best.replicas),
		Index: best.first,
	}
	d.Reached = d.Count >= threshold

	if d.Reached {
		d.Agreeing = append([]string(nil), best.replicas...)
	}
	seen := make(map[string]struct{}, len(responses))
	for i, r := range responses {
		if d.Reached && keys[i] == bestKey {
			continue
		}
		if _, dup := seen[r.ReplicaID]; dup {
			continue
		}
		seen[r.ReplicaID] = struct{}{}
		d.Discrepant = append(d.Discrepant, r.ReplicaID)
	}
	if !d.Reached {
		d.Index = -1
	}
	return d
}

// NonResponding returns targets that have no reply, in target order.
func NonResponding(targets []string, responses []correlation.Response) []string {
	answered := make(map[string]struct{}, len(responses))
	for _, r := range responses {
		answered[r.ReplicaID] = struct{}{}
	}
	var missing []string
	for _, t := range targets {
		if _, ok := answered[t]; !ok {
			missing = append(missing, t)
		}
	}
	return missing
}
