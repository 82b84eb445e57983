package membership

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"validator/internal/logger"
)

var log = logger.NewNamed("membership")

// Status represents the liveness of a replica.
type Status int

const (
	Unknown Status = iota
	Alive
	Suspect
	Dead
)

// String returns the string representation of Status.
func (s Status) String() string {
	switch s {
	case Alive:
		return "alive"
	case Suspect:
		return "suspect"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// MarshalText renders the status by name in JSON.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Member is a point-in-time view of one replica.
type Member struct {
	ID       string    `json:"id"`
	Status   Status    `json:"status"`
	LastSeen time.Time `json:"last_seen,omitzero"`
	Replies  uint64    `json:"replies"`
}

type member struct {
	lastSeen time.Time
	replies  uint64
}

// Membership holds the last reply time of every known replica.
// Status is derived on read from the age of the last reply.
type Membership struct {
	mu      sync.RWMutex
	members map[string]*member

	suspectTimeout time.Duration
	deadTimeout    time.Duration
	now            func() time.Time
}

// New creates a tracker for ids. Replies from ids not listed here are
// tracked too, from their first reply on.
func New(ids []string, suspectTimeout, deadTimeout time.Duration) *Membership {
	if suspectTimeout <= 0 {
		suspectTimeout = 30 * time.Second
	}
	if deadTimeout < suspectTimeout {
		deadTimeout = 4 * suspectTimeout
	}
	m := &Membership{
		members:        make(map[string]*member, len(ids)),
		suspectTimeout: suspectTimeout,
		deadTimeout:    deadTimeout,
		now:            time.Now,
	}
	for _, id := range ids {
		m.members[id] = &member{}
	}
	return m
}

// Observe records a reply from id received at at.
func (m *Membership) Observe(id string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mb, ok := m.members[id]
	if !ok {
		mb = &member{}
		m.members[id] = mb
	}
	prev := m.status(mb)
	mb.replies++
	if at.After(mb.lastSeen) {
		mb.lastSeen = at
	}
	if prev != Alive && m.status(mb) == Alive {
		log.Info("replica alive", zap.String("replica", id), zap.Stringer("was", prev))
	}
}

// Status returns the current status of id.
func (m *Membership) Status(id string) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mb, ok := m.members[id]
	if !ok {
		return Unknown
	}
	return m.status(mb)
}

func (m *Membership) status(mb *member) Status {
	if mb.lastSeen.IsZero() {
		return Unknown
	}
	elapsed := m.now().Sub(mb.lastSeen)
	switch {
	case elapsed > m.deadTimeout:
		return Dead
	case elapsed > m.suspectTimeout:
		return Suspect
	default:
		return Alive
	}
}

// Snapshot returns every known replica ordered by id.
func (m *Membership) Snapshot() []Member {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Member, 0, len(m.members))
	for id, mb := range m.members {
		out = append(out, Member{
			ID:       id,
			Status:   m.status(mb),
			LastSeen: mb.lastSeen,
			Replies:  mb.replies,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Alive returns the ids of replicas currently considered alive.
func (m *Membership) Alive() []string {
	var ids []string
	for _, mb := range m.Snapshot() {
		if mb.Status == Alive {
			ids = append(ids, mb.ID)
		}
	}
	return ids
}
