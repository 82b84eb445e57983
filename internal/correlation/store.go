package correlation

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrExists is returned when registering an id that is still in flight.
	ErrExists = errors.New("request already registered")
	// ErrClosed is returned once the store has been closed.
	ErrClosed = errors.New("correlation store closed")
)

// Response is one replica's reply to a request.
type Response struct {
	ReplicaID  string
	Payload    map[string]any
	ReceivedAt time.Time
}

// AppendResult reports what happened to an appended reply.
type AppendResult int

const (
	// Accepted means the reply was stored.
	Accepted AppendResult = iota
	// Duplicate means this replica already answered the request.
	Duplicate
	// Late means the request is not in flight (resolved or never registered).
	Late
)

// String returns the string representation of AppendResult.
func (r AppendResult) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case Duplicate:
		return "duplicate"
	case Late:
		return "late"
	default:
		return "unknown"
	}
}

type entry struct {
	responses []Response
	seen      map[string]struct{}
	// closed and replaced on every append
	changed chan struct{}
}

// Store maps request id to the replies collected so far.
// Entries live from Register until Take or Discard.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]*entry),
	}
}

// Register creates an empty entry for id.
func (s *Store) Register(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if _, exists := s.entries[id]; exists {
		return ErrExists
	}
	s.entries[id] = &entry{
		seen:    make(map[string]struct{}),
		changed: make(chan struct{}),
	}
	return nil
}

// Append stores a reply for id. Replies for unknown ids are dropped as Late
// and a second reply from the same replica is dropped as Duplicate.
func (s *Store) Append(id string, resp Response) (AppendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Late, ErrClosed
	}
	e, exists := s.entries[id]
	if !exists {
		return Late, nil
	}
	if _, dup := e.seen[resp.ReplicaID]; dup {
		return Duplicate, nil
	}
	e.seen[resp.ReplicaID] = struct{}{}
	e.responses = append(e.responses, resp)
	close(e.changed)
	e.changed = make(chan struct{})
	return Accepted, nil
}

// Snapshot returns a copy of the replies for id and a channel that is
// closed on the next append. ok is false when id is no longer in flight.
func (s *Store) Snapshot(id string) (responses []Response, changed <-chan struct{}, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.entries[id]
	if !exists {
		return nil, nil, false
	}
	return append([]Response(nil), e.responses...), e.changed, true
}

// Take removes the entry for id and returns its replies.
func (s *Store) Take(id string) ([]Response, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.entries[id]
	if !exists {
		return nil, false
	}
	delete(s.entries, id)
	close(e.changed)
	return e.responses, true
}

// Discard removes the entry for id if it is still present.
func (s *Store) Discard(id string) bool {
	_, ok := s.Take(id)
	return ok
}

// Len returns the number of in-flight requests.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close rejects further registrations and appends. Existing entries stay
// readable so in-flight resolvers can finish.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}
