// Package cascade implements the cascade-state operator (spec.md C6):
// per-shard tracking of which users have already joined each cascade,
// and when.
package cascade

import (
	"encoding/binary"
	"sync"

	cuckoo "github.com/seiflotfy/cuckoofilter"

	"github.com/BMeu/crgp/internal/domain"
)

// State is the per-cascade projection a shard holds: S(cascade_id)
// promoted from a bare set to a map of entry timestamps, as spec.md
// §4.7 requires for the recency tie-break.
type State struct {
	Entries map[domain.UID]int64
}

// Outcome reports what Apply did with a Retweet.
type Outcome int

const (
	// Accepted means r.user newly joined S(cascade_id).
	Accepted Outcome = iota
	// Duplicate means r.user was already a member; r must not be
	// forwarded downstream on this shard (spec.md §3/§4.6).
	Duplicate
)

// Store is the per-worker CascadeStateMap. Per spec.md §4.4, it is
// fully replicated: every worker that ever observes a Retweet in a
// cascade carries that cascade's complete entry-timestamp map.
type Store struct {
	mu       sync.Mutex
	cascades map[domain.UID]*State

	// filter is a probabilistic pre-check: a negative answer is
	// authoritative and lets Apply skip the exact map lookup entirely;
	// a positive answer (which may be a false positive) still falls
	// through to the exact map, because duplicate suppression must be
	// exact (spec.md §3), never probabilistic.
	filter *cuckoo.Filter
	// saturated is set once an insert into filter fails: a full cuckoo
	// filter drops a fingerprint on failure, so from then on its
	// negative answers are no longer authoritative and Apply always
	// consults the exact map.
	saturated bool
}

// NewStore creates an empty cascade-state store.
func NewStore() *Store {
	return &Store{
		cascades: make(map[domain.UID]*State),
		filter:   cuckoo.NewFilter(1 << 20),
	}
}

// Apply advances cascade state for r. Callers must present every
// Retweet destined for this shard in ascending (timestamp, id) order,
// per spec.md §4.6's ordering rule: the exchange is FIFO and the
// driver pre-sorts each epoch's batch, so arrival order already equals
// sorted order.
func (s *Store) Apply(r domain.Retweet) (*State, Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.cascades[r.CascadeID]
	if !ok {
		cs = &State{Entries: map[domain.UID]int64{
			r.OriginalAuthor: domain.SeedEntryTimestamp,
		}}
		s.cascades[r.CascadeID] = cs
	}

	key := dedupKey(r.CascadeID, r.User)
	maybeSeen := s.saturated || s.filter.Lookup(key)
	if maybeSeen {
		if _, exists := cs.Entries[r.User]; exists {
			return cs, Duplicate
		}
		// False positive: the filter claimed "maybe seen" but the
		// exact map disagrees. Fall through and accept.
	}

	cs.Entries[r.User] = r.Timestamp
	if !maybeSeen && !s.filter.InsertUnique(key) {
		s.saturated = true
	}
	return cs, Accepted
}

// Snapshot returns the current state for cascadeID, or nil if the
// cascade has not been observed on this shard yet.
func (s *Store) Snapshot(cascadeID domain.UID) *State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cascades[cascadeID]
}

// Len reports how many distinct cascades this shard has observed.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cascades)
}

func dedupKey(cascade, user domain.UID) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[:8], uint64(cascade))
	binary.BigEndian.PutUint64(buf[8:], uint64(user))
	return buf
}
