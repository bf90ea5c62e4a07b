package counter

import (
	"sort"
	"sync"

	xxhash "github.com/cespare/xxhash/v2"
)

// DefaultShardCount is used when NewStore is given a non-positive count.
const DefaultShardCount = 16

type (
	// Store is the process-wide keyed map of counter states.
	//
	// Keys are spread over shards by xxhash. Each shard has one mutex that is
	// held for the whole read-modify-write of Update, so two callers working on
	// the same key are serialized while unrelated keys rarely contend.
	Store struct {
		shards []*stateShard
		mask   uint64
	}

	// stateShard holds the states of the keys hashed to it.
	stateShard struct {
		mu     sync.Mutex
		states map[string]State
	}

	// UpdateFunc mutates st in place. created is true when the slot did not
	// exist before this call. Returning an error discards the mutation.
	UpdateFunc func(st *State, created bool) error
)

// NewStore creates an empty store. shardCount is rounded up to a power of two.
func NewStore(shardCount int) *Store {
	if shardCount <= 0 {
		shardCount = DefaultShardCount
	}
	n := 1
	for n < shardCount {
		n <<= 1
	}

	shards := make([]*stateShard, n)
	for i := range shards {
		shards[i] = &stateShard{states: make(map[string]State)}
	}

	return &Store{shards: shards, mask: uint64(n - 1)}
}

// shardFor returns the shard owning key.
func (s *Store) shardFor(key string) *stateShard {
	if len(s.shards) == 1 {
		return s.shards[0]
	}
	return s.shards[xxhash.Sum64String(key)&s.mask]
}

// Update runs fn on the state stored under key while holding the key's shard
// lock. A missing slot starts from init. The state is committed only when fn
// returns nil; the committed state is returned.
func (s *Store) Update(key string, init State, fn UpdateFunc) (State, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	st, ok := sh.states[key]
	if !ok {
		st = init
	}

	if err := fn(&st, !ok); err != nil {
		return State{}, err
	}

	sh.states[key] = st
	return st, nil
}

// Get returns the state stored under key.
func (s *Store) Get(key string) (State, bool) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	st, ok := sh.states[key]
	return st, ok
}

// Delete removes key and reports whether it existed.
func (s *Store) Delete(key string) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, ok := sh.states[key]; !ok {
		return false
	}
	delete(sh.states, key)
	return true
}

// Len returns the number of keys across all shards.
func (s *Store) Len() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		total += len(sh.states)
		sh.mu.Unlock()
	}
	return total
}

// Keys returns all keys in sorted order.
func (s *Store) Keys() []string {
	keys := make([]string, 0)
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k := range sh.states {
			keys = append(keys, k)
		}
		sh.mu.Unlock()
	}
	sort.Strings(keys)
	return keys
}

// Entries copies every state. Each shard is copied under its own lock, so the
// result is consistent per key but not a global point-in-time view.
func (s *Store) Entries() map[string]State {
	out := make(map[string]State)
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, v := range sh.states {
			out[k] = v
		}
		sh.mu.Unlock()
	}
	return out
}

// Replace swaps the whole store content for entries.
func (s *Store) Replace(entries map[string]State) {
	for _, sh := range s.shards {
		sh.mu.Lock()
	}
	defer func() {
		for _, sh := range s.shards {
			sh.mu.Unlock()
		}
	}()

	for _, sh := range s.shards {
		sh.states = make(map[string]State)
	}
	for k, v := range entries {
		s.shardFor(k).states[k] = v
	}
}
