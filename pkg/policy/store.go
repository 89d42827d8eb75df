package policy

import (
	"sync/atomic"
	"time"
)

// InitialRound is the round number of the policy a client starts with.
const InitialRound uint64 = 1

// Snapshot is an immutable policy version. Readers must not mutate it.
type Snapshot struct {
	Round     uint64    `json:"round"`
	Policy    Policy    `json:"policy"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store publishes policy snapshots with copy-on-write semantics. A reader
// that loaded a snapshot keeps using it even after a newer one is swapped in.
type Store struct {
	current atomic.Pointer[Snapshot]
}

func NewStore(p Policy) *Store {
	s := &Store{}
	s.current.Store(&Snapshot{
		Round:     InitialRound,
		Policy:    p.Clone(),
		UpdatedAt: time.Now(),
	})

	return s
}

func (s *Store) Load() *Snapshot {
	return s.current.Load()
}

func (s *Store) Round() uint64 {
	return s.current.Load().Round
}

// Swap installs p as the policy for round. It reports false and leaves the
// store untouched when round is not newer than the current one.
func (s *Store) Swap(round uint64, p Policy) bool {
	next := &Snapshot{
		Round:     round,
		Policy:    p.Clone(),
		UpdatedAt: time.Now(),
	}

	for {
		cur := s.current.Load()
		if round <= cur.Round {
			return false
		}
		if s.current.CompareAndSwap(cur, next) {
			return true
		}
	}
}
