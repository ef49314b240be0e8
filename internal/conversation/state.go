package conversation

import "sync"

type State int

const (
	Default State = iota
	AwaitingBehaviorInput
)

func (s State) String() string {
	switch s {
	case AwaitingBehaviorInput:
		return "awaiting_behavior_input"
	default:
		return "default"
	}
}

const stripeCount = 64

// States is the in-memory per-chat state map. A missing key is Default.
// Entries are lost on restart.
type States struct {
	mu      sync.RWMutex
	m       map[int64]State
	stripes [stripeCount]sync.Mutex
}

func NewStates() *States {
	return &States{m: make(map[int64]State)}
}

func (s *States) Get(id int64) State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.m[id]
}

// Transition runs fn with the chat's current state while holding the chat's
// stripe lock, and stores the returned state only when fn returns nil.
func (s *States) Transition(id int64, fn func(State) (State, error)) error {
	stripe := s.stripe(id)
	stripe.Lock()
	defer stripe.Unlock()

	next, err := fn(s.Get(id))
	if err != nil {
		return err
	}
	s.set(id, next)
	return nil
}

func (s *States) set(id int64, st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st == Default {
		delete(s.m, id)
		return
	}
	s.m[id] = st
}

func (s *States) stripe(id int64) *sync.Mutex {
	return &s.stripes[uint64(id)%stripeCount]
}

// Len reports how many chats are in a non-default state.
func (s *States) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}
