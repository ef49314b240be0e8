package conversation

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestStatesDefaultWhenMissing(t *testing.T) {
	s := NewStates()
	if got := s.Get(10); got != Default {
		t.Fatalf("expected Default, got %v", got)
	}
}

func TestTransitionErrorKeepsState(t *testing.T) {
	s := NewStates()
	_ = s.Transition(1, func(State) (State, error) { return AwaitingBehaviorInput, nil })

	boom := errors.New("boom")
	err := s.Transition(1, func(State) (State, error) { return Default, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if got := s.Get(1); got != AwaitingBehaviorInput {
		t.Fatalf("expected state to stay awaiting, got %v", got)
	}
}

func TestDefaultIsNotStored(t *testing.T) {
	s := NewStates()
	_ = s.Transition(1, func(State) (State, error) { return AwaitingBehaviorInput, nil })
	_ = s.Transition(2, func(State) (State, error) { return AwaitingBehaviorInput, nil })
	_ = s.Transition(1, func(State) (State, error) { return Default, nil })
	if s.Len() != 1 {
		t.Fatalf("expected one tracked chat, got %d", s.Len())
	}
}

func TestTransitionIsExclusivePerChat(t *testing.T) {
	s := NewStates()
	var inside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Transition(77, func(st State) (State, error) {
				if inside.Add(1) != 1 {
					t.Errorf("two transitions for the same chat overlapped")
				}
				defer inside.Add(-1)
				if st == Default {
					return AwaitingBehaviorInput, nil
				}
				return Default, nil
			})
		}()
	}
	wg.Wait()
	// 50 toggles starting from Default end in Default.
	if got := s.Get(77); got != Default {
		t.Fatalf("lost a transition, ended in %v", got)
	}
}

func TestStateString(t *testing.T) {
	if AwaitingBehaviorInput.String() != "awaiting_behavior_input" || Default.String() != "default" {
		t.Fatalf("unexpected state names")
	}
}
