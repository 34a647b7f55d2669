package swi

import "sync"

// Snapshot is a point-in-time copy of the runtime state.
type Snapshot struct {
	Running bool  `json:"running"`
	Value   uint8 `json:"value"`
}

// State is the process-wide runtime state driven by commands.
// All mutation goes through Apply; readers use Snapshot.
type State struct {
	mu  sync.RWMutex
	cur Snapshot
}

func NewState(initial Snapshot) *State {
	return &State{cur: initial}
}

func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Apply applies cmd and returns the state before and after it.
func (s *State) Apply(cmd Command) (before, after Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before = s.cur
	switch cmd.Kind {
	case CommandStart:
		s.cur.Running = true
	case CommandStop:
		s.cur.Running = false
	case CommandSet:
		s.cur.Value = cmd.Value
	}
	return before, s.cur
}
