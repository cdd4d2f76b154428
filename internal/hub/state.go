package hub

import (
	"sync/atomic"

	"mensageria_assinada/internal/identity"
)

// State of a connection. Connecting -> Authenticated -> Closed, or
// Connecting -> Failed. Only Authenticated carries message traffic.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type connState struct {
	value     atomic.Int32
	publicKey atomic.Pointer[identity.PublicKey]
	reason    atomic.Pointer[string]
}

func (s *connState) Load() State {
	return State(s.value.Load())
}

// authenticate moves Connecting -> Authenticated. It fails for any other
// current state, so a session can never authenticate twice.
func (s *connState) authenticate(pk identity.PublicKey) bool {
	if s.Load() != StateConnecting {
		return false
	}
	// Published before the transition so readers that observe Authenticated see the key.
	s.publicKey.Store(&pk)
	if !s.value.CompareAndSwap(int32(StateConnecting), int32(StateAuthenticated)) {
		s.publicKey.Store(nil)
		return false
	}
	return true
}

func (s *connState) fail(reason string) bool {
	if !s.value.CompareAndSwap(int32(StateConnecting), int32(StateFailed)) {
		return false
	}
	s.reason.Store(&reason)
	return true
}

// close moves Connecting or Authenticated to Closed; Failed stays terminal.
func (s *connState) close() {
	for {
		current := s.value.Load()
		if State(current) == StateFailed || State(current) == StateClosed {
			return
		}
		if s.value.CompareAndSwap(current, int32(StateClosed)) {
			return
		}
	}
}

// identity returns the key the connection authenticated with, if it ever did.
func (s *connState) identity() (identity.PublicKey, bool) {
	pk := s.publicKey.Load()
	if pk == nil {
		return identity.PublicKey{}, false
	}
	return *pk, true
}

func (s *connState) failure() string {
	r := s.reason.Load()
	if r == nil {
		return ""
	}
	return *r
}
