package lobby

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/samber/lo"

	"mensageria_assinada/internal/identity"
)

var (
	ErrSuperseded = errors.New("superseded by a newer connection with the same key")
	ErrInvariant  = errors.New("lobby invariant violated")
)

// Session is the registry's view of an authenticated connection. The registry
// calls Snapshot, Changed and Close while holding its write lock, so
// implementations must not block and must not call back into the registry.
type Session interface {
	ID() string
	Deliver(frame []byte) bool
	Snapshot(users []identity.PublicKey)
	Changed(d Delta)
	Close(reason error)
}

// Delta carries only the keys that changed.
type Delta struct {
	Joined []identity.PublicKey
	Left   []identity.PublicKey
}

// Observer is told about every broadcast delta and the number of sessions it reached.
type Observer interface {
	DeltaBroadcast(d Delta, recipients int)
}

type Option func(*Registry)

func WithObserver(o Observer) Option {
	return func(r *Registry) {
		r.observer = o
	}
}

// Registry is the single source of truth for who is online: at most one
// session per public key. Mutations are serialized by one registry-wide lock.
type Registry struct {
	mu       sync.RWMutex
	entries  map[identity.PublicKey]Session
	owners   map[string]identity.PublicKey // session ID -> key
	observer Observer
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[identity.PublicKey]Session),
		owners:  make(map[string]identity.PublicKey),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add registers s under pk. A prior session for pk is replaced and closed with
// ErrSuperseded. The new session receives the full snapshot before any later
// delta; every other session receives the delta.
func (r *Registry) Add(pk identity.PublicKey, s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.owners[s.ID()]; ok {
		if owner == pk {
			return nil
		}
		return fmt.Errorf("%w: session %s already registered as %s", ErrInvariant, s.ID(), owner.Fingerprint())
	}

	prior, replaced := r.entries[pk]
	if replaced {
		delete(r.owners, prior.ID())
	}
	r.entries[pk] = s
	r.owners[s.ID()] = pk

	s.Snapshot(r.listLocked())

	d := Delta{Joined: []identity.PublicKey{pk}}
	if replaced {
		d.Left = []identity.PublicKey{pk}
	}
	r.broadcastLocked(d, s)

	if replaced {
		slog.Info("lobby entry replaced", "public_key", pk, "old_session", prior.ID(), "new_session", s.ID())
		prior.Close(ErrSuperseded)
	} else {
		slog.Info("user joined lobby", "public_key", pk, "session", s.ID(), "online", len(r.entries))
	}
	return nil
}

// Remove deletes the entry for pk. Removing an absent key is a no-op.
func (r *Registry) Remove(pk identity.PublicKey) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.entries[pk]
	if !ok {
		return
	}
	r.removeLocked(pk, s)
}

// Release removes pk only while s still owns it, so a superseded connection
// closing late cannot evict its replacement. It reports whether an entry was removed.
func (r *Registry) Release(pk identity.PublicKey, s Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.entries[pk]
	if !ok || current.ID() != s.ID() {
		return false
	}
	r.removeLocked(pk, current)
	return true
}

func (r *Registry) Get(pk identity.PublicKey) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.entries[pk]
	return s, ok
}

// List returns the online keys in ascending byte order.
func (r *Registry) List() []identity.PublicKey {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.listLocked()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}

func (r *Registry) removeLocked(pk identity.PublicKey, s Session) {
	delete(r.entries, pk)
	delete(r.owners, s.ID())
	r.broadcastLocked(Delta{Left: []identity.PublicKey{pk}}, nil)
	slog.Info("user left lobby", "public_key", pk, "session", s.ID(), "online", len(r.entries))
}

func (r *Registry) listLocked() []identity.PublicKey {
	keys := lo.Keys(r.entries)
	slices.SortFunc(keys, func(a, b identity.PublicKey) int {
		return bytes.Compare(a[:], b[:])
	})
	return keys
}

func (r *Registry) broadcastLocked(d Delta, except Session) {
	recipients := 0
	for _, s := range r.entries {
		if except != nil && s.ID() == except.ID() {
			continue
		}
		s.Changed(d)
		recipients++
	}
	if r.observer != nil {
		r.observer.DeltaBroadcast(d, recipients)
	}
}
