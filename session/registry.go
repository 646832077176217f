// Package session holds the pieces shared by all three game managers: the
// pin-keyed registry of live sessions and the phase scheduler that collects
// one input per participant and resolves exactly once per phase.
package session

import (
	"math/rand/v2"
	"sync"
)

const pinAttempts = 100

// Session is what the registry keeps per pin. Close must release every
// pending timer the session owns; the registry calls it exactly once.
type Session interface {
	Pin() string
	Close()
}

type Registry struct {
	locker   sync.RWMutex
	sessions map[string]Session

	// seam for deterministic tests
	randInt func(n int) int
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]Session),
		randInt:  rand.IntN,
	}
}

// Allocate picks an unused 4-digit pin and stores the session built for it.
// The build callback runs while the registry lock is held so the pin cannot
// be taken by a concurrent create.
func (r *Registry) Allocate(build func(pin string) Session) (Session, error) {
	r.locker.Lock()
	defer r.locker.Unlock()

	for range pinAttempts {
		pin := pinDigits(r.randInt)
		if _, taken := r.sessions[pin]; taken {
			continue
		}
		s := build(pin)
		r.sessions[pin] = s
		return s, nil
	}
	return nil, ErrPinSpace
}

func (r *Registry) Get(pin string) (Session, bool) {
	r.locker.RLock()
	defer r.locker.RUnlock()
	s, ok := r.sessions[pin]
	return s, ok
}

// Delete removes the session and closes it, freeing its pin for reuse.
// Deleting an unknown pin is a no-op.
func (r *Registry) Delete(pin string) {
	r.locker.Lock()
	s, ok := r.sessions[pin]
	if ok {
		delete(r.sessions, pin)
	}
	r.locker.Unlock()

	if ok {
		s.Close()
	}
}

// Each visits live sessions until the visitor returns false. Used by the
// disconnect sweep to find which session a connection belonged to.
func (r *Registry) Each(visit func(Session) bool) {
	r.locker.RLock()
	snapshot := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	r.locker.RUnlock()

	for _, s := range snapshot {
		if !visit(s) {
			return
		}
	}
}

func (r *Registry) Len() int {
	r.locker.RLock()
	defer r.locker.RUnlock()
	return len(r.sessions)
}

func pinDigits(randInt func(n int) int) string {
	n := 1000 + randInt(9000)
	return string([]byte{
		byte('0' + n/1000),
		byte('0' + n/100%10),
		byte('0' + n/10%10),
		byte('0' + n%10),
	})
}
