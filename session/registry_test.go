package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	pin    string
	closed int
}

func (f *fakeSession) Pin() string { return f.pin }
func (f *fakeSession) Close()      { f.closed++ }

func newFake(pin string) Session { return &fakeSession{pin: pin} }

func TestRegistry_AllocateUniquePins(t *testing.T) {
	r := NewRegistry()

	seen := map[string]bool{}
	for range 200 {
		s, err := r.Allocate(newFake)
		require.NoError(t, err)
		require.Len(t, s.Pin(), 4)
		assert.False(t, seen[s.Pin()], "pin %s allocated twice", s.Pin())
		seen[s.Pin()] = true
	}
	assert.Equal(t, 200, r.Len())
}

func TestRegistry_AllocateRetriesOnCollision(t *testing.T) {
	r := NewRegistry()
	// Always propose 1234 first, then 5678.
	calls := 0
	r.randInt = func(n int) int {
		calls++
		if calls%2 == 1 {
			return 234
		}
		return 4678
	}

	s1, err := r.Allocate(newFake)
	require.NoError(t, err)
	assert.Equal(t, "1234", s1.Pin())

	s2, err := r.Allocate(newFake)
	require.NoError(t, err)
	assert.Equal(t, "5678", s2.Pin())
}

func TestRegistry_AllocateExhausted(t *testing.T) {
	r := NewRegistry()
	r.randInt = func(n int) int { return 0 }

	_, err := r.Allocate(newFake)
	require.NoError(t, err)

	_, err = r.Allocate(newFake)
	assert.ErrorIs(t, err, ErrPinSpace)
}

func TestRegistry_DeleteClosesOnceAndFreesPin(t *testing.T) {
	r := NewRegistry()
	r.randInt = func(n int) int { return 500 }

	s, err := r.Allocate(newFake)
	require.NoError(t, err)
	pin := s.Pin()

	r.Delete(pin)
	r.Delete(pin) // no-op
	assert.Equal(t, 1, s.(*fakeSession).closed)

	_, ok := r.Get(pin)
	assert.False(t, ok)

	// Freed pin is eligible for reuse.
	s2, err := r.Allocate(newFake)
	require.NoError(t, err)
	assert.Equal(t, pin, s2.Pin())
}

func TestRegistry_Each(t *testing.T) {
	r := NewRegistry()
	for range 3 {
		_, err := r.Allocate(newFake)
		require.NoError(t, err)
	}

	visited := 0
	r.Each(func(Session) bool {
		visited++
		return visited < 2
	})
	assert.Equal(t, 2, visited)
}
