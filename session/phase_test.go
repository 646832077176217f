package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhase_SingleSubmitIdempotence(t *testing.T) {
	p := NewPhase[string]()
	p.Begin(time.Hour, func(uint64) {})
	defer p.Cancel()

	require.NoError(t, p.Submit("a", "A"))
	err := p.Submit("a", "B")
	assert.ErrorIs(t, err, ErrAlreadySubmitted)

	first, ok := p.First("a")
	require.True(t, ok)
	assert.Equal(t, "A", first.Input, "second submission must be rejected, not overwrite")
}

func TestPhase_CompleteOnLastEligible(t *testing.T) {
	p := NewPhase[int]()
	p.Begin(time.Hour, func(uint64) {})
	defer p.Cancel()

	require.NoError(t, p.Submit("a", 1))
	assert.False(t, p.Complete(3))
	require.NoError(t, p.Submit("b", 2))
	assert.False(t, p.Complete(3))
	require.NoError(t, p.Submit("c", 3))
	assert.True(t, p.Complete(3))

	// Leavers lower the denominator; completeness holds.
	assert.True(t, p.Complete(2))
}

func TestPhase_CompleteNeverWithZeroEligible(t *testing.T) {
	p := NewPhase[int]()
	p.Begin(time.Hour, func(uint64) {})
	defer p.Cancel()

	assert.False(t, p.Complete(0))
}

func TestPhase_ResolveExactlyOnce(t *testing.T) {
	p := NewPhase[int]()
	var mu sync.Mutex
	fired := make(chan uint64, 1)
	p.Begin(10*time.Millisecond, func(epoch uint64) {
		mu.Lock()
		defer mu.Unlock()
		fired <- epoch
	})

	mu.Lock()
	assert.True(t, p.TryResolve())
	assert.False(t, p.TryResolve())
	mu.Unlock()

	// Even if the timer managed to fire before Stop, the epoch path must
	// lose the race against the completion path.
	select {
	case epoch := <-fired:
		mu.Lock()
		assert.False(t, p.TryResolveEpoch(epoch))
		mu.Unlock()
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPhase_StaleTimerCannotResolveNextPhase(t *testing.T) {
	p := NewPhase[int]()
	p.Begin(time.Hour, func(uint64) {})
	staleEpoch := p.epoch

	require.True(t, p.TryResolve())
	p.Begin(time.Hour, func(uint64) {})
	defer p.Cancel()

	assert.False(t, p.TryResolveEpoch(staleEpoch))
	assert.True(t, p.Open())
}

func TestPhase_TimeoutFires(t *testing.T) {
	p := NewPhase[int]()
	fired := make(chan uint64, 1)
	p.Begin(5*time.Millisecond, func(epoch uint64) { fired <- epoch })

	select {
	case epoch := <-fired:
		assert.True(t, p.TryResolveEpoch(epoch))
	case <-time.After(time.Second):
		t.Fatal("deadline timer never fired")
	}
}

func TestPhase_SubmitAfterResolveRejected(t *testing.T) {
	p := NewPhase[int]()
	p.Begin(time.Hour, func(uint64) {})
	p.TryResolve()

	assert.ErrorIs(t, p.Submit("a", 1), ErrPhaseClosed)
}

func TestPhase_MultiSubmitBounded(t *testing.T) {
	p := NewPhase[string]()
	p.BeginMulti(time.Hour, 3, func(uint64) {})
	defer p.Cancel()

	require.NoError(t, p.Submit("a", "x"))
	require.NoError(t, p.Submit("a", "y"))
	require.NoError(t, p.Submit("a", "z"))
	assert.ErrorIs(t, p.Submit("a", "w"), ErrAlreadySubmitted)

	assert.Len(t, p.Entries("a"), 3)
	assert.Equal(t, 1, p.Count())
}

func TestPhase_ElapsedUsesClock(t *testing.T) {
	p := NewPhase[string]()
	base := time.Now()
	clock := base
	p.now = func() time.Time { return clock }

	p.Begin(time.Hour, func(uint64) {})
	defer p.Cancel()

	clock = base.Add(900 * time.Millisecond)
	require.NoError(t, p.Submit("a", "A"))

	first, _ := p.First("a")
	assert.Equal(t, 900*time.Millisecond, first.Elapsed)
}
