package session

import (
	"time"
)

// Entry is one submitted input together with how long after phase start it
// arrived. Response-time tiebreaks read Elapsed, never arrival order.
type Entry[I any] struct {
	Input   I
	Elapsed time.Duration
}

// Phase collects at most one input per participant (or a bounded sequence in
// multi-submit mode) and guards resolution so that the deadline path and the
// collection-complete path cannot both run.
//
// A Phase is owned by a single game and every method must be called with the
// owning game's mutex held. The deadline callback fires on its own goroutine;
// it must lock the game and then settle the race through TryResolveEpoch.
type Phase[I any] struct {
	epoch     uint64
	startedAt time.Time
	deadline  time.Time
	timer     *time.Timer
	resolved  bool
	open      bool
	limit     int // inputs accepted per participant
	inputs    map[string][]Entry[I]

	now func() time.Time
}

func NewPhase[I any]() *Phase[I] {
	return &Phase[I]{resolved: true, limit: 1, now: time.Now}
}

// Begin starts a single-submit phase. Any previous deadline timer is
// cancelled before the new one is armed, so a session never has more than
// one live timer. onTimeout receives the phase epoch; the owner must pass it
// back through TryResolveEpoch so a stale timer from an earlier phase can
// never resolve the current one.
func (p *Phase[I]) Begin(d time.Duration, onTimeout func(epoch uint64)) {
	p.begin(d, 1, onTimeout)
}

// BeginMulti starts a phase accepting up to limit inputs per participant
// (tap counting, multi-round mini-games).
func (p *Phase[I]) BeginMulti(d time.Duration, limit int, onTimeout func(epoch uint64)) {
	p.begin(d, limit, onTimeout)
}

func (p *Phase[I]) begin(d time.Duration, limit int, onTimeout func(epoch uint64)) {
	p.stopTimer()
	p.epoch++
	p.startedAt = p.now()
	p.deadline = p.startedAt.Add(d)
	p.resolved = false
	p.open = true
	p.limit = limit
	p.inputs = make(map[string][]Entry[I])

	epoch := p.epoch
	p.timer = time.AfterFunc(d, func() { onTimeout(epoch) })
}

// Submit records an input. A second submission is rejected, not overwritten,
// unless the phase was opened in multi-submit mode and the bound allows it.
func (p *Phase[I]) Submit(id string, in I) error {
	if !p.open {
		return ErrPhaseClosed
	}
	if len(p.inputs[id]) >= p.limit {
		return ErrAlreadySubmitted
	}
	p.inputs[id] = append(p.inputs[id], Entry[I]{Input: in, Elapsed: p.now().Sub(p.startedAt)})
	return nil
}

func (p *Phase[I]) Submitted(id string) bool {
	return len(p.inputs[id]) > 0
}

// Count reports distinct participants that have submitted at least once.
func (p *Phase[I]) Count() int {
	return len(p.inputs)
}

// Complete reports whether every eligible participant has submitted. An
// empty eligible set never completes; the deadline handles that case.
func (p *Phase[I]) Complete(eligible int) bool {
	return eligible > 0 && len(p.inputs) >= eligible
}

// TryResolve is the collection-complete path of the exactly-once contract.
// The first caller wins and the deadline timer is cancelled.
func (p *Phase[I]) TryResolve() bool {
	if p.resolved {
		return false
	}
	p.resolved = true
	p.open = false
	p.stopTimer()
	return true
}

// TryResolveEpoch is the timeout path: it refuses both an already-resolved
// phase and a timer that outlived the phase it was armed for.
func (p *Phase[I]) TryResolveEpoch(epoch uint64) bool {
	if epoch != p.epoch {
		return false
	}
	return p.TryResolve()
}

// Cancel closes the phase without resolving. Safe to call redundantly.
func (p *Phase[I]) Cancel() {
	p.resolved = true
	p.open = false
	p.stopTimer()
}

func (p *Phase[I]) Open() bool { return p.open }

func (p *Phase[I]) Deadline() time.Time { return p.deadline }

// First returns the earliest entry for a participant.
func (p *Phase[I]) First(id string) (Entry[I], bool) {
	es := p.inputs[id]
	if len(es) == 0 {
		return Entry[I]{}, false
	}
	return es[0], true
}

// Entries returns the participant's submissions in arrival order.
func (p *Phase[I]) Entries(id string) []Entry[I] {
	return p.inputs[id]
}

func (p *Phase[I]) stopTimer() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}
