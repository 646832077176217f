package quiz

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"partyarena/hub"
	"partyarena/session"
	"partyarena/store"
)

type sent struct {
	group  string // "" for direct sends
	client string
	event  hub.Event
}

type busRecorder struct {
	mu   sync.Mutex
	log  []sent
	memb map[string]map[string]bool
}

func newBusRecorder() *busRecorder {
	return &busRecorder{memb: make(map[string]map[string]bool)}
}

func (b *busRecorder) Join(group, clientID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.memb[group] == nil {
		b.memb[group] = make(map[string]bool)
	}
	b.memb[group][clientID] = true
}

func (b *busRecorder) Leave(group, clientID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.memb[group], clientID)
}

func (b *busRecorder) Broadcast(group string, ev hub.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log = append(b.log, sent{group: group, event: ev})
}

func (b *busRecorder) Send(clientID string, ev hub.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log = append(b.log, sent{client: clientID, event: ev})
}

// lastOf returns the most recent event of a type and how many times it
// appeared.
func (b *busRecorder) lastOf(eventType string) (hub.Event, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var last hub.Event
	count := 0
	for _, s := range b.log {
		if s.event.Type == eventType {
			last = s.event
			count++
		}
	}
	return last, count
}

func (b *busRecorder) lastTo(clientID string) (hub.Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.log) - 1; i >= 0; i-- {
		if b.log[i].client == clientID {
			return b.log[i].event, true
		}
	}
	return hub.Event{}, false
}

type stubQuestions struct{ qs []store.Question }

func (s stubQuestions) RandomQuestions(n int) ([]store.Question, error) {
	if n > len(s.qs) {
		n = len(s.qs)
	}
	return s.qs[:n], nil
}

type nopArchive struct{}

func (nopArchive) GameStarted(pin, mode string) int64 { return 0 }
func (nopArchive) AnswerRecorded(gameID int64, nickname string, questionID int64, answer string, correct bool, points int, responseMs int64) {
}
func (nopArchive) GameFinished(gameID int64) {}

func sampleQuestions(n int) []store.Question {
	qs := make([]store.Question, n)
	for i := range qs {
		qs[i] = store.Question{
			ID:            int64(i + 1),
			Text:          fmt.Sprintf("question %d", i+1),
			OptionA:       "right",
			OptionB:       "wrong",
			OptionC:       "wrong",
			OptionD:       "wrong",
			CorrectOption: "A",
		}
	}
	return qs
}

func newTestManager(t *testing.T) (*Manager, *busRecorder) {
	t.Helper()
	bus := newBusRecorder()
	m := NewManager(session.NewRegistry(), bus, stubQuestions{qs: sampleQuestions(SampleSize)}, nopArchive{}, zerolog.Nop())
	return m, bus
}

// createGame creates a session through the handlers and returns it with
// its pin.
func createGame(t *testing.T, m *Manager, bus *busRecorder) (*Game, string) {
	t.Helper()
	m.HandleCreate("host")
	ev, ok := bus.lastTo("host")
	require.True(t, ok)
	require.Equal(t, "quiz:created", ev.Type)
	var msg createdMsg
	require.NoError(t, json.Unmarshal(ev.Data, &msg))
	g, ok := m.game(msg.Pin)
	require.True(t, ok)
	return g, msg.Pin
}

func TestJoinValidation(t *testing.T) {
	m, bus := newTestManager(t)
	g, pin := createGame(t, m, bus)

	m.HandleJoin("p1", joinReq{Pin: pin, Nickname: "Alex", Animal: "🦊"})
	ev, ok := bus.lastTo("p1")
	require.True(t, ok)
	require.Equal(t, "quiz:joined", ev.Type)

	// Case-insensitive duplicate is rejected, not renamed.
	m.HandleJoin("p2", joinReq{Pin: pin, Nickname: "alex"})
	ev, _ = bus.lastTo("p2")
	require.Equal(t, "quiz:error", ev.Type)

	m.HandleJoin("p2", joinReq{Pin: pin, Nickname: "  "})
	ev, _ = bus.lastTo("p2")
	require.Equal(t, "quiz:error", ev.Type)

	m.HandleJoin("p2", joinReq{Pin: "0000", Nickname: "Kim"})
	ev, _ = bus.lastTo("p2")
	require.Equal(t, "quiz:error", ev.Type)

	g.mu.Lock()
	require.Len(t, g.players, 1)
	g.mu.Unlock()
}

func TestJoinCap(t *testing.T) {
	m, bus := newTestManager(t)
	_, pin := createGame(t, m, bus)

	for i := 0; i < MaxPlayers; i++ {
		id := fmt.Sprintf("p%d", i)
		m.HandleJoin(id, joinReq{Pin: pin, Nickname: fmt.Sprintf("player%d", i)})
		ev, _ := bus.lastTo(id)
		require.Equal(t, "quiz:joined", ev.Type)
	}
	m.HandleJoin("extra", joinReq{Pin: pin, Nickname: "toolate"})
	ev, _ := bus.lastTo("extra")
	require.Equal(t, "quiz:error", ev.Type)
}

func TestStartOnlyHost(t *testing.T) {
	m, bus := newTestManager(t)
	_, pin := createGame(t, m, bus)
	m.HandleJoin("p1", joinReq{Pin: pin, Nickname: "Alex"})

	m.HandleStart("p1", pinReq{Pin: pin})
	ev, _ := bus.lastTo("p1")
	require.Equal(t, "quiz:error", ev.Type)

	m.HandleStart("host", pinReq{Pin: pin})
	_, n := bus.lastOf("quiz:started")
	require.Equal(t, 1, n)
}

// joinAndStart skips the flow timers: the game is moved to the first
// question directly.
func joinAndStart(t *testing.T, m *Manager, g *Game, pin string, ids ...string) {
	t.Helper()
	for i, id := range ids {
		m.HandleJoin(id, joinReq{Pin: pin, Nickname: fmt.Sprintf("player-%d", i+1)})
	}
	g.mu.Lock()
	g.questions = sampleQuestions(SampleSize)
	g.state = StateActive
	m.beginQuestion(g)
	g.mu.Unlock()
}

func TestAnswerFlowResolvesOnce(t *testing.T) {
	m, bus := newTestManager(t)
	g, pin := createGame(t, m, bus)
	joinAndStart(t, m, g, pin, "x", "y")

	m.HandleAnswer("x", answerReq{Pin: pin, Option: "a"})

	// Second submission is rejected, not overwritten.
	m.HandleAnswer("x", answerReq{Pin: pin, Option: "B"})
	ev, _ := bus.lastTo("x")
	require.Equal(t, "quiz:error", ev.Type)

	_, n := bus.lastOf("quiz:round-results")
	require.Zero(t, n, "round must not resolve before everyone answered")

	m.HandleAnswer("y", answerReq{Pin: pin, Option: "B"})
	resEv, n := bus.lastOf("quiz:round-results")
	require.Equal(t, 1, n)

	var res roundResults
	require.NoError(t, json.Unmarshal(resEv.Data, &res))
	require.Equal(t, "A", res.CorrectOption)
	require.Equal(t, "player-1", res.Results[0].Nickname)
	require.Equal(t, BasePoints+5, res.Results[0].Points, "fast correct answer takes the full speed bonus")
	require.False(t, res.Results[1].Correct)

	// Answers after resolution bounce off the closed phase.
	m.HandleAnswer("y", answerReq{Pin: pin, Option: "A"})
	ev, _ = bus.lastTo("y")
	require.Equal(t, "quiz:error", ev.Type)
}

func TestDoubleThenStealScenario(t *testing.T) {
	m, bus := newTestManager(t)
	g, pin := createGame(t, m, bus)
	joinAndStart(t, m, g, pin, "x", "y")

	g.mu.Lock()
	g.staged = []stagedPower{
		{Type: PowerDouble, ActorID: "x"},
		{Type: PowerSteal, ActorID: "y", TargetID: "x"},
	}
	g.mu.Unlock()

	m.HandleAnswer("x", answerReq{Pin: pin, Option: "A"})
	m.HandleAnswer("y", answerReq{Pin: pin, Option: "B"})

	resEv, n := bus.lastOf("quiz:round-results")
	require.Equal(t, 1, n)
	var res roundResults
	require.NoError(t, json.Unmarshal(resEv.Data, &res))

	// (10 base + 5 speed) doubled, minus 2 stolen.
	byName := map[string]PlayerResult{}
	for _, r := range res.Results {
		byName[r.Nickname] = r
	}
	require.Equal(t, 28, byName["player-1"].Points)
	require.Equal(t, StealAmount, byName["player-2"].Points)
}

func TestStealPaysOutEvenWhenVictimEarnedNothing(t *testing.T) {
	m, bus := newTestManager(t)
	g, pin := createGame(t, m, bus)
	joinAndStart(t, m, g, pin, "x", "y")

	g.mu.Lock()
	g.staged = []stagedPower{{Type: PowerSteal, ActorID: "y", TargetID: "x"}}
	g.mu.Unlock()

	// The victim answers wrong, so there is nothing to deduct from; the
	// stealer still collects the fixed amount.
	m.HandleAnswer("x", answerReq{Pin: pin, Option: "B"})
	m.HandleAnswer("y", answerReq{Pin: pin, Option: "B"})

	resEv, _ := bus.lastOf("quiz:round-results")
	var res roundResults
	require.NoError(t, json.Unmarshal(resEv.Data, &res))
	byName := map[string]PlayerResult{}
	for _, r := range res.Results {
		byName[r.Nickname] = r
	}
	require.Zero(t, byName["player-1"].Points)
	require.Equal(t, StealAmount, byName["player-2"].Points)
}

func TestBlockZeroesCorrectAnswer(t *testing.T) {
	m, bus := newTestManager(t)
	g, pin := createGame(t, m, bus)
	joinAndStart(t, m, g, pin, "x", "y")

	g.mu.Lock()
	g.staged = []stagedPower{{Type: PowerBlock, ActorID: "y", TargetID: "x"}}
	g.blocked["x"] = true
	g.mu.Unlock()

	m.HandleAnswer("x", answerReq{Pin: pin, Option: "A"})
	m.HandleAnswer("y", answerReq{Pin: pin, Option: "A"})

	resEv, _ := bus.lastOf("quiz:round-results")
	var res roundResults
	require.NoError(t, json.Unmarshal(resEv.Data, &res))
	byName := map[string]PlayerResult{}
	for _, r := range res.Results {
		byName[r.Nickname] = r
	}
	require.True(t, byName["player-1"].Correct)
	require.Zero(t, byName["player-1"].Points)
	require.True(t, byName["player-1"].WasBlocked)
	require.Positive(t, byName["player-2"].Points)
}

func TestHalveAppliesAfterDouble(t *testing.T) {
	m, bus := newTestManager(t)
	g, pin := createGame(t, m, bus)
	joinAndStart(t, m, g, pin, "x", "y")

	g.mu.Lock()
	// Staged in the "wrong" order on purpose: halve still runs after
	// double.
	g.staged = []stagedPower{
		{Type: PowerHalve, ActorID: "y", TargetID: "x"},
		{Type: PowerDouble, ActorID: "x"},
	}
	g.mu.Unlock()

	m.HandleAnswer("x", answerReq{Pin: pin, Option: "A"})
	m.HandleAnswer("y", answerReq{Pin: pin, Option: "B"})

	resEv, _ := bus.lastOf("quiz:round-results")
	var res roundResults
	require.NoError(t, json.Unmarshal(resEv.Data, &res))
	byName := map[string]PlayerResult{}
	for _, r := range res.Results {
		byName[r.Nickname] = r
	}
	require.Equal(t, (BasePoints+5)*2/2, byName["player-1"].Points)
}

func TestUsePowerRules(t *testing.T) {
	m, bus := newTestManager(t)
	g, pin := createGame(t, m, bus)
	joinAndStart(t, m, g, pin, "x", "y", "z")

	// Powers are rejected while the question is open.
	m.HandleUsePower("x", usePowerReq{Pin: pin, Power: "steal", Target: "player-2"})
	ev, _ := bus.lastTo("x")
	require.Equal(t, "quiz:error", ev.Type)

	g.mu.Lock()
	g.answers.Cancel()
	g.mu.Unlock()

	m.HandleUsePower("x", usePowerReq{Pin: pin, Power: "steal", Target: "player-2"})
	ev, _ = bus.lastTo("x")
	require.Equal(t, "quiz:power-used", ev.Type)

	// One power per target per round.
	m.HandleUsePower("z", usePowerReq{Pin: pin, Power: "halve", Target: "player-2"})
	ev, _ = bus.lastTo("z")
	require.Equal(t, "quiz:error", ev.Type)

	// Single use across the whole game.
	m.HandleUsePower("x", usePowerReq{Pin: pin, Power: "steal", Target: "player-3"})
	ev, _ = bus.lastTo("x")
	require.Equal(t, "quiz:error", ev.Type)

	// Self-target is rejected.
	m.HandleUsePower("z", usePowerReq{Pin: pin, Power: "block", Target: "player-3"})
	ev, _ = bus.lastTo("z")
	require.Equal(t, "quiz:error", ev.Type)

	g.mu.Lock()
	require.Len(t, g.staged, 1)
	require.True(t, g.players["x"].Used[PowerSteal])
	g.mu.Unlock()
}

func TestDuelOutcome(t *testing.T) {
	d := &duel{ChallengerID: "a", TargetID: "b"}
	entries := func(m map[string]session.Entry[string]) func(string) (session.Entry[string], bool) {
		return func(id string) (session.Entry[string], bool) {
			e, ok := m[id]
			return e, ok
		}
	}

	w, l := duelOutcome(d, entries(map[string]session.Entry[string]{
		"a": {Input: "A"},
		"b": {Input: "C"},
	}), "A")
	require.Equal(t, "a", w)
	require.Equal(t, "b", l)

	// Both correct: faster wins.
	w, _ = duelOutcome(d, entries(map[string]session.Entry[string]{
		"a": {Input: "A", Elapsed: 3 * time.Second},
		"b": {Input: "A", Elapsed: time.Second},
	}), "A")
	require.Equal(t, "b", w)

	// Both wrong, and one silent: draws.
	w, _ = duelOutcome(d, entries(map[string]session.Entry[string]{
		"a": {Input: "B"},
		"b": {Input: "C"},
	}), "A")
	require.Empty(t, w)
	w, _ = duelOutcome(d, entries(map[string]session.Entry[string]{}), "A")
	require.Empty(t, w)
}

func TestStandingsTiebreakByEarliestTotal(t *testing.T) {
	g := NewGame("1234", "host")
	g.players["a"] = &Player{Nickname: "early", Score: 40}
	g.players["b"] = &Player{Nickname: "late", Score: 40}
	g.players["c"] = &Player{Nickname: "top", Score: 99}
	g.markScored(g.players["a"])
	g.markScored(g.players["b"])
	g.markScored(g.players["c"])

	s := g.standings()
	require.Equal(t, []string{"top", "early", "late"},
		[]string{s[0].Nickname, s[1].Nickname, s[2].Nickname})
	require.Equal(t, 1, s[0].Rank)
	require.Equal(t, 3, s[2].Rank)
}

func TestExitVoteUnanimous(t *testing.T) {
	m, bus := newTestManager(t)
	g, pin := createGame(t, m, bus)
	joinAndStart(t, m, g, pin, "x", "y")

	m.HandleVoteExit("x", voteReq{Pin: pin, Vote: true})
	tallyEv, n := bus.lastOf("quiz:exit-update")
	require.Equal(t, 1, n)
	var tally exitUpdateMsg
	require.NoError(t, json.Unmarshal(tallyEv.Data, &tally))
	require.Equal(t, 1, tally.Voted)
	require.Equal(t, 2, tally.Total)
	_, n = bus.lastOf("quiz:ended-by-players")
	require.Zero(t, n)

	// A retracted vote breaks unanimity, and is broadcast too.
	m.HandleVoteExit("x", voteReq{Pin: pin, Vote: false})
	tallyEv, n = bus.lastOf("quiz:exit-update")
	require.Equal(t, 2, n)
	require.NoError(t, json.Unmarshal(tallyEv.Data, &tally))
	require.Zero(t, tally.Voted)
	m.HandleVoteExit("y", voteReq{Pin: pin, Vote: true})
	_, n = bus.lastOf("quiz:ended-by-players")
	require.Zero(t, n)

	m.HandleVoteExit("x", voteReq{Pin: pin, Vote: true})
	_, n = bus.lastOf("quiz:ended-by-players")
	require.Equal(t, 1, n)

	g.mu.Lock()
	require.True(t, g.closed)
	g.mu.Unlock()
	_, ok := m.game(pin)
	require.False(t, ok, "unanimous exit deletes the session")
}

func TestDuelAnswerValidatesOption(t *testing.T) {
	m, bus := newTestManager(t)
	g, pin := createGame(t, m, bus)
	joinAndStart(t, m, g, pin, "x", "y")

	g.mu.Lock()
	g.currentDuel = &duel{ChallengerID: "x", TargetID: "y", Question: g.questions[QuestionCount]}
	g.duelAnswers.Begin(time.Hour, func(uint64) {})
	g.mu.Unlock()

	m.HandleDuelAnswer("x", answerReq{Pin: pin, Option: "zzz"})
	ev, ok := bus.lastTo("x")
	require.True(t, ok)
	require.Equal(t, "quiz:error", ev.Type)
	g.mu.Lock()
	_, stored := g.duelAnswers.First("x")
	g.mu.Unlock()
	require.False(t, stored, "junk options must not be recorded")

	// Lowercase input normalizes the same way the main round does.
	m.HandleDuelAnswer("x", answerReq{Pin: pin, Option: "a"})
	g.mu.Lock()
	entry, stored := g.duelAnswers.First("x")
	g.mu.Unlock()
	require.True(t, stored)
	require.Equal(t, "A", entry.Input)
}

func TestHostForceAdvancesStalledSelection(t *testing.T) {
	m, bus := newTestManager(t)
	g, pin := createGame(t, m, bus)
	joinAndStart(t, m, g, pin, "x", "y")

	m.HandleAnswer("x", answerReq{Pin: pin, Option: "A"})
	m.HandleAnswer("y", answerReq{Pin: pin, Option: "A"})

	// One player passes, the other never chooses: the round stalls.
	m.HandlePassPower("x", pinReq{Pin: pin})
	_, n := bus.lastOf("quiz:next-up")
	require.Zero(t, n)

	// Players cannot force the advance.
	m.HandleHostNext("y", pinReq{Pin: pin})
	_, n = bus.lastOf("quiz:next-up")
	require.Zero(t, n)

	m.HandleHostNext("host", pinReq{Pin: pin})
	_, n = bus.lastOf("quiz:next-up")
	require.Equal(t, 1, n)

	// Repeats while the countdown runs are no-ops.
	m.HandleHostNext("host", pinReq{Pin: pin})
	_, n = bus.lastOf("quiz:next-up")
	require.Equal(t, 1, n)
}

func TestDeleteAfterFinishCancelsRetention(t *testing.T) {
	m, bus := newTestManager(t)
	g, pin := createGame(t, m, bus)
	joinAndStart(t, m, g, pin, "x")

	g.mu.Lock()
	m.finishGame(g)
	require.NotNil(t, g.retention)
	g.mu.Unlock()

	// An early delete must disarm the deferred cleanup so a reallocated
	// pin is never torn down by the old game's timer.
	m.registry.Delete(pin)
	g.mu.Lock()
	require.Nil(t, g.retention)
	g.mu.Unlock()
}

func TestHostDropDeletesSession(t *testing.T) {
	m, bus := newTestManager(t)
	_, pin := createGame(t, m, bus)
	m.HandleJoin("p1", joinReq{Pin: pin, Nickname: "Alex"})

	m.HandleDrop("host")

	_, n := bus.lastOf("quiz:host-left")
	require.Equal(t, 1, n)
	_, ok := m.game(pin)
	require.False(t, ok)
}

func TestPlayerDropShrinksDenominator(t *testing.T) {
	m, bus := newTestManager(t)
	g, pin := createGame(t, m, bus)
	joinAndStart(t, m, g, pin, "x", "y")

	m.HandleAnswer("x", answerReq{Pin: pin, Option: "A"})
	_, n := bus.lastOf("quiz:round-results")
	require.Zero(t, n)

	// The round was waiting only on y; the drop resolves it.
	m.HandleDrop("y")
	_, n = bus.lastOf("quiz:round-results")
	require.Equal(t, 1, n)
}

func TestReconnectRebindsNickname(t *testing.T) {
	m, bus := newTestManager(t)
	g, pin := createGame(t, m, bus)
	joinAndStart(t, m, g, pin, "x", "y")

	g.mu.Lock()
	g.players["x"].Score = 25
	g.mu.Unlock()
	m.HandleDrop("x")

	m.HandleReconnect("x2", joinReq{Pin: pin, Nickname: "player-1"})
	ev, ok := bus.lastTo("x2")
	require.True(t, ok)
	require.Equal(t, "quiz:rejoined", ev.Type)
	var msg rejoinedMsg
	require.NoError(t, json.Unmarshal(ev.Data, &msg))
	require.Equal(t, 25, msg.Score)

	g.mu.Lock()
	require.Nil(t, g.players["x"])
	require.NotNil(t, g.players["x2"])
	require.True(t, g.players["x2"].Connected)
	g.mu.Unlock()

	// Reconnecting over a live player is refused.
	m.HandleReconnect("x3", joinReq{Pin: pin, Nickname: "player-1"})
	ev, _ = bus.lastTo("x3")
	require.Equal(t, "quiz:error", ev.Type)
}
