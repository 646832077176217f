package quiz

import (
	"time"

	"github.com/rs/zerolog"

	"partyarena/hub"
	"partyarena/session"
	"partyarena/store"
)

// finishedRetention keeps a finished session around long enough for the
// podium screen before its pin is reclaimed.
const finishedRetention = 5 * time.Minute

// Messenger is the slice of the hub the manager sends through. Tests swap
// in a recorder.
type Messenger interface {
	Join(group, clientID string)
	Leave(group, clientID string)
	Broadcast(group string, ev hub.Event)
	Send(clientID string, ev hub.Event)
}

type QuestionSource interface {
	RandomQuestions(n int) ([]store.Question, error)
}

// Archive receives best-effort history writes. store.Store satisfies it.
type Archive interface {
	GameStarted(pin, mode string) int64
	AnswerRecorded(gameID int64, nickname string, questionID int64, answer string, correct bool, points int, responseMs int64)
	GameFinished(gameID int64)
}

type Manager struct {
	registry  *session.Registry
	bus       Messenger
	questions QuestionSource
	archive   Archive
	log       zerolog.Logger
}

func NewManager(reg *session.Registry, bus Messenger, questions QuestionSource, archive Archive, log zerolog.Logger) *Manager {
	return &Manager{
		registry:  reg,
		bus:       bus,
		questions: questions,
		archive:   archive,
		log:       log.With().Str("mode", "quiz").Logger(),
	}
}

func groupAll(pin string) string  { return "quiz:" + pin }
func groupHost(pin string) string { return "quiz-host:" + pin }

// game resolves a pin to a quiz session. Pins from other modes miss the
// type assertion and read as not found.
func (m *Manager) game(pin string) (*Game, bool) {
	s, ok := m.registry.Get(pin)
	if !ok {
		return nil, false
	}
	g, ok := s.(*Game)
	return g, ok
}

// beginQuestion arms the answer phase for the current question and fans out
// the per-player views. Caller holds g.mu.
func (m *Manager) beginQuestion(g *Game) {
	q := g.currentQuestion()
	g.powerDone = make(map[string]bool)
	g.advancing = false

	g.answers.Begin(QuestionTime, func(epoch uint64) {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.closed {
			return
		}
		if g.answers.TryResolveEpoch(epoch) {
			m.finishRound(g)
		}
	})

	deadline := g.answers.Deadline().UnixMilli()
	m.bus.Broadcast(groupHost(g.pin), hub.E("quiz:question", hostQuestionView{
		Index:      g.questionIndex + 1,
		Total:      QuestionCount,
		Text:       q.Text,
		Options:    q.Options(),
		DeadlineAt: deadline,
	}))
	for id, p := range g.players {
		if !p.Connected {
			continue
		}
		m.bus.Send(id, hub.E("quiz:question", playerQuestionView{
			Index:      g.questionIndex + 1,
			Total:      QuestionCount,
			Text:       q.Text,
			Options:    q.Options(),
			DeadlineAt: deadline,
			Shuffled:   g.shuffled[id],
			Obfuscated: g.obfuscated[id],
		}))
	}
	m.log.Debug().Str("pin", g.pin).Int("question", g.questionIndex+1).Msg("question started")
}

// finishRound runs once per question, on whichever path won the phase race.
// Caller holds g.mu and has already resolved g.answers.
func (m *Manager) finishRound(g *Game) {
	q := g.currentQuestion()
	results, powerEvents := g.resolveRound()

	for id, p := range g.players {
		entry, ok := g.answers.First(id)
		if !ok {
			continue
		}
		m.archive.AnswerRecorded(g.historyGameID, p.Nickname, q.ID, entry.Input,
			entry.Input == q.CorrectOption, pointsFor(results, p.Nickname), entry.Elapsed.Milliseconds())
	}

	// Challenge powers staged this round become duels played before the
	// next question.
	for _, sp := range g.staged {
		if sp.Type != PowerChallenge {
			continue
		}
		c, t := g.players[sp.ActorID], g.players[sp.TargetID]
		if c != nil && t != nil && c.Connected && t.Connected {
			g.pendingDuels = append(g.pendingDuels, duel{ChallengerID: sp.ActorID, TargetID: sp.TargetID})
		}
	}
	g.staged = nil
	g.blocked = make(map[string]bool)
	g.shuffled = make(map[string]bool)
	g.obfuscated = make(map[string]bool)
	g.halved = make(map[string]bool)
	g.targeted = make(map[string]bool)

	m.bus.Broadcast(groupAll(g.pin), hub.E("quiz:round-results", roundResults{
		CorrectOption: q.CorrectOption,
		CorrectText:   q.Options()[q.CorrectOption],
		Results:       results,
		PowerEvents:   powerEvents,
		LastQuestion:  g.isLastQuestion(),
		HasChallenges: len(g.pendingDuels) > 0,
	}))

	if len(g.pendingDuels) > 0 {
		g.scheduleFlow(resultsDelay, func() { m.startNextDuel(g) })
		return
	}
	m.afterResults(g)
}

func pointsFor(results []PlayerResult, nickname string) int {
	for _, r := range results {
		if r.Nickname == nickname {
			return r.Points
		}
	}
	return 0
}

// afterResults moves on from the result screen: podium on the last
// question, otherwise the power-selection stage. Caller holds g.mu.
func (m *Manager) afterResults(g *Game) {
	if g.isLastQuestion() {
		g.scheduleFlow(resultsDelay, func() { m.finishGame(g) })
		return
	}
	m.bus.Broadcast(groupAll(g.pin), hub.E("quiz:choose-powers", nil))
	m.maybeAdvance(g)
}

// maybeAdvance starts the next-question countdown once every connected
// player has used or passed a power. Caller holds g.mu.
func (m *Manager) maybeAdvance(g *Game) {
	if g.advancing || g.state != StateActive || g.answers.Open() || g.currentDuel != nil || len(g.pendingDuels) > 0 {
		return
	}
	for id, p := range g.players {
		if p.Connected && !g.powerDone[id] {
			return
		}
	}
	if g.connectedCount() == 0 {
		return
	}
	m.advance(g)
}

// advance schedules the next question unconditionally. Caller holds g.mu
// and has already checked there is nothing left to wait for.
func (m *Manager) advance(g *Game) {
	g.advancing = true
	m.bus.Broadcast(groupAll(g.pin), hub.E("quiz:next-up", countdown{Seconds: int(nextDelay / time.Second)}))
	g.scheduleFlow(nextDelay, func() {
		g.questionIndex++
		m.beginQuestion(g)
	})
}

// startNextDuel pops the duel queue. Duels whose participants dropped are
// skipped. Caller holds g.mu.
func (m *Manager) startNextDuel(g *Game) {
	for len(g.pendingDuels) > 0 {
		d := g.pendingDuels[0]
		g.pendingDuels = g.pendingDuels[1:]
		c, t := g.players[d.ChallengerID], g.players[d.TargetID]
		if c == nil || t == nil || !c.Connected || !t.Connected {
			continue
		}
		d.Question = m.pickDuelQuestion(g)
		g.currentDuel = &d

		g.duelAnswers.Begin(ChallengeTime, func(epoch uint64) {
			g.mu.Lock()
			defer g.mu.Unlock()
			if g.closed {
				return
			}
			if g.duelAnswers.TryResolveEpoch(epoch) {
				m.resolveDuel(g)
			}
		})

		deadline := g.duelAnswers.Deadline().UnixMilli()
		m.bus.Broadcast(groupAll(g.pin), hub.E("quiz:challenge", duelAnnounce{
			Challenger: c.Nickname,
			Target:     t.Nickname,
			DeadlineAt: deadline,
		}))
		view := hub.E("quiz:challenge-question", playerQuestionView{
			Text:       d.Question.Text,
			Options:    d.Question.Options(),
			DeadlineAt: deadline,
		})
		m.bus.Send(d.ChallengerID, view)
		m.bus.Send(d.TargetID, view)
		m.bus.Broadcast(groupHost(g.pin), view)
		return
	}
	m.afterResults(g)
}

// pickDuelQuestion draws from the sample beyond the main ten, reusing only
// when the pool runs dry.
func (m *Manager) pickDuelQuestion(g *Game) store.Question {
	for i := QuestionCount; i < len(g.questions); i++ {
		q := g.questions[i]
		if !g.usedDuelQues[q.ID] {
			g.usedDuelQues[q.ID] = true
			return q
		}
	}
	if len(g.questions) > QuestionCount {
		return g.questions[QuestionCount]
	}
	return g.currentQuestion()
}

// resolveDuel runs once per duel. Winner doubles their total, loser halves;
// a draw leaves both untouched. Caller holds g.mu with g.duelAnswers
// resolved.
func (m *Manager) resolveDuel(g *Game) {
	d := g.currentDuel
	if d == nil {
		return
	}
	g.currentDuel = nil

	winner, loser := duelOutcome(d, g.duelAnswers.First, d.Question.CorrectOption)
	res := duelResults{
		CorrectOption: d.Question.CorrectOption,
		Draw:          winner == "",
	}
	if winner != "" {
		w, l := g.players[winner], g.players[loser]
		if w != nil {
			w.Score *= 2
			g.markScored(w)
			res.Winner = w.Nickname
			res.WinnerScore = w.Score
		}
		if l != nil {
			l.Score /= 2
			g.markScored(l)
			res.Loser = l.Nickname
			res.LoserScore = l.Score
		}
	}
	m.bus.Broadcast(groupAll(g.pin), hub.E("quiz:challenge-results", res))

	g.scheduleFlow(resultsDelay, func() {
		if len(g.pendingDuels) > 0 {
			m.startNextDuel(g)
			return
		}
		m.afterResults(g)
	})
}

// finishGame publishes the podium and parks the session until the host
// leaves or retention expires. Caller holds g.mu.
func (m *Manager) finishGame(g *Game) {
	if g.state == StateFinished {
		return
	}
	g.state = StateFinished
	g.answers.Cancel()
	g.duelAnswers.Cancel()
	g.stopFlow()

	standings := g.standings()
	m.bus.Broadcast(groupAll(g.pin), hub.E("quiz:game-over", gameOver{Standings: standings}))
	m.archive.GameFinished(g.historyGameID)
	m.log.Info().Str("pin", g.pin).Msg("game finished")

	// Deletion must not run under g.mu: registry.Delete closes the
	// session, which takes the same lock. The handle is kept on the game
	// so an earlier Delete cancels it before the pin can be reallocated.
	pin := g.pin
	g.retention = time.AfterFunc(finishedRetention, func() { m.registry.Delete(pin) })
}

// standings ranks players by total, earliest-settled total first on ties.
// Caller holds g.mu.
func (g *Game) standings() []Standing {
	results := make([]PlayerResult, 0, len(g.players))
	for _, p := range g.players {
		results = append(results, PlayerResult{Nickname: p.Nickname, Animal: p.Animal, TotalScore: p.Score})
	}
	sortResults(results, g.players)

	out := make([]Standing, len(results))
	for i, r := range results {
		out[i] = Standing{Rank: i + 1, Nickname: r.Nickname, Animal: r.Animal, Score: r.TotalScore}
	}
	return out
}

// HandleDrop is the disconnect sweep for quiz sessions. Runs on the hub's
// drop path, outside any game lock.
func (m *Manager) HandleDrop(clientID string) {
	m.registry.Each(func(s session.Session) bool {
		g, ok := s.(*Game)
		if !ok {
			return true
		}

		g.mu.Lock()
		if g.closed {
			g.mu.Unlock()
			return true
		}
		if g.hostID == clientID {
			pin := g.pin
			g.mu.Unlock()
			m.bus.Broadcast(groupAll(pin), hub.E("quiz:host-left", nil))
			m.registry.Delete(pin)
			return false
		}
		p, ok := g.players[clientID]
		if !ok {
			g.mu.Unlock()
			return true
		}

		p.Connected = false
		delete(g.exitVotes, clientID)
		m.bus.Broadcast(groupAll(g.pin), hub.E("quiz:player-disconnected", playerRef{Nickname: p.Nickname}))

		if g.state == StateActive {
			// The denominator shrank: a phase waiting only on this
			// player resolves now.
			if g.answers.Open() && g.answers.Complete(g.connectedCount()) && g.answers.TryResolve() {
				m.finishRound(g)
			}
			if d := g.currentDuel; d != nil && (d.ChallengerID == clientID || d.TargetID == clientID) {
				if g.duelAnswers.TryResolve() {
					m.resolveDuel(g)
				}
			}
			m.maybeAdvance(g)
			if g.connectedCount() == 0 {
				pin := g.pin
				g.mu.Unlock()
				m.registry.Delete(pin)
				return false
			}
		}
		g.mu.Unlock()
		return false
	})
}
