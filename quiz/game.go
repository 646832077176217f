// Package quiz is the trivia session manager: timed questions, single-use
// powers staged between rounds, and 1v1 challenge duels.
package quiz

import (
	"strings"
	"sync"
	"time"

	"partyarena/session"
	"partyarena/store"
)

const (
	BasePoints    = 10
	StealAmount   = 2
	QuestionCount = 10
	SampleSize    = 20 // extras beyond QuestionCount feed challenge duels
	MaxPlayers    = 8

	QuestionTime  = 25 * time.Second
	ChallengeTime = 9 * time.Second
	resultsDelay  = 4 * time.Second
	nextDelay     = 3 * time.Second
	firstDelay    = time.Second
)

type State int

const (
	StateLobby State = iota
	StateActive
	StateFinished
)

type Power string

const (
	PowerSteal     Power = "steal"
	PowerDouble    Power = "double"
	PowerBlock     Power = "block"
	PowerShuffle   Power = "shuffle"
	PowerObfuscate Power = "obfuscate"
	PowerHalve     Power = "halve"
	PowerChallenge Power = "challenge"
)

var allPowers = []Power{
	PowerSteal, PowerDouble, PowerBlock, PowerShuffle,
	PowerObfuscate, PowerHalve, PowerChallenge,
}

// needsTarget reports whether the power acts on another participant.
func (p Power) needsTarget() bool { return p != PowerDouble }

func (p Power) valid() bool {
	for _, known := range allPowers {
		if p == known {
			return true
		}
	}
	return false
}

type Player struct {
	ID        string // connection identity
	Nickname  string
	Animal    string
	Score     int
	Connected bool
	Used      map[Power]bool

	// scoreSeq orders players with equal totals: the one whose score
	// settled earlier ranks higher.
	scoreSeq int
}

type stagedPower struct {
	Type     Power
	ActorID  string
	TargetID string
}

type duel struct {
	ChallengerID string
	TargetID     string
	Question     store.Question
}

// Game is one quiz session. Every mutation happens under mu; timer
// callbacks lock before touching anything, making phase resolution
// exactly-once relative to the deadline race.
type Game struct {
	mu     sync.Mutex
	pin    string
	hostID string
	state  State
	closed bool

	players map[string]*Player

	questions     []store.Question
	questionIndex int

	answers *session.Phase[string] // option letter per player

	// Powers staged during the result screen, consumed by the next
	// question's resolution and cleared there.
	staged     []stagedPower
	blocked    map[string]bool
	shuffled   map[string]bool
	obfuscated map[string]bool
	halved     map[string]bool
	targeted   map[string]bool // at most one power per target per round
	powerDone  map[string]bool

	pendingDuels  []duel
	currentDuel   *duel
	duelAnswers   *session.Phase[string]
	usedDuelQues  map[int64]bool
	advancing     bool // next-question countdown already scheduled
	exitVotes     map[string]bool
	nextScoreSeq  int
	historyGameID int64

	flow      *time.Timer // single pending flow transition (results delay etc.)
	retention *time.Timer // deferred registry cleanup after the podium
}

func NewGame(pin, hostID string) *Game {
	return &Game{
		pin:          pin,
		hostID:       hostID,
		state:        StateLobby,
		players:      make(map[string]*Player),
		answers:      session.NewPhase[string](),
		duelAnswers:  session.NewPhase[string](),
		blocked:      make(map[string]bool),
		shuffled:     make(map[string]bool),
		obfuscated:   make(map[string]bool),
		halved:       make(map[string]bool),
		targeted:     make(map[string]bool),
		powerDone:    make(map[string]bool),
		usedDuelQues: make(map[int64]bool),
		exitVotes:    make(map[string]bool),
	}
}

func (g *Game) Pin() string { return g.pin }

// Close cancels every outstanding timer. Called exactly once, via the
// registry; a stale timer that already fired will find closed set and
// no-op.
func (g *Game) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	g.answers.Cancel()
	g.duelAnswers.Cancel()
	g.stopFlow()
	if g.retention != nil {
		g.retention.Stop()
		g.retention = nil
	}
}

func (g *Game) stopFlow() {
	if g.flow != nil {
		g.flow.Stop()
		g.flow = nil
	}
}

// scheduleFlow replaces the pending flow transition. fn runs with the game
// locked unless the session was closed in the meantime.
func (g *Game) scheduleFlow(d time.Duration, fn func()) {
	g.stopFlow()
	g.flow = time.AfterFunc(d, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.closed {
			return
		}
		fn()
	})
}

func (g *Game) findByNickname(nickname string) *Player {
	for _, p := range g.players {
		if strings.EqualFold(p.Nickname, nickname) {
			return p
		}
	}
	return nil
}

// connectedCount is the collection-complete denominator: disconnected
// players never block resolution.
func (g *Game) connectedCount() int {
	n := 0
	for _, p := range g.players {
		if p.Connected {
			n++
		}
	}
	return n
}

func (g *Game) markScored(p *Player) {
	g.nextScoreSeq++
	p.scoreSeq = g.nextScoreSeq
}

func (g *Game) currentQuestion() store.Question {
	return g.questions[g.questionIndex]
}

func (g *Game) isLastQuestion() bool {
	return g.questionIndex >= QuestionCount-1
}
