// Package clash is the elemental battle manager: players stand on a ring,
// pick one combat action per turn, and a reflex mini-game before every
// round hands out transient bonuses.
package clash

import (
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"partyarena/session"
)

const (
	BaseDamage       = 15
	ElementBonus     = 0.3
	DefenseReduction = 0.7
	FocusHeal        = 5
	HealAmount       = 30
	FocusCap         = 2
	SpecialCost      = 2
	MaxHP            = 100

	MinPlayers = 2
	MaxPlayers = 8

	TurnTime      = 10 * time.Second
	MatchTime     = 10 * time.Minute
	shuffleEvery  = 3
	shuffleDelay  = 3 * time.Second
	miniShowDelay = 2500 * time.Millisecond
	nextRoundGap  = 3 * time.Second
	endShowDelay  = 3 * time.Second
)

type Element string

const (
	Fire  Element = "fire"
	Water Element = "water"
	Earth Element = "earth"
	Air   Element = "air"
)

// beats follows the cycle fire > air > earth > water > fire.
func (e Element) beats() Element {
	switch e {
	case Fire:
		return Air
	case Air:
		return Earth
	case Earth:
		return Water
	case Water:
		return Fire
	}
	return ""
}

func (e Element) valid() bool {
	return e.beats() != ""
}

type Action string

const (
	AttackLeft   Action = "attack-left"
	AttackRight  Action = "attack-right"
	Defend       Action = "defend"
	Focus        Action = "focus"
	DoubleAttack Action = "double-attack"
	MegaDefense  Action = "mega-defense"
	Heal         Action = "heal"
	Counter      Action = "counter"
)

func (a Action) special() bool {
	switch a {
	case DoubleAttack, MegaDefense, Heal, Counter:
		return true
	}
	return false
}

func (a Action) valid() bool {
	switch a {
	case AttackLeft, AttackRight, Defend, Focus:
		return true
	}
	return a.special()
}

type FightStats struct {
	DamageDealt    int `json:"damageDealt"`
	DamageTaken    int `json:"damageTaken"`
	Kills          int `json:"kills"`
	RoundsSurvived int `json:"roundsSurvived"`
}

type Fighter struct {
	ID       string
	Nickname string
	Avatar   string
	Element  Element
	HP       int
	Focus    int
	Alive    bool
	Position int
	Stats    FightStats
}

// Bonus is one player's transient mini-game reward, consumed by the next
// combat round and cleared with it.
type Bonus struct {
	DamagePct       float64 `json:"damagePct,omitempty"`
	DamageTaken     int     `json:"damageTaken,omitempty"`
	Shield          float64 `json:"shield,omitempty"`
	Priority        bool    `json:"priority,omitempty"`
	FocusBoost      int     `json:"focusBoost,omitempty"`
	HealBoost       int     `json:"healBoost,omitempty"`
	HPLoss          int     `json:"hpLoss,omitempty"`
	ExtraDamageLeft int     `json:"extraDamageLeft,omitempty"`
	DamageToAll     int     `json:"damageToAll,omitempty"`
	Last            bool    `json:"last,omitempty"`
}

type State int

const (
	StateLobby State = iota
	StateActive
	StateFinished
)

type Game struct {
	mu     sync.Mutex
	pin    string
	hostID string
	state  State
	closed bool

	players map[string]*Fighter
	round   int

	actions *session.Phase[Action]
	mini    *session.Phase[string]
	current *miniRound
	bonuses map[string]*Bonus

	eliminationOrder []string
	exitVotes        map[string]bool

	matchDeadline time.Time
	matchTimer    *time.Timer
	flow          *time.Timer
	retention     *time.Timer

	historyGameID int64

	randInt func(n int) int
}

func NewGame(pin, hostID string) *Game {
	return &Game{
		pin:       pin,
		hostID:    hostID,
		state:     StateLobby,
		players:   make(map[string]*Fighter),
		actions:   session.NewPhase[Action](),
		mini:      session.NewPhase[string](),
		bonuses:   make(map[string]*Bonus),
		exitVotes: make(map[string]bool),
		randInt:   rand.IntN,
	}
}

func (g *Game) Pin() string { return g.pin }

func (g *Game) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	g.actions.Cancel()
	g.mini.Cancel()
	g.stopFlow()
	if g.matchTimer != nil {
		g.matchTimer.Stop()
		g.matchTimer = nil
	}
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

func (g *Game) findByNickname(nickname string) *Fighter {
	for _, f := range g.players {
		if strings.EqualFold(f.Nickname, nickname) {
			return f
		}
	}
	return nil
}

// alive returns living fighters sorted by ring position.
func (g *Game) alive() []*Fighter {
	out := make([]*Fighter, 0, len(g.players))
	for _, f := range g.players {
		if f.Alive {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

func (g *Game) aliveCount() int {
	n := 0
	for _, f := range g.players {
		if f.Alive {
			n++
		}
	}
	return n
}

// neighbors finds the ring neighbours of a fighter among the alive set.
func (g *Game) neighbors(id string) (left, right *Fighter) {
	ring := g.alive()
	idx := -1
	for i, f := range ring {
		if f.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 || len(ring) < 2 {
		return nil, nil
	}
	return ring[(idx-1+len(ring))%len(ring)], ring[(idx+1)%len(ring)]
}

// ShuffleMove records one fighter's seat change for the table animation.
type ShuffleMove struct {
	Nickname    string  `json:"nickname"`
	Avatar      string  `json:"avatar"`
	Element     Element `json:"element"`
	OldPosition int     `json:"oldPosition"`
	NewPosition int     `json:"newPosition"`
}

// shufflePositions deals new ring seats to the alive fighters with a
// Fisher-Yates pass.
func (g *Game) shufflePositions() []ShuffleMove {
	ring := g.alive()
	if len(ring) < 2 {
		return nil
	}
	positions := make([]int, len(ring))
	for i := range positions {
		positions[i] = i
	}
	for i := len(positions) - 1; i > 0; i-- {
		j := g.randInt(i + 1)
		positions[i], positions[j] = positions[j], positions[i]
	}

	moves := make([]ShuffleMove, len(ring))
	for i, f := range ring {
		moves[i] = ShuffleMove{
			Nickname:    f.Nickname,
			Avatar:      f.Avatar,
			Element:     f.Element,
			OldPosition: f.Position,
			NewPosition: positions[i],
		}
		f.Position = positions[i]
	}
	return moves
}

func (g *Game) bonus(id string) *Bonus {
	if b := g.bonuses[id]; b != nil {
		return b
	}
	return &Bonus{}
}
