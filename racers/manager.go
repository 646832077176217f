package racers

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"partyarena/hub"
	"partyarena/session"
)

const (
	countdownFrom     = 3
	finishedRetention = 5 * time.Minute
)

type Messenger interface {
	Join(group, clientID string)
	Leave(group, clientID string)
	Broadcast(group string, ev hub.Event)
	Send(clientID string, ev hub.Event)
}

type Archive interface {
	GameStarted(pin, mode string) int64
	GameFinished(gameID int64)
}

type Manager struct {
	registry *session.Registry
	bus      Messenger
	archive  Archive
	log      zerolog.Logger
}

func NewManager(reg *session.Registry, bus Messenger, archive Archive, log zerolog.Logger) *Manager {
	return &Manager{
		registry: reg,
		bus:      bus,
		archive:  archive,
		log:      log.With().Str("mode", "racers").Logger(),
	}
}

func groupAll(pin string) string  { return "racers:" + pin }
func groupHost(pin string) string { return "racers-host:" + pin }

func (m *Manager) game(pin string) (*Game, bool) {
	s, ok := m.registry.Get(pin)
	if !ok {
		return nil, false
	}
	g, ok := s.(*Game)
	return g, ok
}

// runCountdown ticks the pre-race countdown once per second, then flips to
// racing and launches the tick loop.
func (m *Manager) runCountdown(g *Game, n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || g.state != StateCountdown {
		return
	}
	if n > 0 {
		m.bus.Broadcast(groupAll(g.pin), hub.E("racers:countdown", countdownMsg{Count: n}))
		g.countdownTimer = time.AfterFunc(time.Second, func() { m.runCountdown(g, n-1) })
		return
	}
	g.state = StateRacing
	g.raceStart = time.Now()
	m.bus.Broadcast(groupAll(g.pin), hub.E("racers:go", nil))
	m.log.Info().Str("pin", g.pin).Int("players", len(g.players)).Msg("race started")
	go m.runLoop(g)
}

// runLoop is the per-race simulation goroutine. It owns nothing: every tick
// takes g.mu, integrates one step and fans out the state snapshots.
func (m *Manager) runLoop(g *Game) {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	for now := range ticker.C {
		g.mu.Lock()
		if g.closed || g.state != StateRacing {
			g.mu.Unlock()
			return
		}
		g.step(now)
		if g.state == StateFinished {
			m.finishRace(g)
			g.mu.Unlock()
			return
		}
		m.broadcastState(g, now)
		g.mu.Unlock()
	}
}

func (m *Manager) broadcastState(g *Game, now time.Time) {
	cars := make([]carState, 0, len(g.players))
	for _, c := range g.players {
		cars = append(cars, carState{
			Nickname:       c.Nickname,
			Color:          c.Color,
			X:              c.X,
			Y:              c.Y,
			Angle:          c.Angle,
			Speed:          c.Speed,
			Lap:            c.Lap,
			NextCheckpoint: c.NextCheckpoint,
			Finished:       c.Finished,
			Effects:        c.activeEffects(now),
		})
	}
	sort.Slice(cars, func(i, j int) bool { return cars[i].Nickname < cars[j].Nickname })

	hazards := make([]hazardState, 0, len(g.hazards))
	for _, h := range g.hazards {
		hazards = append(hazards, hazardState{X: h.X, Y: h.Y, Radius: h.Radius})
	}

	remaining := MaxRaceTime - now.Sub(g.raceStart)
	m.bus.Broadcast(groupHost(g.pin), hub.E("racers:game-state", gameStateMsg{
		Players:     cars,
		Hazards:     hazards,
		Spawns:      g.track.Spawns,
		RemainingMs: remaining.Milliseconds(),
	}))

	ranked := g.standings()
	for id, c := range g.players {
		m.bus.Send(id, hub.E("racers:player-state", playerStateMsg{
			Lap:            min(c.Lap, TotalLaps),
			TotalLaps:      TotalLaps,
			NextCheckpoint: c.NextCheckpoint,
			Position:       ranked[c.ID],
			Speed:          c.Speed,
			Powerup:        string(c.Powerup),
			Finished:       c.Finished,
			Effects:        c.activeEffects(now),
		}))
	}
}

// standings maps car ID to its live race position, finishers first.
func (g *Game) standings() map[string]int {
	cars := make([]*Car, 0, len(g.players))
	for _, c := range g.players {
		cars = append(cars, c)
	}
	sort.SliceStable(cars, func(i, j int) bool {
		a, b := cars[i], cars[j]
		if a.Finished != b.Finished {
			return a.Finished
		}
		if a.Finished {
			return a.FinishPosition < b.FinishPosition
		}
		return moreProgress(a, b)
	})
	ranked := make(map[string]int, len(cars))
	for i, c := range cars {
		ranked[c.ID] = i + 1
	}
	return ranked
}

func (c *Car) activeEffects(now time.Time) []string {
	var kinds []string
	for _, e := range c.effects {
		if e.until.After(now) {
			kinds = append(kinds, e.kind)
		}
	}
	return kinds
}

// finishRace publishes the final classification. Caller holds g.mu; the
// session is deleted later so late spectators still see the results screen.
func (m *Manager) finishRace(g *Game) {
	results := make([]RaceResult, 0, len(g.finishOrder))
	for _, id := range g.finishOrder {
		c, ok := g.players[id]
		if !ok {
			continue
		}
		results = append(results, RaceResult{
			Position:     c.FinishPosition,
			Nickname:     c.Nickname,
			Color:        c.Color,
			FinishTimeMs: c.FinishTime.Milliseconds(),
			Laps:         min(c.Lap, TotalLaps),
			TopSpeed:     math.Round(c.Stats.TopSpeed * 10),
			PowerupsUsed: c.Stats.PowerupsUsed,
			Collisions:   c.Stats.Collisions,
		})
	}
	m.bus.Broadcast(groupAll(g.pin), hub.E("racers:race-over", raceOverMsg{Results: results}))
	m.archive.GameFinished(g.historyGameID)
	m.log.Info().Str("pin", g.pin).Int("finishers", len(results)).Msg("race finished")

	// Deletion must not run under g.mu: registry.Delete closes the
	// session, which takes the same lock. The handle is kept on the game
	// so an earlier Delete cancels it before the pin can be reallocated.
	pin := g.pin
	g.retention = time.AfterFunc(finishedRetention, func() { m.registry.Delete(pin) })
}

// HandleDrop is the disconnect sweep for race sessions. The host leaving
// ends the session; a racer leaving is removed from the grid outright.
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
		if clientID == g.hostID {
			pin := g.pin
			g.mu.Unlock()
			m.bus.Broadcast(groupAll(pin), hub.E("racers:host-left", nil))
			m.registry.Delete(pin)
			m.log.Info().Str("pin", pin).Msg("host left, session closed")
			return false
		}
		c, ok := g.players[clientID]
		if !ok {
			g.mu.Unlock()
			return true
		}
		pin := g.pin
		delete(g.players, clientID)
		m.bus.Leave(groupAll(pin), clientID)
		m.bus.Broadcast(groupAll(pin), hub.E("racers:player-left", playerRef{Nickname: c.Nickname}))
		m.bus.Broadcast(groupAll(pin), hub.E("racers:lobby-update", lobbyMsg{Players: g.roster()}))

		empty := len(g.players) == 0
		if g.state == StateRacing && !empty && g.allFinished() {
			g.forceFinish(time.Now())
			m.finishRace(g)
		}
		g.mu.Unlock()
		if empty {
			m.registry.Delete(pin)
			m.log.Info().Str("pin", pin).Msg("last racer left, session closed")
		}
		return false
	})
}

func (g *Game) roster() []lobbyPlayer {
	players := make([]lobbyPlayer, 0, len(g.players))
	for _, c := range g.players {
		players = append(players, lobbyPlayer{Nickname: c.Nickname, Color: c.Color})
	}
	sort.Slice(players, func(i, j int) bool { return players[i].Nickname < players[j].Nickname })
	return players
}
