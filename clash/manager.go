package clash

import (
	"time"

	"github.com/rs/zerolog"

	"partyarena/hub"
	"partyarena/session"
)

const finishedRetention = 5 * time.Minute

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
		log:      log.With().Str("mode", "clash").Logger(),
	}
}

func groupAll(pin string) string  { return "clash:" + pin }
func groupHost(pin string) string { return "clash-host:" + pin }

func (m *Manager) game(pin string) (*Game, bool) {
	s, ok := m.registry.Get(pin)
	if !ok {
		return nil, false
	}
	g, ok := s.(*Game)
	return g, ok
}

// startRound opens a new round: every third one reshuffles the ring before
// the mini-game. Caller holds g.mu.
func (m *Manager) startRound(g *Game) {
	if g.state != StateActive {
		return
	}
	if g.round > 1 && g.round%shuffleEvery == 0 {
		if moves := g.shufflePositions(); moves != nil {
			m.bus.Broadcast(groupHost(g.pin), hub.E("clash:shuffle-positions", shuffleMsg{Round: g.round, Moves: moves}))
			for id, f := range g.players {
				if !f.Alive {
					continue
				}
				left, right := g.neighbors(id)
				m.bus.Send(id, hub.E("clash:positions-changed", neighborsMsg{
					Left: fighterRef(left), Right: fighterRef(right),
				}))
			}
			g.scheduleFlow(shuffleDelay, func() { m.startMiniGame(g) })
			return
		}
	}
	m.startMiniGame(g)
}

// startMiniGame arms the mini-game phase. Caller holds g.mu.
func (m *Manager) startMiniGame(g *Game) {
	g.current = g.newMiniRound()
	g.bonuses = make(map[string]*Bonus)
	r := g.current

	g.mini.BeginMulti(r.def.Duration, r.def.Limit, func(epoch uint64) {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.closed {
			return
		}
		if g.mini.TryResolveEpoch(epoch) {
			m.resolveMiniGame(g)
		}
	})

	view := miniGameView{
		Round:       g.round,
		Type:        string(r.def.Kind),
		Name:        r.def.Name,
		Description: r.def.Description,
		DurationMs:  r.def.Duration.Milliseconds(),
		Options:     r.options,
		Stroop:      r.stroop,
		TargetTaps:  targetTapsFor(r.def.Kind),
		Rounds:      len(r.sequence),
	}
	hostView := view
	hostView.Visible = r.visible
	hostView.Correct = r.correct
	if r.def.Kind == miniReflex {
		hostView.GoDelayMs = r.goDelay.Milliseconds()
	}
	m.bus.Broadcast(groupHost(g.pin), hub.E("clash:minigame-start", hostView))

	playerView := view
	if r.def.Kind == miniReflex {
		playerView.GoDelayMs = r.goDelay.Milliseconds()
	}
	if r.def.Kind == miniQuickOpposites || r.def.Kind == miniDodge {
		playerView.Visible = r.visible
	}
	for id, f := range g.players {
		if f.Alive {
			m.bus.Send(id, hub.E("clash:minigame-start", playerView))
		}
	}
	m.log.Debug().Str("pin", g.pin).Int("round", g.round).Str("minigame", string(r.def.Kind)).Msg("minigame started")
}

func targetTapsFor(kind miniKind) int {
	if kind == miniTurboRunner {
		return turboTargetTaps
	}
	return 0
}

// resolveMiniGame runs once per mini-game phase. Caller holds g.mu with the
// mini phase resolved.
func (m *Manager) resolveMiniGame(g *Game) {
	results := g.scoreMiniGame()
	if g.current == nil {
		m.startActionPhase(g)
		return
	}
	m.bus.Broadcast(groupHost(g.pin), hub.E("clash:minigame-results", miniResultsMsg{
		Type:    string(g.current.def.Kind),
		Name:    g.current.def.Name,
		Correct: g.current.correct,
		Results: results,
	}))
	for _, res := range results {
		m.bus.Send(res.id, hub.E("clash:minigame-your-result", miniPersonalMsg{
			Rank: res.Rank, Correct: res.Correct, Bonus: res.Bonus,
		}))
	}
	g.scheduleFlow(miniShowDelay, func() { m.startActionPhase(g) })
}

// startActionPhase applies the instant mini-game rewards, then collects one
// combat action per alive fighter. Caller holds g.mu.
func (m *Manager) startActionPhase(g *Game) {
	if g.state != StateActive {
		return
	}
	m.applyInstantBonuses(g)
	if g.aliveCount() <= 1 {
		m.endGame(g)
		return
	}

	g.actions.Begin(TurnTime, func(epoch uint64) {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.closed {
			return
		}
		if g.actions.TryResolveEpoch(epoch) {
			m.resolveRound(g)
		}
	})

	deadline := g.actions.Deadline().UnixMilli()
	m.bus.Broadcast(groupHost(g.pin), hub.E("clash:action-phase", actionPhaseMsg{
		Round:      g.round,
		DeadlineAt: deadline,
		Players:    g.statusList(),
	}))
	for id, f := range g.players {
		if !f.Alive {
			continue
		}
		left, right := g.neighbors(id)
		m.bus.Send(id, hub.E("clash:round-start", roundStartMsg{
			Round:       g.round,
			DeadlineAt:  deadline,
			HP:          f.HP,
			Focus:       f.Focus,
			Left:        fighterRef(left),
			Right:       fighterRef(right),
			Bonus:       *g.bonus(id),
			MatchEndsAt: g.matchDeadline.UnixMilli(),
		}))
	}
}

// applyInstantBonuses spends the focus, heal and direct-damage rewards
// before the action phase opens. Caller holds g.mu.
func (m *Manager) applyInstantBonuses(g *Game) {
	for id, f := range g.players {
		if !f.Alive {
			continue
		}
		b := g.bonus(id)
		if b.FocusBoost > 0 {
			f.Focus = min(FocusCap, f.Focus+b.FocusBoost)
		}
		if b.HealBoost > 0 {
			f.HP = min(MaxHP, f.HP+b.HealBoost)
		}
		if b.HPLoss > 0 {
			f.HP -= b.HPLoss
		}
		if b.ExtraDamageLeft > 0 {
			if left, _ := g.neighbors(id); left != nil {
				left.HP -= b.ExtraDamageLeft
				f.Stats.DamageDealt += b.ExtraDamageLeft
				m.bus.Send(left.ID, hub.E("clash:bonus-damage", bonusDamageMsg{Damage: b.ExtraDamageLeft, From: f.Nickname}))
			}
		}
		if b.DamageToAll > 0 {
			for oid, other := range g.players {
				if oid != id && other.Alive {
					other.HP -= b.DamageToAll
					f.Stats.DamageDealt += b.DamageToAll
					m.bus.Send(oid, hub.E("clash:bonus-damage", bonusDamageMsg{Damage: b.DamageToAll, From: f.Nickname}))
				}
			}
		}
	}

	for _, f := range g.players {
		if f.Alive && f.HP <= 0 {
			f.HP = 0
			f.Alive = false
			f.Stats.RoundsSurvived = g.round
			g.eliminationOrder = append(g.eliminationOrder, f.ID)
			m.bus.Broadcast(groupAll(g.pin), hub.E("clash:player-eliminated", playerRef{Nickname: f.Nickname}))
		}
	}
}

// resolveRound runs once per combat round on whichever path won the phase
// race. Caller holds g.mu with the action phase resolved.
func (m *Manager) resolveRound(g *Game) {
	outcome := g.resolveCombat()
	round := g.round
	g.round++

	gameOver := g.aliveCount() <= 1
	var winner *Ranking
	if gameOver {
		if ring := g.alive(); len(ring) == 1 {
			f := ring[0]
			winner = &Ranking{Nickname: f.Nickname, Avatar: f.Avatar, Element: f.Element, HP: f.HP, Alive: true, Stats: f.Stats}
		}
	}

	m.bus.Broadcast(groupHost(g.pin), hub.E("clash:round-results", roundResultsMsg{
		Round:        round,
		Actions:      outcome.actions,
		Events:       outcome.events,
		Eliminations: outcome.eliminations,
		Players:      g.statusList(),
		GameOver:     gameOver,
		Winner:       winner,
	}))

	for id, f := range g.players {
		personal := personalRoundMsg{}
		for _, ev := range outcome.events {
			if ev.Player != f.Nickname {
				continue
			}
			switch ev.Type {
			case "damage":
				personal.Damage += ev.Damage
				personal.AttackedBy = ev.Attackers
			case "blocked":
				personal.Damage += ev.Damage
				personal.Blocked = true
				personal.AttackedBy = ev.Attackers
			}
		}
		for _, el := range outcome.eliminations {
			if el.Nickname == f.Nickname {
				personal.Eliminated = true
			}
		}
		m.bus.Send(id, hub.E("clash:your-result", personal))
		if personal.Eliminated {
			m.bus.Send(id, hub.E("clash:eliminated", remainingMsg{Remaining: g.aliveCount()}))
		}
	}

	if gameOver {
		g.scheduleFlow(endShowDelay, func() { m.endGame(g) })
		return
	}
	g.scheduleFlow(nextRoundGap, func() { m.startRound(g) })
}

// endGame publishes final rankings and parks the session until retention
// expires. Caller holds g.mu.
func (m *Manager) endGame(g *Game) {
	if g.state == StateFinished {
		return
	}
	g.state = StateFinished
	g.actions.Cancel()
	g.mini.Cancel()
	g.stopFlow()
	if g.matchTimer != nil {
		g.matchTimer.Stop()
		g.matchTimer = nil
	}

	rankings := g.rankings()
	m.bus.Broadcast(groupAll(g.pin), hub.E("clash:game-ended", rankingsMsg{Rankings: rankings}))
	m.archive.GameFinished(g.historyGameID)
	m.log.Info().Str("pin", g.pin).Int("rounds", g.round).Msg("match finished")

	// Kept on the game so an earlier Delete cancels it before the pin can
	// be reallocated.
	pin := g.pin
	g.retention = time.AfterFunc(finishedRetention, func() { m.registry.Delete(pin) })
}

func (g *Game) statusList() []FighterStatus {
	out := make([]FighterStatus, 0, len(g.players))
	for _, f := range g.players {
		out = append(out, FighterStatus{
			Nickname: f.Nickname, Avatar: f.Avatar, Element: f.Element,
			HP: f.HP, MaxHP: MaxHP, Focus: f.Focus, Alive: f.Alive, Position: f.Position,
		})
	}
	return out
}

func fighterRef(f *Fighter) *NeighborRef {
	if f == nil {
		return nil
	}
	return &NeighborRef{Nickname: f.Nickname, Avatar: f.Avatar, Element: f.Element, HP: f.HP}
}

// HandleDrop removes a dropped connection from its session. A fighter's
// leave is permanent in this mode.
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
			m.bus.Broadcast(groupAll(pin), hub.E("clash:host-left", nil))
			m.registry.Delete(pin)
			return false
		}
		f, ok := g.players[clientID]
		if !ok {
			g.mu.Unlock()
			return true
		}

		delete(g.players, clientID)
		delete(g.exitVotes, clientID)
		m.bus.Broadcast(groupAll(g.pin), hub.E("clash:player-left", playerRef{Nickname: f.Nickname}))
		m.bus.Broadcast(groupAll(g.pin), hub.E("clash:lobby-update", lobbyMsg{Players: g.statusList()}))

		if g.state == StateActive {
			switch {
			case g.aliveCount() <= 1:
				m.endGame(g)
			case g.actions.Open() && g.actions.Complete(g.aliveCount()) && g.actions.TryResolve():
				m.resolveRound(g)
			case g.miniAllAnswered() && g.mini.TryResolve():
				m.resolveMiniGame(g)
			}
		}
		g.mu.Unlock()
		return false
	})
}

// miniAllAnswered reports collection-complete for single-answer mini-games.
// The multi-submit games always run to their deadline.
func (g *Game) miniAllAnswered() bool {
	if g.current == nil || !g.mini.Open() || g.current.def.Limit != 1 {
		return false
	}
	return g.mini.Complete(g.aliveCount())
}
