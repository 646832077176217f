package clash

import (
	"encoding/json"
	"strings"
	"time"

	"partyarena/hub"
	"partyarena/session"
)

// Inbound payloads.

type joinReq struct {
	Pin      string  `json:"pin"`
	Nickname string  `json:"nickname"`
	Avatar   string  `json:"avatar"`
	Element  Element `json:"element"`
}

type pinReq struct {
	Pin string `json:"pin"`
}

type actionReq struct {
	Pin    string `json:"pin"`
	Action Action `json:"action"`
}

type miniAnswerReq struct {
	Pin    string `json:"pin"`
	Answer string `json:"answer"`
}

type voteReq struct {
	Pin  string `json:"pin"`
	Vote bool   `json:"vote"`
}

// Outbound payloads.

type errMsg struct {
	Message string `json:"message"`
}

type createdMsg struct {
	Pin string `json:"pin"`
}

type FighterStatus struct {
	Nickname string  `json:"nickname"`
	Avatar   string  `json:"avatar"`
	Element  Element `json:"element"`
	HP       int     `json:"hp"`
	MaxHP    int     `json:"maxHp"`
	Focus    int     `json:"focus"`
	Alive    bool    `json:"alive"`
	Position int     `json:"position"`
}

type NeighborRef struct {
	Nickname string  `json:"nickname"`
	Avatar   string  `json:"avatar"`
	Element  Element `json:"element"`
	HP       int     `json:"hp"`
}

type lobbyMsg struct {
	Players []FighterStatus `json:"players"`
}

type joinedMsg struct {
	Pin     string          `json:"pin"`
	Players []FighterStatus `json:"players"`
}

type shuffleMsg struct {
	Round int           `json:"round"`
	Moves []ShuffleMove `json:"moves"`
}

type neighborsMsg struct {
	Left  *NeighborRef `json:"left"`
	Right *NeighborRef `json:"right"`
}

type miniGameView struct {
	Round       int            `json:"round"`
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	DurationMs  int64          `json:"durationMs"`
	Options     []string       `json:"options,omitempty"`
	Visible     []string       `json:"visible,omitempty"`
	Stroop      []stroopButton `json:"stroop,omitempty"`
	Correct     string         `json:"correct,omitempty"`
	GoDelayMs   int64          `json:"goDelayMs,omitempty"`
	TargetTaps  int            `json:"targetTaps,omitempty"`
	Rounds      int            `json:"rounds,omitempty"`
}

type miniResultsMsg struct {
	Type    string       `json:"type"`
	Name    string       `json:"name"`
	Correct string       `json:"correct,omitempty"`
	Results []MiniResult `json:"results"`
}

type miniPersonalMsg struct {
	Rank    int   `json:"rank"`
	Correct bool  `json:"correct"`
	Bonus   Bonus `json:"bonus"`
}

type tapProgressMsg struct {
	Taps     int  `json:"taps"`
	Target   int  `json:"target"`
	Finished bool `json:"finished"`
}

type oppositesProgressMsg struct {
	Round    int  `json:"round"`
	Correct  bool `json:"correct"`
	Finished bool `json:"finished"`
}

type actionPhaseMsg struct {
	Round      int             `json:"round"`
	DeadlineAt int64           `json:"deadlineAt"`
	Players    []FighterStatus `json:"players"`
}

type roundStartMsg struct {
	Round       int          `json:"round"`
	DeadlineAt  int64        `json:"deadlineAt"`
	HP          int          `json:"hp"`
	Focus       int          `json:"focus"`
	Left        *NeighborRef `json:"left"`
	Right       *NeighborRef `json:"right"`
	Bonus       Bonus        `json:"bonus"`
	MatchEndsAt int64        `json:"matchEndsAt"`
}

type bonusDamageMsg struct {
	Damage int    `json:"damage"`
	From   string `json:"from"`
}

type roundResultsMsg struct {
	Round        int             `json:"round"`
	Actions      []ActionView    `json:"actions"`
	Events       []CombatEvent   `json:"events"`
	Eliminations []Elimination   `json:"eliminations"`
	Players      []FighterStatus `json:"players"`
	GameOver     bool            `json:"gameOver"`
	Winner       *Ranking        `json:"winner,omitempty"`
}

type personalRoundMsg struct {
	Damage     int          `json:"damage"`
	Blocked    bool         `json:"blocked"`
	AttackedBy []AttackInfo `json:"attackedBy,omitempty"`
	Eliminated bool         `json:"eliminated"`
}

type remainingMsg struct {
	Remaining int `json:"remaining"`
}

type rankingsMsg struct {
	Rankings []Ranking `json:"rankings"`
}

type playerRef struct {
	Nickname string `json:"nickname"`
}

type exitUpdateMsg struct {
	Voted int `json:"voted"`
	Total int `json:"total"`
}

// Register wires the clash event table into the hub.
func (m *Manager) Register(h *hub.Hub) {
	h.Handle("clash:create", func(c *hub.Client, data json.RawMessage) { m.HandleCreate(c.ID) })
	h.Handle("clash:join", bind(m, m.HandleJoin))
	h.Handle("clash:start", bind(m, m.HandleStart))
	h.Handle("clash:action", bind(m, m.HandleAction))
	h.Handle("clash:minigame-answer", bind(m, m.HandleMiniAnswer))
	h.Handle("clash:vote-exit", bind(m, m.HandleVoteExit))
	h.OnDrop(m.HandleDrop)
}

func bind[T any](m *Manager, fn func(clientID string, req T)) hub.HandlerFunc {
	return func(c *hub.Client, data json.RawMessage) {
		var req T
		if err := json.Unmarshal(data, &req); err != nil {
			m.fail(c.ID, "malformed payload")
			return
		}
		fn(c.ID, req)
	}
}

func (m *Manager) fail(clientID, message string) {
	m.bus.Send(clientID, hub.E("clash:error", errMsg{Message: message}))
}

func (m *Manager) HandleCreate(clientID string) {
	s, err := m.registry.Allocate(func(pin string) session.Session {
		return NewGame(pin, clientID)
	})
	if err != nil {
		m.fail(clientID, "no free game pins, try again later")
		return
	}
	pin := s.Pin()
	m.bus.Join(groupAll(pin), clientID)
	m.bus.Join(groupHost(pin), clientID)
	m.bus.Send(clientID, hub.E("clash:created", createdMsg{Pin: pin}))
	m.log.Info().Str("pin", pin).Msg("game created")
}

func (m *Manager) HandleJoin(clientID string, req joinReq) {
	g, ok := m.game(req.Pin)
	if !ok {
		m.fail(clientID, "game not found")
		return
	}
	nickname := strings.TrimSpace(req.Nickname)

	g.mu.Lock()
	switch {
	case nickname == "":
		g.mu.Unlock()
		m.fail(clientID, "nickname required")
		return
	case !req.Element.valid():
		g.mu.Unlock()
		m.fail(clientID, "pick an element")
		return
	case g.state != StateLobby:
		g.mu.Unlock()
		m.fail(clientID, "match already started")
		return
	case len(g.players) >= MaxPlayers:
		g.mu.Unlock()
		m.fail(clientID, "match is full")
		return
	case g.findByNickname(nickname) != nil:
		g.mu.Unlock()
		m.fail(clientID, "nickname already taken")
		return
	}
	g.players[clientID] = &Fighter{
		ID:       clientID,
		Nickname: nickname,
		Avatar:   req.Avatar,
		Element:  req.Element,
		HP:       MaxHP,
		Alive:    true,
		Position: len(g.players),
	}
	players := g.statusList()
	g.mu.Unlock()

	m.bus.Join(groupAll(req.Pin), clientID)
	m.bus.Send(clientID, hub.E("clash:joined", joinedMsg{Pin: req.Pin, Players: players}))
	m.bus.Broadcast(groupAll(req.Pin), hub.E("clash:lobby-update", lobbyMsg{Players: players}))
}

func (m *Manager) HandleStart(clientID string, req pinReq) {
	g, ok := m.game(req.Pin)
	if !ok {
		m.fail(clientID, "game not found")
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.hostID != clientID {
		m.fail(clientID, "only the host can start")
		return
	}
	if g.state != StateLobby {
		m.fail(clientID, "match already started")
		return
	}
	if len(g.players) < MinPlayers {
		m.fail(clientID, "at least 2 players needed")
		return
	}

	g.state = StateActive
	g.round = 1
	pos := 0
	for _, f := range g.alive() {
		f.Position = pos
		pos++
	}
	g.historyGameID = m.archive.GameStarted(g.pin, "clash")
	g.matchDeadline = time.Now().Add(MatchTime)
	g.matchTimer = time.AfterFunc(MatchTime, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.closed || g.state != StateActive {
			return
		}
		m.bus.Broadcast(groupAll(g.pin), hub.E("clash:time-up", nil))
		m.endGame(g)
	})

	m.bus.Broadcast(groupAll(g.pin), hub.E("clash:game-started", nil))
	g.scheduleFlow(time.Second, func() { m.startRound(g) })
	m.log.Info().Str("pin", g.pin).Int("players", len(g.players)).Msg("match started")
}

func (m *Manager) HandleAction(clientID string, req actionReq) {
	g, ok := m.game(req.Pin)
	if !ok {
		m.fail(clientID, "game not found")
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	f, ok := g.players[clientID]
	if !ok || !f.Alive || g.state != StateActive {
		m.fail(clientID, "not in this match")
		return
	}
	if !req.Action.valid() {
		m.fail(clientID, "unknown action")
		return
	}
	if req.Action.special() && f.Focus < SpecialCost {
		m.fail(clientID, "not enough focus")
		return
	}
	if err := g.actions.Submit(clientID, req.Action); err != nil {
		m.fail(clientID, "action already locked in")
		return
	}

	m.bus.Send(clientID, hub.E("clash:action-confirmed", nil))
	m.bus.Broadcast(groupHost(g.pin), hub.E("clash:player-ready", playerRef{Nickname: f.Nickname}))
	if g.actions.Complete(g.aliveCount()) && g.actions.TryResolve() {
		m.resolveRound(g)
	}
}

func (m *Manager) HandleMiniAnswer(clientID string, req miniAnswerReq) {
	g, ok := m.game(req.Pin)
	if !ok {
		m.fail(clientID, "game not found")
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	f, ok := g.players[clientID]
	if !ok || !f.Alive || g.current == nil {
		m.fail(clientID, "no mini-game running")
		return
	}
	if err := g.mini.Submit(clientID, req.Answer); err != nil {
		m.fail(clientID, "answer rejected")
		return
	}

	switch g.current.def.Kind {
	case miniTurboRunner:
		taps := len(g.mini.Entries(clientID))
		finished := taps >= turboTargetTaps
		m.bus.Send(clientID, hub.E("clash:tap-progress", tapProgressMsg{Taps: taps, Target: turboTargetTaps, Finished: finished}))
		m.bus.Broadcast(groupHost(g.pin), hub.E("clash:runner-progress", struct {
			Nickname string `json:"nickname"`
			Taps     int    `json:"taps"`
		}{Nickname: f.Nickname, Taps: taps}))
	case miniQuickOpposites:
		entries := g.mini.Entries(clientID)
		idx := len(entries) - 1
		correct := idx < len(g.current.sequence) && entries[idx].Input == g.current.sequence[idx]
		m.bus.Send(clientID, hub.E("clash:opposites-answer", oppositesProgressMsg{
			Round: len(entries), Correct: correct, Finished: len(entries) >= oppositesRounds,
		}))
	default:
		m.bus.Send(clientID, hub.E("clash:minigame-confirmed", nil))
		// Single-answer games short-circuit on collection-complete; the
		// multi-submit races always run out their clock.
		if g.miniAllAnswered() && g.mini.TryResolve() {
			m.resolveMiniGame(g)
		}
	}
}

func (m *Manager) HandleVoteExit(clientID string, req voteReq) {
	g, ok := m.game(req.Pin)
	if !ok {
		return
	}

	g.mu.Lock()
	if _, ok := g.players[clientID]; !ok {
		g.mu.Unlock()
		return
	}
	if req.Vote {
		g.exitVotes[clientID] = true
	} else {
		delete(g.exitVotes, clientID)
	}
	voted, total := len(g.exitVotes), len(g.players)
	pin := g.pin
	g.mu.Unlock()

	m.bus.Broadcast(groupAll(pin), hub.E("clash:exit-update", exitUpdateMsg{Voted: voted, Total: total}))
	if total > 0 && voted >= total {
		m.bus.Broadcast(groupAll(pin), hub.E("clash:ended-by-players", nil))
		m.registry.Delete(pin)
	}
}
