package quiz

import (
	"encoding/json"
	"strings"

	"partyarena/hub"
	"partyarena/session"
)

// Inbound payloads.

type joinReq struct {
	Pin      string `json:"pin"`
	Nickname string `json:"nickname"`
	Animal   string `json:"animal"`
}

type pinReq struct {
	Pin string `json:"pin"`
}

type answerReq struct {
	Pin    string `json:"pin"`
	Option string `json:"option"`
}

type usePowerReq struct {
	Pin    string `json:"pin"`
	Power  string `json:"power"`
	Target string `json:"target"`
}

type voteReq struct {
	Pin  string `json:"pin"`
	Vote bool   `json:"vote"`
}

type reactionReq struct {
	Pin   string `json:"pin"`
	Emoji string `json:"emoji"`
}

// Outbound payloads.

type errMsg struct {
	Message string `json:"message"`
}

type createdMsg struct {
	Pin string `json:"pin"`
}

type lobbyPlayer struct {
	Nickname  string `json:"nickname"`
	Animal    string `json:"animal"`
	Connected bool   `json:"connected"`
}

type lobbyUpdate struct {
	Players []lobbyPlayer `json:"players"`
}

type joinedMsg struct {
	Pin      string        `json:"pin"`
	Nickname string        `json:"nickname"`
	Players  []lobbyPlayer `json:"players"`
}

type hostQuestionView struct {
	Index      int               `json:"index,omitempty"`
	Total      int               `json:"total,omitempty"`
	Text       string            `json:"text"`
	Options    map[string]string `json:"options"`
	DeadlineAt int64             `json:"deadlineAt"`
}

type playerQuestionView struct {
	Index      int               `json:"index,omitempty"`
	Total      int               `json:"total,omitempty"`
	Text       string            `json:"text"`
	Options    map[string]string `json:"options"`
	DeadlineAt int64             `json:"deadlineAt"`
	Shuffled   bool              `json:"shuffled,omitempty"`
	Obfuscated bool              `json:"obfuscated,omitempty"`
}

type roundResults struct {
	CorrectOption string         `json:"correctOption"`
	CorrectText   string         `json:"correctText"`
	Results       []PlayerResult `json:"results"`
	PowerEvents   []PowerEvent   `json:"powerEvents,omitempty"`
	LastQuestion  bool           `json:"lastQuestion"`
	HasChallenges bool           `json:"hasChallenges"`
}

type duelAnnounce struct {
	Challenger string `json:"challenger"`
	Target     string `json:"target"`
	DeadlineAt int64  `json:"deadlineAt"`
}

type duelResults struct {
	CorrectOption string `json:"correctOption"`
	Draw          bool   `json:"draw"`
	Winner        string `json:"winner,omitempty"`
	WinnerScore   int    `json:"winnerScore,omitempty"`
	Loser         string `json:"loser,omitempty"`
	LoserScore    int    `json:"loserScore,omitempty"`
}

type countdown struct {
	Seconds int `json:"seconds"`
}

type exitUpdateMsg struct {
	Voted int `json:"voted"`
	Total int `json:"total"`
}

type Standing struct {
	Rank     int    `json:"rank"`
	Nickname string `json:"nickname"`
	Animal   string `json:"animal"`
	Score    int    `json:"score"`
}

type gameOver struct {
	Standings []Standing `json:"standings"`
}

type playerRef struct {
	Nickname string `json:"nickname"`
}

type answeredMsg struct {
	Nickname string `json:"nickname"`
	Answered int    `json:"answered"`
	Of       int    `json:"of"`
}

type reactionMsg struct {
	Nickname string `json:"nickname"`
	Emoji    string `json:"emoji"`
}

type rejoinedMsg struct {
	Pin           string `json:"pin"`
	Nickname      string `json:"nickname"`
	Score         int    `json:"score"`
	QuestionIndex int    `json:"questionIndex"`
	Active        bool   `json:"active"`
}

// Register wires the quiz event table into the hub.
func (m *Manager) Register(h *hub.Hub) {
	h.Handle("quiz:create", func(c *hub.Client, data json.RawMessage) { m.HandleCreate(c.ID) })
	h.Handle("quiz:join", bind(m, m.HandleJoin))
	h.Handle("quiz:reconnect", bind(m, m.HandleReconnect))
	h.Handle("quiz:start", bind(m, m.HandleStart))
	h.Handle("quiz:answer", bind(m, m.HandleAnswer))
	h.Handle("quiz:use-power", bind(m, m.HandleUsePower))
	h.Handle("quiz:pass-power", bind(m, m.HandlePassPower))
	h.Handle("quiz:next-question", bind(m, m.HandleHostNext))
	h.Handle("quiz:challenge-answer", bind(m, m.HandleDuelAnswer))
	h.Handle("quiz:vote-exit", bind(m, m.HandleVoteExit))
	h.Handle("quiz:reaction", bind(m, m.HandleReaction))
	h.OnDrop(m.HandleDrop)
}

// bind decodes a payload and forwards it with the connection identity.
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
	m.bus.Send(clientID, hub.E("quiz:error", errMsg{Message: message}))
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
	m.bus.Send(clientID, hub.E("quiz:created", createdMsg{Pin: pin}))
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
	case g.state != StateLobby:
		g.mu.Unlock()
		m.fail(clientID, "game already started")
		return
	case len(g.players) >= MaxPlayers:
		g.mu.Unlock()
		m.fail(clientID, "game is full")
		return
	case g.findByNickname(nickname) != nil:
		g.mu.Unlock()
		m.fail(clientID, "nickname already taken")
		return
	}
	g.players[clientID] = &Player{
		ID:        clientID,
		Nickname:  nickname,
		Animal:    req.Animal,
		Connected: true,
		Used:      make(map[Power]bool),
	}
	players := g.lobbyPlayers()
	g.mu.Unlock()

	m.bus.Join(groupAll(req.Pin), clientID)
	m.bus.Send(clientID, hub.E("quiz:joined", joinedMsg{Pin: req.Pin, Nickname: nickname, Players: players}))
	m.bus.Broadcast(groupAll(req.Pin), hub.E("quiz:lobby-update", lobbyUpdate{Players: players}))
}

func (g *Game) lobbyPlayers() []lobbyPlayer {
	out := make([]lobbyPlayer, 0, len(g.players))
	for _, p := range g.players {
		out = append(out, lobbyPlayer{Nickname: p.Nickname, Animal: p.Animal, Connected: p.Connected})
	}
	return out
}

// HandleReconnect rebinds a dropped player's nickname to a fresh connection
// mid-game.
func (m *Manager) HandleReconnect(clientID string, req joinReq) {
	g, ok := m.game(req.Pin)
	if !ok {
		m.fail(clientID, "game not found")
		return
	}

	g.mu.Lock()
	if g.state == StateLobby {
		g.mu.Unlock()
		m.fail(clientID, "game has not started, join normally")
		return
	}
	p := g.findByNickname(req.Nickname)
	if p == nil || p.Connected {
		g.mu.Unlock()
		m.fail(clientID, "nothing to reconnect")
		return
	}
	delete(g.players, p.ID)
	p.ID = clientID
	p.Connected = true
	g.players[clientID] = p
	nickname := p.Nickname
	snapshot := rejoinedMsg{
		Pin:           g.pin,
		Nickname:      nickname,
		Score:         p.Score,
		QuestionIndex: g.questionIndex,
		Active:        g.state == StateActive,
	}
	g.mu.Unlock()

	m.bus.Join(groupAll(req.Pin), clientID)
	m.bus.Send(clientID, hub.E("quiz:rejoined", snapshot))
	m.bus.Broadcast(groupAll(req.Pin), hub.E("quiz:player-reconnected", playerRef{Nickname: nickname}))
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
		m.fail(clientID, "game already started")
		return
	}
	if len(g.players) == 0 {
		m.fail(clientID, "no players yet")
		return
	}

	questions, err := m.questions.RandomQuestions(SampleSize)
	if err != nil || len(questions) < QuestionCount {
		m.log.Error().Err(err).Int("got", len(questions)).Msg("question bank too small")
		m.fail(clientID, "not enough questions to start")
		return
	}
	g.questions = questions
	g.state = StateActive
	g.historyGameID = m.archive.GameStarted(g.pin, "quiz")

	m.bus.Broadcast(groupAll(g.pin), hub.E("quiz:started", nil))
	g.scheduleFlow(firstDelay, func() { m.beginQuestion(g) })
	m.log.Info().Str("pin", g.pin).Int("players", len(g.players)).Msg("game started")
}

func (m *Manager) HandleAnswer(clientID string, req answerReq) {
	g, ok := m.game(req.Pin)
	if !ok {
		m.fail(clientID, "game not found")
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.players[clientID]
	if !ok || g.state != StateActive {
		m.fail(clientID, "not in this game")
		return
	}
	option := strings.ToUpper(strings.TrimSpace(req.Option))
	if len(option) != 1 || option < "A" || option > "D" {
		m.fail(clientID, "answer must be A, B, C or D")
		return
	}
	if err := g.answers.Submit(clientID, option); err != nil {
		switch err {
		case session.ErrAlreadySubmitted:
			m.fail(clientID, "answer already locked in")
		default:
			m.fail(clientID, "answers are closed")
		}
		return
	}

	m.bus.Broadcast(groupHost(g.pin), hub.E("quiz:player-answered", answeredMsg{
		Nickname: p.Nickname,
		Answered: g.answers.Count(),
		Of:       g.connectedCount(),
	}))
	if g.answers.Complete(g.connectedCount()) && g.answers.TryResolve() {
		m.finishRound(g)
	}
}

func (m *Manager) HandleUsePower(clientID string, req usePowerReq) {
	g, ok := m.game(req.Pin)
	if !ok {
		m.fail(clientID, "game not found")
		return
	}
	power := Power(req.Power)

	g.mu.Lock()
	defer g.mu.Unlock()
	actor, ok := g.players[clientID]
	if !ok || g.state != StateActive {
		m.fail(clientID, "not in this game")
		return
	}
	if g.answers.Open() {
		m.fail(clientID, "powers are chosen between questions")
		return
	}
	if !power.valid() {
		m.fail(clientID, "unknown power")
		return
	}
	if actor.Used[power] {
		m.fail(clientID, "power already spent")
		return
	}

	var target *Player
	if power.needsTarget() {
		target = g.findByNickname(req.Target)
		if target == nil || target.ID == clientID || !target.Connected {
			m.fail(clientID, "pick another player as target")
			return
		}
		if g.targeted[target.ID] {
			m.fail(clientID, "that player is already targeted this round")
			return
		}
	}

	actor.Used[power] = true
	sp := stagedPower{Type: power, ActorID: clientID}
	if target != nil {
		sp.TargetID = target.ID
		g.targeted[target.ID] = true
	}
	g.staged = append(g.staged, sp)
	switch power {
	case PowerBlock:
		g.blocked[target.ID] = true
	case PowerShuffle:
		g.shuffled[target.ID] = true
	case PowerObfuscate:
		g.obfuscated[target.ID] = true
	case PowerHalve:
		g.halved[target.ID] = true
	}
	g.powerDone[clientID] = true

	m.bus.Send(clientID, hub.E("quiz:power-used", struct {
		Power string `json:"power"`
	}{Power: string(power)}))
	m.bus.Broadcast(groupHost(g.pin), hub.E("quiz:power-staged", playerRef{Nickname: actor.Nickname}))
	m.maybeAdvance(g)
}

func (m *Manager) HandlePassPower(clientID string, req pinReq) {
	g, ok := m.game(req.Pin)
	if !ok {
		m.fail(clientID, "game not found")
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.players[clientID]; !ok || g.state != StateActive {
		m.fail(clientID, "not in this game")
		return
	}
	g.powerDone[clientID] = true
	m.maybeAdvance(g)
}

func (m *Manager) HandleDuelAnswer(clientID string, req answerReq) {
	g, ok := m.game(req.Pin)
	if !ok {
		m.fail(clientID, "game not found")
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	d := g.currentDuel
	if d == nil || (d.ChallengerID != clientID && d.TargetID != clientID) {
		m.fail(clientID, "no challenge to answer")
		return
	}
	option := strings.ToUpper(strings.TrimSpace(req.Option))
	if len(option) != 1 || option < "A" || option > "D" {
		m.fail(clientID, "answer must be A, B, C or D")
		return
	}
	if err := g.duelAnswers.Submit(clientID, option); err != nil {
		m.fail(clientID, "challenge answer rejected")
		return
	}
	if g.duelAnswers.Complete(2) && g.duelAnswers.TryResolve() {
		m.resolveDuel(g)
	}
}

// HandleHostNext is the host's escape hatch for the power-selection stage:
// it starts the next question without waiting for players who never choose
// or pass. No-ops while answers, duels or a countdown are in flight.
func (m *Manager) HandleHostNext(clientID string, req pinReq) {
	g, ok := m.game(req.Pin)
	if !ok {
		m.fail(clientID, "game not found")
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if clientID != g.hostID {
		m.fail(clientID, "only the host can advance")
		return
	}
	if g.advancing || g.state != StateActive || g.answers.Open() || g.currentDuel != nil || len(g.pendingDuels) > 0 {
		return
	}
	m.advance(g)
}

// HandleVoteExit tallies early-exit votes. Every vote change is broadcast;
// unanimity among connected players ends the session outright.
func (m *Manager) HandleVoteExit(clientID string, req voteReq) {
	g, ok := m.game(req.Pin)
	if !ok {
		m.fail(clientID, "game not found")
		return
	}

	g.mu.Lock()
	p, ok := g.players[clientID]
	if !ok || !p.Connected || g.state != StateActive {
		g.mu.Unlock()
		return
	}
	if req.Vote {
		g.exitVotes[clientID] = true
	} else {
		delete(g.exitVotes, clientID)
	}
	voted, total := len(g.exitVotes), g.connectedCount()
	pin := g.pin
	unanimous := total > 0 && voted >= total
	g.mu.Unlock()

	m.bus.Broadcast(groupAll(pin), hub.E("quiz:exit-update", exitUpdateMsg{Voted: voted, Total: total}))
	if unanimous {
		m.log.Info().Str("pin", pin).Msg("game ended by unanimous vote")
		m.bus.Broadcast(groupAll(pin), hub.E("quiz:ended-by-players", nil))
		m.registry.Delete(pin)
	}
}

func (m *Manager) HandleReaction(clientID string, req reactionReq) {
	g, ok := m.game(req.Pin)
	if !ok {
		return
	}

	g.mu.Lock()
	p, ok := g.players[clientID]
	g.mu.Unlock()
	if !ok {
		return
	}
	m.bus.Broadcast(groupAll(req.Pin), hub.E("quiz:reaction", reactionMsg{Nickname: p.Nickname, Emoji: req.Emoji}))
}
