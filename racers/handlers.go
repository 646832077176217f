package racers

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"partyarena/hub"
	"partyarena/session"
)

// Inbound payloads.

type joinReq struct {
	Pin      string `json:"pin"`
	Nickname string `json:"nickname"`
}

type pinReq struct {
	Pin string `json:"pin"`
}

type inputReq struct {
	Pin          string  `json:"pin"`
	Steering     float64 `json:"steering"`
	Accelerating bool    `json:"accelerating"`
	Braking      bool    `json:"braking"`
}

// Outbound payloads.

type errMsg struct {
	Message string `json:"message"`
}

type createdMsg struct {
	Pin   string `json:"pin"`
	Track *Track `json:"track"`
}

type lobbyPlayer struct {
	Nickname string `json:"nickname"`
	Color    string `json:"color"`
}

type lobbyMsg struct {
	Players []lobbyPlayer `json:"players"`
}

type joinedMsg struct {
	Pin     string        `json:"pin"`
	Player  lobbyPlayer   `json:"player"`
	Players []lobbyPlayer `json:"players"`
	Track   *Track        `json:"track"`
}

type playerRef struct {
	Nickname string `json:"nickname"`
}

type countdownMsg struct {
	Count int `json:"count"`
}

type carState struct {
	Nickname       string   `json:"nickname"`
	Color          string   `json:"color"`
	X              float64  `json:"x"`
	Y              float64  `json:"y"`
	Angle          float64  `json:"angle"`
	Speed          float64  `json:"speed"`
	Lap            int      `json:"lap"`
	NextCheckpoint int      `json:"nextCheckpoint"`
	Finished       bool     `json:"finished"`
	Effects        []string `json:"effects,omitempty"`
}

type hazardState struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Radius float64 `json:"radius"`
}

type gameStateMsg struct {
	Players     []carState    `json:"players"`
	Hazards     []hazardState `json:"hazards"`
	Spawns      []*Spawn      `json:"powerupSpawns"`
	RemainingMs int64         `json:"remainingMs"`
}

type playerStateMsg struct {
	Lap            int      `json:"lap"`
	TotalLaps      int      `json:"totalLaps"`
	NextCheckpoint int      `json:"nextCheckpoint"`
	Position       int      `json:"position"`
	Speed          float64  `json:"speed"`
	Powerup        string   `json:"powerup,omitempty"`
	Finished       bool     `json:"finished"`
	Effects        []string `json:"effects,omitempty"`
}

type powerupUsedMsg struct {
	Nickname string  `json:"nickname"`
	Kind     string  `json:"kind"`
	Target   string  `json:"target,omitempty"`
	Missed   bool    `json:"missed,omitempty"`
	X        float64 `json:"x,omitempty"`
	Y        float64 `json:"y,omitempty"`
}

type RaceResult struct {
	Position     int     `json:"position"`
	Nickname     string  `json:"nickname"`
	Color        string  `json:"color"`
	FinishTimeMs int64   `json:"finishTimeMs"`
	Laps         int     `json:"laps"`
	TopSpeed     float64 `json:"topSpeed"`
	PowerupsUsed int     `json:"powerupsUsed"`
	Collisions   int     `json:"collisions"`
}

type raceOverMsg struct {
	Results []RaceResult `json:"results"`
}

// Register wires the race event table into the hub.
func (m *Manager) Register(h *hub.Hub) {
	h.Handle("racers:create", func(c *hub.Client, data json.RawMessage) { m.HandleCreate(c.ID) })
	h.Handle("racers:join", bind(m, m.HandleJoin))
	h.Handle("racers:start", bind(m, m.HandleStart))
	h.Handle("racers:input", bind(m, m.HandleInput))
	h.Handle("racers:use-powerup", bind(m, m.HandleUsePowerup))
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
	m.bus.Send(clientID, hub.E("racers:error", errMsg{Message: message}))
}

func (m *Manager) HandleCreate(clientID string) {
	s, err := m.registry.Allocate(func(pin string) session.Session {
		return NewGame(pin, clientID)
	})
	if err != nil {
		m.fail(clientID, "no free game pins, try again later")
		return
	}
	g := s.(*Game)
	pin := g.Pin()
	m.bus.Join(groupAll(pin), clientID)
	m.bus.Join(groupHost(pin), clientID)
	m.bus.Send(clientID, hub.E("racers:created", createdMsg{Pin: pin, Track: g.track}))
	m.log.Info().Str("pin", pin).Msg("race created")
}

func (m *Manager) HandleJoin(clientID string, req joinReq) {
	g, ok := m.game(req.Pin)
	if !ok {
		m.fail(clientID, "race not found")
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
		m.fail(clientID, "race already started")
		return
	case len(g.players) >= MaxPlayers:
		g.mu.Unlock()
		m.fail(clientID, "race is full")
		return
	case g.findByNickname(nickname) != nil:
		g.mu.Unlock()
		m.fail(clientID, "nickname already taken")
		return
	}
	slot := len(g.players)
	x, y := g.track.startPosition(slot)
	car := &Car{
		ID:       clientID,
		Nickname: nickname,
		Color:    carColors[slot%len(carColors)],
		Slot:     slot,
		X:        x,
		Y:        y,
		Angle:    g.track.StartLine.Angle,
	}
	g.players[clientID] = car
	players := g.roster()
	track := g.track
	g.mu.Unlock()

	m.bus.Join(groupAll(req.Pin), clientID)
	m.bus.Send(clientID, hub.E("racers:joined", joinedMsg{
		Pin:     req.Pin,
		Player:  lobbyPlayer{Nickname: nickname, Color: car.Color},
		Players: players,
		Track:   track,
	}))
	m.bus.Broadcast(groupAll(req.Pin), hub.E("racers:lobby-update", lobbyMsg{Players: players}))
}

func (m *Manager) HandleStart(clientID string, req pinReq) {
	g, ok := m.game(req.Pin)
	if !ok {
		m.fail(clientID, "race not found")
		return
	}
	g.mu.Lock()
	switch {
	case clientID != g.hostID:
		g.mu.Unlock()
		m.fail(clientID, "only the host can start")
		return
	case g.state != StateLobby:
		g.mu.Unlock()
		m.fail(clientID, "race already started")
		return
	case len(g.players) == 0:
		g.mu.Unlock()
		m.fail(clientID, "no racers on the grid")
		return
	}
	g.state = StateCountdown
	g.seedSpawns()
	// Lap counts the circuit the car is currently on, so everyone leaves
	// the grid on lap 1 and finishes once lap TotalLaps is completed.
	for _, c := range g.players {
		c.Lap = 1
	}
	g.historyGameID = m.archive.GameStarted(g.pin, "racers")
	g.mu.Unlock()

	m.bus.Broadcast(groupAll(req.Pin), hub.E("racers:started", nil))
	m.runCountdown(g, countdownFrom)
}

// HandleInput takes the latest controller reading. There is no reply; the
// state stream reflects it on the next tick.
func (m *Manager) HandleInput(clientID string, req inputReq) {
	g, ok := m.game(req.Pin)
	if !ok {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	car, ok := g.players[clientID]
	if !ok || g.state != StateRacing || car.Finished {
		return
	}
	car.Steering = math.Max(-1, math.Min(1, req.Steering))
	car.Accelerating = req.Accelerating
	car.Braking = req.Braking
}

func (m *Manager) HandleUsePowerup(clientID string, req pinReq) {
	g, ok := m.game(req.Pin)
	if !ok {
		return
	}
	g.mu.Lock()
	if g.state != StateRacing {
		g.mu.Unlock()
		return
	}
	car, ok := g.players[clientID]
	if !ok {
		g.mu.Unlock()
		return
	}
	out, used := g.usePowerup(car, time.Now())
	nickname := car.Nickname
	g.mu.Unlock()
	if !used {
		m.fail(clientID, "no power-up to use")
		return
	}
	m.bus.Broadcast(groupAll(req.Pin), hub.E("racers:powerup-used", powerupUsedMsg{
		Nickname: nickname,
		Kind:     string(out.Kind),
		Target:   out.Target,
		Missed:   out.Missed,
		X:        out.OilX,
		Y:        out.OilY,
	}))
}
