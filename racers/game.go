// Package racers is the physics racer: the one continuous mode, where a
// fixed-rate tick integrates car movement from the latest control input
// instead of collecting one submission per participant.
package racers

import (
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
)

const (
	MaxPlayers = 8
	TotalLaps  = 3

	TickInterval = 33 * time.Millisecond
	// A stalled car must not keep the session alive forever.
	MaxRaceTime = 5 * time.Minute

	maxSpeed      = 8.0
	acceleration  = 0.3
	brakeForce    = 0.5
	friction      = 0.02
	steering      = 0.08
	wallBounce    = 0.3
	boostFactor   = 1.5
	boostDuration = 2 * time.Second

	oilDropBack    = 40.0
	oilRadius      = 30.0
	oilDuration    = 8 * time.Second
	oilSlipTime    = 2 * time.Second
	oilSpeedFactor = 0.5
	oilSteerFactor = 0.3

	missileRange = 500.0
	stunDuration = 1500 * time.Millisecond
	stunHitSlow  = 0.3

	pickupRadius = 30.0
	respawnDelay = 5 * time.Second

	minX, maxX = 50.0, 750.0
	minY, maxY = 50.0, 550.0
)

var carColors = []string{
	"#e74c3c", "#3498db", "#2ecc71", "#f1c40f",
	"#9b59b6", "#e67e22", "#1abc9c", "#34495e",
}

type PowerupKind string

const (
	Boost   PowerupKind = "boost"
	Oil     PowerupKind = "oil"
	Missile PowerupKind = "missile"
)

var powerupKinds = []PowerupKind{Boost, Oil, Missile}

type State int

const (
	StateLobby State = iota
	StateCountdown
	StateRacing
	StateFinished
)

type effect struct {
	kind  string // boost, stun, oil_slip
	until time.Time
}

type CarStats struct {
	TopSpeed     float64 `json:"topSpeed"`
	PowerupsUsed int     `json:"powerupsUsed"`
	Collisions   int     `json:"collisions"`
}

type Car struct {
	ID       string
	Nickname string
	Color    string
	Slot     int

	X, Y  float64
	Angle float64
	Speed float64

	Steering     float64 // -1..1 from device tilt
	Accelerating bool
	Braking      bool

	Lap            int
	NextCheckpoint int
	Finished       bool
	FinishTime     time.Duration
	FinishPosition int

	Powerup PowerupKind // empty when none held
	effects []effect

	Stats CarStats
}

func (c *Car) has(kind string, now time.Time) bool {
	for _, e := range c.effects {
		if e.kind == kind && e.until.After(now) {
			return true
		}
	}
	return false
}

func (c *Car) addEffect(kind string, d time.Duration, now time.Time) {
	c.effects = append(c.effects, effect{kind: kind, until: now.Add(d)})
}

type hazard struct {
	X, Y      float64
	Radius    float64
	expires   time.Time
	createdBy string
}

type Game struct {
	mu     sync.Mutex
	pin    string
	hostID string
	state  State
	closed bool

	track   *Track
	players map[string]*Car
	hazards []hazard

	raceStart   time.Time
	finishOrder []string

	countdownTimer *time.Timer
	retention      *time.Timer

	historyGameID int64

	randFloat func() float64
}

func NewGame(pin, hostID string) *Game {
	g := &Game{
		pin:       pin,
		hostID:    hostID,
		state:     StateLobby,
		players:   make(map[string]*Car),
		randFloat: rand.Float64,
	}
	g.track = generateTrack(g.randFloat)
	return g
}

func (g *Game) Pin() string { return g.pin }

// Close stops the countdown; the tick loop watches closed and stops itself.
func (g *Game) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	if g.countdownTimer != nil {
		g.countdownTimer.Stop()
		g.countdownTimer = nil
	}
	if g.retention != nil {
		g.retention.Stop()
		g.retention = nil
	}
}

func (g *Game) findByNickname(nickname string) *Car {
	for _, c := range g.players {
		if strings.EqualFold(c.Nickname, nickname) {
			return c
		}
	}
	return nil
}

// step advances the whole race by one tick. Caller holds g.mu.
func (g *Game) step(now time.Time) {
	for _, car := range g.players {
		if car.Finished {
			continue
		}
		g.stepCar(car, now)
	}

	live := g.hazards[:0]
	for _, h := range g.hazards {
		if h.expires.After(now) {
			live = append(live, h)
		}
	}
	g.hazards = live

	for _, s := range g.track.Spawns {
		if !s.Active && s.respawnAtMs > 0 && now.UnixMilli() >= s.respawnAtMs {
			s.Active = true
			s.Type = string(g.randKind())
			s.respawnAtMs = 0
		}
	}

	if g.allFinished() || (!g.raceStart.IsZero() && now.Sub(g.raceStart) >= MaxRaceTime) {
		g.forceFinish(now)
	}
}

func (g *Game) stepCar(car *Car, now time.Time) {
	hasBoost := car.has("boost", now)
	stunned := car.has("stun", now)
	onOil := car.has("oil_slip", now)

	if !stunned {
		if car.Accelerating {
			a := acceleration
			if hasBoost {
				a *= boostFactor
			}
			car.Speed += a
		}
		if car.Braking {
			car.Speed -= brakeForce
		}
		steer := steering
		if onOil {
			steer *= oilSteerFactor
		}
		car.Angle += car.Steering * steer
	}

	car.Speed *= 1 - friction
	limit := maxSpeed
	if hasBoost {
		limit *= boostFactor
	}
	car.Speed = math.Max(0, math.Min(limit, car.Speed))

	car.X += math.Cos(car.Angle) * car.Speed
	car.Y -= math.Sin(car.Angle) * car.Speed
	if car.Speed > car.Stats.TopSpeed {
		car.Stats.TopSpeed = car.Speed
	}

	g.checkCheckpoint(car, now)
	g.checkPickup(car, now)
	g.checkHazards(car, now)
	g.bounceWalls(car)
}

// checkCheckpoint advances lap progress when the car comes within the next
// expected checkpoint's radius, in track order only.
func (g *Game) checkCheckpoint(car *Car, now time.Time) {
	cp := g.track.Checkpoints[car.NextCheckpoint]
	if math.Hypot(car.X-cp.X, car.Y-cp.Y) >= cp.Width {
		return
	}
	car.NextCheckpoint++
	if car.NextCheckpoint < len(g.track.Checkpoints) {
		return
	}
	car.NextCheckpoint = 0
	car.Lap++
	if car.Lap > TotalLaps {
		car.Finished = true
		car.FinishTime = now.Sub(g.raceStart)
		car.FinishPosition = len(g.finishOrder) + 1
		g.finishOrder = append(g.finishOrder, car.ID)
	}
}

func (g *Game) checkPickup(car *Car, now time.Time) {
	if car.Powerup != "" {
		return
	}
	for _, s := range g.track.Spawns {
		if !s.Active || s.Type == "" {
			continue
		}
		if math.Hypot(car.X-s.X, car.Y-s.Y) < pickupRadius {
			car.Powerup = PowerupKind(s.Type)
			s.Active = false
			s.Type = ""
			s.respawnAtMs = now.Add(respawnDelay).UnixMilli()
			return
		}
	}
}

func (g *Game) checkHazards(car *Car, now time.Time) {
	for _, h := range g.hazards {
		if h.createdBy == car.ID {
			continue
		}
		if math.Hypot(car.X-h.X, car.Y-h.Y) < h.Radius && !car.has("oil_slip", now) {
			car.addEffect("oil_slip", oilSlipTime, now)
			car.Speed *= oilSpeedFactor
		}
	}
}

func (g *Game) bounceWalls(car *Car) {
	bounced := false
	if car.X < minX {
		car.X, bounced = minX, true
	}
	if car.X > maxX {
		car.X, bounced = maxX, true
	}
	if car.Y < minY {
		car.Y, bounced = minY, true
	}
	if car.Y > maxY {
		car.Y, bounced = maxY, true
	}
	if bounced {
		car.Speed *= wallBounce
		car.Stats.Collisions++
	}
}

func (g *Game) allFinished() bool {
	if len(g.players) == 0 {
		return false
	}
	for _, c := range g.players {
		if !c.Finished {
			return false
		}
	}
	return true
}

// forceFinish closes the race, ranking stragglers by progress behind the
// real finishers.
func (g *Game) forceFinish(now time.Time) {
	var stragglers []*Car
	for _, c := range g.players {
		if !c.Finished {
			stragglers = append(stragglers, c)
		}
	}
	sortByProgress(stragglers)
	for _, c := range stragglers {
		c.Finished = true
		c.FinishTime = now.Sub(g.raceStart)
		c.FinishPosition = len(g.finishOrder) + 1
		g.finishOrder = append(g.finishOrder, c.ID)
	}
	g.state = StateFinished
}

func sortByProgress(cars []*Car) {
	for i := 1; i < len(cars); i++ {
		for j := i; j > 0 && moreProgress(cars[j], cars[j-1]); j-- {
			cars[j], cars[j-1] = cars[j-1], cars[j]
		}
	}
}

func moreProgress(a, b *Car) bool {
	if a.Lap != b.Lap {
		return a.Lap > b.Lap
	}
	return a.NextCheckpoint > b.NextCheckpoint
}

func (g *Game) randKind() PowerupKind {
	return powerupKinds[int(g.randFloat()*float64(len(powerupKinds)))%len(powerupKinds)]
}

// seedSpawns fills roughly half the pads before the race starts.
func (g *Game) seedSpawns() {
	for _, s := range g.track.Spawns {
		if g.randFloat() < 0.5 {
			s.Active = true
			s.Type = string(g.randKind())
		}
	}
}

// usePowerup consumes the held power-up. Caller holds g.mu.
type powerupOutcome struct {
	Kind   PowerupKind
	Target string // missile victim nickname
	OilX   float64
	OilY   float64
	Missed bool
}

func (g *Game) usePowerup(car *Car, now time.Time) (powerupOutcome, bool) {
	if car.Powerup == "" || car.Finished {
		return powerupOutcome{}, false
	}
	kind := car.Powerup
	car.Powerup = ""
	car.Stats.PowerupsUsed++
	out := powerupOutcome{Kind: kind}

	switch kind {
	case Boost:
		car.addEffect("boost", boostDuration, now)
	case Oil:
		out.OilX = car.X - math.Cos(car.Angle)*oilDropBack
		out.OilY = car.Y + math.Sin(car.Angle)*oilDropBack
		g.hazards = append(g.hazards, hazard{
			X: out.OilX, Y: out.OilY, Radius: oilRadius,
			expires: now.Add(oilDuration), createdBy: car.ID,
		})
	case Missile:
		if target := g.nearestAhead(car); target != nil {
			target.addEffect("stun", stunDuration, now)
			target.Speed *= stunHitSlow
			out.Target = target.Nickname
		} else {
			out.Missed = true
		}
	}
	return out, true
}

// nearestAhead finds the closest unfinished car further along the race
// within missile range.
func (g *Game) nearestAhead(from *Car) *Car {
	var best *Car
	bestDist := missileRange
	for _, c := range g.players {
		if c.ID == from.ID || c.Finished || !moreProgress(c, from) {
			continue
		}
		if d := math.Hypot(c.X-from.X, c.Y-from.Y); d < bestDist {
			bestDist = d
			best = c
		}
	}
	return best
}
