package racers

import "math"

// Track generation constants. Coordinates live in the host canvas space.
const (
	segmentLength  = 150.0
	minSegments    = 12
	maxSegments    = 16
	curveIntensity = 0.4
	trackWidth     = 100.0

	startX = 400.0
	startY = 500.0
)

type Segment struct {
	StartX float64 `json:"startX"`
	StartY float64 `json:"startY"`
	EndX   float64 `json:"endX"`
	EndY   float64 `json:"endY"`
	Angle  float64 `json:"angle"`
	Width  float64 `json:"width"`
}

type Checkpoint struct {
	ID    int     `json:"id"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Angle float64 `json:"angle"`
	Width float64 `json:"width"`
}

type StartLine struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Angle float64 `json:"angle"`
}

type Track struct {
	Segments    []Segment    `json:"segments"`
	Checkpoints []Checkpoint `json:"checkpoints"`
	Spawns      []*Spawn     `json:"powerupSpawns"`
	StartLine   StartLine    `json:"startLine"`
}

// Spawn is a fixed power-up pad on the track.
type Spawn struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Active bool    `json:"active"`
	Type   string  `json:"type,omitempty"`

	respawnAtMs int64
}

// generateTrack walks a random closed loop of curved segments from a fixed
// origin, drops a checkpoint at every junction and a power-up pad on every
// third segment.
func generateTrack(randFloat func() float64) *Track {
	n := minSegments + int(randFloat()*float64(maxSegments-minSegments))
	segments := make([]Segment, 0, n+1)

	angle := 0.0
	x, y := startX, startY
	for i := 0; i < n; i++ {
		angle += (randFloat() - 0.5) * curveIntensity * math.Pi
		angle = math.Max(-math.Pi/2, math.Min(math.Pi/2, angle))

		ex := x + math.Cos(angle)*segmentLength
		ey := y - math.Sin(angle)*segmentLength
		segments = append(segments, Segment{
			StartX: x, StartY: y, EndX: ex, EndY: ey,
			Angle: angle, Width: trackWidth + randFloat()*30,
		})
		x, y = ex, ey
	}

	// Closing segment back to the start line.
	segments = append(segments, Segment{
		StartX: x, StartY: y,
		EndX: segments[0].StartX, EndY: segments[0].StartY,
		Angle: math.Atan2(segments[0].StartY-y, segments[0].StartX-x),
		Width: trackWidth,
	})

	checkpoints := make([]Checkpoint, len(segments))
	for i, s := range segments {
		checkpoints[i] = Checkpoint{ID: i, X: s.StartX, Y: s.StartY, Angle: s.Angle, Width: s.Width}
	}

	var spawns []*Spawn
	for i := 0; i < len(segments); i += 3 {
		s := segments[i]
		spawns = append(spawns, &Spawn{
			X: (s.StartX + s.EndX) / 2,
			Y: (s.StartY + s.EndY) / 2,
		})
	}

	return &Track{
		Segments:    segments,
		Checkpoints: checkpoints,
		Spawns:      spawns,
		StartLine:   StartLine{X: segments[0].StartX, Y: segments[0].StartY, Angle: segments[0].Angle},
	}
}

// startPosition staggers cars across and behind the start line by grid slot.
func (t *Track) startPosition(slot int) (x, y float64) {
	offset := float64(slot-2) * 25
	perp := t.StartLine.Angle + math.Pi/2
	return t.StartLine.X + math.Cos(perp)*offset,
		t.StartLine.Y - math.Sin(perp)*offset - float64(slot)*30
}
