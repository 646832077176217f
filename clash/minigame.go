package clash

import (
	"sort"
	"strings"
	"time"
)

type miniKind string

const (
	miniColorTouch     miniKind = "color_touch"
	miniDodge          miniKind = "dodge"
	miniLuckySymbol    miniKind = "lucky_symbol"
	miniCoinFlip       miniKind = "double_nothing"
	miniElementBoost   miniKind = "element_boost"
	miniReflex         miniKind = "chaos_target"
	miniMemoryFlash    miniKind = "memory_flash"
	miniTurboRunner    miniKind = "turbo_runner"
	miniQuickOpposites miniKind = "quick_opposites"
)

type miniGameDef struct {
	Kind        miniKind
	Name        string
	Description string
	Duration    time.Duration
	// Submissions accepted per player: taps for turbo runner, one answer
	// per sub-round for quick opposites, one otherwise.
	Limit int
}

const (
	turboTargetTaps = 30
	oppositesRounds = 3
	memoryLength    = 3
)

var miniCatalogue = []miniGameDef{
	{Kind: miniColorTouch, Name: "Touch the Color!", Description: "Find the button with the right TEXT!", Duration: 6 * time.Second, Limit: 1},
	{Kind: miniDodge, Name: "Dodge!", Description: "Press the OPPOSITE direction!", Duration: 5 * time.Second, Limit: 1},
	{Kind: miniLuckySymbol, Name: "Missing Symbol!", Description: "Which symbol is missing?", Duration: 6 * time.Second, Limit: 1},
	{Kind: miniCoinFlip, Name: "Heads or Tails!", Description: "Call the coin flip!", Duration: 5 * time.Second, Limit: 1},
	{Kind: miniElementBoost, Name: "Beat the Element!", Description: "Tap the element that WINS!", Duration: 5 * time.Second, Limit: 1},
	{Kind: miniReflex, Name: "Reflexes!", Description: "Press when GO appears!", Duration: 5 * time.Second, Limit: 1},
	{Kind: miniMemoryFlash, Name: "Memory Flash!", Description: "Remember the sequence!", Duration: 8 * time.Second, Limit: 1},
	{Kind: miniTurboRunner, Name: "Turbo Runner!", Description: "Tap as fast as you can!", Duration: 6 * time.Second, Limit: turboTargetTaps},
	{Kind: miniQuickOpposites, Name: "Quick Opposites!", Description: "Tap the OPPOSITE direction!", Duration: 10 * time.Second, Limit: oppositesRounds},
}

var (
	miniColors     = []string{"red", "blue", "green", "yellow"}
	miniDirections = []string{"up", "down", "left", "right"}
	miniOpposites  = map[string]string{"up": "down", "down": "up", "left": "right", "right": "left"}
	miniSymbols    = []string{"triangle", "star", "circle", "diamond"}
	miniIcons      = []string{"fire", "water", "earth", "air", "bolt", "ice"}
)

type stroopButton struct {
	Bg   string `json:"bg"`
	Text string `json:"text"`
}

// miniRound is the generated instance of one catalogue entry.
type miniRound struct {
	def      miniGameDef
	correct  string
	sequence []string // opposites answers or memory sequence
	options  []string
	visible  []string
	stroop   []stroopButton
	goDelay  time.Duration
}

func (g *Game) shuffleStrings(in []string) []string {
	out := append([]string(nil), in...)
	for i := len(out) - 1; i > 0; i-- {
		j := g.randInt(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// newMiniRound draws a random catalogue entry and generates its data.
func (g *Game) newMiniRound() *miniRound {
	def := miniCatalogue[g.randInt(len(miniCatalogue))]
	r := &miniRound{def: def}

	switch def.Kind {
	case miniColorTouch:
		r.correct = miniColors[g.randInt(len(miniColors))]
		r.options = miniColors
		bg := g.shuffleStrings(miniColors)
		// Derangement: no button may show its own background color.
		text := g.shuffleStrings(miniColors)
		for tries := 0; tries < 100; tries++ {
			clash := false
			for i := range bg {
				if bg[i] == text[i] {
					clash = true
					break
				}
			}
			if !clash {
				break
			}
			text = g.shuffleStrings(miniColors)
		}
		for i := range bg {
			r.stroop = append(r.stroop, stroopButton{Bg: bg[i], Text: text[i]})
		}
	case miniDodge:
		shown := miniDirections[g.randInt(len(miniDirections))]
		r.visible = []string{shown}
		r.correct = miniOpposites[shown]
		r.options = miniDirections
	case miniLuckySymbol:
		r.correct = miniSymbols[g.randInt(len(miniSymbols))]
		for _, s := range miniSymbols {
			if s != r.correct {
				r.visible = append(r.visible, s)
			}
		}
		r.visible = g.shuffleStrings(r.visible)
		r.options = g.shuffleStrings(miniSymbols)
	case miniCoinFlip:
		r.correct = []string{"heads", "tails"}[g.randInt(2)]
		r.options = []string{"heads", "tails"}
	case miniElementBoost:
		elements := []Element{Fire, Water, Earth, Air}
		shown := elements[g.randInt(len(elements))]
		r.visible = []string{string(shown)}
		for _, e := range elements {
			if e.beats() == shown {
				r.correct = string(e)
			}
		}
		r.options = []string{"fire", "water", "earth", "air"}
	case miniReflex:
		r.goDelay = time.Duration(1000+g.randInt(3000)) * time.Millisecond
	case miniMemoryFlash:
		for range memoryLength {
			r.sequence = append(r.sequence, miniIcons[g.randInt(len(miniIcons))])
		}
		r.correct = strings.Join(r.sequence, ",")
		r.options = miniIcons
	case miniTurboRunner:
		// Nothing to generate, taps are the game.
	case miniQuickOpposites:
		for range oppositesRounds {
			shown := miniDirections[g.randInt(len(miniDirections))]
			r.visible = append(r.visible, shown)
			r.sequence = append(r.sequence, miniOpposites[shown])
		}
		r.options = miniDirections
	}
	return r
}

// MiniResult is one player's mini-game outcome with the bonus it earned.
type MiniResult struct {
	Nickname string `json:"nickname"`
	Rank     int    `json:"rank"`
	Correct  bool   `json:"correct"`
	Answer   string `json:"answer,omitempty"`
	Bonus    Bonus  `json:"bonus"`

	id    string
	score float64
}

// scoreMiniGame evaluates every alive fighter's submissions, ranks by
// correctness then speed, and writes the per-rank bonuses into g.bonuses.
// Caller holds g.mu with the mini phase resolved.
func (g *Game) scoreMiniGame() []MiniResult {
	r := g.current
	if r == nil {
		return nil
	}

	var results []MiniResult
	for _, f := range g.alive() {
		res := MiniResult{Nickname: f.Nickname, id: f.ID}
		entries := g.mini.Entries(f.ID)

		switch r.def.Kind {
		case miniTurboRunner:
			taps := len(entries)
			if taps >= turboTargetTaps {
				res.Correct = true
				res.score = 2e9 - float64(entries[turboTargetTaps-1].Elapsed.Milliseconds())
			} else {
				res.score = float64(taps)
			}
		case miniQuickOpposites:
			right := 0
			for i, e := range entries {
				if i < len(r.sequence) && e.Input == r.sequence[i] {
					right++
				}
			}
			if right == oppositesRounds {
				res.Correct = true
				span := entries[len(entries)-1].Elapsed - entries[0].Elapsed
				res.score = 3e9 - float64(span.Milliseconds())
			} else {
				res.score = float64(right) * 1000
			}
		case miniReflex:
			if len(entries) > 0 {
				reaction := entries[0].Elapsed - r.goDelay
				if reaction >= 0 {
					res.Correct = true
					res.score = 1e9 - float64(reaction.Milliseconds())
				} else {
					res.score = -1 // pressed before GO
				}
			}
		default:
			if len(entries) > 0 {
				res.Answer = entries[0].Input
				if entries[0].Input == r.correct {
					res.Correct = true
					res.score = 1e9 - float64(entries[0].Elapsed.Milliseconds())
				}
			}
		}
		results = append(results, res)
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].score > results[j].score })

	for i := range results {
		res := &results[i]
		res.Rank = i + 1
		res.Bonus = miniBonus(r.def.Kind, res.Rank, len(results), res.Correct)
		if res.Rank == len(results) {
			res.Bonus.HPLoss = 5
			res.Bonus.Last = true
		}
		b := res.Bonus
		g.bonuses[res.id] = &b
	}
	return results
}

// miniBonus maps a rank to its reward for one catalogue entry.
func miniBonus(kind miniKind, rank, total int, correct bool) Bonus {
	switch kind {
	case miniCoinFlip:
		if correct {
			return Bonus{DamagePct: 0.25, FocusBoost: 1}
		}
		return Bonus{DamageTaken: 20}
	case miniLuckySymbol:
		if correct {
			b := Bonus{Shield: 0.3}
			if rank <= 2 {
				b.FocusBoost = 1
			}
			return b
		}
	case miniElementBoost:
		if correct {
			if rank == 1 {
				return Bonus{DamagePct: 0.3, FocusBoost: 1}
			}
			b := Bonus{DamagePct: 0.15}
			if rank == 2 {
				b.FocusBoost = 1
			}
			return b
		}
	case miniReflex:
		switch {
		case rank == 1 && correct:
			return Bonus{DamagePct: 0.3, FocusBoost: 1}
		case rank == 2 && correct:
			return Bonus{FocusBoost: 1}
		case !correct:
			return Bonus{DamageTaken: 15}
		}
	case miniMemoryFlash:
		if correct {
			return Bonus{FocusBoost: 1, HealBoost: 10}
		}
	case miniTurboRunner:
		if rank == 1 && correct {
			return Bonus{ExtraDamageLeft: 10, FocusBoost: 1}
		}
		if rank == 2 && correct {
			return Bonus{FocusBoost: 1}
		}
	case miniQuickOpposites:
		if rank == 1 && correct {
			return Bonus{DamageToAll: 10, FocusBoost: 1}
		}
		if rank == 2 && correct {
			return Bonus{FocusBoost: 1}
		}
	default: // color touch, dodge
		switch {
		case rank == 1 && correct:
			return Bonus{DamagePct: 0.3, FocusBoost: 1}
		case rank == 2 && correct:
			return Bonus{Priority: true, FocusBoost: 1}
		case rank == total && !correct:
			return Bonus{DamageTaken: 10}
		}
	}
	return Bonus{}
}
