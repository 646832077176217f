package quiz

import (
	"sort"
	"time"

	"partyarena/session"
)

// speedBonus decays from 5 to 0 in 3-second steps of response time.
func speedBonus(elapsed time.Duration) int {
	b := 5 - int(elapsed/(3*time.Second))
	if b < 0 {
		return 0
	}
	return b
}

// PlayerResult is one player's line on the round result screen.
type PlayerResult struct {
	Nickname   string `json:"nickname"`
	Animal     string `json:"animal"`
	Answer     string `json:"answer"`
	Correct    bool   `json:"correct"`
	Points     int    `json:"points"`
	TotalScore int    `json:"totalScore"`
	WasBlocked bool   `json:"wasBlocked"`
}

// PowerEvent narrates one staged power on the result screen.
type PowerEvent struct {
	Type   string `json:"type"`
	Actor  string `json:"actor"`
	Target string `json:"target,omitempty"`
	Amount int    `json:"amount,omitempty"`
}

// resolveRound applies the full scoring order for the current question:
// base+speed for correct answers, then double, then halve, then block
// zeroing, then steals. It mutates player totals and returns the result
// lines plus the power narration. Caller holds g.mu.
func (g *Game) resolveRound() ([]PlayerResult, []PowerEvent) {
	correct := g.currentQuestion().CorrectOption
	earned := make(map[string]int)
	answered := make(map[string]string)
	right := make(map[string]bool)

	for id := range g.players {
		entry, ok := g.answers.First(id)
		if !ok {
			continue
		}
		answered[id] = entry.Input
		if entry.Input != correct {
			continue
		}
		right[id] = true
		if !g.blocked[id] {
			earned[id] = BasePoints + speedBonus(entry.Elapsed)
		}
	}

	// Fixed pass order regardless of staging order: doubles first, then
	// halves. Blocks already zeroed the base pass through g.blocked.
	for _, sp := range g.staged {
		if sp.Type == PowerDouble && right[sp.ActorID] && !g.blocked[sp.ActorID] {
			earned[sp.ActorID] *= 2
		}
	}
	for _, sp := range g.staged {
		if sp.Type == PowerHalve && earned[sp.TargetID] > 0 {
			earned[sp.TargetID] /= 2
		}
	}

	var events []PowerEvent
	for _, sp := range g.staged {
		if sp.Type == PowerSteal || sp.Type == PowerChallenge {
			continue
		}
		actor := g.players[sp.ActorID]
		if actor == nil {
			continue
		}
		ev := PowerEvent{Type: string(sp.Type), Actor: actor.Nickname}
		if t := g.players[sp.TargetID]; t != nil {
			ev.Target = t.Nickname
		}
		events = append(events, ev)
	}

	// Steals run last, against settled round earnings. The stealer always
	// gains the fixed amount regardless of what the victim answered; only
	// the victim's deduction is floored so their round take stays >= 0.
	for _, sp := range g.staged {
		if sp.Type != PowerSteal {
			continue
		}
		actor, target := g.players[sp.ActorID], g.players[sp.TargetID]
		if actor == nil || target == nil {
			continue
		}
		lose := StealAmount
		if earned[sp.TargetID] < lose {
			lose = earned[sp.TargetID]
		}
		earned[sp.TargetID] -= lose
		earned[sp.ActorID] += StealAmount
		events = append(events, PowerEvent{Type: string(PowerSteal), Actor: actor.Nickname, Target: target.Nickname, Amount: StealAmount})
	}

	var results []PlayerResult
	for id, p := range g.players {
		pts := earned[id]
		if pts != 0 {
			p.Score += pts
			g.markScored(p)
		}
		results = append(results, PlayerResult{
			Nickname:   p.Nickname,
			Animal:     p.Animal,
			Answer:     answered[id],
			Correct:    right[id],
			Points:     pts,
			TotalScore: p.Score,
			WasBlocked: g.blocked[id] && right[id],
		})
	}
	sortResults(results, g.players)
	return results, events
}

// sortResults orders by total desc, ties broken by whoever reached their
// total first.
func sortResults(results []PlayerResult, players map[string]*Player) {
	seq := make(map[string]int, len(players))
	for _, p := range players {
		seq[p.Nickname] = p.scoreSeq
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].TotalScore != results[j].TotalScore {
			return results[i].TotalScore > results[j].TotalScore
		}
		return seq[results[i].Nickname] < seq[results[j].Nickname]
	})
}

// duelOutcome decides a challenge duel. Correct beats wrong; two correct
// answers go to the faster one; two wrong answers or two absences draw.
// Returns winner and loser ids, or "" for a draw.
func duelOutcome(d *duel, first func(id string) (session.Entry[string], bool), correct string) (winner, loser string) {
	type side struct {
		id      string
		right   bool
		elapsed time.Duration
	}
	read := func(id string) side {
		e, ok := first(id)
		if !ok {
			return side{id: id}
		}
		return side{id: id, right: e.Input == correct, elapsed: e.Elapsed}
	}
	a, b := read(d.ChallengerID), read(d.TargetID)
	switch {
	case a.right && !b.right:
		return a.id, b.id
	case b.right && !a.right:
		return b.id, a.id
	case a.right && b.right:
		if a.elapsed == b.elapsed {
			return "", ""
		}
		if a.elapsed < b.elapsed {
			return a.id, b.id
		}
		return b.id, a.id
	default:
		return "", ""
	}
}
