package clash

import (
	"math"
	"sort"
)

// damageFor computes one attack before the defender's mitigation: elemental
// multiplier first, then the mini-game percentage bonus, each rounded.
func damageFor(attacker, defender *Fighter, b *Bonus) int {
	d := float64(BaseDamage)
	if attacker.Element.beats() == defender.Element {
		d = math.Round(d * (1 + ElementBonus))
	} else if defender.Element.beats() == attacker.Element {
		d = math.Round(d * (1 - ElementBonus))
	}
	if b.DamagePct > 0 {
		d = math.Round(d * (1 + b.DamagePct))
	}
	return int(d)
}

type incoming struct {
	attacker *Fighter
	damage   int // pre-mitigation
}

// CombatEvent is one line of the round narration.
type CombatEvent struct {
	Type      string       `json:"type"` // damage, blocked, counter
	Player    string       `json:"player"`
	Target    string       `json:"target,omitempty"`
	Damage    int          `json:"damage"`
	Attackers []AttackInfo `json:"attackers,omitempty"`
	Defended  bool         `json:"defended,omitempty"`
}

type AttackInfo struct {
	Name    string  `json:"name"`
	Damage  int     `json:"damage"`
	Element Element `json:"element"`
}

type Elimination struct {
	Nickname string   `json:"nickname"`
	Avatar   string   `json:"avatar"`
	KilledBy []string `json:"killedBy"`
}

type ActionView struct {
	Nickname    string  `json:"nickname"`
	Avatar      string  `json:"avatar"`
	Element     Element `json:"element"`
	Action      Action  `json:"action"`
	TargetLeft  string  `json:"targetLeft,omitempty"`
	TargetRight string  `json:"targetRight,omitempty"`
}

type roundOutcome struct {
	events       []CombatEvent
	eliminations []Elimination
	actions      []ActionView
}

// resolveCombat applies every collected action in two passes: first gather
// attacks and instant effects, then mitigate and apply damage. A missing
// action falls back to defend. Counter reflections land in the same pass,
// so a countered attacker can die in the round they attacked. Caller holds
// g.mu with the action phase resolved.
func (g *Game) resolveCombat() roundOutcome {
	fighters := g.alive()
	var out roundOutcome

	attacks := make(map[string][]incoming)
	defending := make(map[string]bool)
	countering := make(map[string]bool)
	mega := make(map[string]bool)

	addAttack := func(att, def *Fighter, b *Bonus) {
		attacks[def.ID] = append(attacks[def.ID], incoming{attacker: att, damage: damageFor(att, def, b)})
	}

	for _, f := range fighters {
		action := Defend
		if e, ok := g.actions.First(f.ID); ok {
			action = e.Input
		}
		left, right := g.neighbors(f.ID)
		b := g.bonus(f.ID)
		out.actions = append(out.actions, ActionView{
			Nickname: f.Nickname, Avatar: f.Avatar, Element: f.Element, Action: action,
			TargetLeft: nickOrEmpty(left), TargetRight: nickOrEmpty(right),
		})

		switch action {
		case AttackLeft:
			if left != nil {
				addAttack(f, left, b)
			}
		case AttackRight:
			if right != nil {
				addAttack(f, right, b)
			}
		case Defend:
			defending[f.ID] = true
		case Focus:
			f.Focus = min(FocusCap, f.Focus+1)
			f.HP = min(MaxHP, f.HP+FocusHeal)
		case DoubleAttack:
			f.Focus = 0
			if left != nil {
				addAttack(f, left, b)
			}
			if right != nil {
				addAttack(f, right, b)
			}
		case MegaDefense:
			f.Focus = 0
			mega[f.ID] = true
		case Heal:
			f.Focus = 0
			f.HP = min(MaxHP, f.HP+HealAmount)
		case Counter:
			f.Focus = 0
			countering[f.ID] = true
			defending[f.ID] = true
		}
	}

	for _, f := range fighters {
		b := g.bonus(f.ID)
		total := 0
		var hitBy []AttackInfo

		for _, in := range attacks[f.ID] {
			damage := in.damage
			switch {
			case mega[f.ID]:
				damage = 0
			case defending[f.ID]:
				damage = int(math.Round(float64(damage) * (1 - DefenseReduction)))
			case b.Shield > 0:
				damage = int(math.Round(float64(damage) * (1 - b.Shield)))
			}

			// Counter reflects double the pre-mitigation damage.
			if countering[f.ID] && damage > 0 {
				reflected := in.damage * 2
				in.attacker.HP -= reflected
				in.attacker.Stats.DamageTaken += reflected
				f.Stats.DamageDealt += reflected
				out.events = append(out.events, CombatEvent{
					Type: "counter", Player: f.Nickname, Target: in.attacker.Nickname, Damage: reflected,
				})
			}

			total += damage
			if damage > 0 {
				hitBy = append(hitBy, AttackInfo{Name: in.attacker.Nickname, Damage: damage, Element: in.attacker.Element})
				in.attacker.Stats.DamageDealt += damage
			}
		}

		// The penalty adds flat damage only on a round where the fighter
		// was actually hit.
		if b.DamageTaken > 0 && total > 0 {
			total += b.DamageTaken
		}

		if total > 0 {
			f.HP -= total
			f.Stats.DamageTaken += total
			kind := "damage"
			if defending[f.ID] {
				kind = "blocked"
			}
			out.events = append(out.events, CombatEvent{
				Type: kind, Player: f.Nickname, Damage: total, Attackers: hitBy, Defended: defending[f.ID],
			})
		}

		if f.HP <= 0 && f.Alive {
			f.HP = 0
			f.Alive = false
			f.Stats.RoundsSurvived = g.round
			g.eliminationOrder = append(g.eliminationOrder, f.ID)

			killers := make([]string, 0, len(attacks[f.ID]))
			for _, in := range attacks[f.ID] {
				in.attacker.Stats.Kills++
				killers = append(killers, in.attacker.Nickname)
			}
			out.eliminations = append(out.eliminations, Elimination{
				Nickname: f.Nickname, Avatar: f.Avatar, KilledBy: killers,
			})
		}
	}

	// Counter reflections can drop an attacker in the same pass.
	for _, f := range fighters {
		if f.HP <= 0 && f.Alive {
			f.HP = 0
			f.Alive = false
			f.Stats.RoundsSurvived = g.round
			g.eliminationOrder = append(g.eliminationOrder, f.ID)
			out.eliminations = append(out.eliminations, Elimination{
				Nickname: f.Nickname, Avatar: f.Avatar, KilledBy: []string{"counter"},
			})
		}
	}

	for _, f := range g.alive() {
		f.Stats.RoundsSurvived = g.round
	}
	return out
}

func nickOrEmpty(f *Fighter) string {
	if f == nil {
		return ""
	}
	return f.Nickname
}

// Ranking is a final-standings row: alive fighters first, then HP, then
// rounds survived.
type Ranking struct {
	Rank     int        `json:"rank"`
	Nickname string     `json:"nickname"`
	Avatar   string     `json:"avatar"`
	Element  Element    `json:"element"`
	HP       int        `json:"hp"`
	Alive    bool       `json:"alive"`
	Stats    FightStats `json:"stats"`
}

func (g *Game) rankings() []Ranking {
	fighters := make([]*Fighter, 0, len(g.players))
	for _, f := range g.players {
		fighters = append(fighters, f)
	}
	sortFighters(fighters)

	out := make([]Ranking, len(fighters))
	for i, f := range fighters {
		out[i] = Ranking{
			Rank: i + 1, Nickname: f.Nickname, Avatar: f.Avatar,
			Element: f.Element, HP: f.HP, Alive: f.Alive, Stats: f.Stats,
		}
	}
	return out
}

func sortFighters(fs []*Fighter) {
	sort.SliceStable(fs, func(i, j int) bool {
		a, b := fs[i], fs[j]
		if a.Alive != b.Alive {
			return a.Alive
		}
		if a.HP != b.HP {
			return a.HP > b.HP
		}
		return a.Stats.RoundsSurvived > b.Stats.RoundsSurvived
	})
}
