package soft

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/tiger/osss-validator/internal/engine/index"
	"github.com/tiger/osss-validator/internal/rules"
)

const dayMS = 24 * 60 * 60 * 1000

type spacingParams struct {
	MinDays float64 `json:"min_days"`
}

// OpponentSpacing penalizes rematches between the same two teams that start
// fewer than min_days apart. The amount is the total shortfall in days.
type OpponentSpacing struct{}

func (OpponentSpacing) ID() string     { return "opponent_spacing" }
func (OpponentSpacing) UsesTime() bool { return true }

func (OpponentSpacing) Evaluate(ctx context.Context, in rules.Input) (rules.Output, error) {
	var params spacingParams
	if err := rules.DecodeParams(in.Params, &params); err != nil {
		return rules.Output{}, err
	}
	if math.IsNaN(params.MinDays) || math.IsInf(params.MinDays, 0) || params.MinDays <= 0 {
		return rules.Output{Explanation: "min_days <= 0 (no spacing enforced)"}, nil
	}
	minMS := params.MinDays * dayMS

	pairs := make(map[string][]index.Slot)
	for _, slot := range in.View.Slots {
		if !slot.Valid {
			continue
		}
		f, ok := in.View.Fixture(slot)
		if !ok || len(f.Participants) < 2 {
			continue
		}
		a, b := f.Participants[0], f.Participants[1]
		if !in.View.InScopeTeam(a) && !in.View.InScopeTeam(b) {
			continue
		}
		if b < a {
			a, b = b, a
		}
		key := a + "::" + b
		pairs[key] = append(pairs[key], slot)
	}
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out rules.Output
	for _, pair := range keys {
		if err := ctx.Err(); err != nil {
			return rules.Output{}, err
		}
		games := pairs[pair]
		index.ByStart(games)
		for i := 1; i < len(games); i++ {
			prev, cur := games[i-1], games[i]
			gap := float64(cur.StartMS - prev.StartMS)
			if gap >= minMS {
				continue
			}
			short := (minMS - gap) / dayMS
			out.Amount += short
			out.Violations = append(out.Violations, rules.Violation{
				Message: fmt.Sprintf("Opponent spacing violation for pair '%s': '%s' to '%s' short by %.2f days (min %s)",
					pair, prev.Assignment.FixtureID, cur.Assignment.FixtureID, short, num(params.MinDays)),
				Fixtures: []string{prev.Assignment.FixtureID, cur.Assignment.FixtureID},
				Subject:  pair,
			})
		}
	}
	out.Explanation = "Opponent spacing within limits"
	if len(out.Violations) > 0 {
		out.Explanation = "Some pairs played too close together"
	}
	return out, nil
}
