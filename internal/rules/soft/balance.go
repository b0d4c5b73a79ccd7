package soft

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/tiger/osss-validator/internal/rules"
)

type balanceParams struct {
	MaxDelta float64 `json:"max_delta"`
}

// HomeAwayBalance penalizes teams whose home and away counts drift apart by
// more than max_delta.
type HomeAwayBalance struct{}

func (HomeAwayBalance) ID() string { return "home_away_balance" }

func (HomeAwayBalance) Evaluate(ctx context.Context, in rules.Input) (rules.Output, error) {
	var params balanceParams
	if err := rules.DecodeParams(in.Params, &params); err != nil {
		return rules.Output{}, err
	}
	maxDelta := params.MaxDelta
	if math.IsNaN(maxDelta) || math.IsInf(maxDelta, 0) || maxDelta < 0 {
		maxDelta = 0
	}

	home := make(map[string]int)
	away := make(map[string]int)
	seen := make(map[string]struct{})
	for _, slot := range in.View.Slots {
		f, ok := in.View.Fixture(slot)
		if !ok {
			continue
		}
		if h := f.Home(); h != "" {
			home[h]++
			seen[h] = struct{}{}
		}
		if a := f.Away(); a != "" {
			away[a]++
			seen[a] = struct{}{}
		}
	}

	teams := make([]string, 0, len(in.View.TeamOrder))
	for _, id := range in.View.TeamOrder {
		if in.View.InScopeTeam(id) {
			teams = append(teams, id)
		}
	}
	if len(teams) == 0 {
		for id := range seen {
			if in.View.InScopeTeam(id) {
				teams = append(teams, id)
			}
		}
		sort.Strings(teams)
	}

	var out rules.Output
	for _, team := range teams {
		if err := ctx.Err(); err != nil {
			return rules.Output{}, err
		}
		h, a := home[team], away[team]
		delta := math.Abs(float64(h - a))
		over := delta - maxDelta
		if over <= 0 {
			continue
		}
		out.Amount += over
		out.Violations = append(out.Violations, rules.Violation{
			Message: fmt.Sprintf("Team '%s' home/away delta=%s exceeds max_delta=%s by %s (home=%d, away=%d)",
				team, num(delta), num(maxDelta), num(over), h, a),
			Subject: team,
		})
	}
	out.Explanation = "Home/away balance within limits"
	if len(out.Violations) > 0 {
		out.Explanation = "Some teams exceed home/away delta"
	}
	return out, nil
}

func num(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
