package hard

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/tiger/osss-validator/internal/rules"
)

type restParams struct {
	MinHours *float64 `json:"min_hours"`
}

// MinRestTime requires at least min_hours between a team's consecutive fixtures.
type MinRestTime struct{}

func (MinRestTime) ID() string     { return "min_rest_time" }
func (MinRestTime) UsesTime() bool { return true }

func (MinRestTime) Evaluate(ctx context.Context, in rules.Input) (rules.Output, error) {
	var params restParams
	if err := rules.DecodeParams(in.Params, &params); err != nil {
		return rules.Output{}, err
	}
	if params.MinHours == nil || math.IsNaN(*params.MinHours) || math.IsInf(*params.MinHours, 0) || *params.MinHours <= 0 {
		return rules.Output{Explanation: "min_hours not set or not positive (no rest enforced)"}, nil
	}
	minHours := *params.MinHours
	minMS := minHours * 3_600_000

	groups, teams := rules.TeamSlots(in.View)
	var out rules.Output
	for _, team := range teams {
		if err := ctx.Err(); err != nil {
			return rules.Output{}, err
		}
		games := groups[team]
		for i := 1; i < len(games); i++ {
			prev, cur := games[i-1], games[i]
			rest := float64(cur.StartMS - prev.EndMS)
			if rest < minMS {
				out.Violations = append(out.Violations, rules.Violation{
					Message: fmt.Sprintf("Team '%s' rest violation: %.2fh between '%s' and '%s' (min %sh)",
						team, rest/3_600_000, prev.Assignment.FixtureID, cur.Assignment.FixtureID, strconv.FormatFloat(minHours, 'f', -1, 64)),
					Fixtures: []string{prev.Assignment.FixtureID, cur.Assignment.FixtureID},
					Subject:  team,
				})
			}
		}
	}
	out.Amount = float64(len(out.Violations))
	return out, nil
}
