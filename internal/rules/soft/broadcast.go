package soft

import (
	"context"
	"fmt"
	"strings"

	"github.com/tiger/osss-validator/internal/engine/index"
	"github.com/tiger/osss-validator/internal/rules"
)

// Window is one allowed broadcast slot. Day accepts full or three-letter
// weekday names in any case. A window whose end precedes its start wraps
// past midnight.
type Window struct {
	Day   string `json:"day"`
	Start string `json:"start"`
	End   string `json:"end"`
}

func (w Window) contains(weekday string, minute int) bool {
	day := strings.ToLower(strings.TrimSpace(w.Day))
	if day == "" || len(weekday) < 3 {
		return false
	}
	if day != weekday && day != weekday[:3] {
		return false
	}
	start, ok := index.HHMMToMinutes(w.Start)
	if !ok {
		return false
	}
	end, ok := index.HHMMToMinutes(w.End)
	if !ok {
		return false
	}
	if end < start {
		return minute >= start || minute <= end
	}
	return minute >= start && minute <= end
}

type broadcastParams struct {
	AllowedWindows []Window `json:"allowed_windows"`
}

// BroadcastWindow penalizes each fixture whose local start falls outside
// every allowed window. Bounds are inclusive.
type BroadcastWindow struct{}

func (BroadcastWindow) ID() string     { return "broadcast_window" }
func (BroadcastWindow) UsesTime() bool { return true }

func (BroadcastWindow) Evaluate(ctx context.Context, in rules.Input) (rules.Output, error) {
	var params broadcastParams
	if err := rules.DecodeParams(in.Params, &params); err != nil {
		return rules.Output{}, err
	}
	if len(params.AllowedWindows) == 0 {
		return rules.Output{Explanation: "No allowed_windows provided"}, nil
	}

	var out rules.Output
	for _, slot := range in.View.Slots {
		if err := ctx.Err(); err != nil {
			return rules.Output{}, err
		}
		if !slot.Valid {
			continue
		}
		inside := false
		for _, w := range params.AllowedWindows {
			if w.contains(slot.Weekday, slot.MinuteOfDay) {
				inside = true
				break
			}
		}
		if inside {
			continue
		}
		out.Violations = append(out.Violations, rules.Violation{
			Message:  fmt.Sprintf("Fixture '%s' at %s %s is outside allowed broadcast windows", slot.Assignment.FixtureID, slot.Weekday, slot.HHMM),
			Fixtures: []string{slot.Assignment.FixtureID},
		})
	}
	out.Amount = float64(len(out.Violations))
	out.Explanation = "All fixtures within broadcast windows"
	if len(out.Violations) > 0 {
		out.Explanation = "Some fixtures outside windows"
	}
	return out, nil
}
