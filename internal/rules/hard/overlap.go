package hard

import (
	"context"
	"fmt"
	"sort"

	"github.com/tiger/osss-validator/internal/engine/index"
	"github.com/tiger/osss-validator/internal/rules"
)

// NoOverlapTeam forbids a team playing two fixtures at once.
type NoOverlapTeam struct{}

func (NoOverlapTeam) ID() string     { return "no_overlap_team" }
func (NoOverlapTeam) UsesTime() bool { return true }

func (NoOverlapTeam) Evaluate(ctx context.Context, in rules.Input) (rules.Output, error) {
	groups, teams := rules.TeamSlots(in.View)
	var out rules.Output
	for _, team := range teams {
		if err := ctx.Err(); err != nil {
			return rules.Output{}, err
		}
		for _, pair := range overlappingPairs(groups[team]) {
			out.Violations = append(out.Violations, rules.Violation{
				Message:  fmt.Sprintf("Team '%s' overlap between fixtures '%s' and '%s'", team, pair[0], pair[1]),
				Fixtures: []string{pair[0], pair[1]},
				Subject:  team,
			})
		}
	}
	out.Amount = float64(len(out.Violations))
	return out, nil
}

type venueParams struct {
	PerResource bool `json:"per_resource"`
}

// NoOverlapVenue forbids two fixtures sharing a venue (or venue resource) at once.
type NoOverlapVenue struct{}

func (NoOverlapVenue) ID() string        { return "no_overlap_venue_resource" }
func (NoOverlapVenue) Aliases() []string { return []string{"no_overlap_venue"} }
func (NoOverlapVenue) UsesTime() bool    { return true }

func (NoOverlapVenue) Evaluate(ctx context.Context, in rules.Input) (rules.Output, error) {
	var params venueParams
	if err := rules.DecodeParams(in.Params, &params); err != nil {
		return rules.Output{}, err
	}

	groups := make(map[string][]index.Slot)
	for _, slot := range in.View.Slots {
		if !slot.Valid || slot.Assignment.VenueID == "" {
			continue
		}
		key := slot.Assignment.VenueID
		if params.PerResource && slot.Assignment.ResourceID != "" {
			key += "/" + slot.Assignment.ResourceID
		}
		groups[key] = append(groups[key], slot)
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out rules.Output
	for _, venue := range keys {
		if err := ctx.Err(); err != nil {
			return rules.Output{}, err
		}
		slots := groups[venue]
		index.ByStart(slots)
		for _, pair := range overlappingPairs(slots) {
			out.Violations = append(out.Violations, rules.Violation{
				Message:  fmt.Sprintf("Venue '%s' overlap between fixtures '%s' and '%s'", venue, pair[0], pair[1]),
				Fixtures: []string{pair[0], pair[1]},
				Subject:  venue,
			})
		}
	}
	out.Amount = float64(len(out.Violations))
	return out, nil
}

// overlappingPairs expects slots sorted by start. The inner scan stops once a
// later slot starts at or after the current one ends.
func overlappingPairs(slots []index.Slot) [][2]string {
	var pairs [][2]string
	for i := 0; i < len(slots); i++ {
		for j := i + 1; j < len(slots); j++ {
			if slots[j].StartMS >= slots[i].EndMS {
				break
			}
			if slots[i].Overlaps(slots[j]) {
				pairs = append(pairs, [2]string{slots[i].Assignment.FixtureID, slots[j].Assignment.FixtureID})
			}
		}
	}
	return pairs
}
