package hard

import (
	"context"
	"fmt"

	"github.com/tiger/osss-validator/internal/rules"
)

// LockedVenue requires fixtures with a lockedVenueId to be assigned there.
type LockedVenue struct{}

func (LockedVenue) ID() string { return "locked_venue" }

func (LockedVenue) Evaluate(ctx context.Context, in rules.Input) (rules.Output, error) {
	var out rules.Output
	for _, slot := range in.View.Slots {
		if err := ctx.Err(); err != nil {
			return rules.Output{}, err
		}
		f, ok := in.View.Fixture(slot)
		if !ok || f.LockedVenueID == "" || slot.Assignment.VenueID == f.LockedVenueID {
			continue
		}
		out.Violations = append(out.Violations, rules.Violation{
			Message:  fmt.Sprintf("Fixture '%s' is locked to venue '%s' but assigned to '%s'", f.ID, f.LockedVenueID, slot.Assignment.VenueID),
			Fixtures: []string{f.ID},
			Subject:  f.LockedVenueID,
		})
	}
	out.Amount = float64(len(out.Violations))
	return out, nil
}
