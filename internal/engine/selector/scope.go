package selector

import (
	"github.com/tiger/osss-validator/api/schedule"
	"github.com/tiger/osss-validator/internal/engine/index"
)

// Scope restricts view to what sel matches. Slots survive only when their
// fixture is in scope, so rules never see out-of-scope assignments.
func Scope(view index.View, sel Selector) index.View {
	if sel.Root == nil || sel.IsWildcard() {
		return view
	}
	switch sel.Kind {
	case EntityTeam:
		return scopeTeams(view, sel)
	case EntityVenue:
		return scopeVenues(view, sel)
	case EntityOfficial:
		return scopeOfficials(view, sel)
	default:
		return scopeFixtures(view, sel)
	}
}

func scopeFixtures(view index.View, sel Selector) index.View {
	fixtures := make(map[string]struct{})
	assigned := make(map[string]bool)
	slots := make([]index.Slot, 0, len(view.Slots))
	for i := range view.Slots {
		slot := &view.Slots[i]
		f, ok := view.Fixture(*slot)
		if !ok {
			continue
		}
		assigned[f.ID] = true
		if sel.Match(fixtureCandidate(view, f, slot)) {
			fixtures[f.ID] = struct{}{}
			slots = append(slots, *slot)
		}
	}
	// Unassigned fixtures are judged on their static attributes.
	for _, id := range view.FixtureOrder {
		if assigned[id] {
			continue
		}
		f := view.Fixtures[id]
		if sel.Match(fixtureCandidate(view, f, nil)) {
			fixtures[id] = struct{}{}
		}
	}
	return view.Restrict(nil, nil, fixtures, slots)
}

func scopeTeams(view index.View, sel Selector) index.View {
	teams := make(map[string]struct{})
	for _, id := range view.TeamOrder {
		if sel.Match(Candidate{Kind: EntityTeam, Team: view.Teams[id], TeamID: id}) {
			teams[id] = struct{}{}
		}
	}

	fixtures := make(map[string]struct{})
	assigned := make(map[string]bool)
	slots := make([]index.Slot, 0, len(view.Slots))
	for i := range view.Slots {
		slot := &view.Slots[i]
		f, ok := view.Fixture(*slot)
		if !ok {
			continue
		}
		assigned[f.ID] = true
		base := fixtureCandidate(view, f, slot)
		matched := false
		for _, teamID := range f.Teams() {
			c := base
			c.Kind = EntityTeam
			c.TeamID = teamID
			c.Team = teamOrStub(view, teamID)
			if sel.Match(c) {
				teams[teamID] = struct{}{}
				matched = true
			}
		}
		if matched {
			fixtures[f.ID] = struct{}{}
			slots = append(slots, *slot)
		}
	}
	for _, id := range view.FixtureOrder {
		if assigned[id] {
			continue
		}
		for _, teamID := range view.Fixtures[id].Teams() {
			if _, ok := teams[teamID]; ok {
				fixtures[id] = struct{}{}
				break
			}
		}
	}
	return view.Restrict(teams, nil, fixtures, slots)
}

func scopeVenues(view index.View, sel Selector) index.View {
	venues := make(map[string]struct{})
	for id, v := range view.Venues {
		if sel.Match(Candidate{Kind: EntityVenue, Venue: v}) {
			venues[id] = struct{}{}
		}
	}

	fixtures := make(map[string]struct{})
	slots := make([]index.Slot, 0, len(view.Slots))
	for i := range view.Slots {
		slot := &view.Slots[i]
		f, ok := view.Fixture(*slot)
		if !ok {
			continue
		}
		c := fixtureCandidate(view, f, slot)
		c.Kind = EntityVenue
		if c.Venue == nil && slot.Assignment.VenueID != "" {
			c.Venue = &schedule.Venue{ID: slot.Assignment.VenueID}
		}
		if c.Venue == nil {
			continue
		}
		if sel.Match(c) {
			venues[c.Venue.ID] = struct{}{}
			fixtures[f.ID] = struct{}{}
			slots = append(slots, *slot)
		}
	}
	return view.Restrict(nil, venues, fixtures, slots)
}

// scopeOfficials keeps slots with at least one matching assigned official.
func scopeOfficials(view index.View, sel Selector) index.View {
	officials := make(map[string]struct{})
	fixtures := make(map[string]struct{})
	slots := make([]index.Slot, 0, len(view.Slots))
	for i := range view.Slots {
		slot := &view.Slots[i]
		f, ok := view.Fixture(*slot)
		if !ok {
			continue
		}
		base := fixtureCandidate(view, f, slot)
		matched := false
		for _, id := range slot.Assignment.OfficialIDs {
			c := base
			c.Kind = EntityOfficial
			c.Official = view.Officials[id]
			if c.Official == nil {
				c.Official = &schedule.Official{ID: id}
			}
			if sel.Match(c) {
				officials[id] = struct{}{}
				matched = true
			}
		}
		if matched {
			fixtures[f.ID] = struct{}{}
			slots = append(slots, *slot)
		}
	}
	out := view.Restrict(nil, nil, fixtures, slots)
	out.Officials = make(map[string]*schedule.Official, len(officials))
	for id := range officials {
		if o, ok := view.Officials[id]; ok {
			out.Officials[id] = o
		}
	}
	return out
}

func fixtureCandidate(view index.View, f *schedule.Fixture, slot *index.Slot) Candidate {
	c := Candidate{Kind: EntityFixture, Fixture: f, Slot: slot}
	venueID := f.LockedVenueID
	if slot != nil && slot.Assignment.VenueID != "" {
		venueID = slot.Assignment.VenueID
	}
	if venueID != "" {
		c.Venue = view.Venues[venueID]
	}
	for _, id := range f.Teams() {
		if t, ok := view.Teams[id]; ok {
			c.Participants = append(c.Participants, t)
		}
	}
	return c
}

func teamOrStub(view index.View, id string) *schedule.Team {
	if t, ok := view.Teams[id]; ok && t != nil {
		return t
	}
	return &schedule.Team{ID: id}
}

// Matches evaluates sel against a bare entity with no slot context.
func Matches(sel Selector, c Candidate) bool {
	if c.Kind == "" {
		c.Kind = sel.Kind
	}
	return sel.Match(c)
}
