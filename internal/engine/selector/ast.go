package selector

import (
	"strings"
	"time"

	"github.com/tiger/osss-validator/api/schedule"
	"github.com/tiger/osss-validator/internal/engine/index"
)

// EntityKind names the primary entity a selector scopes.
type EntityKind string

const (
	EntityFixture  EntityKind = "fixture"
	EntityTeam     EntityKind = "team"
	EntityVenue    EntityKind = "venue"
	EntityOfficial EntityKind = "official"
)

// Candidate is the thing a selector is evaluated against. Only Kind and the
// primary entity are required; the rest is context used by specific leaves.
type Candidate struct {
	Kind     EntityKind
	Team     *schedule.Team
	Venue    *schedule.Venue
	Official *schedule.Official
	Fixture  *schedule.Fixture
	Slot     *index.Slot
	// TeamID is the team perspective for role checks.
	TeamID string
	// Participants are the resolved participant teams of Fixture.
	Participants []*schedule.Team
}

func (c Candidate) primaryID() string {
	switch c.Kind {
	case EntityTeam:
		if c.Team != nil {
			return c.Team.ID
		}
		return c.TeamID
	case EntityVenue:
		if c.Venue != nil {
			return c.Venue.ID
		}
	case EntityOfficial:
		if c.Official != nil {
			return c.Official.ID
		}
	default:
		if c.Fixture != nil {
			return c.Fixture.ID
		}
	}
	return ""
}

func (c Candidate) primaryTags() []string {
	switch c.Kind {
	case EntityTeam:
		if c.Team != nil {
			return c.Team.Tags
		}
	case EntityVenue:
		if c.Venue != nil {
			return c.Venue.Tags
		}
	case EntityOfficial:
		if c.Official != nil {
			return c.Official.Tags
		}
	default:
		if c.Fixture != nil {
			return c.Fixture.Tags
		}
	}
	return nil
}

// Node is one selector AST node.
type Node interface {
	Match(c Candidate) bool
}

// Wildcard matches everything.
type Wildcard struct{}

func (Wildcard) Match(Candidate) bool { return true }

// All is a conjunction that stops at the first false child.
type All struct{ Nodes []Node }

func (n All) Match(c Candidate) bool {
	for _, child := range n.Nodes {
		if !child.Match(c) {
			return false
		}
	}
	return true
}

// Any is a disjunction that stops at the first true child.
type Any struct{ Nodes []Node }

func (n Any) Match(c Candidate) bool {
	for _, child := range n.Nodes {
		if child.Match(c) {
			return true
		}
	}
	return false
}

// Not inverts its child.
type Not struct{ Node Node }

func (n Not) Match(c Candidate) bool { return !n.Node.Match(c) }

// IDs matches the primary entity id.
type IDs struct{ Set map[string]struct{} }

func (n IDs) Match(c Candidate) bool {
	_, ok := n.Set[c.primaryID()]
	return ok
}

// Tags requires every listed tag on the primary entity.
type Tags struct{ Required []string }

func (n Tags) Match(c Candidate) bool {
	have := c.primaryTags()
	for _, want := range n.Required {
		found := false
		for _, tag := range have {
			if tag == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Division matches the team's division, or for fixtures the fixture's own
// division or any participant's.
type Division struct{ Values map[string]struct{} }

func (n Division) Match(c Candidate) bool {
	return matchTeamAttr(c, n.Values, func(t *schedule.Team) string { return t.Division }, func(f *schedule.Fixture) string { return f.Division })
}

// AgeGroup works like Division on ageGroup.
type AgeGroup struct{ Values map[string]struct{} }

func (n AgeGroup) Match(c Candidate) bool {
	return matchTeamAttr(c, n.Values, func(t *schedule.Team) string { return t.AgeGroup }, func(f *schedule.Fixture) string { return f.AgeGroup })
}

func matchTeamAttr(c Candidate, values map[string]struct{}, ofTeam func(*schedule.Team) string, ofFixture func(*schedule.Fixture) string) bool {
	if c.Kind == EntityTeam {
		if c.Team == nil {
			return false
		}
		_, ok := values[ofTeam(c.Team)]
		return ok
	}
	if c.Fixture == nil {
		return false
	}
	if own := ofFixture(c.Fixture); own != "" {
		_, ok := values[own]
		return ok
	}
	for _, t := range c.Participants {
		if t == nil {
			continue
		}
		if _, ok := values[ofTeam(t)]; ok {
			return true
		}
	}
	return false
}

// VenueType matches the candidate venue's type.
type VenueType struct{ Values map[string]struct{} }

func (n VenueType) Match(c Candidate) bool {
	if c.Venue == nil {
		return false
	}
	_, ok := n.Values[c.Venue.VenueType]
	return ok
}

// Range is an inclusive numeric bound; nil ends are open.
type Range struct {
	Exact *float64
	Min   *float64
	Max   *float64
}

func (r Range) contains(v float64) bool {
	if r.Exact != nil {
		return v == *r.Exact
	}
	if r.Min != nil && v < *r.Min {
		return false
	}
	if r.Max != nil && v > *r.Max {
		return false
	}
	return true
}

// Capacity matches the candidate venue's capacity.
type Capacity struct{ Range Range }

func (n Capacity) Match(c Candidate) bool {
	if c.Venue == nil {
		return false
	}
	return n.Range.contains(float64(c.Venue.Capacity))
}

// DaysOfWeek matches the slot's local weekday.
type DaysOfWeek struct{ Days map[time.Weekday]struct{} }

func (n DaysOfWeek) Match(c Candidate) bool {
	if c.Slot == nil || !c.Slot.Valid {
		return false
	}
	day, ok := weekdayByName[c.Slot.Weekday]
	if !ok {
		return false
	}
	_, ok = n.Days[day]
	return ok
}

// DateRange requires the slot to start at or after Start and end at or before End.
type DateRange struct {
	Start *time.Time
	End   *time.Time
}

func (n DateRange) Match(c Candidate) bool {
	if c.Slot == nil || !c.Slot.Valid {
		return false
	}
	if n.Start != nil && c.Slot.Start.Before(*n.Start) {
		return false
	}
	if n.End != nil && c.Slot.End.After(*n.End) {
		return false
	}
	return true
}

// Phase matches the fixture phase.
type Phase struct{ Values map[string]struct{} }

func (n Phase) Match(c Candidate) bool {
	if c.Fixture == nil {
		return false
	}
	_, ok := n.Values[c.Fixture.Phase]
	return ok
}

// Round matches the fixture round.
type Round struct{ Range Range }

func (n Round) Match(c Candidate) bool {
	if c.Fixture == nil || c.Fixture.Round == nil {
		return false
	}
	return n.Range.contains(float64(*c.Fixture.Round))
}

// RoleKind is home or away.
type RoleKind string

const (
	RoleHome RoleKind = "home"
	RoleAway RoleKind = "away"
)

// Role matches the team perspective's role in the fixture. Without a team
// perspective it matches fixtures that define the role at all.
type Role struct{ Role RoleKind }

func (n Role) Match(c Candidate) bool {
	if c.Fixture == nil {
		return false
	}
	holder := c.Fixture.Home()
	if n.Role == RoleAway {
		holder = c.Fixture.Away()
	}
	if c.TeamID == "" {
		return holder != ""
	}
	return holder == c.TeamID
}

var weekdayByName = map[string]time.Weekday{}

func init() {
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		weekdayByName[name] = d
		weekdayByName[name[:3]] = d
	}
}
