package schedule

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultTimezone is used when an instance does not declare one.
const DefaultTimezone = "UTC"

// DefaultFixtureDurationMinutes is the fallback fixture length.
const DefaultFixtureDurationMinutes = 90

// ConstraintType mirrors osss-core.schema.json constraint.type.
type ConstraintType string

const (
	ConstraintHard ConstraintType = "hard"
	ConstraintSoft ConstraintType = "soft"
)

// Validate rejects unknown constraint types.
func (t ConstraintType) Validate() error {
	switch t {
	case ConstraintHard, ConstraintSoft:
		return nil
	default:
		return fmt.Errorf("invalid constraint type %q", t)
	}
}

// Instance is the static league description a Result is checked against.
type Instance struct {
	ID                     string         `json:"id,omitempty"`
	Name                   string         `json:"name,omitempty"`
	Timezone               string         `json:"timezone,omitempty"`
	DefaultFixtureDuration int            `json:"defaultFixtureDuration,omitempty"`
	Teams                  []Team         `json:"teams,omitempty"`
	Venues                 []Venue        `json:"venues,omitempty"`
	Officials              []Official     `json:"officials,omitempty"`
	Fixtures               []Fixture      `json:"fixtures"`
	Constraints            []Constraint   `json:"constraints,omitempty"`
	Objectives             []Objective    `json:"objectives,omitempty"`
	Metadata               map[string]any `json:"metadata,omitempty"`
}

type entities struct {
	Teams     []Team     `json:"teams,omitempty"`
	Venues    []Venue    `json:"venues,omitempty"`
	Officials []Official `json:"officials,omitempty"`
}

// UnmarshalJSON accepts both the flat layout and the nested entities layout.
func (i *Instance) UnmarshalJSON(data []byte) error {
	type plain Instance
	var wire struct {
		plain
		Entities *entities `json:"entities,omitempty"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*i = Instance(wire.plain)
	if wire.Entities != nil {
		if len(i.Teams) == 0 {
			i.Teams = wire.Entities.Teams
		}
		if len(i.Venues) == 0 {
			i.Venues = wire.Entities.Venues
		}
		if len(i.Officials) == 0 {
			i.Officials = wire.Entities.Officials
		}
	}
	return nil
}

// Location returns the declared IANA zone name or UTC.
func (i Instance) Location() string {
	tz := strings.TrimSpace(i.Timezone)
	if tz == "" {
		return DefaultTimezone
	}
	return tz
}

// FixtureDuration returns the instance default fixture length in minutes.
func (i Instance) FixtureDuration() int {
	if i.DefaultFixtureDuration > 0 {
		return i.DefaultFixtureDuration
	}
	return DefaultFixtureDurationMinutes
}

// Team is a participant entity.
type Team struct {
	ID          string   `json:"id"`
	Name        string   `json:"name,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Division    string   `json:"division,omitempty"`
	AgeGroup    string   `json:"ageGroup,omitempty"`
	HomeVenueID string   `json:"homeVenueId,omitempty"`
}

// Venue is a playing location.
type Venue struct {
	ID        string   `json:"id"`
	Name      string   `json:"name,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	VenueType string   `json:"venueType,omitempty"`
	Capacity  int      `json:"capacity,omitempty"`
}

// Official is a referee or match official.
type Official struct {
	ID   string   `json:"id"`
	Name string   `json:"name,omitempty"`
	Tags []string `json:"tags,omitempty"`
}

// Fixture is a game that needs an assignment.
type Fixture struct {
	ID              string   `json:"id"`
	Participants    []string `json:"participants"`
	HomeTeamID      string   `json:"homeTeamId,omitempty"`
	AwayTeamID      string   `json:"awayTeamId,omitempty"`
	DurationMinutes int      `json:"durationMinutes,omitempty"`
	Phase           string   `json:"phase,omitempty"`
	Round           *int     `json:"round,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	LockedVenueID   string   `json:"lockedVenueId,omitempty"`
	Conditional     bool     `json:"conditional,omitempty"`
	Division        string   `json:"division,omitempty"`
	AgeGroup        string   `json:"ageGroup,omitempty"`
}

// Home returns the explicit home team or the first participant.
func (f Fixture) Home() string {
	if f.HomeTeamID != "" {
		return f.HomeTeamID
	}
	if len(f.Participants) > 0 {
		return f.Participants[0]
	}
	return ""
}

// Away returns the explicit away team or the second participant.
func (f Fixture) Away() string {
	if f.AwayTeamID != "" {
		return f.AwayTeamID
	}
	if len(f.Participants) > 1 {
		return f.Participants[1]
	}
	return ""
}

// Teams returns participants plus explicit home/away ids, deduplicated in order.
func (f Fixture) Teams() []string {
	out := make([]string, 0, len(f.Participants)+2)
	seen := make(map[string]struct{}, len(f.Participants)+2)
	for _, id := range append(append([]string{}, f.Participants...), f.HomeTeamID, f.AwayTeamID) {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Constraint is a league rule bound to a registry rule id.
type Constraint struct {
	ID       string          `json:"id"`
	RuleID   string          `json:"ruleId,omitempty"`
	Type     ConstraintType  `json:"type,omitempty"`
	Selector json.RawMessage `json:"selector,omitempty"`
	Params   map[string]any  `json:"params,omitempty"`
	Penalty  json.RawMessage `json:"penalty,omitempty"`
	Priority int             `json:"priority,omitempty"`
	Tags     []string        `json:"tags,omitempty"`
}

// UnmarshalJSON accepts "rule" as an alias of "ruleId".
func (c *Constraint) UnmarshalJSON(data []byte) error {
	type plain Constraint
	var wire struct {
		plain
		Rule string `json:"rule,omitempty"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*c = Constraint(wire.plain)
	if c.RuleID == "" {
		c.RuleID = wire.Rule
	}
	return nil
}

// Kind returns the declared type, defaulting to hard.
func (c Constraint) Kind() ConstraintType {
	if c.Type == "" {
		return ConstraintHard
	}
	return c.Type
}

// HasPenalty reports whether a penalty descriptor is present.
func (c Constraint) HasPenalty() bool {
	raw := strings.TrimSpace(string(c.Penalty))
	return raw != "" && raw != "null"
}

// Objective is an optimisation target declared by the league.
type Objective struct {
	ID     string  `json:"id"`
	Metric string  `json:"metric,omitempty"`
	Sense  string  `json:"sense,omitempty"`
	Weight float64 `json:"weight,omitempty"`
}

// Result is a candidate schedule produced by a solver.
type Result struct {
	Feasible    bool           `json:"feasible"`
	Assignments []Assignment   `json:"assignments"`
	Scores      Scores         `json:"scores"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Assignment places one fixture at a time and venue.
type Assignment struct {
	FixtureID   string   `json:"fixtureId"`
	StartTime   string   `json:"startTime"`
	EndTime     string   `json:"endTime,omitempty"`
	VenueID     string   `json:"venueId,omitempty"`
	ResourceID  string   `json:"resourceId,omitempty"`
	OfficialIDs []string `json:"officialIds,omitempty"`
}

// Scores is the solver's self-reported penalty ledger.
type Scores struct {
	TotalPenalty float64           `json:"totalPenalty"`
	ByConstraint []ConstraintScore `json:"byConstraint"`
	ValidatedBy  string            `json:"_validatedBy,omitempty"`
	ValidatedAt  string            `json:"_validatedAt,omitempty"`
}

// ConstraintScore is one ledger line.
type ConstraintScore struct {
	ConstraintID string  `json:"constraintId"`
	Violations   float64 `json:"violations"`
	Penalty      float64 `json:"penalty"`
	Explanation  any     `json:"explanation,omitempty"`
}

// Validate enforces ledger entry requirements.
func (s ConstraintScore) Validate() error {
	if s.ConstraintID == "" {
		return fmt.Errorf("constraintId is required")
	}
	return nil
}
