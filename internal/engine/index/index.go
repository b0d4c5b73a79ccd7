package index

import (
	"fmt"
	"sort"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/tiger/osss-validator/api/schedule"
)

// Slot is one assignment annotated with parsed times.
type Slot struct {
	// Position is the assignment's index in the result document.
	Position   int
	Assignment schedule.Assignment
	Start      time.Time
	End        time.Time
	StartMS    int64
	EndMS      int64
	// Valid is false when start or end could not be parsed.
	Valid bool
	// Weekday is the lower-case local weekday name, e.g. "saturday".
	Weekday     string
	HHMM        string
	MinuteOfDay int
}

// Overlaps reports half-open interval intersection.
func (s Slot) Overlaps(o Slot) bool {
	return s.StartMS < o.EndMS && o.StartMS < s.EndMS
}

// Index is the read-only view built once per instance/result pair.
type Index struct {
	View
	Location    *time.Location
	ParseErrors []string
	// Unassigned lists non-conditional fixtures with no assignment, in instance order.
	Unassigned []string
	// AssignmentCounts counts assignments per declared fixture id.
	AssignmentCounts map[string]int
	// InvalidSlots lists positions of slots whose timestamps failed to parse.
	InvalidSlots []int
	// UnknownFixtures lists assignment fixture ids the instance does not
	// declare. Their assignments are not indexed as slots.
	UnknownFixtures []string
}

// View is the working set handed to rules. Scoped views share entity
// pointers with the root index and must not be mutated.
type View struct {
	Teams     map[string]*schedule.Team
	Venues    map[string]*schedule.Venue
	Officials map[string]*schedule.Official
	Fixtures  map[string]*schedule.Fixture
	Slots     []Slot
	// FixtureOrder keeps instance declaration order for deterministic iteration.
	FixtureOrder []string
	// TeamOrder keeps instance declaration order of Teams.
	TeamOrder []string
	// teamFilter is non-nil once a selector restricted the participating teams.
	teamFilter map[string]struct{}
}

// Restrict returns a copy of v limited to the given ids and slots. A nil
// teams argument keeps all teams unrestricted.
func (v View) Restrict(teams map[string]struct{}, venues map[string]struct{}, fixtures map[string]struct{}, slots []Slot) View {
	out := View{
		Teams:     v.Teams,
		Venues:    v.Venues,
		Officials: v.Officials,
		Fixtures:  make(map[string]*schedule.Fixture, len(fixtures)),
		Slots:     slots,
		TeamOrder: v.TeamOrder,
	}
	for _, id := range v.FixtureOrder {
		if _, ok := fixtures[id]; ok {
			out.Fixtures[id] = v.Fixtures[id]
			out.FixtureOrder = append(out.FixtureOrder, id)
		}
	}
	if teams != nil {
		out.teamFilter = teams
		out.Teams = make(map[string]*schedule.Team, len(teams))
		out.TeamOrder = nil
		for _, id := range v.TeamOrder {
			if _, ok := teams[id]; ok {
				out.Teams[id] = v.Teams[id]
				out.TeamOrder = append(out.TeamOrder, id)
			}
		}
	}
	if venues != nil {
		out.Venues = make(map[string]*schedule.Venue, len(venues))
		for id := range venues {
			if venue, ok := v.Venues[id]; ok {
				out.Venues[id] = venue
			}
		}
	}
	return out
}

// InScopeTeam reports whether team id participates in this view.
func (v View) InScopeTeam(id string) bool {
	if id == "" {
		return false
	}
	if v.teamFilter == nil {
		return true
	}
	_, ok := v.teamFilter[id]
	return ok
}

// Fixture returns the fixture a slot refers to.
func (v View) Fixture(s Slot) (*schedule.Fixture, bool) {
	f, ok := v.Fixtures[s.Assignment.FixtureID]
	return f, ok && f != nil
}

// ValidSlots returns slots with parseable times.
func (v View) ValidSlots() []Slot {
	out := make([]Slot, 0, len(v.Slots))
	for _, s := range v.Slots {
		if s.Valid {
			out = append(out, s)
		}
	}
	return out
}

// HasInvalidSlots reports whether any slot in the view failed to parse.
func (v View) HasInvalidSlots() bool {
	for _, s := range v.Slots {
		if !s.Valid {
			return true
		}
	}
	return false
}

// Builder builds an Index. The zero value is usable.
type Builder struct {
	// DefaultDuration is used when neither fixture nor instance declare one.
	DefaultDuration time.Duration
}

// Build parses every assignment of res against inst.
func (b Builder) Build(inst schedule.Instance, res schedule.Result) *Index {
	idx := &Index{
		View: View{
			Teams:     make(map[string]*schedule.Team, len(inst.Teams)),
			Venues:    make(map[string]*schedule.Venue, len(inst.Venues)),
			Officials: make(map[string]*schedule.Official, len(inst.Officials)),
			Fixtures:  make(map[string]*schedule.Fixture, len(inst.Fixtures)),
		},
		AssignmentCounts: make(map[string]int, len(inst.Fixtures)),
	}

	loc, err := time.LoadLocation(inst.Location())
	if err != nil {
		idx.ParseErrors = append(idx.ParseErrors, fmt.Sprintf("Unknown timezone '%s', falling back to UTC", inst.Timezone))
		loc = time.UTC
	}
	idx.Location = loc

	for i := range inst.Teams {
		t := &inst.Teams[i]
		if _, dup := idx.Teams[t.ID]; !dup {
			idx.TeamOrder = append(idx.TeamOrder, t.ID)
		}
		idx.Teams[t.ID] = t
	}
	for i := range inst.Venues {
		idx.Venues[inst.Venues[i].ID] = &inst.Venues[i]
	}
	for i := range inst.Officials {
		idx.Officials[inst.Officials[i].ID] = &inst.Officials[i]
	}
	for i := range inst.Fixtures {
		f := &inst.Fixtures[i]
		if _, dup := idx.Fixtures[f.ID]; !dup {
			idx.FixtureOrder = append(idx.FixtureOrder, f.ID)
		}
		idx.Fixtures[f.ID] = f
		idx.AssignmentCounts[f.ID] = 0
	}

	instanceDefault := time.Duration(inst.DefaultFixtureDuration) * time.Minute
	builderDefault := b.DefaultDuration
	if builderDefault <= 0 {
		builderDefault = schedule.DefaultFixtureDurationMinutes * time.Minute
	}

	idx.Slots = make([]Slot, 0, len(res.Assignments))
	for pos, a := range res.Assignments {
		fixture, known := idx.Fixtures[a.FixtureID]
		if !known {
			// Kept out of Slots so no rule view can see it.
			idx.UnknownFixtures = append(idx.UnknownFixtures, a.FixtureID)
			continue
		}
		idx.AssignmentCounts[a.FixtureID]++

		slot := Slot{Position: pos, Assignment: a}
		start, startErr := ParseTime(a.StartTime, loc)
		if startErr != nil {
			idx.ParseErrors = append(idx.ParseErrors, fmt.Sprintf("Assignment for fixture '%s' has invalid startTime: '%s'", a.FixtureID, a.StartTime))
			idx.InvalidSlots = append(idx.InvalidSlots, pos)
			slot.Weekday = "unknown"
			slot.HHMM = "00:00"
			idx.Slots = append(idx.Slots, slot)
			continue
		}

		duration := builderDefault
		switch {
		case fixture.DurationMinutes > 0:
			duration = time.Duration(fixture.DurationMinutes) * time.Minute
		case instanceDefault > 0:
			duration = instanceDefault
		}
		end := start.Add(duration)
		if strings.TrimSpace(a.EndTime) != "" {
			if parsed, err := ParseTime(a.EndTime, loc); err == nil {
				end = parsed
			} else {
				idx.ParseErrors = append(idx.ParseErrors, fmt.Sprintf("Assignment for fixture '%s' has invalid endTime: '%s', using duration", a.FixtureID, a.EndTime))
			}
		}

		local := start.In(loc)
		slot.Start = start
		slot.End = end
		slot.StartMS = start.UnixMilli()
		slot.EndMS = end.UnixMilli()
		slot.Valid = true
		slot.Weekday = strings.ToLower(local.Weekday().String())
		slot.HHMM = local.Format("15:04")
		slot.MinuteOfDay = local.Hour()*60 + local.Minute()
		idx.Slots = append(idx.Slots, slot)
	}

	for _, id := range idx.FixtureOrder {
		if idx.AssignmentCounts[id] == 0 && !idx.Fixtures[id].Conditional {
			idx.Unassigned = append(idx.Unassigned, id)
		}
	}
	return idx
}

var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	time.DateOnly,
}

// ParseTime parses an ISO-8601 timestamp. Zone-less values are read in loc.
func ParseTime(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", value)
}

// ByStart sorts slots by start then position, for deterministic scans.
func ByStart(slots []Slot) {
	sort.SliceStable(slots, func(i, j int) bool {
		if slots[i].StartMS != slots[j].StartMS {
			return slots[i].StartMS < slots[j].StartMS
		}
		return slots[i].Position < slots[j].Position
	})
}

// HHMMToMinutes converts "HH:MM" to minutes since midnight.
func HHMMToMinutes(hhmm string) (int, bool) {
	t, err := time.Parse("15:04", strings.TrimSpace(hhmm))
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
