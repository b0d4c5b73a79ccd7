package selector

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tiger/osss-validator/internal/engine/index"
)

// ErrInvalidSelector wraps every selector parse failure.
var ErrInvalidSelector = errors.New("invalid selector")

// Selector is a parsed selector document.
type Selector struct {
	Kind EntityKind
	Root Node
}

// IsWildcard reports whether the selector matches everything.
func (s Selector) IsWildcard() bool {
	_, ok := s.Root.(Wildcard)
	return ok
}

// Match evaluates the selector against one candidate.
func (s Selector) Match(c Candidate) bool {
	if s.Root == nil {
		return true
	}
	return s.Root.Match(c)
}

// Parse decodes a selector document. Date-only and zone-less bounds are read
// in loc. Unknown keys and mistyped values are errors.
func Parse(raw json.RawMessage, loc *time.Location) (Selector, error) {
	if loc == nil {
		loc = time.UTC
	}
	p := parser{loc: loc}
	sel := Selector{Kind: EntityFixture, Root: Wildcard{}}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return sel, nil
	}
	if trimmed[0] == '{' {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return Selector{}, p.fail("", "%v", err)
		}
		if kindRaw, ok := fields["entityType"]; ok {
			var kind string
			if err := json.Unmarshal(kindRaw, &kind); err != nil {
				return Selector{}, p.fail("entityType", "must be a string")
			}
			switch EntityKind(kind) {
			case EntityFixture, EntityTeam, EntityVenue, EntityOfficial:
				sel.Kind = EntityKind(kind)
			default:
				return Selector{}, p.fail("entityType", "unsupported value %q", kind)
			}
			delete(fields, "entityType")
		}
		root, err := p.object("", fields)
		if err != nil {
			return Selector{}, err
		}
		sel.Root = root
		return sel, nil
	}
	root, err := p.node("", trimmed)
	if err != nil {
		return Selector{}, err
	}
	sel.Root = root
	return sel, nil
}

type parser struct {
	loc *time.Location
}

func (p parser) fail(path, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if path != "" {
		msg = path + ": " + msg
	}
	return fmt.Errorf("%w: %s", ErrInvalidSelector, msg)
}

func (p parser) node(path string, raw json.RawMessage) (Node, error) {
	trimmed := bytes.TrimSpace(raw)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		return Wildcard{}, nil
	case trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, p.fail(path, "%v", err)
		}
		if s == "*" {
			return Wildcard{}, nil
		}
		return nil, p.fail(path, "string selector must be \"*\", got %q", s)
	case trimmed[0] == '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return nil, p.fail(path, "%v", err)
		}
		if _, nested := fields["entityType"]; nested {
			return nil, p.fail(join(path, "entityType"), "only allowed at the top level")
		}
		return p.object(path, fields)
	default:
		return nil, p.fail(path, "selector must be an object or \"*\"")
	}
}

// object parses each key into a node; several keys form a conjunction.
func (p parser) object(path string, fields map[string]json.RawMessage) (Node, error) {
	if len(fields) == 0 {
		return Wildcard{}, nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	nodes := make([]Node, 0, len(keys))
	for _, key := range keys {
		n, err := p.key(join(path, key), key, fields[key])
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if len(nodes) == 1 {
		return nodes[0], nil
	}
	return All{Nodes: nodes}, nil
}

func (p parser) key(path, key string, raw json.RawMessage) (Node, error) {
	switch key {
	case "allOf", "anyOf":
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, p.fail(path, "must be an array of selectors")
		}
		children := make([]Node, 0, len(items))
		for i, item := range items {
			child, err := p.node(fmt.Sprintf("%s[%d]", path, i), item)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		if key == "allOf" {
			return All{Nodes: children}, nil
		}
		return Any{Nodes: children}, nil
	case "not":
		child, err := p.node(path, raw)
		if err != nil {
			return nil, err
		}
		return Not{Node: child}, nil
	case "id", "ids":
		values, err := p.strings(path, raw)
		if err != nil {
			return nil, err
		}
		return IDs{Set: toSet(values)}, nil
	case "tags":
		values, err := p.strings(path, raw)
		if err != nil {
			return nil, err
		}
		return Tags{Required: values}, nil
	case "division":
		values, err := p.strings(path, raw)
		if err != nil {
			return nil, err
		}
		return Division{Values: toSet(values)}, nil
	case "ageGroup":
		values, err := p.strings(path, raw)
		if err != nil {
			return nil, err
		}
		return AgeGroup{Values: toSet(values)}, nil
	case "venueType":
		values, err := p.strings(path, raw)
		if err != nil {
			return nil, err
		}
		return VenueType{Values: toSet(values)}, nil
	case "phase":
		values, err := p.strings(path, raw)
		if err != nil {
			return nil, err
		}
		return Phase{Values: toSet(values)}, nil
	case "capacity":
		r, err := p.rangeOf(path, raw)
		if err != nil {
			return nil, err
		}
		return Capacity{Range: r}, nil
	case "round":
		r, err := p.rangeOf(path, raw)
		if err != nil {
			return nil, err
		}
		return Round{Range: r}, nil
	case "dayOfWeek", "daysOfWeek":
		return p.days(path, raw)
	case "dateRange":
		return p.dateRange(path, raw)
	case "role":
		var role string
		if err := json.Unmarshal(raw, &role); err != nil {
			return nil, p.fail(path, "must be a string")
		}
		switch RoleKind(strings.ToLower(role)) {
		case RoleHome:
			return Role{Role: RoleHome}, nil
		case RoleAway:
			return Role{Role: RoleAway}, nil
		}
		return nil, p.fail(path, "must be \"home\" or \"away\", got %q", role)
	default:
		return nil, p.fail(path, "unknown selector key")
	}
}

// strings accepts a string or an array of strings.
func (p parser) strings(path string, raw json.RawMessage) ([]string, error) {
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return []string{one}, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, p.fail(path, "must be a string or an array of strings")
	}
	return many, nil
}

// rangeOf accepts a number or {min, max}.
func (p parser) rangeOf(path string, raw json.RawMessage) (Range, error) {
	var exact float64
	if err := json.Unmarshal(raw, &exact); err == nil {
		return Range{Exact: &exact}, nil
	}
	var bounds struct {
		Min *float64 `json:"min"`
		Max *float64 `json:"max"`
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&bounds); err != nil {
		return Range{}, p.fail(path, "must be a number or {min, max}")
	}
	if bounds.Min != nil && bounds.Max != nil && *bounds.Min > *bounds.Max {
		return Range{}, p.fail(path, "min %v exceeds max %v", *bounds.Min, *bounds.Max)
	}
	return Range{Min: bounds.Min, Max: bounds.Max}, nil
}

func (p parser) days(path string, raw json.RawMessage) (Node, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		items = []json.RawMessage{raw}
	}
	days := make(map[time.Weekday]struct{}, len(items))
	for _, item := range items {
		var n int
		if err := json.Unmarshal(item, &n); err == nil {
			if n < 0 || n > 6 {
				return nil, p.fail(path, "day number %d out of range 0-6", n)
			}
			days[time.Weekday(n)] = struct{}{}
			continue
		}
		var name string
		if err := json.Unmarshal(item, &name); err != nil {
			return nil, p.fail(path, "days must be names or numbers 0-6")
		}
		day, ok := weekdayByName[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, p.fail(path, "unknown day %q", name)
		}
		days[day] = struct{}{}
	}
	return DaysOfWeek{Days: days}, nil
}

func (p parser) dateRange(path string, raw json.RawMessage) (Node, error) {
	var wire struct {
		Start string `json:"start"`
		End   string `json:"end"`
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&wire); err != nil {
		return nil, p.fail(path, "must be {start, end}")
	}
	out := DateRange{}
	if wire.Start != "" {
		start, err := index.ParseTime(wire.Start, p.loc)
		if err != nil {
			return nil, p.fail(join(path, "start"), "%v", err)
		}
		out.Start = &start
	}
	if wire.End != "" {
		end, err := index.ParseTime(wire.End, p.loc)
		if err != nil {
			return nil, p.fail(join(path, "end"), "%v", err)
		}
		// A bare date closes at the end of that day.
		if _, err := time.Parse(time.DateOnly, strings.TrimSpace(wire.End)); err == nil {
			end = end.AddDate(0, 0, 1)
		}
		out.End = &end
	}
	if out.Start != nil && out.End != nil && out.End.Before(*out.Start) {
		return nil, p.fail(path, "end precedes start")
	}
	return out, nil
}

func toSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
