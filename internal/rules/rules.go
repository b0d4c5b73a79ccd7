package rules

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/tiger/osss-validator/api/schedule"
	"github.com/tiger/osss-validator/internal/engine/index"
)

// Input is everything a rule may look at for one constraint. View is already
// restricted by the constraint's selector.
//
// Instance, Result and View share memory with every other constraint
// evaluated in the same run, possibly concurrently. Rules must treat them as
// read-only; copy before sorting or editing slices such as View.Slots.
type Input struct {
	Instance     *schedule.Instance
	Result       *schedule.Result
	ConstraintID string
	RuleID       string
	Type         schedule.ConstraintType
	Params       map[string]any
	View         index.View
	Location     *time.Location
}

// Violation is one finding. Message is the human-readable line reported to users.
type Violation struct {
	Message  string   `json:"message"`
	Fixtures []string `json:"fixtures,omitempty"`
	Subject  string   `json:"subject,omitempty"`
}

// Output is a rule's raw finding before penalty conversion.
type Output struct {
	Violations []Violation
	// Amount is the violation amount fed to the penalty model.
	Amount      float64
	Explanation string
	Meta        map[string]any
	// Warnings reports malformed parts of the finding that were coerced.
	Warnings []string
}

// Rule is an executable rule capability.
type Rule interface {
	ID() string
	Evaluate(ctx context.Context, in Input) (Output, error)
}

// TimeDependent is implemented by rules that read slot times. Malformed
// timestamps in scope make such rules unable to fully check a constraint.
type TimeDependent interface {
	UsesTime() bool
}

// Aliased is implemented by rules reachable under additional ids.
type Aliased interface {
	Aliases() []string
}

// UsesTime reports whether r declares a dependency on slot times.
func UsesTime(r Rule) bool {
	td, ok := r.(TimeDependent)
	return ok && td.UsesTime()
}

// Catalog maps rule ids to capabilities. It is immutable after NewCatalog.
type Catalog struct {
	rules   map[string]Rule
	ordered []string
}

// NewCatalog registers rules and their aliases; nil rules, empty ids and
// duplicate ids are errors.
func NewCatalog(rules []Rule) (Catalog, error) {
	catalog := Catalog{rules: make(map[string]Rule, len(rules))}
	for _, rule := range rules {
		if rule == nil {
			return Catalog{}, fmt.Errorf("rule cannot be nil")
		}
		ids := []string{rule.ID()}
		if aliased, ok := rule.(Aliased); ok {
			ids = append(ids, aliased.Aliases()...)
		}
		for _, id := range ids {
			if id == "" {
				return Catalog{}, fmt.Errorf("rule id is required")
			}
			if _, exists := catalog.rules[id]; exists {
				return Catalog{}, fmt.Errorf("duplicate rule id %q", id)
			}
			catalog.rules[id] = rule
		}
	}
	for id := range catalog.rules {
		catalog.ordered = append(catalog.ordered, id)
	}
	sort.Strings(catalog.ordered)
	return catalog, nil
}

// Rule returns the capability registered under id.
func (c Catalog) Rule(id string) (Rule, bool) {
	rule, ok := c.rules[id]
	return rule, ok
}

// IDs returns registered ids, aliases included, in sorted order.
func (c Catalog) IDs() []string {
	out := make([]string, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// DecodeParams decodes constraint params into a typed struct using json tags.
func DecodeParams(params map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if params == nil {
		return nil
	}
	if err := decoder.Decode(params); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}
	return nil
}

// TeamSlots groups valid slots by in-scope participant team. Keys are sorted.
func TeamSlots(view index.View) (map[string][]index.Slot, []string) {
	groups := make(map[string][]index.Slot)
	for _, slot := range view.Slots {
		if !slot.Valid {
			continue
		}
		f, ok := view.Fixture(slot)
		if !ok {
			continue
		}
		for _, team := range f.Teams() {
			if !view.InScopeTeam(team) {
				continue
			}
			groups[team] = append(groups[team], slot)
		}
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		index.ByStart(groups[k])
	}
	return groups, keys
}

// Messages flattens violations into their message lines.
func Messages(vs []Violation) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Message)
	}
	return out
}
