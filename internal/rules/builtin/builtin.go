package builtin

import (
	"fmt"
	"sort"

	"github.com/tiger/osss-validator/internal/rules"
	"github.com/tiger/osss-validator/internal/rules/hard"
	"github.com/tiger/osss-validator/internal/rules/scripted"
	"github.com/tiger/osss-validator/internal/rules/soft"
)

// Rules returns the compiled-in rule capabilities.
func Rules() []rules.Rule {
	return []rules.Rule{
		hard.NoOverlapTeam{},
		hard.NoOverlapVenue{},
		hard.MinRestTime{},
		hard.LockedVenue{},
		soft.HomeAwayBalance{},
		soft.OpponentSpacing{},
		soft.BroadcastWindow{},
	}
}

// Catalog builds a catalog of the built-in rules plus one Lua rule per
// scripts entry (rule id to script path). Scripts load in id order.
func Catalog(scripts map[string]string) (rules.Catalog, error) {
	all := Rules()
	ids := make([]string, 0, len(scripts))
	for id := range scripts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		rule, err := scripted.Load(id, scripts[id])
		if err != nil {
			return rules.Catalog{}, fmt.Errorf("rule %q: %w", id, err)
		}
		all = append(all, rule)
	}
	return rules.NewCatalog(all)
}
