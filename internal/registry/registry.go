package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"
)

var (
	// ErrUnknownRule is returned when a rule id has no registry entry.
	ErrUnknownRule = errors.New("rule not in registry")
	// ErrMalformedRegistry is returned for registry files of the wrong shape.
	ErrMalformedRegistry = errors.New("malformed registry")
)

// Entry declares one rule id and its parameter contract.
type Entry struct {
	RuleID      string         `json:"ruleId"`
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	// ParametersSchema is a full JSON schema for params.
	ParametersSchema map[string]any `json:"parametersSchema"`
	ParamsSchema     map[string]any `json:"paramsSchema"`
	// Parameters is the simple name → type (or descriptor) map.
	Parameters map[string]any `json:"parameters"`
	Params     map[string]any `json:"params"`
}

// Key returns ruleId, falling back to id.
func (e Entry) Key() string {
	if e.RuleID != "" {
		return e.RuleID
	}
	return e.ID
}

// ObjectiveEntry declares one objective metric.
type ObjectiveEntry struct {
	ObjectiveID string `json:"objectiveId"`
	ID          string `json:"id"`
	Description string `json:"description"`
	Sense       string `json:"sense"`
}

// Key returns objectiveId, falling back to id.
func (o ObjectiveEntry) Key() string {
	if o.ObjectiveID != "" {
		return o.ObjectiveID
	}
	return o.ID
}

// Registry is the rule and objective catalog plus a compiled-parameter cache.
// It is safe for concurrent use.
type Registry struct {
	// Source is the file the constraints were read from, if any.
	Source     string
	entries    map[string]Entry
	ruleIDs    []string
	objectives map[string]ObjectiveEntry

	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

// New builds a registry from decoded entries. Later duplicates replace earlier ones.
func New(entries []Entry, objectives []ObjectiveEntry) *Registry {
	r := &Registry{
		entries:    make(map[string]Entry, len(entries)),
		objectives: make(map[string]ObjectiveEntry, len(objectives)),
		compiled:   make(map[string]*jsonschema.Schema),
	}
	for _, e := range entries {
		key := e.Key()
		if key == "" {
			continue
		}
		r.entries[key] = e
	}
	for _, o := range objectives {
		if key := o.Key(); key != "" {
			r.objectives[key] = o
		}
	}
	r.ruleIDs = make([]string, 0, len(r.entries))
	for id := range r.entries {
		r.ruleIDs = append(r.ruleIDs, id)
	}
	sort.Strings(r.ruleIDs)
	return r
}

// Empty returns a registry with no entries.
func Empty() *Registry { return New(nil, nil) }

var (
	constraintFiles = []string{"constraints.json", "constraints.jsonc", "constraints.yaml", "constraints.yml"}
	objectiveFiles  = []string{"objectives.json", "objectives.jsonc", "objectives.yaml", "objectives.yml"}
)

// Load reads the registry under dir. A missing directory or file yields an
// empty registry; a present but malformed file is an error.
func Load(dir string) (*Registry, error) {
	if strings.TrimSpace(dir) == "" {
		return Empty(), nil
	}
	constraintsPath, list, err := readList(dir, constraintFiles, "constraints")
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(list))
	for i, item := range list {
		var e Entry
		if err := decodeItem(item, &e); err != nil {
			return nil, fmt.Errorf("%w: %s entry %d: %v", ErrMalformedRegistry, constraintsPath, i, err)
		}
		entries = append(entries, e)
	}

	objectivesPath, list, err := readList(dir, objectiveFiles, "objectives")
	if err != nil {
		return nil, err
	}
	objectives := make([]ObjectiveEntry, 0, len(list))
	for i, item := range list {
		var o ObjectiveEntry
		if err := decodeItem(item, &o); err != nil {
			return nil, fmt.Errorf("%w: %s entry %d: %v", ErrMalformedRegistry, objectivesPath, i, err)
		}
		objectives = append(objectives, o)
	}

	r := New(entries, objectives)
	r.Source = constraintsPath
	return r, nil
}

func readList(dir string, candidates []string, key string) (string, []any, error) {
	for _, name := range candidates {
		p := filepath.Join(dir, name)
		raw, err := os.ReadFile(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", nil, fmt.Errorf("read registry %s: %w", p, err)
		}
		doc, err := decodeDocument(p, raw)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %s: %v", ErrMalformedRegistry, p, err)
		}
		switch v := doc.(type) {
		case []any:
			return p, v, nil
		case map[string]any:
			inner, ok := v[key]
			if !ok {
				return p, nil, nil
			}
			list, ok := inner.([]any)
			if !ok {
				return "", nil, fmt.Errorf("%w: %s: %q must be an array", ErrMalformedRegistry, p, key)
			}
			return p, list, nil
		default:
			return "", nil, fmt.Errorf("%w: %s: must be an array or {%s: []}", ErrMalformedRegistry, p, key)
		}
	}
	return "", nil, nil
}

func decodeDocument(p string, raw []byte) (any, error) {
	var doc any
	switch strings.ToLower(filepath.Ext(p)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
	default:
		standard, err := hujson.Standardize(raw)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(standard, &doc); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func decodeItem(item any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(item)
}

// Lookup returns the entry for ruleID.
func (r *Registry) Lookup(ruleID string) (Entry, bool) {
	e, ok := r.entries[ruleID]
	return e, ok
}

// RuleIDs returns registered rule ids in sorted order.
func (r *Registry) RuleIDs() []string {
	out := make([]string, len(r.ruleIDs))
	copy(out, r.ruleIDs)
	return out
}

// HasObjective reports whether id is a declared objective.
func (r *Registry) HasObjective(id string) bool {
	_, ok := r.objectives[id]
	return ok
}

// ObjectiveIDs returns declared objective ids in sorted order.
func (r *Registry) ObjectiveIDs() []string {
	out := make([]string, 0, len(r.objectives))
	for id := range r.objectives {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len is the number of rule entries.
func (r *Registry) Len() int { return len(r.entries) }
