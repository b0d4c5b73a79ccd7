package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tiger/osss-validator/internal/schema"
)

// ParamSchema returns the JSON schema params must satisfy. Entries without
// any contract accept any object.
func (e Entry) ParamSchema() map[string]any {
	direct := e.ParametersSchema
	if direct == nil {
		direct = e.ParamsSchema
	}
	if direct != nil {
		out := map[string]any{"type": "object", "additionalProperties": true}
		for k, v := range direct {
			out[k] = v
		}
		return out
	}

	simple := e.Parameters
	if simple == nil {
		simple = e.Params
	}
	if simple == nil {
		return map[string]any{"type": "object", "additionalProperties": true}
	}

	properties := make(map[string]any, len(simple))
	required := make([]any, 0)
	for _, name := range sortedKeys(simple) {
		switch v := simple[name].(type) {
		case string:
			properties[name] = map[string]any{"type": simpleType(v)}
		case map[string]any:
			properties[name] = schemaish(v)
			if req, _ := v["required"].(bool); req {
				required = append(required, name)
			}
		default:
			properties[name] = map[string]any{}
		}
	}
	return map[string]any{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": true,
	}
}

func simpleType(t string) string {
	s := strings.ToLower(t)
	switch {
	case strings.Contains(s, "int"), strings.Contains(s, "number"), strings.Contains(s, "float"):
		return "number"
	case strings.Contains(s, "bool"):
		return "boolean"
	case strings.Contains(s, "array"), strings.Contains(s, "list"):
		return "array"
	case strings.Contains(s, "object"), strings.Contains(s, "map"):
		return "object"
	default:
		return "string"
	}
}

// schemaish keeps schema-looking descriptors and maps {kind, description,
// default} descriptors onto schema keywords.
func schemaish(v map[string]any) map[string]any {
	for _, key := range []string{"type", "properties", "items", "anyOf", "oneOf"} {
		if _, ok := v[key]; ok {
			out := make(map[string]any, len(v))
			for k, val := range v {
				if k == "required" {
					if _, isBool := val.(bool); isBool {
						continue
					}
				}
				out[k] = val
			}
			return out
		}
	}
	out := map[string]any{}
	if kind, ok := v["kind"].(string); ok {
		out["type"] = simpleType(kind)
	}
	if desc, ok := v["description"].(string); ok && desc != "" {
		out["description"] = desc
	}
	if def, ok := v["default"]; ok {
		out["default"] = def
	}
	return out
}

// ValidateParams checks params against the entry for ruleID. It returns one
// message per schema error; the error is reserved for unknown rules and
// uncompilable contracts. Compiled schemas are cached per rule id.
func (r *Registry) ValidateParams(ruleID string, params map[string]any) ([]string, error) {
	entry, ok := r.Lookup(ruleID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRule, ruleID)
	}

	r.mu.Lock()
	compiled, cached := r.compiled[ruleID]
	r.mu.Unlock()
	if !cached {
		var err error
		compiled, err = schema.Compile("osss://registry/"+ruleID+".params.json", entry.ParamSchema())
		if err != nil {
			return nil, fmt.Errorf("rule %s parameter contract: %w", ruleID, err)
		}
		r.mu.Lock()
		r.compiled[ruleID] = compiled
		r.mu.Unlock()
	}

	var doc any = map[string]any{}
	if params != nil {
		doc = normalizeParams(params)
	}
	return schema.Messages(compiled.Validate(doc)), nil
}

// normalizeParams converts integer types from YAML/mapstructure paths into
// the float64 form the validator expects.
func normalizeParams(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeParams(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeParams(val)
		}
		return out
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case int32:
		return float64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
