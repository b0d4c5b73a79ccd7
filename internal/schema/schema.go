package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	// CoreSchema validates instance documents.
	CoreSchema = "osss-core.schema.json"
	// ResultsSchema validates result documents.
	ResultsSchema = "osss-results.schema.json"

	fallbackIDPrefix = "osss://schemas/"
)

//go:embed schemas/*.json
var embedded embed.FS

// ErrSchemaNotFound is returned when a requested schema was never loaded.
var ErrSchemaNotFound = errors.New("schema not found")

// Set holds compiled schemas addressable by $id or file name.
type Set struct {
	byName map[string]*jsonschema.Schema
}

// Embedded returns the schemas bundled with the binary.
func Embedded() (*Set, error) {
	sub, err := fs.Sub(embedded, "schemas")
	if err != nil {
		return nil, fmt.Errorf("open embedded schemas: %w", err)
	}
	return load(sub)
}

// LoadDir compiles every *.json schema under dir. An empty dir means Embedded.
func LoadDir(dir string) (*Set, error) {
	if strings.TrimSpace(dir) == "" {
		return Embedded()
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("schemas directory unavailable at %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("schemas path %s is not a directory", dir)
	}
	return load(os.DirFS(dir))
}

type document struct {
	rel  string
	id   string
	body []byte
}

func load(fsys fs.FS) (*Set, error) {
	var docs []document
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.EqualFold(path.Ext(p), ".json") {
			return nil
		}
		body, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("read schema %s: %w", p, err)
		}
		var head map[string]any
		if err := json.Unmarshal(body, &head); err != nil || !looksLikeSchema(head) {
			return nil
		}
		id, _ := head["$id"].(string)
		if id == "" {
			id = fallbackIDPrefix + p
		}
		docs = append(docs, document{rel: p, id: id, body: body})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].rel < docs[j].rel })

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	for _, doc := range docs {
		if err := compiler.AddResource(doc.id, bytes.NewReader(doc.body)); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", doc.rel, err)
		}
	}

	set := &Set{byName: make(map[string]*jsonschema.Schema, 2*len(docs))}
	for _, doc := range docs {
		compiled, err := compiler.Compile(doc.id)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", doc.rel, err)
		}
		set.byName[doc.id] = compiled
		set.byName[path.Base(doc.rel)] = compiled
		set.byName[filepath.ToSlash(doc.rel)] = compiled
	}
	return set, nil
}

func looksLikeSchema(head map[string]any) bool {
	for _, key := range []string{"$schema", "$id", "type", "properties", "allOf", "anyOf", "oneOf"} {
		if _, ok := head[key]; ok {
			return true
		}
	}
	return false
}

// Has reports whether name resolves to a compiled schema.
func (s *Set) Has(name string) bool {
	_, ok := s.byName[name]
	return ok
}

// Validate checks doc against the named schema and returns one message per
// failing leaf. doc must be the generic form produced by encoding/json.
func (s *Set) Validate(doc any, name string) ([]string, error) {
	compiled, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSchemaNotFound, name)
	}
	return Messages(compiled.Validate(doc)), nil
}

// ValidateBytes decodes raw JSON and validates it.
func (s *Set) ValidateBytes(raw []byte, name string) ([]string, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return []string{fmt.Sprintf("(root) invalid JSON: %v", err)}, nil
	}
	return s.Validate(doc, name)
}

// Compile builds a standalone schema from an in-memory document.
func Compile(id string, doc any) (*jsonschema.Schema, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode schema %s: %w", id, err)
	}
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(id, bytes.NewReader(body)); err != nil {
		return nil, fmt.Errorf("add schema resource %s: %w", id, err)
	}
	compiled, err := compiler.Compile(id)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", id, err)
	}
	return compiled, nil
}

// Messages flattens a validation error into sorted "<location> <message>" lines.
func Messages(err error) []string {
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return []string{err.Error()}
	}
	var out []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "(root)"
			}
			out = append(out, loc+" "+e.Message)
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(verr)
	sort.Strings(out)
	return out
}
