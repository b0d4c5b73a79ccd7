package schema

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEmbeddedValidatesResults(t *testing.T) {
	t.Parallel()

	set, err := Embedded()
	if err != nil {
		t.Fatalf("unexpected embedded load error: %v", err)
	}
	for _, name := range []string{CoreSchema, ResultsSchema, "https://opensportsscheduling.org/schemas/osss-results.schema.json"} {
		if !set.Has(name) {
			t.Fatalf("expected schema %s to be registered", name)
		}
	}

	valid := []byte(`{"feasible":true,"assignments":[{"fixtureId":"F1","startTime":"2025-01-01T10:00:00Z","venueId":"V1"}],"scores":{"totalPenalty":0,"byConstraint":[]}}`)
	msgs, err := set.ValidateBytes(valid, ResultsSchema)
	if err != nil {
		t.Fatalf("unexpected validate error: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected canonical result to validate, got %v", msgs)
	}

	invalid := []byte(`{"schedule":{"fixtures":[]}}`)
	msgs, err = set.ValidateBytes(invalid, ResultsSchema)
	if err != nil {
		t.Fatalf("unexpected validate error: %v", err)
	}
	if len(msgs) == 0 {
		t.Fatalf("expected schema errors for non-canonical result")
	}
	for _, msg := range msgs {
		if !strings.HasPrefix(msg, "(root) ") {
			t.Fatalf("expected root-located message, got %q", msg)
		}
	}
}

func TestEmbeddedValidatesInstance(t *testing.T) {
	t.Parallel()

	set, err := Embedded()
	if err != nil {
		t.Fatalf("unexpected embedded load error: %v", err)
	}
	msgs, err := set.ValidateBytes([]byte(`{"fixtures":[{"id":"F1","participants":["A"]}],"constraints":[{"id":"c1","type":"maybe"}]}`), CoreSchema)
	if err != nil {
		t.Fatalf("unexpected validate error: %v", err)
	}
	joined := strings.Join(msgs, "\n")
	if !strings.Contains(joined, "/fixtures/0/participants") || !strings.Contains(joined, "/constraints/0/type") {
		t.Fatalf("expected participant and type errors, got:\n%s", joined)
	}
}

func TestLoadDirWithFallbackIDs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatalf("unexpected mkdir error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "nested", "thing.schema.json"), []byte(`{"type":"object","required":["name"]}`), 0o644); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.json"), []byte(`{"hello":"world"}`), 0o644); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}

	set, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if !set.Has("thing.schema.json") || !set.Has("osss://schemas/nested/thing.schema.json") {
		t.Fatalf("expected schema registered by name and fallback id")
	}
	if set.Has("notes.json") {
		t.Fatalf("non-schema json must be skipped")
	}
	msgs, err := set.Validate(map[string]any{}, "thing.schema.json")
	if err != nil || len(msgs) != 1 {
		t.Fatalf("expected one missing property message, got %v %v", msgs, err)
	}
	if _, err := set.Validate(map[string]any{}, "absent.json"); !errors.Is(err, ErrSchemaNotFound) {
		t.Fatalf("expected schema not found, got %v", err)
	}
}

func TestLoadDirMissing(t *testing.T) {
	t.Parallel()

	if _, err := LoadDir(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatalf("expected missing directory error")
	}
}

func TestCompileInMemory(t *testing.T) {
	t.Parallel()

	compiled, err := Compile("osss://registry/min_rest_time.json", map[string]any{
		"type":       "object",
		"properties": map[string]any{"min_hours": map[string]any{"type": "number"}},
		"required":   []any{"min_hours"},
	})
	if err != nil {
		t.Fatalf("unexpected compile error: %v", err)
	}
	msgs := Messages(compiled.Validate(map[string]any{"min_hours": "ten"}))
	if len(msgs) != 1 || !strings.HasPrefix(msgs[0], "/min_hours ") {
		t.Fatalf("unexpected messages: %v", msgs)
	}
}
