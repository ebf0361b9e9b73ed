package router

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/arpa2/pulley/internal/binding"
	"github.com/arpa2/pulley/internal/script"
)

func TestExpandMultiValuedAttribute(t *testing.T) {
	b := &GeneratorBinding{
		Bound: []binding.BoundAttr{{Attr: "Mail", Var: script.VarNum(1)}},
	}

	forks := Expand(b, "uuid-1", map[string][]string{
		"Mail": {"a@example.org", "b@example.org"},
	})

	if len(forks) != 2 {
		t.Fatalf("expected 2 forks for a 2-valued attribute, got %d", len(forks))
	}
	seen := map[string]bool{}
	for _, f := range forks {
		if f.UUID != "uuid-1" {
			t.Fatalf("unexpected uuid on fork: %+v", f)
		}
		seen[f.Values[0]] = true
	}
	if !seen["a@example.org"] || !seen["b@example.org"] {
		t.Fatalf("missing expected values in forks: %+v", forks)
	}
}

func TestExpandMissingAttributeYieldsEmptyString(t *testing.T) {
	b := &GeneratorBinding{
		Bound: []binding.BoundAttr{{Attr: "Mail", Var: script.VarNum(1)}},
	}

	forks := Expand(b, "uuid-1", map[string][]string{})
	if len(forks) != 1 || forks[0].Values[0] != "" {
		t.Fatalf("expected a single fork with empty value, got %+v", forks)
	}
}

func TestExpandCartesianProductOverTwoAttributes(t *testing.T) {
	b := &GeneratorBinding{
		Bound: []binding.BoundAttr{
			{Attr: "Mail", Var: script.VarNum(1)},
			{Attr: "CN", Var: script.VarNum(2)},
		},
	}

	forks := Expand(b, "uuid-1", map[string][]string{
		"Mail": {"a@example.org", "b@example.org"},
		"CN":   {"Alice"},
	})

	if len(forks) != 2 {
		t.Fatalf("expected 2 forks (2 mail values x 1 cn value), got %d", len(forks))
	}
	for _, f := range forks {
		if f.Values[1] != "Alice" {
			t.Fatalf("unexpected CN binding: %+v", f)
		}
	}
}

func TestExpandProducesExactForkSet(t *testing.T) {
	b := &GeneratorBinding{
		Bound: []binding.BoundAttr{
			{Attr: "Mail", Var: script.VarNum(1)},
			{Attr: "CN", Var: script.VarNum(2)},
		},
	}

	got := Expand(b, "uuid-1", map[string][]string{
		"Mail": {"a@example.org", "b@example.org"},
		"CN":   {"Alice"},
	})

	want := []Fork{
		{UUID: "uuid-1", Values: []string{"a@example.org", "Alice"}},
		{UUID: "uuid-1", Values: []string{"b@example.org", "Alice"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Expand() mismatch (-want +got):\n%s", diff)
	}
}
