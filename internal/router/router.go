// Package router implements §4.6: the change router, which turns upstream
// add_entry/remove_entry events (keyed by uuid) into per-generator tuple
// forks via Cartesian-product expansion over the attributes a generator's
// pattern binds, then hands each fork to an optional fork callback (the
// pulley controller uses it to drive internal/emitter).
//
// Grounded on spec.md §4.6's expansion algorithm, cross-checked against
// generator.h's "variables" bitset (the set of attributes a generator
// needs) and original_source's sync.cpp add/delete entry points.
package router

import (
	"context"

	uuid "github.com/satori/go.uuid"

	"github.com/arpa2/pulley/internal/binding"
	"github.com/arpa2/pulley/internal/script"
	"github.com/arpa2/pulley/internal/sqlstore"
)

// Fork is one Cartesian-product instantiation of a generator's bound
// variables, ready to be inserted into (or deleted from) its gen_<linehash>
// table.
type Fork struct {
	UUID   string
	Values []string // in the same order as GeneratorBinding.Members
}

// GeneratorBinding bundles the pieces the router needs per generator: which
// attributes its pattern binds (in member-column order) and the prepared
// tuple statements for its table.
type GeneratorBinding struct {
	Gen     script.GenNum
	Source  string // the generator's source variable name, e.g. "world"
	Members []script.VarNum
	Bound   []binding.BoundAttr
	Tuples  *sqlstore.TupleStatements
}

// Router holds the generator bindings an add_entry/remove_entry event is
// expanded against. §6.4 fixes add_entry's wire shape to (uuid, attrs) with
// no subtree/source parameter to narrow by, so every generator is always a
// candidate for every event; see DESIGN.md.
type Router struct {
	bindings []*GeneratorBinding
}

// New builds a Router over the given generator bindings.
func New(bindings []*GeneratorBinding) *Router {
	return &Router{bindings: bindings}
}

// Expand performs the Cartesian-product expansion of §4.6 step 2 for one
// generator binding against one upstream entry's attribute map: a missing
// attribute contributes a single empty-string value (§6 Open Question 1,
// resolved in DESIGN.md); a multi-valued attribute contributes one branch
// per value.
func Expand(b *GeneratorBinding, id string, attrs map[string][]string) []Fork {
	if len(b.Bound) == 0 {
		return []Fork{{UUID: id}}
	}

	forks := []Fork{{UUID: id, Values: nil}}
	for _, ba := range b.Bound {
		values := attrs[ba.Attr]
		if len(values) == 0 {
			values = []string{""}
		}
		var next []Fork
		for _, f := range forks {
			for _, v := range values {
				nv := make([]string, len(f.Values), len(f.Values)+1)
				copy(nv, f.Values)
				nv = append(nv, v)
				next = append(next, Fork{UUID: f.UUID, Values: nv})
			}
		}
		forks = next
	}
	return forks
}

// ForkCallback is invoked once per generator fork an add_entry or
// remove_entry event touches, while that fork's row is still live in its
// gen_<linehash> table, so a caller can run a driver's producer statement
// against it (§4.5 step 6, §4.6 step 5) before a remove_entry's delete
// makes it unjoinable.
type ForkCallback func(gn script.GenNum, values []string) error

// AddEntry processes an upstream add (§6.3: "add(uuid, attrs)"), expanding
// every generator binding and inserting its forks. onFork, if non-nil, runs
// after each fork is inserted and may be nil when the caller only needs the
// table side effect (e.g. tests).
func (r *Router) AddEntry(ctx context.Context, id string, attrs map[string][]string, onFork ForkCallback) error {
	if _, err := uuid.FromString(id); err != nil {
		return err
	}
	for _, b := range r.bindings {
		for _, f := range Expand(b, id, attrs) {
			if err := b.Tuples.Insert(ctx, f.UUID, toArgs(f.Values)); err != nil {
				return err
			}
			if onFork != nil {
				if err := onFork(b.Gen, f.Values); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// RemoveEntry processes an upstream delete (§6.3: "del(uuid)"), removing
// every fork tuple every generator produced for this uuid. onFork, if
// non-nil, runs for each such fork before its row is deleted, so its values
// are still available for a producer statement's join.
func (r *Router) RemoveEntry(ctx context.Context, id string, onFork ForkCallback) error {
	if _, err := uuid.FromString(id); err != nil {
		return err
	}
	for _, b := range r.bindings {
		if onFork != nil {
			rows, err := b.Tuples.Rows(ctx, id)
			if err != nil {
				return err
			}
			for _, values := range rows {
				if err := onFork(b.Gen, values); err != nil {
					return err
				}
			}
		}
		if err := b.Tuples.Delete(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func toArgs(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
