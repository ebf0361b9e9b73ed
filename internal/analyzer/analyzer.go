// Package analyzer implements §4.4: the eight ordered semantic-analysis
// phases that turn raw parser output (the four symbol tables of
// internal/script) into a form the relational translator can compile.
//
// Grounded on driver.h's relevant-variable closure and guard-variable
// bookkeeping and generator.h's path-of-least-resistence/cogenerate
// fields, following the phase ordering documented in spec.md §4.4.
package analyzer

import (
	"github.com/hashicorp/go-multierror"

	"github.com/arpa2/pulley/internal/bitset"
	"github.com/arpa2/pulley/internal/script"
)

// Result carries the analyzer's derived artifacts alongside the mutated
// symbol tables: the cheapest-generator choice per driver-output.
type Result struct {
	Tables *script.SymbolTables

	// CheapestGenerator maps a driver-output to the generator phase 8 chose
	// to materialize its output, keyed by DrvNum.
	CheapestGenerator map[script.DrvNum]script.GenNum
}

// Analyze runs all eight phases in order and returns the soft invariant
// violations (if any) as a single aggregated error; a non-nil error here is
// diagnostic, not fatal — callers decide whether to proceed (§4.4: "these
// are reported but do not themselves block compilation").
func Analyze(tables *script.SymbolTables) (*Result, error) {
	r := &Result{
		Tables:            tables,
		CheapestGenerator: make(map[script.DrvNum]script.GenNum),
	}

	phase1InducePartitions(tables)
	phase2MaterializePartitions(tables)
	phase3DriverRelevantClosure(tables)
	phase4AttachDriverConditions(tables)
	phase5AttachDriverGenerators(tables)
	phase6FlagCogeneration(tables)
	phase7ComputeImplicitGuards(tables)
	phase8SelectCheapestGenerator(tables, r)

	return r, r.invariantErrors(tables)
}

// phase1InducePartitions unions the partitions of every pair of variables
// that co-occur as bound/compared operands within the same generator
// pattern or condition (§3: "variables sharing a partition are the same
// unification class"; variable.h's union-find discipline).
func phase1InducePartitions(t *script.SymbolTables) {
	t.Gens.Each(func(_ script.GenNum, g *script.Generator) {
		members := g.Variables.Slice()
		for i := 1; i < len(members); i++ {
			t.Vars.MergePartitions(script.VarNum(members[0]), script.VarNum(members[i]))
		}
	})
	t.Cnds.Each(func(_ script.CndNum, c *script.Condition) {
		members := c.Needed.Slice()
		for i := 1; i < len(members); i++ {
			t.Vars.MergePartitions(script.VarNum(members[0]), script.VarNum(members[i]))
		}
	})
}

// phase2MaterializePartitions recomputes each generator's Variables bitset
// to include every member of every partition it already touches, so later
// phases see the full unification class rather than just the literally
// mentioned variable names.
func phase2MaterializePartitions(t *script.SymbolTables) {
	t.Gens.Each(func(_ script.GenNum, g *script.Generator) {
		expanded := bitset.New()
		for _, v := range g.Variables.Slice() {
			expanded.UnionWith(t.Vars.PartitionMembers(script.VarNum(v)))
		}
		g.Variables = expanded
	})
}

// phase3DriverRelevantClosure computes, for each driver-output, the
// transitive closure of variables relevant to producing its declared
// output tuple: the output variables themselves, plus every variable
// sharing a partition with one of them (driver.h's relevant-variable set).
func phase3DriverRelevantClosure(t *script.SymbolTables) {
	t.Drvs.Each(func(_ script.DrvNum, d *script.DriverOutput) {
		rel := bitset.New()
		for _, v := range d.Output {
			rel.UnionWith(t.Vars.PartitionMembers(v))
		}
		d.Relevant = rel
	})
}

// phase4AttachDriverConditions attaches to each driver the conditions whose
// referenced variables are entirely contained in its relevant set (the
// condition can be evaluated using only values this driver's generators
// will produce).
func phase4AttachDriverConditions(t *script.SymbolTables) {
	t.Drvs.Each(func(_ script.DrvNum, d *script.DriverOutput) {
		t.Cnds.Each(func(cn script.CndNum, c *script.Condition) {
			if isSubset(c.Needed, d.Relevant) {
				d.Conditions.Add(int(cn))
			}
		})
	})
}

// phase5AttachDriverGenerators attaches to each driver the generators whose
// Variables set intersects its relevant set — a generator is a candidate
// source for this driver if it can supply at least one relevant variable.
func phase5AttachDriverGenerators(t *script.SymbolTables) {
	t.Drvs.Each(func(dn script.DrvNum, d *script.DriverOutput) {
		t.Gens.Each(func(gn script.GenNum, g *script.Generator) {
			if g.Variables.Intersects(d.Relevant) {
				d.Generators.Add(int(gn))
				g.DriverOuts.Add(int(dn))
			}
		})
	})
}

// phase6FlagCogeneration marks a generator as cogenerating when some
// driver-output draws on two or more generators including it — its forks
// are then joined with the other generators' in that driver's producer
// (generator.h's cogenerate flag).
func phase6FlagCogeneration(t *script.SymbolTables) {
	t.Gens.Each(func(_ script.GenNum, g *script.Generator) {
		g.Cogenerate = false
	})
	t.Drvs.Each(func(_ script.DrvNum, d *script.DriverOutput) {
		if d.Generators.Count() < 2 {
			return
		}
		for _, gn := range d.Generators.Slice() {
			t.Gens.Get(script.GenNum(gn)).Cogenerate = true
		}
	})
}

// phase7ComputeImplicitGuards derives, for each driver, the guard variables
// implied by its attached conditions but not already present among its
// explicit guards (driver.h: guard variables gate when a driver-output's
// value needs re-evaluation).
func phase7ComputeImplicitGuards(t *script.SymbolTables) {
	t.Drvs.Each(func(_ script.DrvNum, d *script.DriverOutput) {
		implicit := bitset.New()
		t.Cnds.Each(func(cn script.CndNum, c *script.Condition) {
			if !d.Conditions.Contains(int(cn)) {
				return
			}
			for _, v := range c.Needed.Slice() {
				if !d.ExplicitGuards.Contains(v) {
					implicit.Add(v)
				}
			}
		})
		d.ImplicitGuards = implicit
	})
}

// phase8SelectCheapestGenerator picks, for each driver-output, the
// candidate generator with the lowest Weight (generator.h: lower weight is
// cheaper to evaluate); ties are broken by the lowest GenNum, matching
// spec.md §4.4 step 8.
func phase8SelectCheapestGenerator(t *script.SymbolTables, r *Result) {
	t.Drvs.Each(func(dn script.DrvNum, d *script.DriverOutput) {
		var best script.GenNum
		haveBest := false
		bestWeight := 0.0

		for _, gi := range d.Generators.Slice() {
			gn := script.GenNum(gi)
			g := t.Gens.Get(gn)
			switch {
			case !haveBest:
				best, bestWeight, haveBest = gn, g.Weight, true
			case g.Weight < bestWeight:
				best, bestWeight = gn, g.Weight
			case g.Weight == bestWeight && gn < best:
				best = gn
			}
		}
		if haveBest {
			r.CheapestGenerator[dn] = best
		}
	})
}

func isSubset(a, b *bitset.Set) bool {
	for _, m := range a.Slice() {
		if !b.Contains(m) {
			return false
		}
	}
	return true
}

// invariantErrors runs the soft (non-fatal) invariant checks of §4.4/§8 and
// aggregates any violations with go-multierror, matching hashicorp's own
// idiom of returning one *multierror.Error from a validation pass.
func (r *Result) invariantErrors(t *script.SymbolTables) error {
	var result *multierror.Error

	if unbound := t.Vars.UnboundVariables(); !unbound.IsEmpty() {
		for _, v := range unbound.Slice() {
			name := t.Vars.Get(script.VarNum(v)).Name
			result = multierror.Append(result, unboundVariableError(name))
		}
	}
	if unref := t.Cnds.UnreferencedConditions(); !unref.IsEmpty() {
		for _, c := range unref.Slice() {
			result = multierror.Append(result, unreferencedConditionError(script.CndNum(c)))
		}
	}
	if invariant := t.Drvs.InvariantDriverOuts(); !invariant.IsEmpty() {
		for _, d := range invariant.Slice() {
			result = multierror.Append(result, invariantDriverOutputError(script.DrvNum(d)))
		}
	}

	if result == nil {
		return nil
	}
	return result.ErrorOrNil()
}
