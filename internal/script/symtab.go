package script

import (
	"github.com/arpa2/pulley/internal/bitset"
	"github.com/arpa2/pulley/internal/lexhash"
)

// VarTable is the one-level symbol table for variables (variable.h).
// Variables are numbered from 0 ("_"); VarNum(i) indexes vars[i].
type VarTable struct {
	vars []Variable
}

// NewVarTable returns an empty table, pre-seeded with the special "_" variable.
func NewVarTable() *VarTable {
	t := &VarTable{}
	t.add("_", VarKindVariable) // VarNum 0, its own partition
	return t
}

func (t *VarTable) add(name string, kind VarKind) VarNum {
	n := VarNum(len(t.vars))
	t.vars = append(t.vars, Variable{
		Name:       name,
		Kind:       kind,
		Partition:  int(n),
		Generators: bitset.New(),
		Conditions: bitset.New(),
		DriverOuts: bitset.New(),
	})
	return n
}

// Find returns the VarNum for name/kind, or BadVar if not present.
func (t *VarTable) Find(name string, kind VarKind) VarNum {
	for i := range t.vars {
		if t.vars[i].Name == name && t.vars[i].Kind == kind {
			return VarNum(i)
		}
	}
	return BadVar
}

// Have returns the existing VarNum for name/kind, or creates a new one.
func (t *VarTable) Have(name string, kind VarKind) VarNum {
	if v := t.Find(name, kind); v != BadVar {
		return v
	}
	return t.add(name, kind)
}

// Add always creates a fresh variable (used for constants, which are never
// deduplicated by name since the same literal text may mean different
// things in different positions).
func (t *VarTable) Add(name string, kind VarKind) VarNum {
	return t.add(name, kind)
}

// Get returns a pointer to the variable's entry; callers must not retain it
// across calls that might grow the table.
func (t *VarTable) Get(v VarNum) *Variable {
	return &t.vars[v]
}

// Count returns the number of variables in the table, including "_".
func (t *VarTable) Count() int {
	return len(t.vars)
}

// UsedInGenerator/Condition/DriverOut record a cross-reference (§3: "A
// variable additionally tracks the sets of generators that bind it,
// conditions that reference it, drivers that emit it").
func (t *VarTable) UsedInGenerator(v VarNum, g GenNum) {
	t.vars[v].Generators.Add(int(g))
}
func (t *VarTable) UsedInCondition(v VarNum, c CndNum) {
	t.vars[v].Conditions.Add(int(c))
}
func (t *VarTable) UsedInDriverOut(v VarNum, d DrvNum) {
	t.vars[v].DriverOuts.Add(int(d))
}

// MergePartitions implements the union-find discipline of §3: union the
// partitions of a and b, keeping the smaller representative number
// (var.h: "one partition takes over the number from the other partition").
// Representatives are re-pointed throughout the table.
func (t *VarTable) MergePartitions(a, b VarNum) {
	pa, pb := t.vars[a].Partition, t.vars[b].Partition
	if pa == pb {
		return
	}
	keep, drop := pa, pb
	if drop < keep {
		keep, drop = drop, keep
	}
	for i := range t.vars {
		if t.vars[i].Partition == drop {
			t.vars[i].Partition = keep
		}
	}
}

// PartitionMembers returns every VarNum sharing v's partition.
func (t *VarTable) PartitionMembers(v VarNum) *bitset.Set {
	out := bitset.New()
	part := t.vars[v].Partition
	for i := range t.vars {
		if t.vars[i].Partition == part {
			out.Add(i)
		}
	}
	return out
}

// IsPartitionRepresentative reports whether v is the minimum member of its
// own partition (variable.h: var_partition_identifiedby).
func (t *VarTable) IsPartitionRepresentative(v VarNum) bool {
	return int(v) == t.vars[v].Partition
}

// UnboundVariables returns regular variables that a condition or
// driver-output references but no generator binds.
func (t *VarTable) UnboundVariables() *bitset.Set {
	out := bitset.New()
	for i := range t.vars {
		referenced := !t.vars[i].Conditions.IsEmpty() || !t.vars[i].DriverOuts.IsEmpty()
		if t.vars[i].Kind == VarKindVariable && t.vars[i].Generators.IsEmpty() && referenced {
			out.Add(i)
		}
	}
	return out
}

// MultiboundVariables returns regular variables bound by more than one generator.
func (t *VarTable) MultiboundVariables() *bitset.Set {
	out := bitset.New()
	for i := range t.vars {
		if t.vars[i].Kind == VarKindVariable && t.vars[i].Generators.Count() > 1 {
			out.Add(i)
		}
	}
	return out
}

// GenTable holds generators (generator.h).
type GenTable struct {
	gens []Generator
}

func NewGenTable() *GenTable { return &GenTable{} }

// New creates a new generator with the given source variable and default weight.
func (t *GenTable) New(source VarNum) GenNum {
	n := GenNum(len(t.gens))
	t.gens = append(t.gens, Generator{
		Source:     source,
		Variables:  bitset.New(),
		DriverOuts: bitset.New(),
		Weight:     100.0,
	})
	return n
}

func (t *GenTable) Get(g GenNum) *Generator { return &t.gens[g] }
func (t *GenTable) Count() int              { return len(t.gens) }

func (t *GenTable) Each(fn func(GenNum, *Generator)) {
	for i := range t.gens {
		fn(GenNum(i), &t.gens[i])
	}
}

// CndTable holds conditions (condition.h).
type CndTable struct {
	conds []Condition
}

func NewCndTable() *CndTable { return &CndTable{} }

func (t *CndTable) New() CndNum {
	n := CndNum(len(t.conds))
	t.conds = append(t.conds, Condition{
		Weight: 0.1,
		Needed: bitset.New(),
	})
	return n
}

func (t *CndTable) Get(c CndNum) *Condition { return &t.conds[c] }
func (t *CndTable) Count() int              { return len(t.conds) }

func (t *CndTable) Each(fn func(CndNum, *Condition)) {
	for i := range t.conds {
		fn(CndNum(i), &t.conds[i])
	}
}

// UnreferencedConditions returns conditions that mention zero variables
// (condition.h: cndtab_invariant_conditions).
func (t *CndTable) UnreferencedConditions() *bitset.Set {
	out := bitset.New()
	for i := range t.conds {
		if t.conds[i].Needed.IsEmpty() {
			out.Add(i)
		}
	}
	return out
}

// DrvTable holds driver-outputs (driver.h).
type DrvTable struct {
	drvs []DriverOutput
}

func NewDrvTable() *DrvTable { return &DrvTable{} }

func (t *DrvTable) New() DrvNum {
	n := DrvNum(len(t.drvs))
	t.drvs = append(t.drvs, DriverOutput{
		ExplicitGuards: bitset.New(),
		ImplicitGuards: bitset.New(),
		Relevant:       bitset.New(),
		Generators:     bitset.New(),
		Conditions:     bitset.New(),
		Weight:         1.0,
	})
	return n
}

func (t *DrvTable) Get(d DrvNum) *DriverOutput { return &t.drvs[d] }
func (t *DrvTable) Count() int                 { return len(t.drvs) }

func (t *DrvTable) Each(fn func(DrvNum, *DriverOutput)) {
	for i := range t.drvs {
		fn(DrvNum(i), &t.drvs[i])
	}
}

// InvariantDriverOuts returns driver-outputs with zero relevant variables
// (driver.h: drvtab_invariant_driverouts).
func (t *DrvTable) InvariantDriverOuts() *bitset.Set {
	out := bitset.New()
	for i := range t.drvs {
		if t.drvs[i].Relevant.IsEmpty() {
			out.Add(i)
		}
	}
	return out
}

// SymbolTables bundles the four tables the parser populates (§4.2: "Result:
// four populated tables").
type SymbolTables struct {
	Vars *VarTable
	Gens *GenTable
	Cnds *CndTable
	Drvs *DrvTable

	WholeHash lexhash.Hash
}

func NewSymbolTables() *SymbolTables {
	return &SymbolTables{
		Vars: NewVarTable(),
		Gens: NewGenTable(),
		Cnds: NewCndTable(),
		Drvs: NewDrvTable(),
	}
}
