// Package script implements §4.2: the parser and the four symbol tables
// (variables, generators, conditions, driver-outputs) populated from a
// pulley script, plus the cross-reference bookkeeping the analyzer needs.
// Grounded on the original engine's variable.h/generator.h/condition.h/
// driver.h, translated from hand-rolled C arrays-of-structs into Go slices
// addressed by integer handle, matching the original's "variables are
// handled through their number, not through pointers" discipline.
package script

import (
	"github.com/arpa2/pulley/internal/bitset"
	"github.com/arpa2/pulley/internal/lexhash"
)

// VarKind classifies a Variable (§3 Variable entity).
type VarKind int

const (
	VarKindVariable VarKind = iota
	VarKindParameter
	VarKindConstant
	VarKindAttrType
	VarKindDriverName
	VarKindBinding
)

// VarType is the type of a Variable's value, when bound.
type VarType int

const (
	VarTypeUndefined VarType = iota
	VarTypeInteger
	VarTypeFloat
	VarTypeString
	VarTypeBlob
	VarTypeAttrOpts
)

// Value holds a typed variable value. Only one of the fields is meaningful,
// selected by Type.
type Value struct {
	Type    VarType
	Int     int64
	Float   float64
	Str     string
	Blob    []byte
	Options []string
}

// VarNum identifies a Variable within a VarTable. 0 is the special "_"
// variable; negative values are never valid (mirrors VARNUM_BAD).
type VarNum int

const BadVar VarNum = -1

// Variable is one symbol-table entry (§3 Variable entity).
type Variable struct {
	Name      string
	Kind      VarKind
	Value     *Value // nil means unbound
	Partition int    // union-find representative, initialised to own VarNum

	Generators  *bitset.Set // generators that bind this variable
	Conditions  *bitset.Set // conditions that reference this variable
	DriverOuts  *bitset.Set // drivers that emit this variable
}

// GenNum identifies a Generator within a GenTable.
type GenNum int

// Generator is one generator rule (§3 Generator entity).
type Generator struct {
	Source      VarNum // the subtree handle, e.g. "world"
	Variables   *bitset.Set
	DriverOuts  *bitset.Set
	Weight      float64 // >= 1.0, default 100.0
	LineHash    lexhash.Hash
	Cogenerate  bool
	Pattern     []PatternLevel // raw left-hand pattern, as parsed
	Binding     []byte         // compiled bytecode, filled in by internal/binding
	Filter      string         // upstream filter expression, filled in by internal/binding
	UpstreamDN  VarNum         // the dn/subtree pattern variable this generator matched against
}

// CndNum identifies a Condition within a CndTable.
type CndNum int

// Condition operators, stored postfix (§3 Condition entity). Negative so
// they never collide with a VarNum operand in the token stream.
type CndOp int

const (
	CndNot CndOp = -iota - 1
	CndAnd
	CndOr
	CndTrue
	CndFalse
	CndEq
	CndNe
	CndLt
	CndGt
	CndLe
	CndGe
)

// CndToken is one element of a condition's postfix token sequence: either an
// operator (Op != 0) or an operand naming a Variable (Var set, Op == 0).
type CndToken struct {
	Op  CndOp
	Var VarNum
}

// Condition is one boolean-expression rule (§3 Condition entity).
type Condition struct {
	Postfix  []CndToken
	Weight   float64 // <= 1.0, default 0.1
	LineHash lexhash.Hash
	Needed   *bitset.Set // variables this condition references
}

// DrvNum identifies a DriverOutput within a DrvTable.
type DrvNum int

// DriverOutput is one "module(args) <- vars" rule (§3 Driver-output entity).
type DriverOutput struct {
	Module    string
	Args      []string
	Output    []VarNum // declaration order, the tuple shape delivered to the backend

	ExplicitGuards *bitset.Set
	ImplicitGuards *bitset.Set
	Relevant       *bitset.Set
	Generators     *bitset.Set
	Conditions     *bitset.Set

	Weight   float64 // default 1.0
	LineHash lexhash.Hash
}
