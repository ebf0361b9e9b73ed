package binding

import (
	"testing"

	"github.com/arpa2/pulley/internal/script"
)

func TestCompileSimpleAttrBind(t *testing.T) {
	vars := script.NewVarTable()
	bindVar := vars.Have("x", script.VarKindVariable)

	levels := []script.PatternLevel{
		{Fragments: []script.PatternFragment{
			{Kind: script.FragAttrBind, Attr: "Mail", AttrVar: vars.Have("Mail", script.VarKindAttrType), BindVar: bindVar, ConstVar: script.BadVar},
		}},
	}

	code, filter, err := Compile(levels, vars)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if filter != "" {
		t.Fatalf("expected no filter terms for a bare bind, got %q", filter)
	}

	op, subj, _ := unpack(code[0])
	if op != OpDown {
		t.Fatalf("expected leading DOWN, got opcode %v", op)
	}
	op2, subj2, _ := unpack(code[1])
	if op2 != OpBind || subj2 != SubjRDN {
		t.Fatalf("expected RDN BIND, got op=%v subj=%v", op2, subj2)
	}
	_ = subj

	last := code[len(code)-1]
	lastOp, _, _ := unpack(last)
	if lastOp != OpDone {
		t.Fatalf("expected trailing DONE, got %v", lastOp)
	}
}

func TestCompileConstantFilter(t *testing.T) {
	vars := script.NewVarTable()
	cv := vars.Add("someone@example.org", script.VarKindConstant)
	vars.Get(cv).Value = &script.Value{Type: script.VarTypeString, Str: `"someone@example.org"`}

	levels := []script.PatternLevel{
		{Fragments: []script.PatternFragment{
			{Kind: script.FragAttrCmp, Attr: "Mail", AttrVar: vars.Have("Mail", script.VarKindAttrType), ConstVar: cv},
		}},
	}

	_, filter, err := Compile(levels, vars)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if filter != "Mail=someone@example.org" {
		t.Fatalf("filter = %q, want Mail=someone@example.org", filter)
	}
}

func TestBoundAttrsExtractsOrderedBindings(t *testing.T) {
	vars := script.NewVarTable()
	x := vars.Have("x", script.VarKindVariable)
	y := vars.Have("y", script.VarKindVariable)

	levels := []script.PatternLevel{
		{Fragments: []script.PatternFragment{{Kind: script.FragAttrBind, Attr: "Mail", AttrVar: vars.Have("Mail", script.VarKindAttrType), BindVar: x, ConstVar: script.BadVar}}},
		{Fragments: []script.PatternFragment{{Kind: script.FragAttrBind, Attr: "CN", AttrVar: vars.Have("CN", script.VarKindAttrType), BindVar: y, ConstVar: script.BadVar}}},
	}

	got := BoundAttrs(levels)
	if len(got) != 2 || got[0].Attr != "Mail" || got[1].Attr != "CN" {
		t.Fatalf("unexpected bound attrs: %+v", got)
	}
}

// TestExecuteBindingExample1 compiles and runs binding.h's first worked
// example: a single rdn level matching "Mail:x, OU=Secretaries,
// O=Example Corp <- world", confirming Execute binds x to the matched
// Mail value and does not confuse it with the OU/O constants it also
// carries (the defect the named-attribute-operand fix addresses).
func TestExecuteBindingExample1(t *testing.T) {
	vars := script.NewVarTable()
	x := vars.Have("x", script.VarKindVariable)

	ouConst := vars.Add(`"Secretaries"`, script.VarKindConstant)
	vars.Get(ouConst).Value = &script.Value{Type: script.VarTypeString, Str: `"Secretaries"`}
	oConst := vars.Add(`"Example Corp"`, script.VarKindConstant)
	vars.Get(oConst).Value = &script.Value{Type: script.VarTypeString, Str: `"Example Corp"`}

	levels := []script.PatternLevel{
		{Fragments: []script.PatternFragment{
			{Kind: script.FragAttrBind, Attr: "Mail", AttrVar: vars.Have("Mail", script.VarKindAttrType), BindVar: x, ConstVar: script.BadVar},
			{Kind: script.FragAttrCmp, Attr: "OU", AttrVar: vars.Have("OU", script.VarKindAttrType), ConstVar: ouConst},
			{Kind: script.FragAttrCmp, Attr: "O", AttrVar: vars.Have("O", script.VarKindAttrType), ConstVar: oConst},
		}},
	}

	code, filter, err := Compile(levels, vars)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if filter != "OU=Secretaries,O=Example Corp" {
		t.Fatalf("filter = %q, want OU=Secretaries,O=Example Corp", filter)
	}

	dn := []Node{
		{Values: map[string][]string{
			"Mail": {"someone@example.org"},
			"OU":   {"Secretaries"},
			"O":    {"Example Corp"},
		}},
	}

	forks, err := Execute(code, dn, vars)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(forks) != 1 {
		t.Fatalf("expected exactly 1 fork, got %d: %+v", len(forks), forks)
	}
	bound, ok := forks[0][x]
	if !ok {
		t.Fatalf("variable x was not bound: %+v", forks[0])
	}
	if bound.Str != "someone@example.org" {
		t.Fatalf("x = %q, want someone@example.org", bound.Str)
	}
}

// TestExecuteBindingIgnoresUnrelatedAttribute proves valuesFor resolves its
// operand to the named attribute rather than flattening every attribute on
// the rdn level: a bind on Mail must not see CN's values even though both
// are present on the same node.
func TestExecuteBindingIgnoresUnrelatedAttribute(t *testing.T) {
	vars := script.NewVarTable()
	x := vars.Have("x", script.VarKindVariable)

	levels := []script.PatternLevel{
		{Fragments: []script.PatternFragment{
			{Kind: script.FragAttrBind, Attr: "Mail", AttrVar: vars.Have("Mail", script.VarKindAttrType), BindVar: x, ConstVar: script.BadVar},
		}},
	}

	code, _, err := Compile(levels, vars)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	dn := []Node{
		{Values: map[string][]string{
			"Mail": {"someone@example.org"},
			"CN":   {"decoy"},
		}},
	}

	forks, err := Execute(code, dn, vars)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(forks) != 1 {
		t.Fatalf("expected exactly 1 fork, got %d: %+v", len(forks), forks)
	}
	if got := forks[0][x].Str; got != "someone@example.org" {
		t.Fatalf("x = %q, want someone@example.org (not CN's decoy)", got)
	}
}
