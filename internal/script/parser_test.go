package script

import "testing"

func TestParseGeneratorAndDriver(t *testing.T) {
	src := `
Mail:x <- world
mailer(log) <- x
`
	tables, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if got, want := tables.Gens.Count(), 1; got != want {
		t.Fatalf("Gens.Count() = %d, want %d", got, want)
	}
	if got, want := tables.Drvs.Count(), 1; got != want {
		t.Fatalf("Drvs.Count() = %d, want %d", got, want)
	}

	gn := GenNum(0)
	g := tables.Gens.Get(gn)
	if len(g.Pattern) != 1 || len(g.Pattern[0].Fragments) != 1 {
		t.Fatalf("unexpected pattern shape: %+v", g.Pattern)
	}
	frag := g.Pattern[0].Fragments[0]
	if frag.Kind != FragAttrBind || frag.Attr != "Mail" {
		t.Fatalf("unexpected fragment: %+v", frag)
	}
	if got, want := g.Weight, 100.0; got != want {
		t.Fatalf("generator Weight = %v, want default %v", got, want)
	}

	d := tables.Drvs.Get(DrvNum(0))
	if d.Module != "mailer" {
		t.Fatalf("Module = %q, want mailer", d.Module)
	}
	if len(d.Output) != 1 || tables.Vars.Get(d.Output[0]).Name != "x" {
		t.Fatalf("unexpected driver output: %+v", d.Output)
	}
	if got, want := d.Weight, 1.0; got != want {
		t.Fatalf("driver-output Weight = %v, want default %v", got, want)
	}
}

// TestParseScenarioOneScript parses the literal two-statement script of
// spec.md §8 Scenario 1 ("Mail:x <- world" feeding a driver-output that
// emits x), confirming the keyword-free grammar accepts it as written.
func TestParseScenarioOneScript(t *testing.T) {
	src := `
Mail:x <- world
out(x) <- x
`
	tables, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got, want := tables.Gens.Count(), 1; got != want {
		t.Fatalf("Gens.Count() = %d, want %d", got, want)
	}
	if got, want := tables.Drvs.Count(), 1; got != want {
		t.Fatalf("Drvs.Count() = %d, want %d", got, want)
	}

	d := tables.Drvs.Get(DrvNum(0))
	if d.Module != "out" {
		t.Fatalf("Module = %q, want out", d.Module)
	}
	if len(d.Args) != 1 || d.Args[0] != "x" {
		t.Fatalf("unexpected driver args: %+v", d.Args)
	}
	if len(d.Output) != 1 || tables.Vars.Get(d.Output[0]).Name != "x" {
		t.Fatalf("unexpected driver output: %+v", d.Output)
	}
}

func TestParseConditionAndConstants(t *testing.T) {
	src := `
x = "someone@example.org"
mailer(log) <- x
`
	tables, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if got, want := tables.Cnds.Count(), 1; got != want {
		t.Fatalf("Cnds.Count() = %d, want %d", got, want)
	}
	c := tables.Cnds.Get(CndNum(0))
	if len(c.Postfix) != 3 {
		t.Fatalf("unexpected postfix length: %d", len(c.Postfix))
	}
	if c.Postfix[2].Op != CndEq {
		t.Fatalf("expected trailing Eq operator, got %+v", c.Postfix[2])
	}
	if got, want := c.Weight, 0.1; got != want {
		t.Fatalf("condition Weight = %v, want default %v", got, want)
	}
}

// TestParseHashComment proves a '#' starts a line comment honouring quoted
// strings, and that a comment-only or blank line contributes no statement.
func TestParseHashComment(t *testing.T) {
	src := `
# a comment above the generator
Mail:x <- world  # trailing comment
CN="a#b" <- world  # '#' inside the quoted constant must not truncate it

mailer(log) <- x
`
	tables, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got, want := tables.Gens.Count(), 2; got != want {
		t.Fatalf("Gens.Count() = %d, want %d", got, want)
	}

	cn := tables.Gens.Get(GenNum(1))
	frag := cn.Pattern[0].Fragments[0]
	cv := tables.Vars.Get(frag.ConstVar)
	if cv.Value == nil || cv.Value.Str != `"a#b"` {
		t.Fatalf("expected the quoted constant to retain its '#', got %+v", cv.Value)
	}
}

// TestParseWeightAnnotation proves a trailing '*<weight>' overrides each
// production's default weight.
func TestParseWeightAnnotation(t *testing.T) {
	src := `
Mail:x <- world *250
mailer(log) <- x *2.5
`
	tables, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got, want := tables.Gens.Get(GenNum(0)).Weight, 250.0; got != want {
		t.Fatalf("generator Weight = %v, want %v", got, want)
	}
	if got, want := tables.Drvs.Get(DrvNum(0)).Weight, 2.5; got != want {
		t.Fatalf("driver-output Weight = %v, want %v", got, want)
	}
}

func TestParseSyntaxError(t *testing.T) {
	_, err := Parse("Mail x <- world")
	if err == nil {
		t.Fatal("expected a syntax error for a malformed fragment")
	}
}
