package analyzer

import (
	"testing"

	"github.com/arpa2/pulley/internal/script"
)

func buildJoinedScenario(t *testing.T) *script.SymbolTables {
	t.Helper()
	tables, err := script.Parse(`
Mail:x <- world
CN:x <- backups
mailer(log) <- x
`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return tables
}

func TestAnalyzePartitionsSharedVariable(t *testing.T) {
	tables := buildJoinedScenario(t)

	xFirst := tables.Gens.Get(0).Pattern[0].Fragments[0].BindVar
	xSecond := tables.Gens.Get(1).Pattern[0].Fragments[0].BindVar
	if xFirst != xSecond {
		t.Fatalf("expected both generators to bind the same variable, got %v and %v", xFirst, xSecond)
	}

	result, err := Analyze(tables)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if tables.Vars.Get(0).Partition == tables.Vars.Get(xFirst).Partition {
		t.Fatalf("expected _ and x to remain in distinct partitions")
	}

	if len(result.CheapestGenerator) != 1 {
		t.Fatalf("expected one cheapest-generator decision, got %d", len(result.CheapestGenerator))
	}
}

func TestAnalyzeAttachesBothGeneratorsToDriver(t *testing.T) {
	tables := buildJoinedScenario(t)
	if _, err := Analyze(tables); err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	d := tables.Drvs.Get(0)
	if d.Generators.Count() != 2 {
		t.Fatalf("expected both generators attached to the driver, got %d", d.Generators.Count())
	}
}

func TestAnalyzeFlagsUnboundVariable(t *testing.T) {
	tables, err := script.Parse(`mailer(log) <- x`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	_, err = Analyze(tables)
	if err == nil {
		t.Fatal("expected an invariant violation for an unbound driver variable")
	}
}
