package sqlstore

import (
	"context"
	"testing"

	"github.com/arpa2/pulley/internal/script"
)

func TestDedupCounterLifecycle(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, "", 0xdeadbeef)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	const fp = uint64(12345)

	n, err := store.DedupGet(ctx, fp)
	if err != nil {
		t.Fatalf("DedupGet: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 before any increment, got %d", n)
	}

	if err := store.DedupInc(ctx, fp); err != nil {
		t.Fatalf("DedupInc: %v", err)
	}
	if n, err = store.DedupGet(ctx, fp); err != nil || n != 1 {
		t.Fatalf("after one inc: n=%d err=%v", n, err)
	}

	if err := store.DedupInc(ctx, fp); err != nil {
		t.Fatalf("DedupInc: %v", err)
	}
	if n, err = store.DedupGet(ctx, fp); err != nil || n != 2 {
		t.Fatalf("after two incs: n=%d err=%v", n, err)
	}

	if err := store.DedupDec(ctx, fp); err != nil {
		t.Fatalf("DedupDec: %v", err)
	}
	if n, err = store.DedupGet(ctx, fp); err != nil || n != 1 {
		t.Fatalf("after one dec: n=%d err=%v", n, err)
	}

	// the second decrement crosses 1 -> 0, which the cleanup trigger should
	// remove entirely rather than leaving a zero row behind.
	if err := store.DedupDec(ctx, fp); err != nil {
		t.Fatalf("DedupDec: %v", err)
	}
	if n, err = store.DedupGet(ctx, fp); err != nil || n != 0 {
		t.Fatalf("after crossing to zero: n=%d err=%v", n, err)
	}
}

func TestCreateGeneratorTableAndTuples(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, "", 0x1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	vars := script.NewVarTable()
	x := vars.Have("x", script.VarKindVariable)

	const gen = script.GenNum(0)
	const lineHash = 0xabc
	if err := store.CreateGeneratorTable(ctx, gen, lineHash, vars, []script.VarNum{x}); err != nil {
		t.Fatalf("CreateGeneratorTable: %v", err)
	}

	tuples, err := store.PrepareTupleStatements(ctx, gen, lineHash, vars, []script.VarNum{x})
	if err != nil {
		t.Fatalf("PrepareTupleStatements: %v", err)
	}
	defer tuples.Close()

	if err := tuples.Insert(ctx, "11111111-1111-1111-1111-111111111111", []any{"a@example.org"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	rows, err := tuples.AllRows(ctx)
	if err != nil {
		t.Fatalf("AllRows: %v", err)
	}
	if len(rows) != 1 || rows[0].UUID != "11111111-1111-1111-1111-111111111111" || len(rows[0].Values) != 1 || rows[0].Values[0] != "a@example.org" {
		t.Fatalf("unexpected AllRows result: %+v", rows)
	}

	var count int
	row := store.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM "+GeneratorTableName(gen, lineHash))
	if err := row.Scan(&count); err != nil {
		t.Fatalf("count query: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row after insert, got %d", count)
	}

	if err := tuples.Delete(ctx, "11111111-1111-1111-1111-111111111111"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	row = store.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM "+GeneratorTableName(gen, lineHash))
	if err := row.Scan(&count); err != nil {
		t.Fatalf("count query: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 rows after delete, got %d", count)
	}

	rows, err = tuples.AllRows(ctx)
	if err != nil {
		t.Fatalf("AllRows after delete: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected 0 rows from AllRows after delete, got %+v", rows)
	}
}
