package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/arpa2/pulley/internal/lexhash"
	"github.com/arpa2/pulley/internal/script"
)

// TupleStatements holds the prepared insert/delete statements for one
// generator's table, used by internal/router when an upstream add_entry or
// remove_entry event produces forks for this generator (§4.6 step 3).
type TupleStatements struct {
	table   string
	varCols []string

	insert  *sql.Stmt
	delete  *sql.Stmt
	rows    *sql.Stmt
	allRows *sql.Stmt
}

// TupleRow is one stored fork tuple, as read back by AllRows.
type TupleRow struct {
	UUID   string
	Values []string // in Members order
}

// PrepareTupleStatements builds the insert/delete prepared statements for a
// generator's gen_<linehash> table.
func (s *Store) PrepareTupleStatements(ctx context.Context, g script.GenNum, lineHash lexhash.Hash, vars *script.VarTable, members []script.VarNum) (*TupleStatements, error) {
	table := GeneratorTableName(g, lineHash)

	cols := make([]string, len(members))
	placeholders := make([]string, len(members)+1)
	placeholders[0] = "?"
	for i, v := range members {
		cols[i] = "var_" + vars.Get(v).Name
		placeholders[i+1] = "?"
	}

	insertSQL := fmt.Sprintf("INSERT INTO %s (entryUUID, %s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	deleteSQL := fmt.Sprintf("DELETE FROM %s WHERE entryUUID = ?", table)
	rowsSQL := fmt.Sprintf("SELECT %s FROM %s WHERE entryUUID = ?", strings.Join(cols, ", "), table)
	allRowsSQL := fmt.Sprintf("SELECT entryUUID, %s FROM %s", strings.Join(cols, ", "), table)

	insert, err := s.db.PrepareContext(ctx, insertSQL)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: prepare tuple insert for %s: %w", table, err)
	}
	del, err := s.db.PrepareContext(ctx, deleteSQL)
	if err != nil {
		insert.Close()
		return nil, fmt.Errorf("sqlstore: prepare tuple delete for %s: %w", table, err)
	}
	rows, err := s.db.PrepareContext(ctx, rowsSQL)
	if err != nil {
		insert.Close()
		del.Close()
		return nil, fmt.Errorf("sqlstore: prepare tuple select for %s: %w", table, err)
	}
	allRows, err := s.db.PrepareContext(ctx, allRowsSQL)
	if err != nil {
		insert.Close()
		del.Close()
		rows.Close()
		return nil, fmt.Errorf("sqlstore: prepare tuple select-all for %s: %w", table, err)
	}

	return &TupleStatements{table: table, varCols: cols, insert: insert, delete: del, rows: rows, allRows: allRows}, nil
}

// Insert adds one fork's tuple, keyed by the upstream entry's uuid.
func (t *TupleStatements) Insert(ctx context.Context, uuid string, values []any) error {
	args := append([]any{uuid}, values...)
	_, err := t.insert.ExecContext(ctx, args...)
	return err
}

// Delete removes every fork tuple this generator produced for uuid.
func (t *TupleStatements) Delete(ctx context.Context, uuid string) error {
	_, err := t.delete.ExecContext(ctx, uuid)
	return err
}

// Rows returns the member-column values of every fork tuple still stored
// for uuid, in Members order, for use before a remove_entry deletes them
// (§4.6 step 5 needs a driving fork's values while its row is still live).
func (t *TupleStatements) Rows(ctx context.Context, uuid string) ([][]string, error) {
	rows, err := t.rows.QueryContext(ctx, uuid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]string
	for rows.Next() {
		scan := make([]any, len(t.varCols))
		for i := range scan {
			scan[i] = new(string)
		}
		if err := rows.Scan(scan...); err != nil {
			return nil, err
		}
		values := make([]string, len(scan))
		for i, s := range scan {
			values[i] = *s.(*string)
		}
		out = append(out, values)
	}
	return out, rows.Err()
}

// AllRows returns every fork tuple currently stored for this generator,
// regardless of uuid, for a resync's full producer re-run (§4.9: "a full
// resync re-opens every generator table's producer statements").
func (t *TupleStatements) AllRows(ctx context.Context) ([]TupleRow, error) {
	rows, err := t.allRows.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TupleRow
	for rows.Next() {
		scan := make([]any, len(t.varCols)+1)
		for i := range scan {
			scan[i] = new(string)
		}
		if err := rows.Scan(scan...); err != nil {
			return nil, err
		}
		values := make([]string, len(t.varCols))
		for i := range values {
			values[i] = *scan[i+1].(*string)
		}
		out = append(out, TupleRow{UUID: *scan[0].(*string), Values: values})
	}
	return out, rows.Err()
}

// Close releases the prepared statements.
func (t *TupleStatements) Close() error {
	if err := t.insert.Close(); err != nil {
		return err
	}
	if err := t.delete.Close(); err != nil {
		return err
	}
	if err := t.rows.Close(); err != nil {
		return err
	}
	return t.allRows.Close()
}
