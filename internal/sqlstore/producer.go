package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/arpa2/pulley/internal/lexhash"
	"github.com/arpa2/pulley/internal/script"
)

// ProducerStatement is a prepared SELECT over one or more gen_<linehash>
// tables, NATURAL JOINed on shared variable columns and filtered by a
// driver-output's attached conditions, producing the output tuple a driver
// consumes (§4.5 step 6).
type ProducerStatement struct {
	Driver    script.DrvNum
	Generator script.GenNum
	SQL       string
}

// CogenTable names one additional generator table to NATURAL JOIN into a
// producer statement: a cogenerator of the driver other than the driving
// generator (§4.5 step 6's "FROM gen_<driver-generator> NATURAL JOIN
// gen_<cogen1> NATURAL JOIN …").
type CogenTable struct {
	Gen      script.GenNum
	LineHash lexhash.Hash
}

// BuildProducerStatement compiles the SELECT for one (generator, driver)
// pair, where g is the driving generator whose fork triggers evaluation.
// drivingVars lists g's own bound variables, substituted as ?NNN
// placeholders rather than table columns, per §4.5 step 6's
// "driving-generator-bound variables become positional parameters" rule;
// every other relevant variable is expected to resolve to a var_<name>
// column shared (via NATURAL JOIN) across g's table and cogens' tables.
// Parameter 1 is reserved for the triggering entryUUID; drivingVars indices
// must therefore start at 2.
func BuildProducerStatement(d script.DrvNum, g script.GenNum, lineHash lexhash.Hash, cogens []CogenTable, vars *script.VarTable, output []script.VarNum, conds []*script.Condition, drivingVars map[script.VarNum]int) (ProducerStatement, error) {
	tables := []string{GeneratorTableName(g, lineHash)}
	for _, c := range cogens {
		tables = append(tables, GeneratorTableName(c.Gen, c.LineHash))
	}

	cols := make([]string, len(output))
	for i, v := range output {
		cols[i] = columnRef(vars, v, drivingVars)
	}

	where, err := compileConditions(vars, conds, drivingVars)
	if err != nil {
		return ProducerStatement{}, err
	}

	q := fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), strings.Join(tables, " NATURAL JOIN "))
	q += " WHERE entryUUID = ?1"
	if where != "" {
		q += " AND " + where
	}

	return ProducerStatement{Driver: d, Generator: g, SQL: q}, nil
}

func columnRef(vars *script.VarTable, v script.VarNum, drivingVars map[script.VarNum]int) string {
	if idx, ok := drivingVars[v]; ok {
		return fmt.Sprintf("?%d", idx)
	}
	name := vars.Get(v).Name
	if name == "_" {
		return "entryUUID"
	}
	return "var_" + name
}

// compileConditions renders a condition's postfix token stream as a SQL
// WHERE clause fragment, following §4.5 step 6's constant-encoding rules:
// integer/float constants in C form, single-quoted string constants with
// doubled internal quotes, X'...' for byte strings.
func compileConditions(vars *script.VarTable, conds []*script.Condition, drivingVars map[script.VarNum]int) (string, error) {
	var clauses []string
	for _, c := range conds {
		clause, err := compilePostfix(vars, c.Postfix, drivingVars)
		if err != nil {
			return "", err
		}
		if clause != "" {
			clauses = append(clauses, clause)
		}
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return strings.Join(clauses, " AND "), nil
}

func compilePostfix(vars *script.VarTable, postfix []script.CndToken, drivingVars map[script.VarNum]int) (string, error) {
	var stack []string
	for _, tok := range postfix {
		if tok.Op == 0 {
			stack = append(stack, operand(vars, tok.Var, drivingVars))
			continue
		}
		switch tok.Op {
		case script.CndNot:
			if len(stack) < 1 {
				return "", fmt.Errorf("sqlstore: NOT with empty operand stack")
			}
			a := pop(&stack)
			stack = append(stack, fmt.Sprintf("NOT (%s)", a))
		case script.CndTrue:
			stack = append(stack, "1")
		case script.CndFalse:
			stack = append(stack, "0")
		default:
			if len(stack) < 2 {
				return "", fmt.Errorf("sqlstore: binary operator with too few operands")
			}
			b, a := pop(&stack), pop(&stack)
			stack = append(stack, fmt.Sprintf("(%s %s %s)", a, sqlOp(tok.Op), b))
		}
	}
	if len(stack) != 1 {
		return "", fmt.Errorf("sqlstore: condition did not reduce to one value, got %d", len(stack))
	}
	return stack[0], nil
}

func pop(stack *[]string) string {
	n := len(*stack)
	v := (*stack)[n-1]
	*stack = (*stack)[:n-1]
	return v
}

func sqlOp(op script.CndOp) string {
	switch op {
	case script.CndAnd:
		return "AND"
	case script.CndOr:
		return "OR"
	case script.CndEq:
		return "="
	case script.CndNe:
		return "<>"
	case script.CndLt:
		return "<"
	case script.CndGt:
		return ">"
	case script.CndLe:
		return "<="
	case script.CndGe:
		return ">="
	default:
		return "="
	}
}

func operand(vars *script.VarTable, v script.VarNum, drivingVars map[script.VarNum]int) string {
	variable := vars.Get(v)
	if variable.Kind == script.VarKindConstant && variable.Value != nil {
		return sqlLiteral(*variable.Value)
	}
	return columnRef(vars, v, drivingVars)
}

func sqlLiteral(v script.Value) string {
	switch v.Type {
	case script.VarTypeInteger:
		return fmt.Sprintf("%d", v.Int)
	case script.VarTypeFloat:
		return fmt.Sprintf("%g", v.Float)
	case script.VarTypeString:
		s := strings.Trim(v.Str, `"`)
		return "'" + strings.ReplaceAll(s, "'", "''") + "'"
	case script.VarTypeBlob:
		return fmt.Sprintf("X'%x'", v.Blob)
	default:
		return "NULL"
	}
}

// PrepareProducer compiles a ProducerStatement into a live prepared statement.
func (s *Store) PrepareProducer(ctx context.Context, ps ProducerStatement) (*ProducerHandle, error) {
	stmt, err := s.db.PrepareContext(ctx, ps.SQL)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: prepare producer %s: %w", ps.SQL, err)
	}
	return &ProducerHandle{ProducerStatement: ps, stmt: stmt}, nil
}

// ProducerHandle is a live prepared producer statement, ready to be queried
// by the pulley controller once a driving generator's fork supplies the ?NNN
// parameters.
type ProducerHandle struct {
	ProducerStatement
	stmt *sql.Stmt
}

// Query runs the producer statement; args[0] must be the triggering
// entryUUID (bound to ?1) followed by the driving generator's bound
// parameter values in the order BuildProducerStatement's drivingVars
// assigned them.
func (h *ProducerHandle) Query(ctx context.Context, args ...any) (*sql.Rows, error) {
	return h.stmt.QueryContext(ctx, args...)
}

// Close releases the underlying prepared statement.
func (h *ProducerHandle) Close() error {
	return h.stmt.Close()
}
