// Package sqlstore implements §4.5: the relational translation of a
// compiled script into an embedded sqlite3 database — one gen_<linehash>
// table per generator, the drv_all dedup table, the syncrepl_cookie table,
// and the prepared statements that drive the change router and emitter.
//
// Grounded on squeal.c, whose CREATE TABLE/TRIGGER text and prepared
// statement SQL this package reproduces faithfully.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/arpa2/pulley/internal/lexhash"
	"github.com/arpa2/pulley/internal/script"
)

// Store wraps the embedded database for one loaded script.
type Store struct {
	db *sql.DB

	dedupGet *sql.Stmt
	dedupInc *sql.Stmt
	dedupDec *sql.Stmt
}

// Open opens (creating if necessary) the database for a script identified
// by its whole-script hash. dbDir empty means in-memory, matching
// squeal_open_in_dbdir's fallback when no dbdir is configured.
func Open(ctx context.Context, dbDir string, whole lexhash.Hash) (*Store, error) {
	dsn := "file::memory:?cache=shared"
	if dbDir != "" {
		dsn = fmt.Sprintf("file:%s/pulley_%08x.sqlite3", dbDir, uint32(whole))
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", dsn, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; one conn avoids SQLITE_BUSY

	s := &Store{db: db}
	if err := s.createCoreTables(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.prepareDedupStatements(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle and its prepared statements.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for callers that need ad hoc queries
// beyond the prepared set.
func (s *Store) DB() *sql.DB {
	return s.db
}

// createCoreTables creates drv_all (with its zero-cleanup trigger) and
// syncrepl_cookie, matching squeal.c's schema text exactly.
func (s *Store) createCoreTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS drv_all (
			out_hash   INTEGER PRIMARY KEY,
			out_repeat INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TRIGGER IF NOT EXISTS drv_all_cleanup
			AFTER UPDATE OF out_repeat ON drv_all
			WHEN new.out_repeat <= 0
		BEGIN
			DELETE FROM drv_all WHERE out_hash = old.out_hash;
		END`,
		`CREATE TABLE IF NOT EXISTS syncrepl_cookie (
			timestamp INTEGER PRIMARY KEY,
			cookie    BLOB
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlstore: create core tables: %w", err)
		}
	}
	return nil
}

func (s *Store) prepareDedupStatements(ctx context.Context) (err error) {
	if s.dedupGet, err = s.db.PrepareContext(ctx,
		`SELECT out_repeat FROM drv_all WHERE out_hash = ?`); err != nil {
		return fmt.Errorf("sqlstore: prepare dedup get: %w", err)
	}
	if s.dedupInc, err = s.db.PrepareContext(ctx,
		`INSERT INTO drv_all(out_hash, out_repeat) VALUES (?, 1)
		 ON CONFLICT(out_hash) DO UPDATE SET out_repeat = out_repeat + 1`); err != nil {
		return fmt.Errorf("sqlstore: prepare dedup inc: %w", err)
	}
	if s.dedupDec, err = s.db.PrepareContext(ctx,
		`UPDATE drv_all SET out_repeat = out_repeat - 1 WHERE out_hash = ?`); err != nil {
		return fmt.Errorf("sqlstore: prepare dedup dec: %w", err)
	}
	return nil
}

// DedupGet returns the current repeat count for a tuple fingerprint, or 0
// if the tuple has never been seen (matching drv_all's implicit-zero rows:
// the zero-cleanup trigger deletes a row the instant its count reaches 0).
func (s *Store) DedupGet(ctx context.Context, outHash uint64) (int64, error) {
	var n int64
	err := s.dedupGet.QueryRowContext(ctx, int64(outHash)).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return n, err
}

// DedupInc increments (or creates at 1) the repeat count for outHash.
func (s *Store) DedupInc(ctx context.Context, outHash uint64) error {
	_, err := s.dedupInc.ExecContext(ctx, int64(outHash))
	return err
}

// DedupDec decrements the repeat count for outHash; the zero-cleanup
// trigger removes the row once it reaches zero.
func (s *Store) DedupDec(ctx context.Context, outHash uint64) error {
	_, err := s.dedupDec.ExecContext(ctx, int64(outHash))
	return err
}

// CreateGeneratorTable creates the gen_<linehash> table for g and its
// entryUUID index, one var_<name> BLOB column per variable g binds
// (squeal.c: "entryUUID CHAR(36), var_<name> BLOB NOT NULL, ...").
func (s *Store) CreateGeneratorTable(ctx context.Context, g script.GenNum, lineHash lexhash.Hash, vars *script.VarTable, members []script.VarNum) error {
	table := GeneratorTableName(g, lineHash)

	cols := "entryUUID CHAR(36) NOT NULL"
	for _, v := range members {
		cols += fmt.Sprintf(", var_%s BLOB NOT NULL", vars.Get(v).Name)
	}

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s)`, table, cols)); err != nil {
		return fmt.Errorf("sqlstore: create %s: %w", table, err)
	}
	idx := fmt.Sprintf("idx_%s_uuid", table)
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s(entryUUID)`, idx, table)); err != nil {
		return fmt.Errorf("sqlstore: create index %s: %w", idx, err)
	}
	return nil
}

// GeneratorTableName returns the gen_<linehash> table name for a generator,
// matching squeal.c's naming.
func GeneratorTableName(g script.GenNum, lineHash lexhash.Hash) string {
	return fmt.Sprintf("gen_%08x", uint32(lineHash))
}
