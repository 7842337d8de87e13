package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Session is one job's unit of work: a lazily opened transaction that is
// committed or rolled back explicitly, plus the unique-or-create cache that
// lives exactly as long as the session.
type Session struct {
	db    *DB
	tx    *sqlx.Tx
	cache *UniqueCache
}

func (d *DB) NewSession() *Session {
	return &Session{db: d, cache: newUniqueCache()}
}

func (s *Session) DB() *DB { return s.db }

func (s *Session) begin(ctx context.Context) (*sqlx.Tx, error) {
	if s.tx != nil {
		return s.tx, nil
	}
	tx, err := s.db.sql.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	s.tx = tx
	return tx, nil
}

func (s *Session) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	return tx.ExecContext(ctx, tx.Rebind(query), args...)
}

func (s *Session) get(ctx context.Context, dest any, query string, args ...any) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	return tx.GetContext(ctx, dest, tx.Rebind(query), args...)
}

func (s *Session) selectx(ctx context.Context, dest any, query string, args ...any) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	return tx.SelectContext(ctx, dest, tx.Rebind(query), args...)
}

// selectIn expands slice arguments for IN (?) clauses before selecting.
func (s *Session) selectIn(ctx context.Context, dest any, query string, args ...any) error {
	q, expanded, err := sqlx.In(query, args...)
	if err != nil {
		return err
	}
	return s.selectx(ctx, dest, q, expanded...)
}

func (s *Session) query(ctx context.Context, query string, args ...any) (*sqlx.Rows, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	return tx.QueryxContext(ctx, tx.Rebind(query), args...)
}

// Commit makes pending work durable. Cached unique rows stay valid.
func (s *Session) Commit() error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Commit(); err != nil {
		s.cache.clear()
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback discards pending work and every cached unique row, since rows
// inserted in the discarded transaction no longer exist.
func (s *Session) Rollback() error {
	s.cache.clear()
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// Close rolls back anything uncommitted and drops the cache.
func (s *Session) Close() error {
	err := s.Rollback()
	s.cache = newUniqueCache()
	return err
}

var stagingDDL = map[string]string{
	"stg_follow": `CREATE TABLE stg_follow (
	  source_user_id BIGINT NOT NULL,
	  target_user_id BIGINT NOT NULL,
	  PRIMARY KEY (source_user_id, target_user_id)
	)`,
	"stg_user": `CREATE TABLE stg_user (
	  user_id BIGINT NOT NULL PRIMARY KEY
	)`,
}

// ClearFast empties a staging table by dropping and recreating it, then
// commits. Only for tables that hold no durable data.
func (s *Session) ClearFast(ctx context.Context, table string) error {
	ddl, ok := stagingDDL[table]
	if !ok {
		return fmt.Errorf("clear fast: %s is not a staging table", table)
	}
	if _, err := s.exec(ctx, `DROP TABLE IF EXISTS `+table); err != nil {
		return fmt.Errorf("clear fast %s: %w", table, err)
	}
	if _, err := s.exec(ctx, ddl); err != nil {
		return fmt.Errorf("clear fast %s: %w", table, err)
	}
	return s.Commit()
}

// IsUniqueViolation reports whether err came from a unique or primary key constraint.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		switch sqErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return strings.Contains(sqErr.Error(), "UNIQUE constraint failed")
		}
	}
	return false
}

// placeholders returns "(?),(?)..." style groups for multi-row inserts.
func placeholders(rows, cols int) string {
	group := "(" + strings.TrimSuffix(strings.Repeat("?,", cols), ",") + ")"
	return strings.TrimSuffix(strings.Repeat(group+",", rows), ",")
}
