package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// database wraps a pgx pool with the two primitives every stage is built on:
// ordered statement batches and raw COPY streams.
type database struct {
	pool *pgxpool.Pool
}

func connectDatabase(ctx context.Context, dsn string) (*database, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &database{pool: pool}, nil
}

func (db *database) close() {
	db.pool.Close()
}

// execBatch runs statements in order inside a single transaction. The first
// failure aborts the whole batch; nothing before it is kept.
func (db *database) execBatch(ctx context.Context, desc string, stmts []string) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", desc, err)
	}
	defer tx.Rollback(ctx)

	for i, q := range stmts {
		if _, err := tx.Exec(ctx, q); err != nil {
			return fmt.Errorf("%s: statement %d/%d: %w\nSQL: %s", desc, i+1, len(stmts), err, q)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: commit: %w", desc, err)
	}
	return nil
}

// copyError reports a failed COPY stream into a table.
type copyError struct {
	Table string
	Entry string // archive entry being streamed, if any
	Err   error
}

func (e *copyError) Error() string {
	if e.Entry != "" {
		return fmt.Sprintf("copy %s into %s: %v", e.Entry, e.Table, e.Err)
	}
	return fmt.Sprintf("copy into %s: %v", e.Table, e.Err)
}

func (e *copyError) Unwrap() error { return e.Err }

// copyFrom streams raw CSV bytes into table via COPY FROM STDIN and returns
// the number of rows written. entry names the source for error reporting.
func (db *database) copyFrom(ctx context.Context, table tableRef, entry string, r io.Reader) (int64, error) {
	conn, err := db.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("copy into %s: acquire: %w", table, err)
	}
	defer conn.Release()

	q := fmt.Sprintf(`COPY %s FROM STDIN WITH (FORMAT csv, DELIMITER ',', QUOTE '"')`, table.qualified())
	tag, err := conn.Conn().PgConn().CopyFrom(ctx, r, q)
	if err != nil {
		return 0, &copyError{Table: table.String(), Entry: entry, Err: err}
	}
	return tag.RowsAffected(), nil
}

// rowCount returns COUNT(*) for a table.
func (db *database) rowCount(ctx context.Context, table tableRef) (int64, error) {
	var n int64
	q := "SELECT COUNT(*) FROM " + table.qualified()
	if err := db.pool.QueryRow(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// pgReservedWords are PostgreSQL reserved words that must be quoted as identifiers.
var pgReservedWords = map[string]bool{
	"all": true, "analyse": true, "analyze": true, "and": true, "any": true,
	"array": true, "as": true, "asc": true, "authorization": true, "between": true,
	"binary": true, "both": true, "case": true, "cast": true, "check": true,
	"collate": true, "column": true, "constraint": true, "create": true, "cross": true,
	"current_date": true, "current_role": true, "current_time": true,
	"current_timestamp": true, "current_user": true, "default": true, "deferrable": true,
	"desc": true, "distinct": true, "do": true, "else": true, "end": true, "except": true,
	"false": true, "fetch": true, "for": true, "foreign": true, "freeze": true,
	"from": true, "full": true, "grant": true, "group": true, "having": true,
	"ilike": true, "in": true, "initially": true, "inner": true, "intersect": true,
	"into": true, "is": true, "isnull": true, "join": true, "lateral": true,
	"leading": true, "left": true, "like": true, "limit": true, "localtime": true,
	"localtimestamp": true, "natural": true, "not": true, "notnull": true, "null": true,
	"offset": true, "on": true, "only": true, "or": true, "order": true, "outer": true,
	"overlaps": true, "placing": true, "primary": true, "references": true,
	"returning": true, "right": true, "select": true, "session_user": true,
	"similar": true, "some": true, "symmetric": true, "table": true, "then": true,
	"to": true, "trailing": true, "true": true, "union": true, "unique": true,
	"user": true, "using": true, "variadic": true, "verbose": true, "when": true,
	"where": true, "window": true, "with": true,
}

// pgNeedsQuoting reports whether a PG identifier needs quoting beyond
// reserved-word checks (e.g. contains hyphens, spaces, uppercase, etc.).
func pgNeedsQuoting(name string) bool {
	for i, r := range name {
		if r >= 'a' && r <= 'z' || r == '_' {
			continue
		}
		if i > 0 && (r >= '0' && r <= '9' || r == '$') {
			continue
		}
		return true
	}
	return false
}

// pgIdent returns a PG-safe identifier, quoting reserved words and names
// that contain characters invalid in unquoted identifiers.
func pgIdent(name string) string {
	if pgReservedWords[name] || pgNeedsQuoting(name) {
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	}
	return name
}
