// Package tabular loads CSV files into a single SQLite database, one table
// per file, and serves read-only schema, sample and query access to them for
// the tabular agent.
package tabular

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/54b3r/docchat-go/internal/apperr"
	"github.com/54b3r/docchat-go/internal/logging"
)

// catalogTable records every CSV loaded. Sanitized names never start with
// an underscore, so it cannot collide with a user table.
const catalogTable = "_docchat_tables"

// Column describes one table column.
type Column struct {
	// Name is the column name.
	Name string
	// Type is the declared SQLite type: INTEGER, REAL or TEXT.
	Type string
}

// TableInfo is one catalog entry.
type TableInfo struct {
	// Name is the table name.
	Name string
	// Source is the CSV file name the table was loaded from.
	Source string
	// Rows is the number of rows loaded.
	Rows int
	// LoadedAt is when the table was loaded.
	LoadedAt time.Time
}

// Store is a SQLite database of CSV-backed tables. Safe for concurrent use;
// writes are serialised by the single connection.
type Store struct {
	// db is the underlying connection pool, limited to one connection.
	db *sql.DB
	// path is the database file, or ":memory:".
	path string
}

// Open opens (or creates) the database at path and runs the catalog
// migration. Use ":memory:" in tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, apperr.Storage("tabular.Open", err)
		}
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, apperr.Storage("tabular.Open", fmt.Errorf("open %s: %w", path, err))
	}
	// One connection: SQLite allows a single writer, and query_only toggles
	// in Query must apply to the connection that runs the statement.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// busyTimeoutMS is how long a connection waits on a lock held by another
// process (the CLI next to a running server) before failing with SQLITE_BUSY.
const busyTimeoutMS = 5000

// dsn builds a modernc.org/sqlite DSN. Pragmas are applied by the driver on
// every new connection; WAL is skipped for in-memory databases, which have
// no journal file.
func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeoutMS))
	if path != ":memory:" {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	return path + "?" + q.Encode()
}

// migrate creates the catalog if it does not already exist.
func (s *Store) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS ` + catalogTable + ` (
    name       TEXT    PRIMARY KEY,
    source     TEXT    NOT NULL,
    row_count  INTEGER NOT NULL,
    loaded_at  INTEGER NOT NULL  -- Unix timestamp (seconds)
);`
	if _, err := s.db.Exec(ddl); err != nil {
		return apperr.Storage("tabular.migrate", err)
	}
	return nil
}

// Path returns the database location.
func (s *Store) Path() string { return s.path }

// Ping checks the database is usable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("tabular: ping: %w", err)
	}
	return nil
}

// Close releases the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("tabular: close: %w", err)
	}
	return nil
}

var (
	nonIdent      = regexp.MustCompile(`[^A-Za-z0-9_]`)
	validTableRef = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
)

// SanitizeName derives a table name from a file name: drop the extension,
// replace anything outside [A-Za-z0-9_] with '_', trim surrounding
// underscores, prefix "table_" when the result is empty or starts with a
// digit, and lower-case. "2024 Sales.csv" becomes "table_2024_sales".
func SanitizeName(filename string) string {
	base := filepath.Base(filename)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	name := strings.Trim(nonIdent.ReplaceAllString(base, "_"), "_")
	if name == "" || (name[0] >= '0' && name[0] <= '9') {
		name = "table_" + name
	}
	return strings.ToLower(name)
}

// quoteIdent quotes a SQLite identifier.
func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// TableExists reports whether a user table named name exists.
func (s *Store) TableExists(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	if err != nil {
		return false, apperr.Storage("tabular.TableExists", err)
	}
	return n > 0, nil
}

// Tables lists catalogued tables by name.
func (s *Store) Tables(ctx context.Context) ([]TableInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, source, row_count, loaded_at FROM `+catalogTable+` ORDER BY name`)
	if err != nil {
		return nil, apperr.Storage("tabular.Tables", err)
	}
	defer rows.Close()

	var out []TableInfo
	for rows.Next() {
		var ti TableInfo
		var ts int64
		if err := rows.Scan(&ti.Name, &ti.Source, &ti.Rows, &ts); err != nil {
			return nil, apperr.Storage("tabular.Tables", err)
		}
		ti.LoadedAt = time.Unix(ts, 0)
		out = append(out, ti)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("tabular.Tables", err)
	}
	return out, nil
}

// LoadCSV loads the CSV at path into table name (derived from the file name
// when empty) and returns the table name. An existing table is left as is.
// The drop, create and inserts run in one transaction, so a failed load
// leaves no partial table.
func (s *Store) LoadCSV(ctx context.Context, path, name string) (string, error) {
	if name == "" {
		name = SanitizeName(path)
	}
	if !validTableRef.MatchString(name) {
		return "", apperr.Precondition("tabular.LoadCSV", "invalid table name %q", name)
	}
	log := logging.FromContext(ctx).With(slog.String("table", name))

	exists, err := s.TableExists(ctx, name)
	if err != nil {
		return "", err
	}
	if exists {
		log.Debug("tabular: table already loaded")
		return name, nil
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", apperr.NotFound("tabular.LoadCSV", "CSV file not found: %s", path)
	}
	if err != nil {
		return "", apperr.Storage("tabular.LoadCSV", err)
	}

	tbl, err := parseCSV(raw)
	if err != nil {
		return "", err
	}

	start := time.Now()
	if err := s.insert(ctx, name, filepath.Base(path), tbl); err != nil {
		return "", err
	}
	log.Info("tabular: CSV loaded",
		slog.String("file", filepath.Base(path)),
		slog.Int("columns", len(tbl.columns)),
		slog.Int("rows", len(tbl.rows)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return name, nil
}

// insert writes tbl into name, replacing any table of that name.
func (s *Store) insert(ctx context.Context, name, source string, tbl *csvTable) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Storage("tabular.LoadCSV", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+quoteIdent(name)); err != nil {
		return apperr.Storage("tabular.LoadCSV", fmt.Errorf("drop: %w", err))
	}

	defs := make([]string, len(tbl.columns))
	marks := make([]string, len(tbl.columns))
	for i, c := range tbl.columns {
		defs[i] = quoteIdent(c.Name) + " " + c.Type
		marks[i] = "?"
	}
	if _, err = tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(name), strings.Join(defs, ", "))); err != nil {
		return apperr.Storage("tabular.LoadCSV", fmt.Errorf("create: %w", err))
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)", quoteIdent(name), strings.Join(marks, ", ")))
	if err != nil {
		return apperr.Storage("tabular.LoadCSV", fmt.Errorf("prepare insert: %w", err))
	}
	defer stmt.Close()

	args := make([]any, len(tbl.columns))
	for _, row := range tbl.rows {
		for i := range tbl.columns {
			args[i] = tbl.value(row, i)
		}
		if _, err = stmt.ExecContext(ctx, args...); err != nil {
			return apperr.Storage("tabular.LoadCSV", fmt.Errorf("insert: %w", err))
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO `+catalogTable+` (name, source, row_count, loaded_at) VALUES (?, ?, ?, ?)`,
		name, source, len(tbl.rows), time.Now().Unix())
	if err != nil {
		return apperr.Storage("tabular.LoadCSV", fmt.Errorf("catalog: %w", err))
	}

	if err = tx.Commit(); err != nil {
		return apperr.Storage("tabular.LoadCSV", fmt.Errorf("commit: %w", err))
	}
	return nil
}

// Schema returns the columns of table name in declaration order.
func (s *Store) Schema(ctx context.Context, name string) ([]Column, error) {
	exists, err := s.TableExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, apperr.NotFound("tabular.Schema", "table %q does not exist", name)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT name, type FROM pragma_table_info(?)`, name)
	if err != nil {
		return nil, apperr.Storage("tabular.Schema", err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.Type); err != nil {
			return nil, apperr.Storage("tabular.Schema", err)
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("tabular.Schema", err)
	}
	return cols, nil
}

// DescribeSchema renders cols as
//
//	Table: name
//	  - col: TYPE
func DescribeSchema(name string, cols []Column) string {
	var b strings.Builder
	b.WriteString("Table: ")
	b.WriteString(name)
	for _, c := range cols {
		fmt.Fprintf(&b, "\n  - %s: %s", c.Name, c.Type)
	}
	return b.String()
}
