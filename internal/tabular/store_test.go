package tabular

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/docchat-go/internal/apperr"
)

// openTestStore opens a Store in a temp directory.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "csv_database.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func writeCSV(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

const salesCSV = "\xEF\xBB\xBFregion,units,price,note\nnorth,10,2.5,first\nsouth,7,3,\nwest,12,4.25,third\n"

func TestSanitizeName(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"2024 Sales.csv":      "table_2024_sales",
		"sales.csv":           "sales",
		"My-Data (final).csv": "my_data__final",
		"___.csv":             "table_",
		"/tmp/up/Report.CSV":  "report",
		"_inventory_.csv":     "inventory",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeName(in), in)
	}
}

func TestLoadCSV_TypesAndSchema(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)

	name, err := s.LoadCSV(ctx, writeCSV(t, "Q3 Sales.csv", []byte(salesCSV)), "")
	require.NoError(t, err)
	assert.Equal(t, "q3_sales", name)

	cols, err := s.Schema(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, []Column{
		{Name: "region", Type: "TEXT"},
		{Name: "units", Type: "INTEGER"},
		{Name: "price", Type: "REAL"},
		{Name: "note", Type: "TEXT"},
	}, cols)

	assert.Equal(t,
		"Table: q3_sales\n  - region: TEXT\n  - units: INTEGER\n  - price: REAL\n  - note: TEXT",
		DescribeSchema(name, cols))

	tables, err := s.Tables(ctx)
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, "Q3 Sales.csv", tables[0].Source)
	assert.Equal(t, 3, tables[0].Rows)
}

func TestLoadCSV_Idempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)
	path := writeCSV(t, "sales.csv", []byte(salesCSV))

	_, err := s.LoadCSV(ctx, path, "")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("other\n1\n"), 0o600))

	_, err = s.LoadCSV(ctx, path, "")
	require.NoError(t, err)
	cols, err := s.Schema(ctx, "sales")
	require.NoError(t, err)
	assert.Len(t, cols, 4, "existing table is not reloaded")
}

func TestLoadCSV_Latin1(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)

	// "café" in ISO-8859-1.
	name, err := s.LoadCSV(ctx, writeCSV(t, "menu.csv", []byte("item\ncaf\xE9\n")), "")
	require.NoError(t, err)

	rows, err := s.Query(ctx, "SELECT item FROM "+name, 0)
	require.NoError(t, err)
	require.Len(t, rows.Values, 1)
	assert.Equal(t, "café", rows.Values[0][0])
}

func TestLoadCSV_HeaderCleanup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)

	name, err := s.LoadCSV(ctx, writeCSV(t, "dup.csv", []byte("a,,A,a\n1,2,3,4\n")), "")
	require.NoError(t, err)
	cols, err := s.Schema(ctx, name)
	require.NoError(t, err)

	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"a", "column_2", "A_2", "a_3"}, names)
}

func TestLoadCSV_Errors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.LoadCSV(ctx, filepath.Join(t.TempDir(), "missing.csv"), "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = s.LoadCSV(ctx, writeCSV(t, "empty.csv", nil), "")
	assert.ErrorIs(t, err, apperr.ErrPrecondition)

	_, err = s.LoadCSV(ctx, writeCSV(t, "wide.csv", []byte("a,b\n1,2,3\n")), "")
	assert.ErrorIs(t, err, apperr.ErrPrecondition)

	ok, err := s.TableExists(ctx, "wide")
	require.NoError(t, err)
	assert.False(t, ok, "failed load leaves no table")
}

func TestSchema_MissingTable(t *testing.T) {
	t.Parallel()
	_, err := openTestStore(t).Schema(context.Background(), "nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSampleRowsAndQuery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)
	name, err := s.LoadCSV(ctx, writeCSV(t, "sales.csv", []byte(salesCSV)), "")
	require.NoError(t, err)

	sample, err := s.SampleRows(ctx, name, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"region", "units", "price", "note"}, sample.Columns)
	assert.Len(t, sample.Values, 2)
	assert.Equal(t, "NULL", sample.Values[1][3])

	rows, err := s.Query(ctx, "select sum(units) as total from sales;", 0)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"29"}}, rows.Values)
	assert.Equal(t, "total\n29", rows.String())

	limited, err := s.Query(ctx, "SELECT region FROM sales ORDER BY region", 2)
	require.NoError(t, err)
	assert.True(t, limited.Truncated)
	assert.Contains(t, limited.String(), "(truncated to 2 rows)")
}

func TestQuery_RejectsWrites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)
	_, err := s.LoadCSV(ctx, writeCSV(t, "sales.csv", []byte(salesCSV)), "")
	require.NoError(t, err)

	for _, q := range []string{
		"DELETE FROM sales",
		"SELECT 1; DROP TABLE sales",
		"WITH x AS (SELECT 1) INSERT INTO sales(region) SELECT 'x'",
		"PRAGMA table_info(sales)",
		"",
	} {
		_, err := s.Query(ctx, q, 0)
		assert.ErrorIs(t, err, apperr.ErrPrecondition, q)
	}

	rows, err := s.Query(ctx, "SELECT COUNT(*) FROM sales", 0)
	require.NoError(t, err)
	assert.Equal(t, "3", rows.Values[0][0])
}

func TestQuery_KeywordsInsideLiteralsAllowed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)
	_, err := s.LoadCSV(ctx, writeCSV(t, "audit.csv",
		[]byte("action,Update,Created\nupdate,2024-01-02,yes\ndelete,2024-01-03,no\n")), "")
	require.NoError(t, err)

	cases := map[string]string{
		"string literal":      "SELECT COUNT(*) FROM audit WHERE action = 'update'",
		"escaped quote":       "SELECT COUNT(*) FROM audit WHERE action = 'update' OR action = 'it''s; update'",
		"quoted column":       `SELECT COUNT("Update") FROM audit WHERE action = 'update'`,
		"backtick column":     "SELECT COUNT(`Update`) FROM audit WHERE action = 'update'",
		"bracket column":      "SELECT COUNT([Update]) FROM audit WHERE action = 'update'",
		"trailing comment":    "SELECT COUNT(*) FROM audit WHERE action = 'update' -- drop later",
		"block comment":       "SELECT /* insert here */ COUNT(*) FROM audit WHERE action = 'update'",
		"keyword-like column": `SELECT COUNT("Created") FROM audit WHERE action = 'update'`,
	}
	for name, q := range cases {
		rows, err := s.Query(ctx, q, 0)
		require.NoError(t, err, name)
		assert.Equal(t, "1", rows.Values[0][0], name)
	}
}

func TestValidateReadOnly_KeywordsOutsideLiterals(t *testing.T) {
	t.Parallel()
	for _, q := range []string{
		"SELECT 'a'; DELETE FROM t",
		"WITH x AS (SELECT 'update') DELETE FROM t",
		"SELECT * FROM t WHERE a = 'x' UNION SELECT * FROM t; DROP TABLE t",
		"SELECT \"a\" FROM t /* c */ ; ATTACH 'x' AS y",
	} {
		_, err := ValidateReadOnly(q)
		assert.ErrorIs(t, err, apperr.ErrPrecondition, q)
	}
}

func TestOpen_AppliesPragmas(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)

	var mode string
	require.NoError(t, s.db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var timeout int
	require.NoError(t, s.db.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&timeout))
	assert.Equal(t, busyTimeoutMS, timeout)
}

func TestOpen_InMemorySkipsWAL(t *testing.T) {
	t.Parallel()
	assert.NotContains(t, dsn(":memory:"), "journal_mode")
	assert.Contains(t, dsn(":memory:"), "busy_timeout")
}

func TestQuery_ConnectionWritableAfterQuery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)
	_, err := s.Query(ctx, "SELECT 1", 0)
	require.NoError(t, err)

	_, err = s.LoadCSV(ctx, writeCSV(t, "later.csv", []byte("x\n1\n")), "")
	require.NoError(t, err, "query_only must be switched off again")
}
