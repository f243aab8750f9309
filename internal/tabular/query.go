package tabular

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/54b3r/docchat-go/internal/apperr"
)

// DefaultMaxRows caps Query results when maxRows <= 0.
const DefaultMaxRows = 100

// Rows is a materialised result set with values rendered as text.
type Rows struct {
	// Columns are the result column names.
	Columns []string
	// Values holds one slice per row, parallel to Columns.
	Values [][]string
	// Truncated is true when more rows existed than were returned.
	Truncated bool
}

// String renders the rows as a pipe-separated table with a header line.
func (r *Rows) String() string {
	var b strings.Builder
	b.WriteString(strings.Join(r.Columns, " | "))
	for _, row := range r.Values {
		b.WriteByte('\n')
		b.WriteString(strings.Join(row, " | "))
	}
	if len(r.Values) == 0 {
		b.WriteString("\n(no rows)")
	}
	if r.Truncated {
		fmt.Fprintf(&b, "\n(truncated to %d rows)", len(r.Values))
	}
	return b.String()
}

// SampleRows returns up to n rows of table name.
func (s *Store) SampleRows(ctx context.Context, name string, n int) (*Rows, error) {
	exists, err := s.TableExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, apperr.NotFound("tabular.SampleRows", "table %q does not exist", name)
	}
	if n <= 0 {
		n = 3
	}
	return s.query(ctx, "SELECT * FROM "+quoteIdent(name)+" LIMIT "+strconv.Itoa(n), n)
}

var (
	leadingKeyword = regexp.MustCompile(`(?i)^\s*(select|with)\b`)
	writeKeyword   = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|create|attach|detach|pragma|vacuum|reindex|analyze)\b`)
)

// ValidateReadOnly accepts a single SELECT or WITH statement, allowing one
// trailing semicolon, and rejects anything with a write keyword outside
// string literals, quoted identifiers and comments. The connection's
// query_only mode is the backstop for anything this lets through.
func ValidateReadOnly(query string) (string, error) {
	q := strings.TrimSpace(query)
	q = strings.TrimSpace(strings.TrimSuffix(q, ";"))
	if q == "" {
		return "", apperr.Precondition("tabular.Query", "empty query")
	}
	bare := maskQuoted(q)
	if strings.Contains(bare, ";") {
		return "", apperr.Precondition("tabular.Query", "only a single statement is allowed")
	}
	if !leadingKeyword.MatchString(bare) {
		return "", apperr.Precondition("tabular.Query", "only SELECT queries are allowed")
	}
	if m := writeKeyword.FindString(bare); m != "" {
		return "", apperr.Precondition("tabular.Query", "keyword %q is not allowed in a read-only query", strings.ToUpper(m))
	}
	return q, nil
}

// maskQuoted blanks the contents of string literals, quoted identifiers
// ("x", `x`, [x]) and comments so keyword checks only see SQL tokens.
// Doubled quotes inside a literal are escapes. An unterminated span is
// blanked to the end; SQLite rejects it anyway.
func maskQuoted(q string) string {
	b := []byte(q)
	for i := 0; i < len(b); i++ {
		var end string
		switch {
		case b[i] == '\'' || b[i] == '"' || b[i] == '`':
			end = string(b[i])
		case b[i] == '[':
			end = "]"
		case b[i] == '-' && i+1 < len(b) && b[i+1] == '-':
			end = "\n"
		case b[i] == '/' && i+1 < len(b) && b[i+1] == '*':
			end = "*/"
		default:
			continue
		}
		start := i + 1
		if len(end) == 2 || end == "\n" {
			start = i + 2
		}
		j := start
		for j < len(b) {
			if strings.HasPrefix(q[j:], end) {
				// '' and "" escape the delimiter inside the span.
				if len(end) == 1 && end != "]" && end != "\n" && j+1 < len(b) && b[j+1] == end[0] {
					j += 2
					continue
				}
				break
			}
			j++
		}
		for k := start; k < j && k < len(b); k++ {
			b[k] = ' '
		}
		i = j + len(end) - 1
	}
	return string(b)
}

// Query runs a validated read-only statement with the connection in
// query_only mode and returns at most maxRows rows.
func (s *Store) Query(ctx context.Context, query string, maxRows int) (*Rows, error) {
	q, err := ValidateReadOnly(query)
	if err != nil {
		return nil, err
	}
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	return s.query(ctx, q, maxRows)
}

// query runs q on a pinned connection with PRAGMA query_only enabled.
func (s *Store) query(ctx context.Context, q string, maxRows int) (*Rows, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, apperr.Storage("tabular.Query", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
		return nil, apperr.Storage("tabular.Query", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), "PRAGMA query_only = OFF")
	}()

	rows, err := conn.QueryContext(ctx, q)
	if err != nil {
		return nil, apperr.Precondition("tabular.Query", "query failed: %v", err)
	}
	defer rows.Close()
	return collect(rows, maxRows)
}

// collect drains rows into a Rows, stopping after maxRows.
func collect(rows *sql.Rows, maxRows int) (*Rows, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, apperr.Storage("tabular.Query", err)
	}
	out := &Rows{Columns: cols}

	dest := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	for rows.Next() {
		if len(out.Values) == maxRows {
			out.Truncated = true
			break
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, apperr.Storage("tabular.Query", err)
		}
		row := make([]string, len(cols))
		for i, v := range dest {
			row[i] = formatValue(v)
		}
		out.Values = append(out.Values, row)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Precondition("tabular.Query", "query failed: %v", err)
	}
	return out, nil
}

// formatValue renders a scanned SQLite value.
func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(x)
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}
