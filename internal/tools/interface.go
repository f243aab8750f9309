// Package tools defines the read-only database tools the tabular agent can
// call. Every tool is bound to exactly one table: it can describe that table
// and run SELECT queries against it, and nothing else. Tools satisfy Eino's
// tool.InvokableTool so they can be registered directly with a ReAct agent.
package tools

import (
	"context"

	"github.com/cloudwego/eino/components/tool"

	"github.com/54b3r/docchat-go/internal/tabular"
)

// TableTool is the interface all table tools satisfy in addition to Eino's.
type TableTool interface {
	tool.InvokableTool

	// Name returns the unique tool name registered with the agent.
	Name() string

	// Description returns the LLM-facing description sent with the schema.
	Description() string
}

// Querier is the slice of tabular.Store the tools use.
type Querier interface {
	// Schema returns the columns of a table.
	Schema(ctx context.Context, name string) ([]tabular.Column, error)
	// SampleRows returns the first n rows of a table.
	SampleRows(ctx context.Context, name string, n int) (*tabular.Rows, error)
	// Query runs a read-only statement.
	Query(ctx context.Context, query string, maxRows int) (*tabular.Rows, error)
}

var _ Querier = (*tabular.Store)(nil)

// Scope is the table a tool set is bound to.
type Scope struct {
	// Table is the only table the tools may read.
	Table string
	// SampleRows is the number of rows sql_db_schema shows (default 3).
	SampleRows int
	// MaxRows caps sql_db_query results (default tabular.DefaultMaxRows).
	MaxRows int
}

// ForTable returns the schema and query tools bound to scope.Table.
func ForTable(q Querier, scope Scope) []tool.BaseTool {
	if scope.SampleRows <= 0 {
		scope.SampleRows = 3
	}
	if scope.MaxRows <= 0 {
		scope.MaxRows = tabular.DefaultMaxRows
	}
	return []tool.BaseTool{
		NewSchemaTool(q, scope),
		NewQueryTool(q, scope),
	}
}

// observation formats a tool failure as text for the model. Returning the
// failure as output, not as an error, lets the agent read it and retry.
func observation(err error) string {
	return "Error: " + err.Error()
}
