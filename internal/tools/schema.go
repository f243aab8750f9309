package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docchat-go/internal/tabular"
)

// SchemaTool describes the bound table: columns, types and sample rows.
type SchemaTool struct {
	// q reads the database.
	q Querier
	// scope is the bound table.
	scope Scope
}

// schemaInput is the JSON input for SchemaTool.
type schemaInput struct {
	// Table is the table to describe; defaults to the bound table.
	Table string `json:"table,omitempty"`
}

// NewSchemaTool constructs a SchemaTool bound to scope.
func NewSchemaTool(q Querier, scope Scope) *SchemaTool {
	return &SchemaTool{q: q, scope: scope}
}

// Name returns the tool name registered with the agent.
func (t *SchemaTool) Name() string { return "sql_db_schema" }

// Description returns the LLM-facing description of this tool.
func (t *SchemaTool) Description() string {
	return fmt.Sprintf("Returns the columns, types and %d sample rows of table %q. "+
		"Call this before writing a query if you are unsure of column names.", t.scope.SampleRows, t.scope.Table)
}

// Info returns the Eino tool metadata including the JSON input schema.
func (t *SchemaTool) Info(context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: t.Name(),
		Desc: t.Description(),
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"table": {
				Type: schema.String,
				Desc: fmt.Sprintf("Table name. Only %q is available.", t.scope.Table),
			},
		}),
	}, nil
}

// InvokableRun describes the table. Failures are returned as text.
func (t *SchemaTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var input schemaInput
	if argumentsInJSON != "" {
		if err := json.Unmarshal([]byte(argumentsInJSON), &input); err != nil {
			return observation(fmt.Errorf("invalid input: %w", err)), nil
		}
	}
	if input.Table != "" && input.Table != t.scope.Table {
		return observation(fmt.Errorf("table %q is not available; only %q can be queried", input.Table, t.scope.Table)), nil
	}

	return Describe(ctx, t.q, t.scope.Table, t.scope.SampleRows)
}

// Describe renders the schema of table followed by n sample rows. It is also
// used to seed the agent's system prompt.
func Describe(ctx context.Context, q Querier, table string, n int) (string, error) {
	cols, err := q.Schema(ctx, table)
	if err != nil {
		return "", fmt.Errorf("sql_db_schema: %w", err)
	}
	sample, err := q.SampleRows(ctx, table, n)
	if err != nil {
		return "", fmt.Errorf("sql_db_schema: %w", err)
	}
	return fmt.Sprintf("%s\n\nSample rows:\n%s", tabular.DescribeSchema(table, cols), sample), nil
}
