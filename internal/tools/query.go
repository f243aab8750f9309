package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// QueryTool runs a read-only SELECT against the bound table.
type QueryTool struct {
	// q reads the database.
	q Querier
	// scope is the bound table.
	scope Scope
}

// queryInput is the JSON input for QueryTool.
type queryInput struct {
	// Query is a single SQLite SELECT statement.
	Query string `json:"query"`
}

// NewQueryTool constructs a QueryTool bound to scope.
func NewQueryTool(q Querier, scope Scope) *QueryTool {
	return &QueryTool{q: q, scope: scope}
}

// Name returns the tool name registered with the agent.
func (t *QueryTool) Name() string { return "sql_db_query" }

// Description returns the LLM-facing description of this tool.
func (t *QueryTool) Description() string {
	return fmt.Sprintf("Runs one read-only SQLite SELECT statement against table %q and returns the rows. "+
		"At most %d rows are returned; aggregate or add LIMIT for large results. "+
		"If the query fails, read the error, fix the query and try again.", t.scope.Table, t.scope.MaxRows)
}

// Info returns the Eino tool metadata including the JSON input schema.
func (t *QueryTool) Info(context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: t.Name(),
		Desc: t.Description(),
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Type:     schema.String,
				Desc:     "A single SQLite SELECT statement.",
				Required: true,
			},
		}),
	}, nil
}

// InvokableRun checks the query stays within the bound table and runs it.
// Failures are returned as text so the model can correct itself.
func (t *QueryTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var input queryInput
	if err := json.Unmarshal([]byte(argumentsInJSON), &input); err != nil {
		return observation(fmt.Errorf("invalid input: %w", err)), nil
	}
	if strings.TrimSpace(input.Query) == "" {
		return observation(fmt.Errorf("query is required")), nil
	}
	if err := CheckScope(input.Query, t.scope.Table); err != nil {
		return observation(err), nil
	}

	rows, err := t.q.Query(ctx, input.Query, t.scope.MaxRows)
	if err != nil {
		return observation(err), nil
	}
	return rows.String(), nil
}

var (
	// tableRef matches the identifier after FROM or JOIN, optionally quoted.
	tableRef = regexp.MustCompile("(?i)\\b(?:from|join)\\s+[\"`\\[]?([A-Za-z_][A-Za-z0-9_]*)")
	// fromList captures a comma-separated FROM clause up to the next clause keyword.
	fromList = regexp.MustCompile(`(?is)\bfrom\s+(.+?)(?:\bwhere\b|\bgroup\b|\border\b|\blimit\b|\b(?:left|right|inner|outer|cross|natural)?\s*join\b|\bunion\b|\bhaving\b|\bwindow\b|\)|;|$)`)
	// ident matches the leading identifier of a FROM list item.
	ident = regexp.MustCompile("^\\s*[\"`\\[]?([A-Za-z_][A-Za-z0-9_]*)")
	// cteName matches a common table expression name.
	cteName = regexp.MustCompile(`(?i)(?:\bwith|,)\s*(?:recursive\s+)?([A-Za-z_][A-Za-z0-9_]*)\s+as\s*\(`)
)

// CheckScope rejects a query that reads any table other than table. Names
// defined as common table expressions in the query are allowed.
func CheckScope(query, table string) error {
	ctes := make(map[string]bool)
	for _, m := range cteName.FindAllStringSubmatch(query, -1) {
		ctes[strings.ToLower(m[1])] = true
	}
	allowed := func(name string) bool {
		n := strings.ToLower(name)
		return n == strings.ToLower(table) || ctes[n]
	}

	for _, m := range tableRef.FindAllStringSubmatch(query, -1) {
		if !allowed(m[1]) {
			return fmt.Errorf("table %q is not available; only %q can be queried", m[1], table)
		}
	}
	for _, m := range fromList.FindAllStringSubmatch(query, -1) {
		for _, item := range strings.Split(m[1], ",") {
			id := ident.FindStringSubmatch(item)
			if id != nil && !allowed(id[1]) {
				return fmt.Errorf("table %q is not available; only %q can be queried", id[1], table)
			}
		}
	}
	return nil
}
