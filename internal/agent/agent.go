// Package agent answers questions about a CSV-backed table with an Eino ReAct
// agent. The agent sees the table's schema and sample rows up front and may
// call the read-only sql_db_schema and sql_db_query tools, scoped to that one
// table, until it can answer. The bound agent is reused while consecutive
// questions target the same table.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docchat-go/internal/apperr"
	"github.com/54b3r/docchat-go/internal/logging"
	"github.com/54b3r/docchat-go/internal/tools"
)

// Defaults for Config fields left zero.
const (
	DefaultMaxIterations = 10
	DefaultTimeout       = 30 * time.Second
	DefaultSampleRows    = 3
)

// Tables is the database surface the agent needs.
type Tables interface {
	tools.Querier
	// TableExists reports whether a table is present.
	TableExists(ctx context.Context, name string) (bool, error)
}

// Config holds the dependencies required to construct a Tabular agent.
type Config struct {
	// ChatModel is the tool-calling LLM backend.
	ChatModel model.ToolCallingChatModel
	// Tables is the tabular store.
	Tables Tables
	// MaxIterations bounds model/tool round trips per question.
	MaxIterations int
	// Timeout bounds one Answer call.
	Timeout time.Duration
	// SampleRows is the number of rows shown in the prompt and by sql_db_schema.
	SampleRows int
	// MaxRows caps rows returned per sql_db_query call.
	MaxRows int
}

// Result is the outcome of one Answer call. Text is always set; on failure
// it carries the user-facing error message and Err the classified cause.
type Result struct {
	// Text is the answer, or an error message.
	Text string
	// Table is the table the question was asked of.
	Table string
	// Err is NotFound when the table is absent and Provider when the agent
	// run failed.
	Err error
}

// binding is an agent bound to one table.
type binding struct {
	table  string
	prompt string
	runner *react.Agent
}

// Tabular answers questions about one table at a time.
type Tabular struct {
	// cfg holds the resolved configuration.
	cfg Config

	// mu guards bound.
	mu sync.Mutex
	// bound is the most recently bound agent, nil before the first question.
	bound *binding
	// binds counts agent constructions.
	binds int
}

// New validates cfg, applies defaults and returns a Tabular agent.
func New(cfg Config) (*Tabular, error) {
	if cfg.ChatModel == nil {
		return nil, fmt.Errorf("agent: ChatModel must not be nil")
	}
	if cfg.Tables == nil {
		return nil, fmt.Errorf("agent: Tables must not be nil")
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.SampleRows <= 0 {
		cfg.SampleRows = DefaultSampleRows
	}
	return &Tabular{cfg: cfg}, nil
}

// Answer runs the agent against table. It never returns a Go error: a
// missing table or a failed run is reported through Result.
func (a *Tabular) Answer(ctx context.Context, table, question string) Result {
	ctx, log := logging.With(ctx, slog.String("table", table))
	start := time.Now()

	exists, err := a.cfg.Tables.TableExists(ctx, table)
	if err != nil {
		return a.failed(ctx, table, err)
	}
	if !exists {
		return Result{
			Text:  fmt.Sprintf("Error: Table '%s' does not exist in the database.", table),
			Table: table,
			Err:   apperr.NotFound("agent.Answer", "table %q does not exist", table),
		}
	}

	b, err := a.bind(ctx, table)
	if err != nil {
		return a.failed(ctx, table, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	out, err := b.runner.Generate(runCtx, []*schema.Message{
		schema.SystemMessage(b.prompt),
		schema.UserMessage(question),
	})
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("agent stopped after %s: %w", a.cfg.Timeout, err)
		}
		return a.failed(ctx, table, err)
	}

	log.Info("agent: answered",
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return Result{Text: strings.TrimSpace(out.Content), Table: table}
}

// failed builds the Result for a failed run.
func (a *Tabular) failed(ctx context.Context, table string, err error) Result {
	logging.FromContext(ctx).Warn("agent: run failed", slog.Any("error", err))
	return Result{
		Text:  "Error processing SQL query: " + err.Error(),
		Table: table,
		Err:   apperr.Provider("agent.Answer", err),
	}
}

// bind returns the agent for table, constructing one when the table differs
// from the last one bound.
func (a *Tabular) bind(ctx context.Context, table string) (*binding, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.bound != nil && a.bound.table == table {
		return a.bound, nil
	}

	description, err := tools.Describe(ctx, a.cfg.Tables, table, a.cfg.SampleRows)
	if err != nil {
		return nil, err
	}
	runner, err := react.NewAgent(ctx, &react.AgentConfig{
		ToolCallingModel: a.cfg.ChatModel,
		ToolsConfig: compose.ToolsNodeConfig{
			Tools: tools.ForTable(a.cfg.Tables, tools.Scope{
				Table:      table,
				SampleRows: a.cfg.SampleRows,
				MaxRows:    a.cfg.MaxRows,
			}),
		},
		// Each iteration is one model step and one tools step, plus the
		// final answering step.
		MaxStep: 2*a.cfg.MaxIterations + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ReAct agent: %w", err)
	}

	a.bound = &binding{table: table, prompt: systemPrompt(table, description), runner: runner}
	a.binds++
	logging.FromContext(ctx).Debug("agent: bound to table")
	return a.bound, nil
}

// Table returns the currently bound table, or "" before the first question.
func (a *Tabular) Table() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bound == nil {
		return ""
	}
	return a.bound.table
}
