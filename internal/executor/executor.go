// Package executor runs rendered queries against the analytics database.
package executor

import (
	"context"
	"time"
)

// Result is what the analytics database returned for one query.
// Rows are opaque to the compiler and passed through to the caller.
type Result struct {
	Columns       []string                 `json:"columns"`
	Rows          []map[string]interface{} `json:"rows"`
	RowCount      int                      `json:"row_count"`
	Truncated     bool                     `json:"truncated,omitempty"`
	ExecutionTime time.Duration            `json:"execution_time"`
}

// Executor runs a rendered, already sanitized SQL statement
type Executor interface {
	Execute(ctx context.Context, sql string) (*Result, error)
}
