package executor

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/seanankenbruck/analytics-nlq/internal/errors"
)

// SQLConfig bounds each execution
type SQLConfig struct {
	StatementTimeout time.Duration
	MaxRows          int
}

// DefaultSQLConfig returns production defaults
func DefaultSQLConfig() SQLConfig {
	return SQLConfig{
		StatementTimeout: 30 * time.Second,
		MaxRows:          10000,
	}
}

// SQLExecutor runs queries through database/sql inside a read-only transaction
type SQLExecutor struct {
	db     *sql.DB
	config SQLConfig
}

// NewSQLExecutor creates an executor over db
func NewSQLExecutor(db *sql.DB, config SQLConfig) *SQLExecutor {
	defaults := DefaultSQLConfig()
	if config.StatementTimeout <= 0 {
		config.StatementTimeout = defaults.StatementTimeout
	}
	if config.MaxRows <= 0 {
		config.MaxRows = defaults.MaxRows
	}
	return &SQLExecutor{db: db, config: config}
}

// Execute runs query and collects at most MaxRows rows
func (e *SQLExecutor) Execute(ctx context.Context, query string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.StatementTimeout)
	defer cancel()

	start := time.Now()

	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, errors.NewExecutionError(fmt.Errorf("failed to begin read-only transaction: %w", err))
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.NewExecutionError(err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.NewExecutionError(fmt.Errorf("failed to read result columns: %w", err))
	}

	result := &Result{
		Columns: columns,
		Rows:    make([]map[string]interface{}, 0),
	}

	for rows.Next() {
		if result.RowCount >= e.config.MaxRows {
			result.Truncated = true
			break
		}

		values := make([]interface{}, len(columns))
		pointers := make([]interface{}, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, errors.NewExecutionError(fmt.Errorf("failed to scan result row: %w", err))
		}

		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			// drivers hand back text columns as []byte
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		result.Rows = append(result.Rows, row)
		result.RowCount++
	}

	if err := rows.Err(); err != nil {
		return nil, errors.NewExecutionError(fmt.Errorf("error iterating result rows: %w", err))
	}
	rows.Close()

	if err := tx.Commit(); err != nil {
		return nil, errors.NewExecutionError(fmt.Errorf("failed to close read-only transaction: %w", err))
	}

	result.ExecutionTime = time.Since(start)
	return result, nil
}
