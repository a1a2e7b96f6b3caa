package executor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/seanankenbruck/analytics-nlq/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLExecutor_Execute(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"period", "region", "revenue"}).
		AddRow([]byte("2025-01-01"), "emea", 1200.5).
		AddRow([]byte("2025-01-02"), "apac", 980.0)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT period, region, revenue FROM orders").WillReturnRows(rows)
	mock.ExpectCommit()

	exec := NewSQLExecutor(db, SQLConfig{})
	result, err := exec.Execute(context.Background(), "SELECT period, region, revenue FROM orders")
	require.NoError(t, err)

	assert.Equal(t, []string{"period", "region", "revenue"}, result.Columns)
	assert.Equal(t, 2, result.RowCount)
	assert.False(t, result.Truncated)
	assert.Equal(t, "2025-01-01", result.Rows[0]["period"])
	assert.Equal(t, "apac", result.Rows[1]["region"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLExecutor_TruncatesAtMaxRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"n"})
	for i := 0; i < 5; i++ {
		rows.AddRow(i)
	}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT n FROM orders").WillReturnRows(rows)
	mock.ExpectCommit()

	exec := NewSQLExecutor(db, SQLConfig{MaxRows: 3})
	result, err := exec.Execute(context.Background(), "SELECT n FROM orders")
	require.NoError(t, err)

	assert.Equal(t, 3, result.RowCount)
	assert.Len(t, result.Rows, 3)
	assert.True(t, result.Truncated)
}

func TestSQLExecutor_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT").WillReturnError(fmt.Errorf("relation \"orders\" does not exist"))
	mock.ExpectRollback()

	exec := NewSQLExecutor(db, SQLConfig{})
	_, err = exec.Execute(context.Background(), "SELECT 1 FROM orders")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeExecutionFailed))
	assert.Contains(t, err.Error(), "does not exist")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLExecutor_BeginError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin().WillReturnError(fmt.Errorf("connection refused"))

	exec := NewSQLExecutor(db, SQLConfig{})
	_, err = exec.Execute(context.Background(), "SELECT 1 FROM orders")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeExecutionFailed))
}

func TestSQLExecutor_StatementTimeout(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT").
		WillDelayFor(200 * time.Millisecond).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))

	exec := NewSQLExecutor(db, SQLConfig{StatementTimeout: 20 * time.Millisecond})
	_, err = exec.Execute(context.Background(), "SELECT n FROM orders")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeExecutionFailed))
}

func TestNewSQLExecutor_Defaults(t *testing.T) {
	exec := NewSQLExecutor(nil, SQLConfig{StatementTimeout: -1})
	assert.Equal(t, DefaultSQLConfig(), exec.config)
}
