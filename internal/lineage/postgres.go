package lineage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/seanankenbruck/analytics-nlq/internal/errors"
)

// PostgresStore keeps lineage in the query_lineage table as JSONB
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store over an open connection pool
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Save inserts g, replacing any earlier graph for the same query
func (s *PostgresStore) Save(ctx context.Context, g *Graph) error {
	doc, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("failed to marshal lineage graph: %w", err)
	}

	query := `
		INSERT INTO query_lineage (query_id, tenant_id, template_id, complexity, row_count, execution_time_ms, graph, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (query_id) DO UPDATE SET
			complexity = EXCLUDED.complexity,
			row_count = EXCLUDED.row_count,
			execution_time_ms = EXCLUDED.execution_time_ms,
			graph = EXCLUDED.graph
	`

	m := g.Metadata
	_, err = s.db.ExecContext(ctx, query,
		m.QueryID,
		m.TenantID,
		m.TemplateID,
		string(m.Complexity),
		m.RowCount,
		m.ExecutionTimeMs,
		doc,
		m.CreatedAt,
	)
	if err != nil {
		return errors.NewDatabaseQueryError(err, "save lineage")
	}
	return nil
}

// Get returns the graph for queryID if it belongs to tenantID
func (s *PostgresStore) Get(ctx context.Context, tenantID, queryID string) (*Graph, error) {
	query := `
		SELECT graph
		FROM query_lineage
		WHERE tenant_id = $1 AND query_id = $2
	`

	var doc []byte
	err := s.db.QueryRowContext(ctx, query, tenantID, queryID).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, errors.NewLineageNotFoundError(queryID)
	}
	if err != nil {
		return nil, errors.NewDatabaseQueryError(err, "get lineage")
	}

	var g Graph
	if err := json.Unmarshal(doc, &g); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lineage graph: %w", err)
	}
	return &g, nil
}

// List returns the tenant's most recent graphs, newest first
func (s *PostgresStore) List(ctx context.Context, tenantID string, limit int) ([]*Graph, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT graph
		FROM query_lineage
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, tenantID, limit)
	if err != nil {
		return nil, errors.NewDatabaseQueryError(err, "list lineage")
	}
	defer rows.Close()

	graphs := make([]*Graph, 0)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan lineage row: %w", err)
		}
		var g Graph
		if err := json.Unmarshal(doc, &g); err != nil {
			return nil, fmt.Errorf("failed to unmarshal lineage graph: %w", err)
		}
		graphs = append(graphs, &g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lineage rows: %w", err)
	}

	return graphs, nil
}
