package lineage

import (
	"context"
)

// Store persists lineage graphs per tenant. Lookups for another tenant's
// query behave as if the query did not exist.
type Store interface {
	Save(ctx context.Context, g *Graph) error
	Get(ctx context.Context, tenantID, queryID string) (*Graph, error)
	List(ctx context.Context, tenantID string, limit int) ([]*Graph, error)
}
