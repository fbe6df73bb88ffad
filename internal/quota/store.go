package quota

import "context"

// Store persists quota records. Update runs fn with exclusive access to the
// tenant's record and saves it when fn returns nil. Different tenants never
// contend.
type Store interface {
	Update(ctx context.Context, tenantID string, fn func(rec *Record) error) (Record, error)
	Tenants(ctx context.Context) ([]string, error)
}

// TotalsSource reports aggregates over live documents for reconciliation.
type TotalsSource interface {
	Totals(ctx context.Context, tenantID string) (Totals, error)
}
