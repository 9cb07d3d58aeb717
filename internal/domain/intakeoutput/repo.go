package intakeoutput

import "context"

// Store persists ledger buckets. Rows are uniquely keyed by
// (patient_id, flowsheet_date, category_id, hour); Upsert replaces the row in
// one transaction so a failed call leaves the previous entry intact.
type Store interface {
	Load(ctx context.Context, key FlowsheetKey) ([]Entry, error)
	Upsert(ctx context.Context, key FlowsheetKey, e Entry) error
	Delete(ctx context.Context, key FlowsheetKey, categoryID string, hour int) error
	Clear(ctx context.Context, key FlowsheetKey) error
}
