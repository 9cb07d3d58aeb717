package intakeoutput

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ehr/iobalance/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// PostgresStore keeps buckets in the intake_output_bucket table.
type PostgresStore struct{ pool *pgxpool.Pool }

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (r *PostgresStore) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const bucketCols = `category_id, hour, amount_ml, source, notes, entered_by, entered_at`

func (r *PostgresStore) Load(ctx context.Context, key FlowsheetKey) ([]Entry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+bucketCols+` FROM intake_output_bucket
		WHERE patient_id = $1 AND flowsheet_date = $2
		ORDER BY category_id, hour`,
		key.PatientID, key.Date.Time())
	if err != nil {
		return nil, fmt.Errorf("query buckets: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var amount decimal.Decimal
		if err := rows.Scan(&e.CategoryID, &e.Hour, &amount, &e.Source, &e.Notes, &e.EnteredBy, &e.EnteredAt); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		e.AmountML = amount.InexactFloat64()
		e.EnteredAt = e.EnteredAt.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *PostgresStore) Upsert(ctx context.Context, key FlowsheetKey, e Entry) error {
	return db.InTx(ctx, r.pool, func(ctx context.Context) error {
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO intake_output_bucket (patient_id, flowsheet_date, `+bucketCols+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (patient_id, flowsheet_date, category_id, hour) DO UPDATE SET
				amount_ml = EXCLUDED.amount_ml, source = EXCLUDED.source, notes = EXCLUDED.notes,
				entered_by = EXCLUDED.entered_by, entered_at = EXCLUDED.entered_at`,
			key.PatientID, key.Date.Time(), e.CategoryID, e.Hour,
			decimal.NewFromFloat(e.AmountML), e.Source, e.Notes, e.EnteredBy, e.EnteredAt)
		if err != nil {
			return fmt.Errorf("upsert bucket: %w", err)
		}
		return nil
	})
}

func (r *PostgresStore) Delete(ctx context.Context, key FlowsheetKey, categoryID string, hour int) error {
	_, err := r.conn(ctx).Exec(ctx, `
		DELETE FROM intake_output_bucket
		WHERE patient_id = $1 AND flowsheet_date = $2 AND category_id = $3 AND hour = $4`,
		key.PatientID, key.Date.Time(), categoryID, hour)
	if err != nil {
		return fmt.Errorf("delete bucket: %w", err)
	}
	return nil
}

func (r *PostgresStore) Clear(ctx context.Context, key FlowsheetKey) error {
	return db.InTx(ctx, r.pool, func(ctx context.Context) error {
		_, err := r.conn(ctx).Exec(ctx, `
			DELETE FROM intake_output_bucket WHERE patient_id = $1 AND flowsheet_date = $2`,
			key.PatientID, key.Date.Time())
		if err != nil {
			return fmt.Errorf("clear buckets: %w", err)
		}
		return nil
	})
}
