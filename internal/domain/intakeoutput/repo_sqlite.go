package intakeoutput

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/shopspring/decimal"

	_ "modernc.org/sqlite"
)

//go:embed migrations/sqlite/*.sql
var sqliteMigrations embed.FS

// SQLiteStore keeps buckets in a single-file SQLite database. Amounts are
// stored as decimal text.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) the database at path and
// applies the embedded migrations.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := migrateSQLite(path); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLiteStore{db: sqlDB}, nil
}

// migrateSQLite uses its own connection; closing the migrate instance
// closes the handle it was given.
func migrateSQLite(path string) error {
	migrateDB, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open migration database: %w", err)
	}
	defer migrateDB.Close()

	driver, err := sqlite.WithInstance(migrateDB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite driver: %w", err)
	}
	src, err := iofs.New(sqliteMigrations, "migrations/sqlite")
	if err != nil {
		return fmt.Errorf("create iofs source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// DB exposes the handle for health checks.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context, key FlowsheetKey) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+bucketCols+` FROM intake_output_bucket
		WHERE patient_id = ? AND flowsheet_date = ?
		ORDER BY category_id, hour`,
		key.PatientID.String(), key.Date.String())
	if err != nil {
		return nil, fmt.Errorf("query buckets: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var amount, enteredAt string
		if err := rows.Scan(&e.CategoryID, &e.Hour, &amount, &e.Source, &e.Notes, &e.EnteredBy, &enteredAt); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("parse amount %q: %w", amount, err)
		}
		e.AmountML = d.InexactFloat64()
		if e.EnteredAt, err = time.Parse(time.RFC3339Nano, enteredAt); err != nil {
			return nil, fmt.Errorf("parse entered_at %q: %w", enteredAt, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) Upsert(ctx context.Context, key FlowsheetKey, e Entry) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO intake_output_bucket (patient_id, flowsheet_date, `+bucketCols+`)
			VALUES (?,?,?,?,?,?,?,?,?)
			ON CONFLICT (patient_id, flowsheet_date, category_id, hour) DO UPDATE SET
				amount_ml = excluded.amount_ml, source = excluded.source, notes = excluded.notes,
				entered_by = excluded.entered_by, entered_at = excluded.entered_at`,
			key.PatientID.String(), key.Date.String(), e.CategoryID, e.Hour,
			decimal.NewFromFloat(e.AmountML).String(), e.Source, e.Notes, e.EnteredBy,
			e.EnteredAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("upsert bucket: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) Delete(ctx context.Context, key FlowsheetKey, categoryID string, hour int) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM intake_output_bucket
		WHERE patient_id = ? AND flowsheet_date = ? AND category_id = ? AND hour = ?`,
		key.PatientID.String(), key.Date.String(), categoryID, hour)
	if err != nil {
		return fmt.Errorf("delete bucket: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context, key FlowsheetKey) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM intake_output_bucket WHERE patient_id = ? AND flowsheet_date = ?`,
			key.PatientID.String(), key.Date.String())
		if err != nil {
			return fmt.Errorf("clear buckets: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
