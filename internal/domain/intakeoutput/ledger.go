package intakeoutput

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// amountPlaces is the precision volumes are stored at, in mL.
const amountPlaces = 2

// MaxAmountML is the largest volume one hourly bucket accepts. It sits well
// inside the NUMERIC(12,2) column the Postgres store uses.
const MaxAmountML = 100000

// Ledger owns the entries of one patient-day. It is the only component that
// mutates flowsheet state; everything else reads snapshots.
type Ledger struct {
	mu       sync.RWMutex
	key      FlowsheetKey
	registry *Registry
	store    Store
	buckets  [][HoursPerDay]*Entry
	now      func() time.Time
}

// NewLedger creates an empty ledger. A nil store keeps the ledger purely in memory.
func NewLedger(key FlowsheetKey, registry *Registry, store Store) *Ledger {
	return &Ledger{
		key:      key,
		registry: registry,
		store:    store,
		buckets:  make([][HoursPerDay]*Entry, registry.Len()),
		now:      time.Now,
	}
}

// Key returns the patient-day this ledger is scoped to.
func (l *Ledger) Key() FlowsheetKey {
	return l.key
}

// Empty reports whether no bucket holds an entry.
func (l *Ledger) Empty() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, row := range l.buckets {
		for _, e := range row {
			if e != nil {
				return false
			}
		}
	}
	return true
}

// Registry returns the taxonomy the ledger validates against.
func (l *Ledger) Registry() *Registry {
	return l.registry
}

// restore loads previously persisted entries without writing them back.
func (l *Ledger) restore(entries []Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range entries {
		pos, ok := l.registry.position(e.CategoryID)
		if !ok {
			return fmt.Errorf("restore %s: %w: %s", l.key, ErrUnknownCategory, e.CategoryID)
		}
		if !ValidHour(e.Hour) {
			return fmt.Errorf("restore %s: %w: %d", l.key, ErrInvalidHour, e.Hour)
		}
		entry := e
		l.buckets[pos][e.Hour] = &entry
	}
	return nil
}

// Write validates in and replaces the (category, hour) bucket. Validation and
// persistence failures leave every bucket unchanged.
func (l *Ledger) Write(ctx context.Context, in WriteInput) (Entry, error) {
	cat, err := l.registry.Get(in.CategoryID)
	if err != nil {
		return Entry{}, err
	}
	if !ValidHour(in.Hour) {
		return Entry{}, fmt.Errorf("%w: %d", ErrInvalidHour, in.Hour)
	}
	amount, err := NormalizeAmount(in.AmountML)
	if err != nil {
		return Entry{}, err
	}
	if in.Source != "" && !cat.AllowsSource(in.Source) {
		return Entry{}, fmt.Errorf("%w: %q is not a route for %s", ErrInvalidSource, in.Source, cat.ID)
	}

	e := Entry{
		CategoryID: cat.ID,
		Hour:       in.Hour,
		AmountML:   amount,
		Source:     in.Source,
		Notes:      in.Notes,
		EnteredBy:  in.EnteredBy,
		EnteredAt:  l.now().UTC(),
	}

	pos, _ := l.registry.position(cat.ID)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.store != nil {
		if err := l.store.Upsert(ctx, l.key, e); err != nil {
			return Entry{}, &PersistenceError{Op: "write", Err: err}
		}
	}
	stored := e
	l.buckets[pos][e.Hour] = &stored
	return e, nil
}

// Read returns the bucket at (categoryID, hour). The bool is false for an
// empty bucket.
func (l *Ledger) Read(categoryID string, hour int) (Entry, bool, error) {
	pos, ok := l.registry.position(categoryID)
	if !ok {
		return Entry{}, false, fmt.Errorf("%w: %s", ErrUnknownCategory, categoryID)
	}
	if !ValidHour(hour) {
		return Entry{}, false, fmt.Errorf("%w: %d", ErrInvalidHour, hour)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	e := l.buckets[pos][hour]
	if e == nil {
		return Entry{}, false, nil
	}
	return *e, true, nil
}

// Delete empties one bucket. Afterwards the bucket is indistinguishable from
// one that was never entered. It reports whether the bucket held an entry.
func (l *Ledger) Delete(ctx context.Context, categoryID string, hour int) (bool, error) {
	pos, ok := l.registry.position(categoryID)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownCategory, categoryID)
	}
	if !ValidHour(hour) {
		return false, fmt.Errorf("%w: %d", ErrInvalidHour, hour)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.buckets[pos][hour] == nil {
		return false, nil
	}
	if l.store != nil {
		if err := l.store.Delete(ctx, l.key, categoryID, hour); err != nil {
			return false, &PersistenceError{Op: "delete", Err: err}
		}
	}
	l.buckets[pos][hour] = nil
	return true, nil
}

// Clear resets every bucket to empty. It is only ever called on explicit
// user request.
func (l *Ledger) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.store != nil {
		if err := l.store.Clear(ctx, l.key); err != nil {
			return &PersistenceError{Op: "clear", Err: err}
		}
	}
	for i := range l.buckets {
		l.buckets[i] = [HoursPerDay]*Entry{}
	}
	return nil
}

// Snapshot copies the full grid under the read lock, so a concurrent write
// is either entirely in or entirely out.
func (l *Ledger) Snapshot() Snapshot {
	cats := l.registry.List()
	snap := Snapshot{Key: l.key, Rows: make([]SnapshotRow, len(cats))}

	l.mu.RLock()
	defer l.mu.RUnlock()
	for i, c := range cats {
		snap.Rows[i].Category = c
		for h, e := range l.buckets[i] {
			if e != nil {
				cp := *e
				snap.Rows[i].Hours[h] = &cp
			}
		}
	}
	return snap
}

// NormalizeAmount rejects negative, non-finite and over-MaxAmountML volumes
// and rounds the rest to the stored precision.
func NormalizeAmount(v float64) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: not a finite number", ErrInvalidAmount)
	}
	if v < 0 {
		return 0, fmt.Errorf("%w: %v mL is negative", ErrInvalidAmount, v)
	}
	d := decimal.NewFromFloat(v).Round(amountPlaces)
	if d.GreaterThan(decimal.NewFromInt(MaxAmountML)) {
		return 0, fmt.Errorf("%w: %v mL exceeds %d mL", ErrInvalidAmount, v, MaxAmountML)
	}
	return d.InexactFloat64(), nil
}
