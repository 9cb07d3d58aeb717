package intakeoutput

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DateLayout is the wire format of a flowsheet date.
const DateLayout = "2006-01-02"

// Date is a calendar day without a zone. It is comparable and safe as a map key.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf drops the clock and zone from t.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses a YYYY-MM-DD flowsheet date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// AddDays returns the date n days later (earlier when n is negative).
func (d Date) AddDays(n int) Date {
	return DateOf(d.Time().AddDate(0, 0, n))
}

func (d Date) String() string {
	return d.Time().Format(DateLayout)
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// FlowsheetKey scopes one ledger: one patient, one flowsheet day.
type FlowsheetKey struct {
	PatientID uuid.UUID `json:"patient_id"`
	Date      Date      `json:"date"`
}

func (k FlowsheetKey) String() string {
	return k.PatientID.String() + "/" + k.Date.String()
}

// Entry is the current measurement in one (category, hour) bucket.
type Entry struct {
	CategoryID string    `json:"category_id"`
	Hour       int       `json:"hour"`
	AmountML   float64   `json:"amount_ml"`
	Source     string    `json:"source,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	EnteredBy  string    `json:"entered_by,omitempty"`
	EnteredAt  time.Time `json:"entered_at"`
}

// WriteInput carries one ledger write. Source and Notes are optional.
type WriteInput struct {
	CategoryID string
	Hour       int
	AmountML   float64
	Source     string
	Notes      string
	EnteredBy  string
}

// SnapshotRow is one category's 24 buckets indexed by clock hour. A nil
// bucket was never entered.
type SnapshotRow struct {
	Category Category            `json:"category"`
	Hours    [HoursPerDay]*Entry `json:"hours"`
}

// Snapshot is an immutable copy of a ledger's full grid, rows in registry order.
type Snapshot struct {
	Key  FlowsheetKey  `json:"key"`
	Rows []SnapshotRow `json:"rows"`
}

// Entry returns the bucket at (categoryID, hour), if set.
func (s Snapshot) Entry(categoryID string, hour int) (*Entry, bool) {
	if !ValidHour(hour) {
		return nil, false
	}
	for i := range s.Rows {
		if s.Rows[i].Category.ID == categoryID {
			e := s.Rows[i].Hours[hour]
			return e, e != nil
		}
	}
	return nil, false
}

// Entries returns every set bucket in flowsheet order: by shift, then by
// registry row, then by clock hour within the shift.
func (s Snapshot) Entries() []Entry {
	var out []Entry
	for _, sh := range Shifts() {
		for _, row := range s.Rows {
			for _, h := range sh.Hours() {
				if e := row.Hours[h]; e != nil {
					out = append(out, *e)
				}
			}
		}
	}
	return out
}

// PatientContext carries the patient facts the metrics need. A nil weight
// makes weight-based metrics Unavailable.
type PatientContext struct {
	WeightKg *float64 `json:"weight_kg,omitempty"`
}
