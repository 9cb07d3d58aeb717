package intakeoutput

import "github.com/shopspring/decimal"

// HourValue is one hourly cell of an exposed breakdown.
type HourValue struct {
	Hour     int     `json:"hour"`
	AmountML float64 `json:"amount_ml"`
	HasValue bool    `json:"has_value"`
}

// ShiftTotal is a category's sum over one shift. Hours are in clock order
// (night starts at 19 and wraps to 6). HasEntry distinguishes a shift whose
// entries sum to zero from one with no data.
type ShiftTotal struct {
	Shift    Shift       `json:"shift"`
	TotalML  float64     `json:"total_ml"`
	HasEntry bool        `json:"has_entry"`
	Hours    []HourValue `json:"hours"`
}

// CategoryTotals is one category's rollup.
type CategoryTotals struct {
	Category Category             `json:"category"`
	Hourly   [HoursPerDay]float64 `json:"hourly"`
	HasValue [HoursPerDay]bool    `json:"has_value"`
	Night    ShiftTotal           `json:"night"`
	Day      ShiftTotal           `json:"day"`
	TotalML  float64              `json:"total_ml"`
	HasEntry bool                 `json:"has_entry"`
}

// Shift returns the category's total for s.
func (c CategoryTotals) Shift(s Shift) ShiftTotal {
	if s == ShiftDay {
		return c.Day
	}
	return c.Night
}

// KindTotals sums every category of one kind.
type KindTotals struct {
	Kind     Kind                 `json:"kind"`
	Hourly   [HoursPerDay]float64 `json:"hourly"`
	HasValue [HoursPerDay]bool    `json:"has_value"`
	NightML  float64              `json:"night_ml"`
	DayML    float64              `json:"day_ml"`
	TotalML  float64              `json:"total_ml"`
	HasEntry bool                 `json:"has_entry"`
}

// Shift returns the kind subtotal for s.
func (k KindTotals) Shift(s Shift) float64 {
	if s == ShiftDay {
		return k.DayML
	}
	return k.NightML
}

// BalanceTotals is intake minus output, signed, at every granularity.
type BalanceTotals struct {
	Hourly  [HoursPerDay]float64 `json:"hourly"`
	NightML float64              `json:"night_ml"`
	DayML   float64              `json:"day_ml"`
	TotalML float64              `json:"total_ml"`
}

// Shift returns the net balance for s.
func (b BalanceTotals) Shift(s Shift) float64 {
	if s == ShiftDay {
		return b.DayML
	}
	return b.NightML
}

// AggregateSnapshot is the derived, never persisted rollup of one snapshot.
type AggregateSnapshot struct {
	Key        FlowsheetKey     `json:"key"`
	Categories []CategoryTotals `json:"categories"`
	Intake     KindTotals       `json:"intake"`
	Output     KindTotals       `json:"output"`
	Balance    BalanceTotals    `json:"balance"`
}

// Category returns the rollup for id.
func (a AggregateSnapshot) Category(id string) (CategoryTotals, bool) {
	for _, c := range a.Categories {
		if c.Category.ID == id {
			return c, true
		}
	}
	return CategoryTotals{}, false
}

// Kind returns the subtotal for k.
func (a AggregateSnapshot) Kind(k Kind) KindTotals {
	if k == KindOutput {
		return a.Output
	}
	return a.Intake
}

// volumes accumulates exact sums; float64 is only produced at the edge.
type volumes [HoursPerDay]decimal.Decimal

func (v *volumes) sum(hours []int) decimal.Decimal {
	total := decimal.Zero
	for _, h := range hours {
		total = total.Add(v[h])
	}
	return total
}

func (v *volumes) floats() [HoursPerDay]float64 {
	var out [HoursPerDay]float64
	for h := range v {
		out[h] = v[h].InexactFloat64()
	}
	return out
}

func newVolumes() volumes {
	var v volumes
	for h := range v {
		v[h] = decimal.Zero
	}
	return v
}

// Aggregate computes category, kind and balance totals from a snapshot. It
// is a pure function: empty buckets contribute zero, and an empty kind
// yields zero subtotals rather than an error.
func Aggregate(snap Snapshot) AggregateSnapshot {
	agg := AggregateSnapshot{
		Key:        snap.Key,
		Categories: make([]CategoryTotals, 0, len(snap.Rows)),
		Intake:     KindTotals{Kind: KindIntake},
		Output:     KindTotals{Kind: KindOutput},
	}
	kindVolumes := map[Kind]*volumes{KindIntake: ptr(newVolumes()), KindOutput: ptr(newVolumes())}
	kindTotals := map[Kind]*KindTotals{KindIntake: &agg.Intake, KindOutput: &agg.Output}

	for _, row := range snap.Rows {
		ct := CategoryTotals{Category: row.Category}
		cv := newVolumes()
		for h, e := range row.Hours {
			if e == nil {
				continue
			}
			cv[h] = decimal.NewFromFloat(e.AmountML)
			ct.HasValue[h] = true
		}
		ct.Hourly = cv.floats()

		night := cv.sum(ShiftNight.Hours())
		day := cv.sum(ShiftDay.Hours())
		ct.Night = shiftTotal(ShiftNight, night, &ct)
		ct.Day = shiftTotal(ShiftDay, day, &ct)
		ct.TotalML = night.Add(day).InexactFloat64()
		ct.HasEntry = ct.Night.HasEntry || ct.Day.HasEntry
		agg.Categories = append(agg.Categories, ct)

		kv, ok := kindVolumes[row.Category.Kind]
		if !ok {
			continue
		}
		for h := range kv {
			kv[h] = kv[h].Add(cv[h])
		}
		kt := kindTotals[row.Category.Kind]
		for h, set := range ct.HasValue {
			if set {
				kt.HasValue[h] = true
				kt.HasEntry = true
			}
		}
	}

	for k, kv := range kindVolumes {
		kt := kindTotals[k]
		night := kv.sum(ShiftNight.Hours())
		day := kv.sum(ShiftDay.Hours())
		kt.Hourly = kv.floats()
		kt.NightML = night.InexactFloat64()
		kt.DayML = day.InexactFloat64()
		kt.TotalML = night.Add(day).InexactFloat64()
	}

	in, out := kindVolumes[KindIntake], kindVolumes[KindOutput]
	for h := 0; h < HoursPerDay; h++ {
		agg.Balance.Hourly[h] = in[h].Sub(out[h]).InexactFloat64()
	}
	nightBal := in.sum(ShiftNight.Hours()).Sub(out.sum(ShiftNight.Hours()))
	dayBal := in.sum(ShiftDay.Hours()).Sub(out.sum(ShiftDay.Hours()))
	agg.Balance.NightML = nightBal.InexactFloat64()
	agg.Balance.DayML = dayBal.InexactFloat64()
	agg.Balance.TotalML = nightBal.Add(dayBal).InexactFloat64()

	return agg
}

func shiftTotal(s Shift, total decimal.Decimal, ct *CategoryTotals) ShiftTotal {
	st := ShiftTotal{Shift: s, TotalML: total.InexactFloat64()}
	for _, h := range s.Hours() {
		st.Hours = append(st.Hours, HourValue{Hour: h, AmountML: ct.Hourly[h], HasValue: ct.HasValue[h]})
		if ct.HasValue[h] {
			st.HasEntry = true
		}
	}
	return st
}

func ptr[T any](v T) *T {
	return &v
}
