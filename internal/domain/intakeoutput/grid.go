package intakeoutput

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// GridView selects how much of the flowsheet the display grid shows.
type GridView string

const (
	View24h   GridView = "24h"
	ViewShift GridView = "shift"
	View48h   GridView = "48h"
)

func ParseGridView(s string) (GridView, error) {
	switch GridView(strings.ToLower(strings.TrimSpace(s))) {
	case "", View24h:
		return View24h, nil
	case ViewShift:
		return ViewShift, nil
	case View48h:
		return View48h, nil
	}
	return "", fmt.Errorf("invalid view: %q", s)
}

// Column kinds.
const (
	ColumnHour  = "hour"
	ColumnShift = "shift"
	ColumnTotal = "total"
)

// Row kinds.
const (
	RowSection  = "section"
	RowCategory = "category"
	RowSubtotal = "subtotal"
	RowBalance  = "balance"
)

type GridColumn struct {
	Label string `json:"label"`
	Kind  string `json:"kind"`
	Hour  *int   `json:"hour,omitempty"`
	Shift Shift  `json:"shift,omitempty"`
}

// GridCell is one rendered cell. Text is blank for a bucket that was never
// entered; an explicit zero renders as "0".
type GridCell struct {
	Text     string   `json:"text"`
	Value    *float64 `json:"value,omitempty"`
	Editable bool     `json:"editable,omitempty"`
}

type GridRow struct {
	Kind       string     `json:"kind"`
	Label      string     `json:"label"`
	CategoryID string     `json:"category_id,omitempty"`
	FluidKind  Kind       `json:"fluid_kind,omitempty"`
	Cells      []GridCell `json:"cells"`
}

type DayGrid struct {
	Date    Date         `json:"date"`
	Columns []GridColumn `json:"columns"`
	Rows    []GridRow    `json:"rows"`
}

// Grid is what the presentation layer renders.
type Grid struct {
	View GridView  `json:"view"`
	Days []DayGrid `json:"days"`
}

// Grid renders key's flowsheet. The 48h view prepends the previous
// flowsheet day.
func (s *Service) Grid(ctx context.Context, key FlowsheetKey, view GridView) (Grid, error) {
	days := []FlowsheetKey{key}
	if view == View48h {
		prev := FlowsheetKey{PatientID: key.PatientID, Date: key.Date.AddDays(-1)}
		days = []FlowsheetKey{prev, key}
	}
	g := Grid{View: view}
	for _, k := range days {
		agg, err := s.Aggregate(ctx, k)
		if err != nil {
			return Grid{}, err
		}
		g.Days = append(g.Days, BuildDayGrid(agg, view == ViewShift))
	}
	return g, nil
}

// BuildDayGrid lays out one aggregate as flowsheet rows: a section per kind
// with its category rows and subtotal, then the net balance row. With
// totalsOnly the hourly columns are omitted.
func BuildDayGrid(agg AggregateSnapshot, totalsOnly bool) DayGrid {
	dg := DayGrid{Date: agg.Key.Date, Columns: gridColumns(totalsOnly)}

	for _, k := range []Kind{KindIntake, KindOutput} {
		label := strings.ToUpper(string(k))
		dg.Rows = append(dg.Rows, GridRow{Kind: RowSection, Label: label, FluidKind: k, Cells: []GridCell{}})
		for _, ct := range agg.Categories {
			if ct.Category.Kind != k {
				continue
			}
			dg.Rows = append(dg.Rows, categoryRow(ct, totalsOnly))
		}
		dg.Rows = append(dg.Rows, subtotalRow(label+" TOTAL", agg.Kind(k), totalsOnly))
	}
	dg.Rows = append(dg.Rows, balanceRow(agg, totalsOnly))
	return dg
}

func gridColumns(totalsOnly bool) []GridColumn {
	var cols []GridColumn
	for _, sh := range Shifts() {
		if !totalsOnly {
			for _, h := range sh.Hours() {
				cols = append(cols, GridColumn{Label: fmt.Sprintf("%02d", h), Kind: ColumnHour, Hour: ptr(h), Shift: sh})
			}
		}
		cols = append(cols, GridColumn{Label: sh.Label(), Kind: ColumnShift, Shift: sh})
	}
	return append(cols, GridColumn{Label: "24 Hr Total", Kind: ColumnTotal})
}

func categoryRow(ct CategoryTotals, totalsOnly bool) GridRow {
	row := GridRow{Kind: RowCategory, Label: ct.Category.Name, CategoryID: ct.Category.ID, FluidKind: ct.Category.Kind}
	for _, sh := range Shifts() {
		st := ct.Shift(sh)
		if !totalsOnly {
			for _, hv := range st.Hours {
				cell := GridCell{Editable: true}
				if hv.HasValue {
					cell.Text = formatML(hv.AmountML)
					cell.Value = ptr(hv.AmountML)
				}
				row.Cells = append(row.Cells, cell)
			}
		}
		row.Cells = append(row.Cells, presentCell(st.TotalML, st.HasEntry))
	}
	row.Cells = append(row.Cells, presentCell(ct.TotalML, ct.HasEntry))
	return row
}

func subtotalRow(label string, kt KindTotals, totalsOnly bool) GridRow {
	row := GridRow{Kind: RowSubtotal, Label: label, FluidKind: kt.Kind}
	for _, sh := range Shifts() {
		if !totalsOnly {
			for _, h := range sh.Hours() {
				row.Cells = append(row.Cells, presentCell(kt.Hourly[h], kt.HasValue[h]))
			}
		}
		row.Cells = append(row.Cells, presentCell(kt.Shift(sh), true))
	}
	row.Cells = append(row.Cells, presentCell(kt.TotalML, true))
	return row
}

// balanceRow labels an hour only when either kind recorded something in it.
func balanceRow(agg AggregateSnapshot, totalsOnly bool) GridRow {
	b := agg.Balance
	row := GridRow{Kind: RowBalance, Label: "NET BALANCE"}
	for _, sh := range Shifts() {
		if !totalsOnly {
			for _, h := range sh.Hours() {
				cell := GridCell{Value: ptr(b.Hourly[h])}
				if agg.Intake.HasValue[h] || agg.Output.HasValue[h] {
					cell.Text = formatSignedML(b.Hourly[h])
				}
				row.Cells = append(row.Cells, cell)
			}
		}
		row.Cells = append(row.Cells, GridCell{Text: formatSignedML(b.Shift(sh)), Value: ptr(b.Shift(sh))})
	}
	row.Cells = append(row.Cells, GridCell{Text: formatSignedML(b.TotalML), Value: ptr(b.TotalML)})
	return row
}

func presentCell(v float64, show bool) GridCell {
	if !show {
		return GridCell{}
	}
	return GridCell{Text: formatML(v), Value: ptr(v)}
}

func formatML(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatSignedML(v float64) string {
	if v > 0 {
		return "+" + formatML(v)
	}
	return formatML(v)
}
