package intakeoutput

import (
	"bytes"
	"context"
	"testing"

	"github.com/xuri/excelize/v2"
)

// Cell positions in the 24h view.
const (
	colHour4     = 9
	colHour9     = 15
	colHour10    = 16
	colHour20    = 1
	colNight     = 12
	colDay       = 25
	colTotal     = 26
	rowPO        = 1
	rowIV        = 2
	rowIntakeTot = 3
	rowUrine     = 5
	rowBalance   = 7
)

func scenarioGrid(t *testing.T) DayGrid {
	t.Helper()
	l := scenarioLedger(t)
	mustWrite(t, l, "po", 10, 0)
	return BuildDayGrid(Aggregate(l.Snapshot()), false)
}

func TestBuildDayGrid_Columns(t *testing.T) {
	dg := scenarioGrid(t)
	if len(dg.Columns) != HoursPerDay+3 {
		t.Fatalf("expected 27 columns, got %d", len(dg.Columns))
	}
	if c := dg.Columns[0]; c.Kind != ColumnHour || c.Label != "19" || *c.Hour != 19 {
		t.Errorf("expected first column 19, got %+v", c)
	}
	if c := dg.Columns[colNight]; c.Kind != ColumnShift || c.Shift != ShiftNight || c.Label != "Night" {
		t.Errorf("expected night subtotal column, got %+v", c)
	}
	if c := dg.Columns[colNight+1]; c.Label != "07" {
		t.Errorf("expected day shift to open at 07, got %+v", c)
	}
	if c := dg.Columns[colTotal]; c.Kind != ColumnTotal {
		t.Errorf("expected trailing total column, got %+v", c)
	}

	shiftOnly := BuildDayGrid(Aggregate(scenarioLedger(t).Snapshot()), true)
	if len(shiftOnly.Columns) != 3 {
		t.Fatalf("expected 3 columns in shift view, got %d", len(shiftOnly.Columns))
	}
	for _, r := range shiftOnly.Rows {
		if r.Kind != RowSection && len(r.Cells) != 3 {
			t.Errorf("%s: expected 3 cells, got %d", r.Label, len(r.Cells))
		}
	}
}

func TestBuildDayGrid_RowOrder(t *testing.T) {
	dg := scenarioGrid(t)
	want := []struct {
		kind  string
		label string
	}{
		{RowSection, "INTAKE"},
		{RowCategory, "PO Fluids"},
		{RowCategory, "IV Fluids"},
		{RowSubtotal, "INTAKE TOTAL"},
		{RowSection, "OUTPUT"},
		{RowCategory, "Urine"},
		{RowSubtotal, "OUTPUT TOTAL"},
		{RowBalance, "NET BALANCE"},
	}
	if len(dg.Rows) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(dg.Rows))
	}
	for i, w := range want {
		if dg.Rows[i].Kind != w.kind || dg.Rows[i].Label != w.label {
			t.Errorf("row %d: expected %s %q, got %s %q", i, w.kind, w.label, dg.Rows[i].Kind, dg.Rows[i].Label)
		}
	}
}

func TestBuildDayGrid_Cells(t *testing.T) {
	dg := scenarioGrid(t)
	text := func(row, col int) string { return dg.Rows[row].Cells[col].Text }

	if got := text(rowPO, colHour9); got != "" {
		t.Errorf("expected blank for unset bucket, got %q", got)
	}
	if !dg.Rows[rowPO].Cells[colHour9].Editable {
		t.Error("expected hourly category cells to be editable")
	}
	if got := text(rowPO, colHour10); got != "0" {
		t.Errorf("expected explicit zero to render 0, got %q", got)
	}
	if got := text(rowPO, colTotal); got != "0" {
		t.Errorf("expected po total 0 once entered, got %q", got)
	}
	if got := text(rowIV, colNight); got != "" {
		t.Errorf("expected blank night total for iv, got %q", got)
	}
	if got := text(rowIV, colDay); got != "996" {
		t.Errorf("expected iv day 996, got %q", got)
	}
	if got := text(rowIntakeTot, colTotal); got != "996" {
		t.Errorf("expected intake total 996, got %q", got)
	}
	if got := text(rowUrine, colHour4); got != "200" {
		t.Errorf("expected urine 200 at 04, got %q", got)
	}
	if got := text(rowBalance, colHour4); got != "-200" {
		t.Errorf("expected -200 at 04, got %q", got)
	}
	if got := text(rowBalance, colHour20); got != "" {
		t.Errorf("expected blank balance for empty hour, got %q", got)
	}
	if got := text(rowBalance, colNight); got != "-200" {
		t.Errorf("expected night balance -200, got %q", got)
	}
	if got := text(rowBalance, colDay); got != "+776" {
		t.Errorf("expected day balance +776, got %q", got)
	}
	if got := text(rowBalance, colTotal); got != "+576" {
		t.Errorf("expected net balance +576, got %q", got)
	}
}

func TestBuildDayGrid_SubtotalShowsExplicitZero(t *testing.T) {
	l := newTestLedger()
	mustWrite(t, l, "po", 10, 0)
	dg := BuildDayGrid(Aggregate(l.Snapshot()), false)
	text := func(row, col int) string { return dg.Rows[row].Cells[col].Text }

	if got := text(rowIntakeTot, colHour10); got != "0" {
		t.Errorf("expected intake subtotal 0 for an hour holding only a zero, got %q", got)
	}
	if got := text(rowIntakeTot, colHour9); got != "" {
		t.Errorf("expected blank intake subtotal for empty hour, got %q", got)
	}
	if got := text(rowBalance, colHour10); got != "0" {
		t.Errorf("expected balance 0 for an hour holding only a zero, got %q", got)
	}
	if got := text(rowBalance, colHour9); got != "" {
		t.Errorf("expected blank balance for empty hour, got %q", got)
	}
}

func TestService_Grid48h(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()
	if _, err := svc.Write(ctx, testKey(), WriteInput{CategoryID: "po", Hour: 10, AmountML: 120}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	g, err := svc.Grid(ctx, testKey(), View48h)
	if err != nil {
		t.Fatalf("Grid: %v", err)
	}
	if len(g.Days) != 2 {
		t.Fatalf("expected 2 days, got %d", len(g.Days))
	}
	if g.Days[0].Date.String() != "2025-01-14" || g.Days[1].Date.String() != "2025-01-15" {
		t.Errorf("expected previous day first, got %s, %s", g.Days[0].Date, g.Days[1].Date)
	}
	if got := g.Days[1].Rows[rowPO].Cells[colTotal].Text; got != "120" {
		t.Errorf("expected 120 on the current day, got %q", got)
	}
	if got := g.Days[0].Rows[rowPO].Cells[colTotal].Text; got != "" {
		t.Errorf("expected empty previous day, got %q", got)
	}
}

func TestParseGridView(t *testing.T) {
	tests := []struct {
		in      string
		want    GridView
		wantErr bool
	}{
		{"", View24h, false},
		{"24h", View24h, false},
		{"SHIFT", ViewShift, false},
		{"48h", View48h, false},
		{"week", "", true},
	}
	for _, tt := range tests {
		got, err := ParseGridView(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseGridView(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestRenderXLSX(t *testing.T) {
	data, err := RenderXLSX(scenarioGrid(t))
	if err != nil {
		t.Fatalf("RenderXLSX: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	if sheets := f.GetSheetList(); len(sheets) != 1 || sheets[0] != xlsxSheet {
		t.Fatalf("expected single sheet %q, got %v", xlsxSheet, sheets)
	}

	cell := func(t *testing.T, col, row int) string {
		t.Helper()
		name, err := excelize.CoordinatesToCellName(col, row)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		v, err := f.GetCellValue(xlsxSheet, name)
		if err != nil {
			t.Fatalf("get %s: %v", name, err)
		}
		return v
	}

	// Data rows start on line 3, data columns on column B.
	tests := []struct {
		name     string
		col, row int
		want     string
	}{
		{"title", 1, 1, "Intake/Output 2025-01-15"},
		{"header", 1, 2, "Category"},
		{"first hour", 2, 2, "19"},
		{"section", 1, 3, "INTAKE"},
		{"unset bucket", colHour9 + 2, rowPO + 3, ""},
		{"explicit zero", colHour10 + 2, rowPO + 3, "0"},
		{"iv day", colDay + 2, rowIV + 3, "996"},
		{"balance", colTotal + 2, rowBalance + 3, "+576"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cell(t, tt.col, tt.row); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
