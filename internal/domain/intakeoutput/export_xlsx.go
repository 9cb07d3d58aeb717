package intakeoutput

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

const xlsxSheet = "Intake Output"

// XLSXContentType is the MIME type of RenderXLSX output.
const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// RenderXLSX writes one day grid as a spreadsheet. Section, subtotal and
// balance rows are bold; blank cells stay empty.
func RenderXLSX(dg DayGrid) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(xlsxSheet)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("delete default sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("create bold style: %w", err)
	}
	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#F0F0F0"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	title := fmt.Sprintf("Intake/Output %s", dg.Date)
	if err := setCell(f, 1, 1, title, bold); err != nil {
		return nil, err
	}

	if err := setCell(f, 1, 2, "Category", header); err != nil {
		return nil, err
	}
	for i, col := range dg.Columns {
		if err := setCell(f, i+2, 2, col.Label, header); err != nil {
			return nil, err
		}
	}

	for r, row := range dg.Rows {
		line := r + 3
		style := 0
		if row.Kind != RowCategory {
			style = bold
		}
		if err := setCell(f, 1, line, row.Label, style); err != nil {
			return nil, err
		}
		for c, cell := range row.Cells {
			if cell.Text == "" {
				continue
			}
			var v interface{} = cell.Text
			if cell.Value != nil && row.Kind != RowBalance {
				v = *cell.Value
			}
			if err := setCell(f, c+2, line, v, style); err != nil {
				return nil, err
			}
		}
	}

	if err := f.SetColWidth(xlsxSheet, "A", "A", 22); err != nil {
		return nil, fmt.Errorf("set column width: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func setCell(f *excelize.File, col, row int, v interface{}, style int) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return fmt.Errorf("cell coordinates: %w", err)
	}
	if err := f.SetCellValue(xlsxSheet, cell, v); err != nil {
		return fmt.Errorf("set cell %s: %w", cell, err)
	}
	if style != 0 {
		if err := f.SetCellStyle(xlsxSheet, cell, cell, style); err != nil {
			return fmt.Errorf("style cell %s: %w", cell, err)
		}
	}
	return nil
}
