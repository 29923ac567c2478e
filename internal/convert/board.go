package convert

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"roomcheck/internal/model"
)

const boardSheet = "예약현황"

var boardHeader = []string{"출처", "건물", "강의실", "시작", "종료", "신청자/과목", "상태", "중복"}

// WriteBoardWorkbook writes occurrences as a one-sheet spreadsheet in the
// order given. Conflicting rows are highlighted.
func WriteBoardWorkbook(w io.Writer, occs []model.Occurrence) error {
	f := excelize.NewFile()
	defer f.Close()

	idx, err := f.NewSheet(boardSheet)
	if err != nil {
		return fmt.Errorf("convert: new sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return err
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#D9E1F2"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	conflictStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#FFB3C6"}, Pattern: 1},
	})

	_ = f.SetColWidth(boardSheet, "A", "C", 12)
	_ = f.SetColWidth(boardSheet, "D", "E", 18)
	_ = f.SetColWidth(boardSheet, "F", "F", 24)

	for i, h := range boardHeader {
		_ = f.SetCellValue(boardSheet, cell(i, 1), h)
	}
	_ = f.SetCellStyle(boardSheet, cell(0, 1), cell(len(boardHeader)-1, 1), headerStyle)

	for n, o := range occs {
		row := n + 2
		values := []any{
			o.Source.String(),
			o.Building,
			o.Room,
			o.Start.Format("2006.01.02 15:04"),
			o.End.Format("2006.01.02 15:04"),
			o.Label,
			o.Status,
			conflictMark(o.Conflict),
		}
		for i, v := range values {
			_ = f.SetCellValue(boardSheet, cell(i, row), v)
		}
		if o.Conflict {
			_ = f.SetCellStyle(boardSheet, cell(0, row), cell(len(values)-1, row), conflictStyle)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("convert: write workbook: %w", err)
	}
	return nil
}

func conflictMark(c bool) string {
	if c {
		return "중복"
	}
	return ""
}

// cell converts a 0-based column and 1-based row into "A1" form.
func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col+1, row)
	return name
}
