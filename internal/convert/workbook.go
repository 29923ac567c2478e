// Package convert turns the registrar's timetable spreadsheet into the
// lecture XML feed, and exports occupancy boards as spreadsheets.
package convert

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"roomcheck/internal/model"
	"roomcheck/internal/schedule"
)

// Header labels of the registrar's timetable export.
const (
	ColumnName = "과목명"
	ColumnTime = "강의시간"
	ColumnRoom = "강의실"
)

// MissingColumnsError names the header labels the sheet lacks.
type MissingColumnsError struct {
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("convert: sheet has no %s column(s)", strings.Join(e.Columns, ", "))
}

// ReadWorkbook reads lecture rows from sheet (the first sheet when empty)
// and emits one record per (time code, room). Lectures held in several
// rooms have their time codes spread over the rooms in order.
func ReadWorkbook(r io.Reader, sheet string) ([]model.LectureRecord, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("convert: open workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("convert: read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, &MissingColumnsError{Columns: []string{ColumnName, ColumnTime, ColumnRoom}}
	}

	idx := map[string]int{ColumnName: -1, ColumnTime: -1, ColumnRoom: -1}
	for i, h := range rows[0] {
		h = strings.TrimSpace(h)
		if j, ok := idx[h]; ok && j < 0 {
			idx[h] = i
		}
	}
	var missing []string
	for _, c := range []string{ColumnName, ColumnTime, ColumnRoom} {
		if idx[c] < 0 {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingColumnsError{Columns: missing}
	}

	at := func(row []string, col string) string {
		if i := idx[col]; i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	var out []model.LectureRecord
	for _, row := range rows[1:] {
		name := at(row, ColumnName)
		times := schedule.SplitTimes(at(row, ColumnTime))
		rooms := schedule.SplitRooms(at(row, ColumnRoom))
		if name == "" && len(times) == 0 && len(rooms) == 0 {
			continue
		}
		assigned := schedule.SpreadEvenly(times, rooms)
		for i, room := range assigned {
			out = append(out, model.LectureRecord{Name: name, Time: times[i], Room: room})
		}
	}
	return out, nil
}

type lecturesXML struct {
	XMLName  xml.Name     `xml:"Lectures"`
	Lectures []lectureXML `xml:"Lecture"`
}

type lectureXML struct {
	Name string `xml:"Name"`
	Time string `xml:"Time"`
	Room string `xml:"Room"`
}

// WriteLectureXML writes records as the indented lecture feed document.
func WriteLectureXML(w io.Writer, records []model.LectureRecord) error {
	doc := lecturesXML{Lectures: make([]lectureXML, 0, len(records))}
	for _, r := range records {
		doc.Lectures = append(doc.Lectures, lectureXML(r))
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("convert: encode lectures: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}
