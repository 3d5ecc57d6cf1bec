package report

import (
	"bytes"
	"encoding/csv"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"

	"classroll/internal/attendance"
)

// Content types for the export formats.
const (
	ContentTypeCSV  = "text/csv; charset=utf-8"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var (
	monthlyHeader    = []string{"Date", "Student", "Student No.", "Course", "Time", "Teacher", "Status", "Remaining Hours"}
	attendanceHeader = []string{"Date", "Student", "Student No.", "Phone", "Status", "Remaining Hours"}
)

func monthlyCells(r attendance.ReportRow) []string {
	return []string{
		r.SessionDate.Format(attendance.DateLayout),
		r.StudentName,
		r.StudentNumber,
		r.CourseName,
		r.TimeLabel,
		r.TeacherName,
		string(r.Status),
		strconv.Itoa(r.RemainingHours),
	}
}

func attendanceCells(r attendance.AttendanceRow) []string {
	return []string{
		r.SessionDate.Format(attendance.DateLayout),
		r.Name,
		r.StudentNumber,
		r.Phone,
		string(r.Status),
		strconv.Itoa(r.RemainingHours),
	}
}

// MonthlyCSV writes the monthly report as CSV.
func MonthlyCSV(w io.Writer, rows []attendance.ReportRow) error {
	cells := make([][]string, 0, len(rows))
	for _, r := range rows {
		cells = append(cells, monthlyCells(r))
	}
	return writeCSV(w, monthlyHeader, cells)
}

// AttendanceCSV writes a course's attendance rows as CSV.
func AttendanceCSV(w io.Writer, rows []attendance.AttendanceRow) error {
	cells := make([][]string, 0, len(rows))
	for _, r := range rows {
		cells = append(cells, attendanceCells(r))
	}
	return writeCSV(w, attendanceHeader, cells)
}

func writeCSV(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

// MonthlyXLSX renders the monthly report as a single-sheet workbook.
func MonthlyXLSX(sheetName string, rows []attendance.ReportRow) (*bytes.Buffer, error) {
	file := excelize.NewFile()
	defer file.Close()

	sheet := file.GetSheetName(file.GetActiveSheetIndex())
	if sheetName != "" && sheetName != sheet {
		if err := file.SetSheetName(sheet, sheetName); err != nil {
			return nil, err
		}
		sheet = sheetName
	}

	for i, header := range monthlyHeader {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := file.SetCellValue(sheet, cell, header); err != nil {
			return nil, err
		}
	}

	for index, r := range rows {
		cells := monthlyCells(r)
		for col, v := range cells {
			cell, err := excelize.CoordinatesToCellName(col+1, index+2)
			if err != nil {
				return nil, err
			}
			var value any = v
			if col == len(cells)-1 {
				value = r.RemainingHours
			}
			if err := file.SetCellValue(sheet, cell, value); err != nil {
				return nil, err
			}
		}
	}

	return file.WriteToBuffer()
}
