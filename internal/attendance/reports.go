package attendance

import (
	"context"
	"errors"
	"time"
)

// HistorySource lists one student's records across courses.
type HistorySource interface {
	ListStudentHistory(ctx context.Context, studentID string) ([]HistoryRow, error)
}

// ReportSource lists records in a date range.
type ReportSource interface {
	ListAttendanceBetween(ctx context.Context, from, to time.Time) ([]ReportRow, error)
}

// StudentHistory returns a student's records newest first.
func StudentHistory(ctx context.Context, src HistorySource, studentID string) ([]HistoryRow, error) {
	rows, err := src.ListStudentHistory(ctx, studentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, NotFound("student %s not found", studentID)
		}
		return nil, Unavailable(err, "list history of student %s", studentID)
	}
	if rows == nil {
		rows = []HistoryRow{}
	}
	return rows, nil
}

// MonthlyReport returns every record dated inside the given month.
func MonthlyReport(ctx context.Context, src ReportSource, year int, month time.Month) ([]ReportRow, error) {
	if month < time.January || month > time.December {
		return nil, Invalid("month %d out of range", month)
	}
	from := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, -1)
	rows, err := src.ListAttendanceBetween(ctx, from, to)
	if err != nil {
		return nil, Unavailable(err, "list attendance for %s", from.Format("2006-01"))
	}
	if rows == nil {
		rows = []ReportRow{}
	}
	return rows, nil
}

// ParseMonth parses a YYYY-MM month.
func ParseMonth(s string) (int, time.Month, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return 0, 0, Invalid("month must be YYYY-MM")
	}
	return t.Year(), t.Month(), nil
}
