package attendance

import (
	"strings"
	"time"
)

// Status is the attendance outcome recorded for one student in one session.
type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
)

// ParseStatus accepts the canonical values case-insensitively.
func ParseStatus(s string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusPresent:
		return StatusPresent, true
	case StatusAbsent:
		return StatusAbsent, true
	}
	return "", false
}

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// Day truncates t to its calendar date in UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD date.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, err
	}
	return Day(t), nil
}

// Teacher owns courses and logs in to record attendance.
type Teacher struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Student is a learner with a prepaid lesson balance.
type Student struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	StudentNumber  string    `json:"student_number"`
	Phone          string    `json:"phone"`
	Address        string    `json:"address"`
	RemainingHours int       `json:"remaining_hours"`
	CreatedAt      time.Time `json:"created_at"`
}

// Course is one scheduled class taught by a teacher.
type Course struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Date      time.Time `json:"date"`
	TimeLabel string    `json:"time"`
	TeacherID string    `json:"teacher_id"`
	Teacher   *Teacher  `json:"teacher,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Record is one attendance row, unique per (course, student, session date).
type Record struct {
	ID          string    `json:"id"`
	CourseID    string    `json:"course_id"`
	StudentID   string    `json:"student_id"`
	SessionDate time.Time `json:"session_date"`
	Status      Status    `json:"status"`
	Deducted    bool      `json:"deducted"`
	RecordedBy  string    `json:"recorded_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AttendanceRow joins a record with the current student snapshot.
type AttendanceRow struct {
	StudentID      string    `json:"studentId"`
	Name           string    `json:"name"`
	StudentNumber  string    `json:"studentNumber"`
	Phone          string    `json:"phone"`
	RemainingHours int       `json:"remainingHours"`
	Status         Status    `json:"status"`
	SessionDate    time.Time `json:"sessionDate"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// HistoryRow is one record in a student's attendance history.
type HistoryRow struct {
	CourseID    string    `json:"courseId"`
	CourseName  string    `json:"courseName"`
	SessionDate time.Time `json:"sessionDate"`
	Status      Status    `json:"status"`
	Deducted    bool      `json:"deducted"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ReportRow is one line of the monthly attendance report.
type ReportRow struct {
	SessionDate    time.Time `json:"sessionDate"`
	StudentName    string    `json:"studentName"`
	StudentNumber  string    `json:"studentNumber"`
	CourseName     string    `json:"courseName"`
	TimeLabel      string    `json:"time"`
	TeacherName    string    `json:"teacherName"`
	Status         Status    `json:"status"`
	RemainingHours int       `json:"remainingHours"`
}

// Entry is one line of a submitted roster.
type Entry struct {
	StudentID string `json:"studentId"`
	Status    Status `json:"status"`
}

// RosterFromPresentIDs converts the "present ids only" submission form into an
// explicit roster over the given student population.
func RosterFromPresentIDs(students []Student, presentIDs []string) []Entry {
	present := make(map[string]bool, len(presentIDs))
	for _, id := range presentIDs {
		present[id] = true
	}
	roster := make([]Entry, 0, len(students))
	known := make(map[string]bool, len(students))
	for _, st := range students {
		known[st.ID] = true
		status := StatusAbsent
		if present[st.ID] {
			status = StatusPresent
		}
		roster = append(roster, Entry{StudentID: st.ID, Status: status})
	}
	// Unknown ids stay in the roster so the recorder reports them as skipped.
	for _, id := range presentIDs {
		if !known[id] {
			known[id] = true
			roster = append(roster, Entry{StudentID: id, Status: StatusPresent})
		}
	}
	return roster
}

// Skip explains why a roster entry produced no record.
type Skip struct {
	StudentID string `json:"studentId"`
	Kind      Kind   `json:"kind"`
	Reason    string `json:"reason"`
}

// Result summarizes one recording submission.
type Result struct {
	CourseID    string    `json:"courseId"`
	SessionDate time.Time `json:"sessionDate"`
	Written     int       `json:"written"`
	Skipped     int       `json:"skipped"`
	Present     int       `json:"present"`
	Absent      int       `json:"absent"`
	Deducted    int       `json:"deducted"`
	Refunded    int       `json:"refunded"`
	Skips       []Skip    `json:"skips"`
}
