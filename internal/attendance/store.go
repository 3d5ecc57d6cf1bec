package attendance

import (
	"context"
	"time"
)

// Store is everything the recorder needs from persistence.
type Store interface {
	GetCourse(ctx context.Context, id string) (Course, error)
	GetStudent(ctx context.Context, id string) (Student, error)
	ListStudents(ctx context.Context) ([]Student, error)
	// UpdateStudentBalance adds delta atomically and returns the new balance.
	UpdateStudentBalance(ctx context.Context, id string, delta int) (int, error)
	// InStudentTx runs fn with the student locked. Writes made through the
	// StudentTx commit together when fn returns nil and are discarded
	// otherwise. Returns ErrNotFound when the student does not exist.
	InStudentTx(ctx context.Context, studentID string, fn func(StudentTx) error) error
	ListAttendanceByCourse(ctx context.Context, courseID string) ([]AttendanceRow, error)
}

// StudentTx is the per-student unit of work handed out by InStudentTx.
type StudentTx interface {
	Student() Student
	GetRecord(courseID string, sessionDate time.Time) (Record, bool, error)
	UpdateBalance(delta int) (int, error)
	UpsertRecord(rec Record) (Record, error)
}

// Backend is the full persistence surface used by the HTTP layer.
type Backend interface {
	Store

	CreateTeacher(ctx context.Context, t *Teacher) error
	GetTeacher(ctx context.Context, id string) (Teacher, error)
	GetTeacherByEmail(ctx context.Context, email string) (Teacher, error)
	ListTeachers(ctx context.Context) ([]Teacher, error)
	// UpdateTeacher keeps the stored password hash when t.PasswordHash is empty.
	UpdateTeacher(ctx context.Context, t Teacher) error
	DeleteTeacher(ctx context.Context, id string) error

	CreateStudent(ctx context.Context, st *Student) error
	// UpdateStudent writes the profile fields of st. The balance is only
	// overwritten when balance is non-nil; st is refreshed from the stored row.
	UpdateStudent(ctx context.Context, st *Student, balance *int) error
	DeleteStudent(ctx context.Context, id string) error

	CreateCourse(ctx context.Context, c *Course) error
	ListCourses(ctx context.Context, withTeacher bool) ([]Course, error)
	UpdateCourse(ctx context.Context, c Course) error
	DeleteCourse(ctx context.Context, id string) error

	ListStudentHistory(ctx context.Context, studentID string) ([]HistoryRow, error)
	ListAttendanceBetween(ctx context.Context, from, to time.Time) ([]ReportRow, error)

	Ping(ctx context.Context) error
}
