package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Repository persists attendance data in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ Backend = (*Repository)(nil)

// classify maps Postgres failures onto store sentinels.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%s: %w", pgErr.Message, ErrConflict)
		case "23505":
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, ErrConflict)
		case "23503":
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, ErrNotFound)
		}
	}
	return err
}

func notFoundOr(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return classify(err)
}

func expectOne(res sql.Result, err error, what, id string) error {
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return nil
}

// Ping checks connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// sqlDate renders a calendar date for a ::date parameter so the session
// time zone never shifts it.
func sqlDate(t time.Time) string {
	return Day(t).Format(DateLayout)
}

type scanner interface {
	Scan(dest ...any) error
}

// -------- Teachers --------

const teacherCols = `id, name, email, phone, password_hash, created_at`

func scanTeacher(row scanner) (Teacher, error) {
	var t Teacher
	err := row.Scan(&t.ID, &t.Name, &t.Email, &t.Phone, &t.PasswordHash, &t.CreatedAt)
	return t, err
}

// CreateTeacher inserts a teacher; a taken email is ErrConflict.
func (r *Repository) CreateTeacher(ctx context.Context, t *Teacher) error {
	t.ID = uuid.NewString()
	t.Email = strings.ToLower(strings.TrimSpace(t.Email))
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO teachers (id, name, email, phone, password_hash)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, t.ID, t.Name, t.Email, t.Phone, t.PasswordHash)
	if err := row.Scan(&t.CreatedAt); err != nil {
		return classify(err)
	}
	return nil
}

func (r *Repository) GetTeacher(ctx context.Context, id string) (Teacher, error) {
	t, err := scanTeacher(r.db.QueryRowContext(ctx, `SELECT `+teacherCols+` FROM teachers WHERE id = $1`, id))
	if err != nil {
		return Teacher{}, notFoundOr(err, "teacher", id)
	}
	return t, nil
}

// GetTeacherByEmail is the login lookup.
func (r *Repository) GetTeacherByEmail(ctx context.Context, email string) (Teacher, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	t, err := scanTeacher(r.db.QueryRowContext(ctx, `SELECT `+teacherCols+` FROM teachers WHERE email = $1`, email))
	if err != nil {
		return Teacher{}, notFoundOr(err, "teacher", email)
	}
	return t, nil
}

func (r *Repository) ListTeachers(ctx context.Context) ([]Teacher, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+teacherCols+` FROM teachers ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Teacher
	for rows.Next() {
		t, err := scanTeacher(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r *Repository) UpdateTeacher(ctx context.Context, t Teacher) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE teachers
		SET name = $2, email = $3, phone = $4,
			password_hash = COALESCE(NULLIF($5, ''), password_hash)
		WHERE id = $1
	`, t.ID, t.Name, strings.ToLower(strings.TrimSpace(t.Email)), t.Phone, t.PasswordHash)
	return expectOne(res, err, "teacher", t.ID)
}

// DeleteTeacher refuses while courses still reference the teacher.
func (r *Repository) DeleteTeacher(ctx context.Context, id string) error {
	var courses int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM courses WHERE teacher_id = $1`, id).Scan(&courses); err != nil {
		return err
	}
	if courses > 0 {
		return Conflict("teacher %s still teaches %d course(s)", id, courses)
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM teachers WHERE id = $1`, id)
	return expectOne(res, err, "teacher", id)
}

// -------- Students --------

const studentCols = `id, name, student_number, phone, address, remaining_hours, created_at`

func scanStudent(row scanner) (Student, error) {
	var st Student
	err := row.Scan(&st.ID, &st.Name, &st.StudentNumber, &st.Phone, &st.Address, &st.RemainingHours, &st.CreatedAt)
	return st, err
}

func (r *Repository) CreateStudent(ctx context.Context, st *Student) error {
	st.ID = uuid.NewString()
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO students (id, name, student_number, phone, address, remaining_hours)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, st.ID, st.Name, st.StudentNumber, st.Phone, st.Address, st.RemainingHours)
	if err := row.Scan(&st.CreatedAt); err != nil {
		return classify(err)
	}
	return nil
}

func (r *Repository) GetStudent(ctx context.Context, id string) (Student, error) {
	st, err := scanStudent(r.db.QueryRowContext(ctx, `SELECT `+studentCols+` FROM students WHERE id = $1`, id))
	if err != nil {
		return Student{}, notFoundOr(err, "student", id)
	}
	return st, nil
}

func (r *Repository) ListStudents(ctx context.Context) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+studentCols+` FROM students ORDER BY student_number`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Student
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, st)
	}
	return res, rows.Err()
}

func (r *Repository) UpdateStudent(ctx context.Context, st *Student, balance *int) error {
	var hours any
	if balance != nil {
		hours = *balance
	}
	err := r.db.QueryRowContext(ctx, `
		UPDATE students
		SET name = $2, student_number = $3, phone = $4, address = $5,
			remaining_hours = COALESCE($6, remaining_hours)
		WHERE id = $1
		RETURNING remaining_hours, created_at
	`, st.ID, st.Name, st.StudentNumber, st.Phone, st.Address, hours).Scan(&st.RemainingHours, &st.CreatedAt)
	if err != nil {
		return notFoundOr(err, "student", st.ID)
	}
	return nil
}

// DeleteStudent removes the student; attendance rows cascade.
func (r *Repository) DeleteStudent(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM students WHERE id = $1`, id)
	return expectOne(res, err, "student", id)
}

// UpdateStudentBalance is a single atomic UPDATE ... RETURNING.
func (r *Repository) UpdateStudentBalance(ctx context.Context, id string, delta int) (int, error) {
	var balance int
	err := r.db.QueryRowContext(ctx, `
		UPDATE students SET remaining_hours = remaining_hours + $2
		WHERE id = $1
		RETURNING remaining_hours
	`, id, delta).Scan(&balance)
	if err != nil {
		return 0, notFoundOr(err, "student", id)
	}
	return balance, nil
}

// -------- Courses --------

func (r *Repository) CreateCourse(ctx context.Context, c *Course) error {
	c.ID = uuid.NewString()
	c.Date = Day(c.Date)
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO courses (id, name, course_date, time_label, teacher_id)
		VALUES ($1, $2, $3::date, $4, $5)
		RETURNING created_at
	`, c.ID, c.Name, sqlDate(c.Date), c.TimeLabel, c.TeacherID)
	if err := row.Scan(&c.CreatedAt); err != nil {
		return classify(err)
	}
	return nil
}

const courseJoin = `
	SELECT c.id, c.name, c.course_date, c.time_label, c.teacher_id, c.created_at,
		t.id, t.name, t.email, t.phone, t.created_at
	FROM courses c
	JOIN teachers t ON t.id = c.teacher_id`

func scanCourse(row scanner) (Course, error) {
	var c Course
	var t Teacher
	if err := row.Scan(&c.ID, &c.Name, &c.Date, &c.TimeLabel, &c.TeacherID, &c.CreatedAt,
		&t.ID, &t.Name, &t.Email, &t.Phone, &t.CreatedAt); err != nil {
		return Course{}, err
	}
	c.Teacher = &t
	return c, nil
}

func (r *Repository) GetCourse(ctx context.Context, id string) (Course, error) {
	c, err := scanCourse(r.db.QueryRowContext(ctx, courseJoin+` WHERE c.id = $1`, id))
	if err != nil {
		return Course{}, notFoundOr(err, "course", id)
	}
	return c, nil
}

// ListCourses returns courses newest first.
func (r *Repository) ListCourses(ctx context.Context, withTeacher bool) ([]Course, error) {
	rows, err := r.db.QueryContext(ctx, courseJoin+` ORDER BY c.course_date DESC, c.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Course
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, err
		}
		if !withTeacher {
			c.Teacher = nil
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r *Repository) UpdateCourse(ctx context.Context, c Course) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE courses SET name = $2, course_date = $3::date, time_label = $4, teacher_id = $5
		WHERE id = $1
	`, c.ID, c.Name, sqlDate(c.Date), c.TimeLabel, c.TeacherID)
	return expectOne(res, err, "course", c.ID)
}

// DeleteCourse removes the course; attendance rows cascade.
func (r *Repository) DeleteCourse(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM courses WHERE id = $1`, id)
	return expectOne(res, err, "course", id)
}

// -------- Attendance --------

// InStudentTx locks the student row with SELECT ... FOR UPDATE so concurrent
// submissions touching the same student serialize on it.
func (r *Repository) InStudentTx(ctx context.Context, studentID string, fn func(StudentTx) error) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	st, err := scanStudent(tx.QueryRowContext(ctx, `SELECT `+studentCols+` FROM students WHERE id = $1 FOR UPDATE`, studentID))
	if err != nil {
		return notFoundOr(err, "student", studentID)
	}
	if err = fn(&sqlTx{ctx: ctx, tx: tx, student: st}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

type sqlTx struct {
	ctx     context.Context
	tx      *sql.Tx
	student Student
}

func (t *sqlTx) Student() Student { return t.student }

func (t *sqlTx) GetRecord(courseID string, sessionDate time.Time) (Record, bool, error) {
	var rec Record
	var status string
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT id, course_id, student_id, session_date, status, deducted, recorded_by, created_at, updated_at
		FROM attendance_records
		WHERE course_id = $1 AND student_id = $2 AND session_date = $3::date
	`, courseID, t.student.ID, sqlDate(sessionDate)).Scan(
		&rec.ID, &rec.CourseID, &rec.StudentID, &rec.SessionDate, &status, &rec.Deducted, &rec.RecordedBy, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, classify(err)
	}
	rec.Status = Status(status)
	return rec, true, nil
}

func (t *sqlTx) UpdateBalance(delta int) (int, error) {
	var balance int
	err := t.tx.QueryRowContext(t.ctx, `
		UPDATE students SET remaining_hours = remaining_hours + $2
		WHERE id = $1
		RETURNING remaining_hours
	`, t.student.ID, delta).Scan(&balance)
	if err != nil {
		return 0, classify(err)
	}
	t.student.RemainingHours = balance
	return balance, nil
}

// UpsertRecord writes the record keyed by (course, student, session date).
func (t *sqlTx) UpsertRecord(rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.SessionDate = Day(rec.SessionDate)
	err := t.tx.QueryRowContext(t.ctx, `
		INSERT INTO attendance_records (id, course_id, student_id, session_date, status, deducted, recorded_by)
		VALUES ($1, $2, $3, $4::date, $5, $6, $7)
		ON CONFLICT (course_id, student_id, session_date) DO UPDATE SET
			status = EXCLUDED.status,
			deducted = EXCLUDED.deducted,
			recorded_by = EXCLUDED.recorded_by,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`, rec.ID, rec.CourseID, rec.StudentID, sqlDate(rec.SessionDate), string(rec.Status), rec.Deducted, rec.RecordedBy).Scan(
		&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return Record{}, classify(err)
	}
	return rec, nil
}

// ListAttendanceByCourse joins records with the current student rows.
func (r *Repository) ListAttendanceByCourse(ctx context.Context, courseID string) ([]AttendanceRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.name, s.student_number, s.phone, s.remaining_hours, a.status, a.session_date, a.updated_at
		FROM attendance_records a
		JOIN students s ON s.id = a.student_id
		WHERE a.course_id = $1
		ORDER BY a.session_date, s.name
	`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []AttendanceRow{}
	for rows.Next() {
		var row AttendanceRow
		var status string
		if err := rows.Scan(&row.StudentID, &row.Name, &row.StudentNumber, &row.Phone, &row.RemainingHours, &status, &row.SessionDate, &row.UpdatedAt); err != nil {
			return nil, err
		}
		row.Status = Status(status)
		res = append(res, row)
	}
	return res, rows.Err()
}

func (r *Repository) ListStudentHistory(ctx context.Context, studentID string) ([]HistoryRow, error) {
	if _, err := r.GetStudent(ctx, studentID); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.course_id, c.name, a.session_date, a.status, a.deducted, a.updated_at
		FROM attendance_records a
		JOIN courses c ON c.id = a.course_id
		WHERE a.student_id = $1
		ORDER BY a.session_date DESC, c.name
	`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []HistoryRow{}
	for rows.Next() {
		var h HistoryRow
		var status string
		if err := rows.Scan(&h.CourseID, &h.CourseName, &h.SessionDate, &status, &h.Deducted, &h.UpdatedAt); err != nil {
			return nil, err
		}
		h.Status = Status(status)
		res = append(res, h)
	}
	return res, rows.Err()
}

// ListAttendanceBetween feeds the monthly report; both bounds are inclusive.
func (r *Repository) ListAttendanceBetween(ctx context.Context, from, to time.Time) ([]ReportRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.session_date, s.name, s.student_number, c.name, c.time_label, t.name, a.status, s.remaining_hours
		FROM attendance_records a
		JOIN students s ON s.id = a.student_id
		JOIN courses c ON c.id = a.course_id
		JOIN teachers t ON t.id = c.teacher_id
		WHERE a.session_date BETWEEN $1::date AND $2::date
		ORDER BY a.session_date, s.name, c.name
	`, sqlDate(from), sqlDate(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []ReportRow{}
	for rows.Next() {
		var row ReportRow
		var status string
		if err := rows.Scan(&row.SessionDate, &row.StudentName, &row.StudentNumber, &row.CourseName, &row.TimeLabel, &row.TeacherName, &status, &row.RemainingHours); err != nil {
			return nil, err
		}
		row.Status = Status(status)
		res = append(res, row)
	}
	return res, rows.Err()
}
