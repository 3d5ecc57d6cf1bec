package attendance

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type recordKey struct {
	courseID  string
	studentID string
	day       string
}

func keyOf(courseID, studentID string, day time.Time) recordKey {
	return recordKey{courseID: courseID, studentID: studentID, day: Day(day).Format(DateLayout)}
}

// MemoryStore is an in-process Backend for development and tests. A single
// mutex serializes every operation, so per-student transactions are trivially
// atomic.
type MemoryStore struct {
	mu       sync.Mutex
	teachers map[string]Teacher
	students map[string]Student
	courses  map[string]Course
	records  map[recordKey]Record
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		teachers: make(map[string]Teacher),
		students: make(map[string]Student),
		courses:  make(map[string]Course),
		records:  make(map[recordKey]Record),
	}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

// -------- Teachers --------

func (m *MemoryStore) CreateTeacher(_ context.Context, t *Teacher) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.Email = strings.ToLower(strings.TrimSpace(t.Email))
	if m.emailTaken(t.Email, "") {
		return fmt.Errorf("email %s already registered: %w", t.Email, ErrConflict)
	}
	t.ID = uuid.NewString()
	t.CreatedAt = time.Now().UTC()
	m.teachers[t.ID] = *t
	return nil
}

func (m *MemoryStore) emailTaken(email, exceptID string) bool {
	for id, t := range m.teachers {
		if id != exceptID && strings.EqualFold(t.Email, email) {
			return true
		}
	}
	return false
}

func (m *MemoryStore) GetTeacher(_ context.Context, id string) (Teacher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.teachers[id]
	if !ok {
		return Teacher{}, fmt.Errorf("teacher %s: %w", id, ErrNotFound)
	}
	return t, nil
}

func (m *MemoryStore) GetTeacherByEmail(_ context.Context, email string) (Teacher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.teachers {
		if strings.EqualFold(t.Email, email) {
			return t, nil
		}
	}
	return Teacher{}, fmt.Errorf("teacher %s: %w", email, ErrNotFound)
}

func (m *MemoryStore) ListTeachers(context.Context) ([]Teacher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Teacher, 0, len(m.teachers))
	for _, t := range m.teachers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) UpdateTeacher(_ context.Context, t Teacher) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.teachers[t.ID]
	if !ok {
		return fmt.Errorf("teacher %s: %w", t.ID, ErrNotFound)
	}
	if m.emailTaken(t.Email, t.ID) {
		return fmt.Errorf("email %s already registered: %w", t.Email, ErrConflict)
	}
	cur.Name, cur.Email, cur.Phone = t.Name, strings.ToLower(strings.TrimSpace(t.Email)), t.Phone
	if t.PasswordHash != "" {
		cur.PasswordHash = t.PasswordHash
	}
	m.teachers[t.ID] = cur
	return nil
}

func (m *MemoryStore) DeleteTeacher(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.teachers[id]; !ok {
		return fmt.Errorf("teacher %s: %w", id, ErrNotFound)
	}
	n := 0
	for _, c := range m.courses {
		if c.TeacherID == id {
			n++
		}
	}
	if n > 0 {
		return Conflict("teacher %s still teaches %d course(s)", id, n)
	}
	delete(m.teachers, id)
	return nil
}

// -------- Students --------

func (m *MemoryStore) numberTaken(number, exceptID string) bool {
	for id, st := range m.students {
		if id != exceptID && st.StudentNumber == number {
			return true
		}
	}
	return false
}

func (m *MemoryStore) CreateStudent(_ context.Context, st *Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.numberTaken(st.StudentNumber, "") {
		return fmt.Errorf("student number %s already registered: %w", st.StudentNumber, ErrConflict)
	}
	st.ID = uuid.NewString()
	st.CreatedAt = time.Now().UTC()
	m.students[st.ID] = *st
	return nil
}

func (m *MemoryStore) GetStudent(_ context.Context, id string) (Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.students[id]
	if !ok {
		return Student{}, fmt.Errorf("student %s: %w", id, ErrNotFound)
	}
	return st, nil
}

func (m *MemoryStore) ListStudents(context.Context) ([]Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Student, 0, len(m.students))
	for _, st := range m.students {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentNumber < out[j].StudentNumber })
	return out, nil
}

func (m *MemoryStore) UpdateStudent(_ context.Context, st *Student, balance *int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.students[st.ID]
	if !ok {
		return fmt.Errorf("student %s: %w", st.ID, ErrNotFound)
	}
	if m.numberTaken(st.StudentNumber, st.ID) {
		return fmt.Errorf("student number %s already registered: %w", st.StudentNumber, ErrConflict)
	}
	cur.Name, cur.StudentNumber, cur.Phone, cur.Address = st.Name, st.StudentNumber, st.Phone, st.Address
	if balance != nil {
		cur.RemainingHours = *balance
	}
	m.students[st.ID] = cur
	*st = cur
	return nil
}

func (m *MemoryStore) DeleteStudent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.students[id]; !ok {
		return fmt.Errorf("student %s: %w", id, ErrNotFound)
	}
	for k := range m.records {
		if k.studentID == id {
			delete(m.records, k)
		}
	}
	delete(m.students, id)
	return nil
}

func (m *MemoryStore) UpdateStudentBalance(_ context.Context, id string, delta int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.students[id]
	if !ok {
		return 0, fmt.Errorf("student %s: %w", id, ErrNotFound)
	}
	st.RemainingHours += delta
	m.students[id] = st
	return st.RemainingHours, nil
}

// -------- Courses --------

func (m *MemoryStore) CreateCourse(_ context.Context, c *Course) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.teachers[c.TeacherID]; !ok {
		return fmt.Errorf("teacher %s: %w", c.TeacherID, ErrNotFound)
	}
	c.ID = uuid.NewString()
	c.Date = Day(c.Date)
	c.CreatedAt = time.Now().UTC()
	c.Teacher = nil
	m.courses[c.ID] = *c
	return nil
}

func (m *MemoryStore) GetCourse(_ context.Context, id string) (Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.courses[id]
	if !ok {
		return Course{}, fmt.Errorf("course %s: %w", id, ErrNotFound)
	}
	if t, ok := m.teachers[c.TeacherID]; ok {
		c.Teacher = &t
	}
	return c, nil
}

func (m *MemoryStore) ListCourses(_ context.Context, withTeacher bool) ([]Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Course, 0, len(m.courses))
	for _, c := range m.courses {
		if withTeacher {
			if t, ok := m.teachers[c.TeacherID]; ok {
				c.Teacher = &t
			}
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (m *MemoryStore) UpdateCourse(_ context.Context, c Course) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.courses[c.ID]
	if !ok {
		return fmt.Errorf("course %s: %w", c.ID, ErrNotFound)
	}
	if _, ok := m.teachers[c.TeacherID]; !ok {
		return fmt.Errorf("teacher %s: %w", c.TeacherID, ErrNotFound)
	}
	cur.Name, cur.Date, cur.TimeLabel, cur.TeacherID = c.Name, Day(c.Date), c.TimeLabel, c.TeacherID
	m.courses[c.ID] = cur
	return nil
}

func (m *MemoryStore) DeleteCourse(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.courses[id]; !ok {
		return fmt.Errorf("course %s: %w", id, ErrNotFound)
	}
	for k := range m.records {
		if k.courseID == id {
			delete(m.records, k)
		}
	}
	delete(m.courses, id)
	return nil
}

// -------- Attendance --------

func (m *MemoryStore) InStudentTx(_ context.Context, studentID string, fn func(StudentTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.students[studentID]
	if !ok {
		return fmt.Errorf("student %s: %w", studentID, ErrNotFound)
	}
	tx := &memTx{store: m, student: st, staged: make(map[recordKey]Record)}
	if err := fn(tx); err != nil {
		return err
	}
	m.students[studentID] = tx.student
	for k, rec := range tx.staged {
		m.records[k] = rec
	}
	return nil
}

type memTx struct {
	store   *MemoryStore
	student Student
	staged  map[recordKey]Record
}

func (tx *memTx) Student() Student { return tx.student }

func (tx *memTx) GetRecord(courseID string, sessionDate time.Time) (Record, bool, error) {
	k := keyOf(courseID, tx.student.ID, sessionDate)
	if rec, ok := tx.staged[k]; ok {
		return rec, true, nil
	}
	rec, ok := tx.store.records[k]
	return rec, ok, nil
}

func (tx *memTx) UpdateBalance(delta int) (int, error) {
	tx.student.RemainingHours += delta
	return tx.student.RemainingHours, nil
}

func (tx *memTx) UpsertRecord(rec Record) (Record, error) {
	if rec.StudentID != tx.student.ID {
		return Record{}, fmt.Errorf("record for student %s written in transaction of %s", rec.StudentID, tx.student.ID)
	}
	if _, ok := tx.store.courses[rec.CourseID]; !ok {
		return Record{}, fmt.Errorf("course %s: %w", rec.CourseID, ErrNotFound)
	}
	now := time.Now().UTC()
	rec.SessionDate = Day(rec.SessionDate)
	k := keyOf(rec.CourseID, rec.StudentID, rec.SessionDate)
	if prev, ok := tx.store.records[k]; ok {
		rec.ID = prev.ID
		rec.CreatedAt = prev.CreatedAt
	} else {
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	tx.staged[k] = rec
	return rec, nil
}

func (m *MemoryStore) ListAttendanceByCourse(_ context.Context, courseID string) ([]AttendanceRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []AttendanceRow{}
	for _, rec := range m.records {
		if rec.CourseID != courseID {
			continue
		}
		st := m.students[rec.StudentID]
		out = append(out, AttendanceRow{
			StudentID:      st.ID,
			Name:           st.Name,
			StudentNumber:  st.StudentNumber,
			Phone:          st.Phone,
			RemainingHours: st.RemainingHours,
			Status:         rec.Status,
			SessionDate:    rec.SessionDate,
			UpdatedAt:      rec.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SessionDate.Equal(out[j].SessionDate) {
			return out[i].SessionDate.Before(out[j].SessionDate)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (m *MemoryStore) ListStudentHistory(_ context.Context, studentID string) ([]HistoryRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.students[studentID]; !ok {
		return nil, fmt.Errorf("student %s: %w", studentID, ErrNotFound)
	}
	out := []HistoryRow{}
	for _, rec := range m.records {
		if rec.StudentID != studentID {
			continue
		}
		out = append(out, HistoryRow{
			CourseID:    rec.CourseID,
			CourseName:  m.courses[rec.CourseID].Name,
			SessionDate: rec.SessionDate,
			Status:      rec.Status,
			Deducted:    rec.Deducted,
			UpdatedAt:   rec.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SessionDate.Equal(out[j].SessionDate) {
			return out[i].SessionDate.After(out[j].SessionDate)
		}
		return out[i].CourseName < out[j].CourseName
	})
	return out, nil
}

func (m *MemoryStore) ListAttendanceBetween(_ context.Context, from, to time.Time) ([]ReportRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	from, to = Day(from), Day(to)
	out := []ReportRow{}
	for _, rec := range m.records {
		if rec.SessionDate.Before(from) || rec.SessionDate.After(to) {
			continue
		}
		st := m.students[rec.StudentID]
		c := m.courses[rec.CourseID]
		out = append(out, ReportRow{
			SessionDate:    rec.SessionDate,
			StudentName:    st.Name,
			StudentNumber:  st.StudentNumber,
			CourseName:     c.Name,
			TimeLabel:      c.TimeLabel,
			TeacherName:    m.teachers[c.TeacherID].Name,
			Status:         rec.Status,
			RemainingHours: st.RemainingHours,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SessionDate.Equal(out[j].SessionDate) {
			return out[i].SessionDate.Before(out[j].SessionDate)
		}
		if out[i].StudentName != out[j].StudentName {
			return out[i].StudentName < out[j].StudentName
		}
		return out[i].CourseName < out[j].CourseName
	})
	return out, nil
}

var _ Backend = (*MemoryStore)(nil)
