package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classroll/internal/attendance"
	"classroll/internal/auth"
	"classroll/internal/live"
	"classroll/internal/lowbalance"
	"classroll/internal/queue"
	"classroll/internal/report"
)

type recordedEvent struct {
	typ     string
	payload any
}

type fakeLive struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeLive) Publish(typ string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{typ, payload})
}

type env struct {
	t       *testing.T
	router  *gin.Engine
	store   *attendance.MemoryStore
	events  *queue.InMemory
	live    *fakeLive
	low     *lowbalance.Tracker
	teacher attendance.Teacher
	course  attendance.Course
	alice   attendance.Student
	bob     attendance.Student
	token   string
}

// newEnv builds a router over a seeded memory store. wrap, when given,
// decorates the store the handlers see; the service keeps the raw store.
func newEnv(t *testing.T, wrap ...func(attendance.Backend) attendance.Backend) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := attendance.NewMemoryStore()
	hash, err := auth.HashPassword("hunter22")
	require.NoError(t, err)
	teacher := attendance.Teacher{Name: "Ms. Lin", Email: "lin@example.com", PasswordHash: hash}
	require.NoError(t, store.CreateTeacher(ctx, &teacher))
	course := attendance.Course{Name: "Algebra", Date: time.Date(2025, 5, 4, 0, 0, 0, 0, time.UTC), TimeLabel: "10:00", TeacherID: teacher.ID}
	require.NoError(t, store.CreateCourse(ctx, &course))
	alice := attendance.Student{Name: "Alice", StudentNumber: "S001", RemainingHours: 3}
	require.NoError(t, store.CreateStudent(ctx, &alice))
	bob := attendance.Student{Name: "Bob", StudentNumber: "S002", RemainingHours: 0}
	require.NoError(t, store.CreateStudent(ctx, &bob))

	e := &env{
		t:       t,
		store:   store,
		events:  queue.NewInMemory(16),
		live:    &fakeLive{},
		low:     lowbalance.NewTracker(rdb, 1),
		teacher: teacher,
		course:  course,
		alice:   alice,
		bob:     bob,
	}

	var backend attendance.Backend = store
	for _, w := range wrap {
		backend = w(backend)
	}
	h := New(Deps{
		Store:      backend,
		Service:    attendance.NewService(store, attendance.Options{}),
		Sessions:   auth.NewRedisSessions(rdb),
		Events:     e.events,
		Live:       e.live,
		LowBalance: e.low,
		Issuer:     "classroll",
		SigningKey: "test-key",
		AccessTTL:  time.Hour,
	})
	e.router = gin.New()
	h.Register(e.router)

	w := e.do(http.MethodPost, "/login", gin.H{"email": "LIN@example.com", "password": "hunter22"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var login struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &login))
	e.token = login.Token
	return e
}

func (e *env) do(method, path string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type errorResponse struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func (e *env) balance(id string) int {
	e.t.Helper()
	st, err := e.store.GetStudent(context.Background(), id)
	require.NoError(e.t, err)
	return st.RemainingHours
}

func TestLogin(t *testing.T) {
	e := newEnv(t)

	e.token = ""
	w := e.do(http.MethodPost, "/login", gin.H{"email": "lin@example.com", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(http.MethodPost, "/login", gin.H{"email": "nobody@example.com", "password": "hunter22"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(http.MethodPost, "/login", gin.H{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation", decode[errorResponse](t, w).Error.Kind)

	w = e.do(http.MethodGet, "/students", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogoutRevokesToken(t *testing.T) {
	e := newEnv(t)

	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/students", nil).Code)
	assert.Equal(t, http.StatusNoContent, e.do(http.MethodPost, "/logout", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodGet, "/students", nil).Code)
}

func TestRecordAttendance_ExplicitRoster(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodPost, "/courses/"+e.course.ID+"/attendance", gin.H{
		"date": "2025-05-04",
		"records": []gin.H{
			{"studentId": e.alice.ID, "status": "present"},
			{"studentId": e.bob.ID, "status": "present"},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := decode[struct {
		Message string            `json:"message"`
		Result  attendance.Result `json:"result"`
	}](t, w)
	assert.NotEmpty(t, resp.Message)
	assert.Equal(t, 2, resp.Result.Written)
	assert.Equal(t, 1, resp.Result.Deducted)
	assert.Equal(t, 2, e.balance(e.alice.ID))
	assert.Equal(t, 0, e.balance(e.bob.ID))

	select {
	case msg := <-mustConsume(t, e.events):
		assert.Equal(t, queue.TypeAttendanceRecorded, msg.Type)
		var evt queue.AttendanceRecorded
		require.NoError(t, msg.Decode(&evt))
		assert.Equal(t, e.course.ID, evt.CourseID)
		assert.Equal(t, "2025-05-04", evt.SessionDate)
		assert.Equal(t, "lin@example.com", evt.RecordedBy)
	case <-time.After(2 * time.Second):
		t.Fatal("no queue event")
	}

	require.Len(t, e.live.events, 1)
	assert.Equal(t, live.TypeAttendanceRecorded, e.live.events[0].typ)
}

func mustConsume(t *testing.T, q *queue.InMemory) <-chan queue.Message {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ch, err := q.Consume(ctx)
	require.NoError(t, err)
	return ch
}

func TestRecordAttendance_PresentIDs(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodPost, "/courses/"+e.course.ID+"/attendance", gin.H{
		"date":              "2025-05-04",
		"presentStudentIds": []string{e.alice.ID},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = e.do(http.MethodGet, "/courses/"+e.course.ID+"/attendance", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rows := decode[[]attendance.AttendanceRow](t, w)
	require.Len(t, rows, 2)
	byID := map[string]attendance.AttendanceRow{}
	for _, r := range rows {
		byID[r.StudentID] = r
	}
	assert.Equal(t, attendance.StatusPresent, byID[e.alice.ID].Status)
	assert.Equal(t, 2, byID[e.alice.ID].RemainingHours)
	assert.Equal(t, attendance.StatusAbsent, byID[e.bob.ID].Status)
}

func TestRecordAttendance_Errors(t *testing.T) {
	e := newEnv(t)
	path := "/courses/" + e.course.ID + "/attendance"

	cases := []struct {
		name   string
		path   string
		body   any
		status int
		kind   string
	}{
		{"unknown course", "/courses/nope/attendance", gin.H{"date": "2025-05-04", "records": []gin.H{}}, http.StatusNotFound, "not_found"},
		{"missing date", path, gin.H{"records": []gin.H{}}, http.StatusBadRequest, "validation"},
		{"bad date", path, gin.H{"date": "05/04/2025", "records": []gin.H{}}, http.StatusBadRequest, "validation"},
		{"no roster", path, gin.H{"date": "2025-05-04"}, http.StatusBadRequest, "validation"},
		{"both forms", path, gin.H{"date": "2025-05-04", "records": []gin.H{}, "presentStudentIds": []string{}}, http.StatusBadRequest, "validation"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := e.do(http.MethodPost, tc.path, tc.body)
			assert.Equal(t, tc.status, w.Code, w.Body.String())
			assert.Equal(t, tc.kind, decode[errorResponse](t, w).Error.Kind)
		})
	}

	assert.Equal(t, 3, e.balance(e.alice.ID))
	w := e.do(http.MethodGet, path, nil)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestSummaryAndExport(t *testing.T) {
	e := newEnv(t)
	path := "/courses/" + e.course.ID

	for _, d := range []string{"2025-05-04", "2025-05-11"} {
		w := e.do(http.MethodPost, path+"/attendance", gin.H{"date": d, "presentStudentIds": []string{e.alice.ID}})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := e.do(http.MethodGet, path+"/summary?date=2025-05-11", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rows := decode[[]attendance.AttendanceRow](t, w)
	require.Len(t, rows, 2)
	assert.Equal(t, "Alice", rows[0].Name)
	assert.Equal(t, "Bob", rows[1].Name)

	w = e.do(http.MethodGet, path+"/summary?date=someday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(http.MethodGet, path+"/attendance.csv", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, report.ContentTypeCSV, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "2025-05-11,Alice,S001")

	w = e.do(http.MethodGet, "/reports/monthly?month=2025-05", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]attendance.ReportRow](t, w), 4)

	w = e.do(http.MethodGet, "/reports/monthly?month=2025-05&format=xlsx", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, report.ContentTypeXLSX, w.Header().Get("Content-Type"))

	w = e.do(http.MethodGet, "/reports/monthly?month=2025-05&format=pdf", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(http.MethodGet, "/students/"+e.alice.ID+"/attendance", nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[[]attendance.HistoryRow](t, w)
	require.Len(t, history, 2)
	assert.Equal(t, "2025-05-11", history[0].SessionDate.Format(attendance.DateLayout))
}

func TestStudentCRUD(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodPost, "/students", gin.H{"name": "Cara", "student_number": "S003", "remaining_hours": 10})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	cara := decode[attendance.Student](t, w)
	assert.Equal(t, 10, cara.RemainingHours)

	w = e.do(http.MethodPost, "/students", gin.H{"name": "Dup", "student_number": "S003"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(http.MethodPut, "/students/"+cara.ID, gin.H{"name": "Cara B.", "student_number": "S003"})
	require.Equal(t, http.StatusOK, w.Code)
	updated := decode[attendance.Student](t, w)
	assert.Equal(t, "Cara B.", updated.Name)
	assert.Equal(t, 10, updated.RemainingHours)

	w = e.do(http.MethodPost, "/students/"+cara.ID+"/hours", gin.H{"delta": 5})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 15, e.balance(cara.ID))

	w = e.do(http.MethodPost, "/students/"+cara.ID+"/hours", gin.H{"delta": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(http.MethodPost, "/students/ghost/hours", gin.H{"delta": 1})
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Equal(t, http.StatusNoContent, e.do(http.MethodDelete, "/students/"+cara.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/students/"+cara.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodDelete, "/students/"+cara.ID, nil).Code)
}

func TestTeacherAndCourseCRUD(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodPost, "/teachers", gin.H{"name": "Mr. Ode", "email": "ode@example.com", "password": "secret1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	ode := decode[attendance.Teacher](t, w)
	assert.NotContains(t, w.Body.String(), "secret1")

	w = e.do(http.MethodPost, "/teachers", gin.H{"name": "Other", "email": "ODE@example.com", "password": "secret1"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(http.MethodPost, "/courses", gin.H{"name": "Physics", "date": "2025-06-01", "time": "14:00", "teacher_id": "ghost"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(http.MethodPost, "/courses", gin.H{"name": "Physics", "date": "2025-06-01", "time": "14:00", "teacher_id": ode.ID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	physics := decode[attendance.Course](t, w)

	w = e.do(http.MethodDelete, "/teachers/"+ode.ID, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(http.MethodPut, "/courses/"+physics.ID, gin.H{"name": "Physics II", "date": "2025-06-08", "teacher_id": e.teacher.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	moved := decode[attendance.Course](t, w)
	assert.Equal(t, "Physics II", moved.Name)
	require.NotNil(t, moved.Teacher)
	assert.Equal(t, "Ms. Lin", moved.Teacher.Name)

	w = e.do(http.MethodGet, "/courses?with_teacher=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	courses := decode[[]attendance.Course](t, w)
	require.Len(t, courses, 2)
	for _, c := range courses {
		assert.NotNil(t, c.Teacher)
	}

	assert.Equal(t, http.StatusNoContent, e.do(http.MethodDelete, "/teachers/"+ode.ID, nil).Code)

	w = e.do(http.MethodPut, "/teachers/"+e.teacher.ID, gin.H{"name": "Ms. Lin", "email": "lin@example.com", "phone": "555"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "555", decode[attendance.Teacher](t, w).Phone)

	// Updating without a password keeps the old one working.
	e.token = ""
	w = e.do(http.MethodPost, "/login", gin.H{"email": "lin@example.com", "password": "hunter22"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLowBalanceStudents(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodGet, "/students/low-balance", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	_, err := e.low.Observe(context.Background(), map[string]int{e.alice.ID: 3, e.bob.ID: 0, "deleted": 0})
	require.NoError(t, err)

	w = e.do(http.MethodGet, "/students/low-balance", nil)
	require.Equal(t, http.StatusOK, w.Code)
	students := decode[[]attendance.Student](t, w)
	require.Len(t, students, 1)
	assert.Equal(t, e.bob.ID, students[0].ID)

	require.Equal(t, http.StatusNoContent, e.do(http.MethodDelete, "/students/"+e.bob.ID, nil).Code)
	members, err := e.low.Members(context.Background())
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestLowBalanceStudents_TopUpClearsFlag(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.low.Observe(ctx, map[string]int{e.bob.ID: 0})
	require.NoError(t, err)

	w := e.do(http.MethodPost, "/students/"+e.bob.ID+"/hours", gin.H{"delta": 10})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(http.MethodGet, "/students/low-balance", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	w = e.do(http.MethodPut, "/students/"+e.alice.ID, gin.H{"name": "Alice", "student_number": "S001", "remaining_hours": 1})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	members, err := e.low.Members(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{e.alice.ID}, members)
}

func TestLowBalanceStudents_DropsStaleMembers(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// Alice actually holds 3 hours, above the threshold of 1.
	_, err := e.low.Observe(ctx, map[string]int{e.alice.ID: 0, e.bob.ID: 0})
	require.NoError(t, err)

	w := e.do(http.MethodGet, "/students/low-balance", nil)
	require.Equal(t, http.StatusOK, w.Code)
	students := decode[[]attendance.Student](t, w)
	require.Len(t, students, 1)
	assert.Equal(t, e.bob.ID, students[0].ID)

	members, err := e.low.Members(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{e.bob.ID}, members)
}

type brokenLookupStore struct {
	attendance.Backend
}

func (brokenLookupStore) GetStudent(context.Context, string) (attendance.Student, error) {
	return attendance.Student{}, errors.New("connection refused")
}

func TestLowBalanceStudents_StoreFailureIsNotHidden(t *testing.T) {
	e := newEnv(t, func(b attendance.Backend) attendance.Backend { return brokenLookupStore{b} })

	_, err := e.low.Observe(context.Background(), map[string]int{e.bob.ID: 0})
	require.NoError(t, err)

	w := e.do(http.MethodGet, "/students/low-balance", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "store_unavailable", decode[errorResponse](t, w).Error.Kind)
	assert.NotContains(t, w.Body.String(), "connection refused")
}

// racingStore runs beforeUpdate just ahead of every student update.
type racingStore struct {
	attendance.Backend
	beforeUpdate func()
}

func (r *racingStore) UpdateStudent(ctx context.Context, st *attendance.Student, balance *int) error {
	if r.beforeUpdate != nil {
		r.beforeUpdate()
	}
	return r.Backend.UpdateStudent(ctx, st, balance)
}

func TestUpdateStudent_KeepsConcurrentDeduction(t *testing.T) {
	race := &racingStore{}
	e := newEnv(t, func(b attendance.Backend) attendance.Backend {
		race.Backend = b
		return race
	})
	svc := attendance.NewService(e.store, attendance.Options{})
	race.beforeUpdate = func() {
		_, err := svc.RecordAttendance(context.Background(), e.course.ID, e.course.Date,
			[]attendance.Entry{{StudentID: e.alice.ID, Status: attendance.StatusPresent}}, "lin@example.com")
		require.NoError(t, err)
	}

	w := e.do(http.MethodPut, "/students/"+e.alice.ID, gin.H{"name": "Alice A.", "student_number": "S001"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[attendance.Student](t, w)
	assert.Equal(t, "Alice A.", updated.Name)
	assert.Equal(t, 2, updated.RemainingHours)
	assert.Equal(t, 2, e.balance(e.alice.ID))

	race.beforeUpdate = nil
	w = e.do(http.MethodPut, "/students/"+e.alice.ID, gin.H{"name": "Alice A.", "student_number": "S001", "remaining_hours": 7})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 7, e.balance(e.alice.ID))
}
