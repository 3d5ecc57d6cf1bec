// Package handler exposes the attendance service over HTTP.
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"classroll/internal/attendance"
	"classroll/internal/auth"
	"classroll/internal/queue"
)

// Publisher hands events to the worker queue.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// Broadcaster pushes events to connected dashboards.
type Broadcaster interface {
	Publish(typ string, payload any)
}

// LowBalance is the set of students at or below the balance threshold.
// The worker maintains it; handlers refresh it after manual balance edits.
type LowBalance interface {
	Threshold() int
	Observe(ctx context.Context, balances map[string]int) ([]string, error)
	Members(ctx context.Context) ([]string, error)
	Forget(ctx context.Context, studentID string) error
}

// Deps wires a Handler. Events, Live, LowBalance and Socket are optional.
type Deps struct {
	Store      attendance.Backend
	Service    *attendance.Service
	Sessions   auth.Sessions
	Events     Publisher
	Live       Broadcaster
	LowBalance LowBalance
	Socket     gin.HandlerFunc
	Log        *zap.Logger

	Issuer     string
	SigningKey string
	AccessTTL  time.Duration
}

// Handler serves the JSON API.
type Handler struct {
	Deps
}

func New(d Deps) *Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &Handler{Deps: d}
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/login", h.login)

	authed := r.Group("", auth.TeacherAuth(h.SigningKey, h.Issuer, h.Sessions, h.Log))
	authed.POST("/logout", h.logout)

	authed.GET("/teachers", h.listTeachers)
	authed.POST("/teachers", h.createTeacher)
	authed.PUT("/teachers/:id", h.updateTeacher)
	authed.DELETE("/teachers/:id", h.deleteTeacher)

	authed.GET("/students", h.listStudents)
	authed.POST("/students", h.createStudent)
	authed.GET("/students/low-balance", h.lowBalanceStudents)
	authed.GET("/students/:id", h.getStudent)
	authed.PUT("/students/:id", h.updateStudent)
	authed.DELETE("/students/:id", h.deleteStudent)
	authed.POST("/students/:id/hours", h.addHours)
	authed.GET("/students/:id/attendance", h.studentHistory)

	authed.GET("/courses", h.listCourses)
	authed.POST("/courses", h.createCourse)
	authed.GET("/courses/:id", h.getCourse)
	authed.PUT("/courses/:id", h.updateCourse)
	authed.DELETE("/courses/:id", h.deleteCourse)
	authed.POST("/courses/:id/attendance", h.recordAttendance)
	authed.GET("/courses/:id/attendance", h.getAttendance)
	authed.GET("/courses/:id/attendance.csv", h.exportAttendance)
	authed.GET("/courses/:id/summary", h.getSummary)

	authed.GET("/reports/monthly", h.monthlyReport)

	if h.Socket != nil {
		authed.GET("/ws", h.Socket)
	}
}

func statusOf(kind attendance.Kind) int {
	switch kind {
	case attendance.KindNotFound:
		return http.StatusNotFound
	case attendance.KindValidation:
		return http.StatusBadRequest
	case attendance.KindConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func errorBody(kind attendance.Kind, msg string) gin.H {
	return gin.H{"error": gin.H{"kind": kind, "message": msg}}
}

// fail writes err as a structured error body. Store failures are logged and
// their driver text is kept out of the response.
func (h *Handler) fail(c *gin.Context, err error) {
	kind := attendance.KindOf(err)
	msg := attendance.MessageOf(err)
	if kind == attendance.KindStoreUnavailable {
		h.Log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Error(err))
		var e *attendance.Error
		if !errors.As(err, &e) {
			msg = "storage unavailable"
		}
	}
	c.JSON(statusOf(kind), errorBody(kind, msg))
}

// storeErr turns bare store sentinels into caller-facing errors.
func storeErr(err error, what, id, conflictMsg string) error {
	var e *attendance.Error
	switch {
	case errors.As(err, &e):
		return err
	case errors.Is(err, attendance.ErrNotFound):
		return attendance.NotFound("%s %s not found", what, id)
	case errors.Is(err, attendance.ErrConflict):
		return attendance.Conflict("%s", conflictMsg)
	}
	return attendance.Unavailable(err, "%s storage failed", what)
}

func bindJSON(c *gin.Context, v any) error {
	if err := c.ShouldBindJSON(v); err != nil {
		return attendance.Invalid("invalid request body: %v", err)
	}
	return nil
}
