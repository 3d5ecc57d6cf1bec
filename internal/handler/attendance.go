package handler

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"classroll/internal/attendance"
	"classroll/internal/auth"
	"classroll/internal/live"
	"classroll/internal/queue"
	"classroll/internal/report"
)

// recordRequest accepts either an explicit roster or the list of present
// students; exactly one must be given.
type recordRequest struct {
	Date              string             `json:"date" binding:"required"`
	Records           []attendance.Entry `json:"records"`
	PresentStudentIDs []string           `json:"presentStudentIds"`
}

func (h *Handler) recordAttendance(c *gin.Context) {
	courseID := c.Param("id")
	var req recordRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	day, err := attendance.ParseDay(req.Date)
	if err != nil {
		h.fail(c, attendance.Invalid("date must be YYYY-MM-DD"))
		return
	}

	ctx := c.Request.Context()
	var roster []attendance.Entry
	switch {
	case req.Records != nil && req.PresentStudentIDs != nil:
		h.fail(c, attendance.Invalid("send either records or presentStudentIds, not both"))
		return
	case req.Records != nil:
		roster = req.Records
	case req.PresentStudentIDs != nil:
		students, err := h.Store.ListStudents(ctx)
		if err != nil {
			h.fail(c, attendance.Unavailable(err, "list students"))
			return
		}
		roster = attendance.RosterFromPresentIDs(students, req.PresentStudentIDs)
	default:
		h.fail(c, attendance.Invalid("records or presentStudentIds is required"))
		return
	}

	recordedBy := ""
	if claims, ok := auth.FromContext(c); ok {
		recordedBy = claims.Email
	}

	res, err := h.Service.RecordAttendance(ctx, courseID, day, roster, recordedBy)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.announce(c, res, recordedBy)

	c.JSON(http.StatusCreated, gin.H{"message": "attendance recorded", "result": res})
}

// announce notifies the worker and live dashboards. Neither failure affects
// the response: the records are already committed.
func (h *Handler) announce(c *gin.Context, res attendance.Result, recordedBy string) {
	if h.Events != nil {
		msg, err := queue.NewMessage(queue.TypeAttendanceRecorded, queue.AttendanceRecorded{
			CourseID:    res.CourseID,
			SessionDate: res.SessionDate.Format(attendance.DateLayout),
			Written:     res.Written,
			RecordedBy:  recordedBy,
			At:          time.Now().UTC(),
		})
		if err == nil {
			err = h.Events.Publish(c.Request.Context(), msg)
		}
		if err != nil {
			h.Log.Warn("queue publish failed", zap.String("course_id", res.CourseID), zap.Error(err))
		}
	}
	if h.Live != nil {
		h.Live.Publish(live.TypeAttendanceRecorded, res)
	}
}

func (h *Handler) getAttendance(c *gin.Context) {
	rows, err := h.Service.GetAttendance(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handler) getSummary(c *gin.Context) {
	var date *time.Time
	if v := c.Query("date"); v != "" {
		d, err := attendance.ParseDay(v)
		if err != nil {
			h.fail(c, attendance.Invalid("date must be YYYY-MM-DD"))
			return
		}
		date = &d
	}
	rows, err := h.Service.GetSummary(c.Request.Context(), c.Param("id"), date)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handler) exportAttendance(c *gin.Context) {
	courseID := c.Param("id")
	rows, err := h.Service.GetAttendance(c.Request.Context(), courseID)
	if err != nil {
		h.fail(c, err)
		return
	}
	var buf bytes.Buffer
	if err := report.AttendanceCSV(&buf, rows); err != nil {
		h.fail(c, attendance.Unavailable(err, "render csv"))
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=attendance-%s.csv", courseID))
	c.Data(http.StatusOK, report.ContentTypeCSV, buf.Bytes())
}

func (h *Handler) monthlyReport(c *gin.Context) {
	month := c.Query("month")
	if month == "" {
		month = time.Now().UTC().Format("2006-01")
	}
	year, mon, err := attendance.ParseMonth(month)
	if err != nil {
		h.fail(c, err)
		return
	}
	rows, err := attendance.MonthlyReport(c.Request.Context(), h.Store, year, mon)
	if err != nil {
		h.fail(c, err)
		return
	}

	switch format := c.DefaultQuery("format", "json"); format {
	case "json":
		c.JSON(http.StatusOK, rows)
	case "csv":
		var buf bytes.Buffer
		if err := report.MonthlyCSV(&buf, rows); err != nil {
			h.fail(c, attendance.Unavailable(err, "render csv"))
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=attendance-%s.csv", month))
		c.Data(http.StatusOK, report.ContentTypeCSV, buf.Bytes())
	case "xlsx":
		buf, err := report.MonthlyXLSX(month, rows)
		if err != nil {
			h.fail(c, attendance.Unavailable(err, "render xlsx"))
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=attendance-%s.xlsx", month))
		c.Data(http.StatusOK, report.ContentTypeXLSX, buf.Bytes())
	default:
		h.fail(c, attendance.Invalid("unknown format %q", format))
	}
}
