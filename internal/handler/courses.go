package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"classroll/internal/attendance"
)

type courseRequest struct {
	Name      string `json:"name" binding:"required"`
	Date      string `json:"date" binding:"required"`
	Time      string `json:"time"`
	TeacherID string `json:"teacher_id" binding:"required"`
}

func (r courseRequest) course(id string) (attendance.Course, error) {
	d, err := attendance.ParseDay(r.Date)
	if err != nil {
		return attendance.Course{}, attendance.Invalid("date must be YYYY-MM-DD")
	}
	return attendance.Course{
		ID:        id,
		Name:      strings.TrimSpace(r.Name),
		Date:      d,
		TimeLabel: strings.TrimSpace(r.Time),
		TeacherID: strings.TrimSpace(r.TeacherID),
	}, nil
}

func (h *Handler) listCourses(c *gin.Context) {
	courses, err := h.Store.ListCourses(c.Request.Context(), c.Query("with_teacher") == "true")
	if err != nil {
		h.fail(c, storeErr(err, "course", "", ""))
		return
	}
	if courses == nil {
		courses = []attendance.Course{}
	}
	c.JSON(http.StatusOK, courses)
}

func (h *Handler) getCourse(c *gin.Context) {
	id := c.Param("id")
	course, err := h.Store.GetCourse(c.Request.Context(), id)
	if err != nil {
		h.fail(c, storeErr(err, "course", id, ""))
		return
	}
	c.JSON(http.StatusOK, course)
}

func (h *Handler) createCourse(c *gin.Context) {
	var req courseRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	course, err := req.course("")
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.Store.CreateCourse(c.Request.Context(), &course); err != nil {
		h.fail(c, storeErr(err, "teacher", course.TeacherID, "course already exists"))
		return
	}
	c.JSON(http.StatusCreated, course)
}

func (h *Handler) updateCourse(c *gin.Context) {
	id := c.Param("id")
	var req courseRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	course, err := req.course(id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ctx := c.Request.Context()
	if _, err := h.Store.GetTeacher(ctx, course.TeacherID); err != nil {
		h.fail(c, storeErr(err, "teacher", course.TeacherID, ""))
		return
	}
	if err := h.Store.UpdateCourse(ctx, course); err != nil {
		h.fail(c, storeErr(err, "course", id, "course already exists"))
		return
	}
	updated, err := h.Store.GetCourse(ctx, id)
	if err != nil {
		h.fail(c, storeErr(err, "course", id, ""))
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *Handler) deleteCourse(c *gin.Context) {
	id := c.Param("id")
	if err := h.Store.DeleteCourse(c.Request.Context(), id); err != nil {
		h.fail(c, storeErr(err, "course", id, ""))
		return
	}
	c.Status(http.StatusNoContent)
}
