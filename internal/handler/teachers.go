package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"classroll/internal/attendance"
	"classroll/internal/auth"
)

type teacherRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Phone    string `json:"phone"`
	Password string `json:"password" binding:"omitempty,min=6"`
}

func (h *Handler) listTeachers(c *gin.Context) {
	teachers, err := h.Store.ListTeachers(c.Request.Context())
	if err != nil {
		h.fail(c, storeErr(err, "teacher", "", ""))
		return
	}
	if teachers == nil {
		teachers = []attendance.Teacher{}
	}
	c.JSON(http.StatusOK, teachers)
}

func (h *Handler) createTeacher(c *gin.Context) {
	var req teacherRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	if req.Password == "" {
		h.fail(c, attendance.Invalid("password is required"))
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.fail(c, attendance.Invalid("password cannot be hashed"))
		return
	}
	t := attendance.Teacher{
		Name:         strings.TrimSpace(req.Name),
		Email:        req.Email,
		Phone:        strings.TrimSpace(req.Phone),
		PasswordHash: hash,
	}
	if err := h.Store.CreateTeacher(c.Request.Context(), &t); err != nil {
		h.fail(c, storeErr(err, "teacher", "", "email "+req.Email+" is already registered"))
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (h *Handler) updateTeacher(c *gin.Context) {
	id := c.Param("id")
	var req teacherRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	t := attendance.Teacher{
		ID:    id,
		Name:  strings.TrimSpace(req.Name),
		Email: req.Email,
		Phone: strings.TrimSpace(req.Phone),
	}
	if req.Password != "" {
		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			h.fail(c, attendance.Invalid("password cannot be hashed"))
			return
		}
		t.PasswordHash = hash
	}
	ctx := c.Request.Context()
	if err := h.Store.UpdateTeacher(ctx, t); err != nil {
		h.fail(c, storeErr(err, "teacher", id, "email "+req.Email+" is already registered"))
		return
	}
	updated, err := h.Store.GetTeacher(ctx, id)
	if err != nil {
		h.fail(c, storeErr(err, "teacher", id, ""))
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *Handler) deleteTeacher(c *gin.Context) {
	id := c.Param("id")
	if err := h.Store.DeleteTeacher(c.Request.Context(), id); err != nil {
		h.fail(c, storeErr(err, "teacher", id, ""))
		return
	}
	c.Status(http.StatusNoContent)
}
