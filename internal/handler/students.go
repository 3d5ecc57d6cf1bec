package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"classroll/internal/attendance"
)

type studentRequest struct {
	Name           string `json:"name" binding:"required"`
	StudentNumber  string `json:"student_number" binding:"required"`
	Phone          string `json:"phone"`
	Address        string `json:"address"`
	RemainingHours *int   `json:"remaining_hours"`
}

func (r studentRequest) apply(st *attendance.Student) {
	st.Name = strings.TrimSpace(r.Name)
	st.StudentNumber = strings.TrimSpace(r.StudentNumber)
	st.Phone = strings.TrimSpace(r.Phone)
	st.Address = strings.TrimSpace(r.Address)
	if r.RemainingHours != nil {
		st.RemainingHours = *r.RemainingHours
	}
}

func (h *Handler) listStudents(c *gin.Context) {
	students, err := h.Store.ListStudents(c.Request.Context())
	if err != nil {
		h.fail(c, storeErr(err, "student", "", ""))
		return
	}
	if students == nil {
		students = []attendance.Student{}
	}
	c.JSON(http.StatusOK, students)
}

func (h *Handler) getStudent(c *gin.Context) {
	id := c.Param("id")
	st, err := h.Store.GetStudent(c.Request.Context(), id)
	if err != nil {
		h.fail(c, storeErr(err, "student", id, ""))
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) createStudent(c *gin.Context) {
	var req studentRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	var st attendance.Student
	req.apply(&st)
	if err := h.Store.CreateStudent(c.Request.Context(), &st); err != nil {
		h.fail(c, storeErr(err, "student", "", "student number "+st.StudentNumber+" is already taken"))
		return
	}
	c.JSON(http.StatusCreated, st)
}

func (h *Handler) updateStudent(c *gin.Context) {
	id := c.Param("id")
	var req studentRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	ctx := c.Request.Context()
	st := attendance.Student{ID: id}
	req.apply(&st)
	if err := h.Store.UpdateStudent(ctx, &st, req.RemainingHours); err != nil {
		h.fail(c, storeErr(err, "student", id, "student number "+st.StudentNumber+" is already taken"))
		return
	}
	if req.RemainingHours != nil {
		h.observeBalance(ctx, id, st.RemainingHours)
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) deleteStudent(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()
	if err := h.Store.DeleteStudent(ctx, id); err != nil {
		h.fail(c, storeErr(err, "student", id, ""))
		return
	}
	if h.LowBalance != nil {
		h.forgetLowBalance(ctx, id)
	}
	c.Status(http.StatusNoContent)
}

type hoursRequest struct {
	Delta int `json:"delta"`
}

func (h *Handler) addHours(c *gin.Context) {
	id := c.Param("id")
	var req hoursRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	ctx := c.Request.Context()
	balance, err := h.Service.AddHours(ctx, id, req.Delta)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.observeBalance(ctx, id, balance)
	c.JSON(http.StatusOK, gin.H{"student_id": id, "remaining_hours": balance})
}

func (h *Handler) studentHistory(c *gin.Context) {
	rows, err := attendance.StudentHistory(c.Request.Context(), h.Store, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handler) lowBalanceStudents(c *gin.Context) {
	out := []attendance.Student{}
	if h.LowBalance == nil {
		c.JSON(http.StatusOK, out)
		return
	}
	ctx := c.Request.Context()
	ids, err := h.LowBalance.Members(ctx)
	if err != nil {
		h.fail(c, attendance.Unavailable(err, "low balance set unavailable"))
		return
	}
	threshold := h.LowBalance.Threshold()
	for _, id := range ids {
		st, err := h.Store.GetStudent(ctx, id)
		switch {
		case errors.Is(err, attendance.ErrNotFound):
			h.forgetLowBalance(ctx, id)
			continue
		case err != nil:
			h.fail(c, storeErr(err, "student", id, ""))
			return
		}
		// The set lags top-ups made outside the worker.
		if st.RemainingHours > threshold {
			h.forgetLowBalance(ctx, id)
			continue
		}
		out = append(out, st)
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) observeBalance(ctx context.Context, id string, hours int) {
	if h.LowBalance == nil {
		return
	}
	if _, err := h.LowBalance.Observe(ctx, map[string]int{id: hours}); err != nil {
		h.Log.Warn("low balance refresh failed", zap.String("student_id", id), zap.Error(err))
	}
}

func (h *Handler) forgetLowBalance(ctx context.Context, id string) {
	if err := h.LowBalance.Forget(ctx, id); err != nil {
		h.Log.Warn("low balance cleanup failed", zap.String("student_id", id), zap.Error(err))
	}
}
