package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"classroll/internal/attendance"
	"classroll/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	teacher, err := h.Store.GetTeacherByEmail(ctx, req.Email)
	if err != nil && !errors.Is(err, attendance.ErrNotFound) {
		h.fail(c, attendance.Unavailable(err, "look up teacher"))
		return
	}
	if err != nil || !auth.CheckPassword(teacher.PasswordHash, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{"kind": "unauthorized", "message": "invalid email or password"}})
		return
	}

	tok, err := auth.Issue(teacher.ID, teacher.Name, teacher.Email, h.Issuer, h.SigningKey, h.AccessTTL)
	if err != nil {
		h.Log.Error("token issue failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorBody(attendance.KindStoreUnavailable, "token issue failed"))
		return
	}
	if err := h.Sessions.Create(ctx, tok.SessionID, teacher.ID, h.AccessTTL); err != nil {
		h.fail(c, attendance.Unavailable(err, "session store unavailable"))
		return
	}

	h.Log.Info("teacher logged in", zap.String("teacher_id", teacher.ID))
	c.JSON(http.StatusOK, gin.H{
		"token":      tok.AccessToken,
		"expires_at": tok.ExpiresAt.Unix(),
		"teacher":    teacher,
	})
}

func (h *Handler) logout(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	if err := h.Sessions.Revoke(c.Request.Context(), claims.ID); err != nil {
		h.fail(c, attendance.Unavailable(err, "session store unavailable"))
		return
	}
	c.Status(http.StatusNoContent)
}
