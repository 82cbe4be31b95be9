package notification

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"teamspace-backend/internal/service/notification"
	"teamspace-backend/pkg/push"
	"teamspace-backend/pkg/response"
)

// TokenRegistrar registers and unregisters device push tokens
type TokenRegistrar interface {
	Register(ctx context.Context, userID uuid.UUID, token *push.Token) error
	Remove(ctx context.Context, userID uuid.UUID, tokenValues []string) error
}

// Handler handles notification HTTP requests
type Handler struct {
	notificationService *notification.Service
	tokens              TokenRegistrar
}

// NewHandler creates a new notification handler. tokens may be nil when
// device push is not configured.
func NewHandler(notificationService *notification.Service, tokens TokenRegistrar) *Handler {
	return &Handler{
		notificationService: notificationService,
		tokens:              tokens,
	}
}

func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, false
	}
	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return uuid.Nil, false
	}
	return userID, true
}

// GetNotifications lists the caller's notifications, newest first
// GET /v1/notifications?limit=20&offset=0
func (h *Handler) GetNotifications(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit < 0 {
		limit = 0
	}
	if offset < 0 {
		offset = 0
	}

	result, err := h.notificationService.GetNotifications(c.Request.Context(), userID, limit, offset)
	if err != nil {
		response.InternalError(c, "Failed to get notifications")
		return
	}

	response.Success(c, http.StatusOK, result)
}

// GetUnreadCount returns the caller's unread notification count
// GET /v1/notifications/unread-count
func (h *Handler) GetUnreadCount(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	count, err := h.notificationService.GetUnreadCount(c.Request.Context(), userID)
	if err != nil {
		response.InternalError(c, "Failed to get unread count")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"unread_count": count})
}

// MarkAsRead marks one notification read
// PUT /v1/notifications/:id/read
func (h *Handler) MarkAsRead(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	notificationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid notification ID")
		return
	}

	if err := h.notificationService.MarkAsRead(c.Request.Context(), notificationID, userID); err != nil {
		response.NotFound(c, "Notification not found")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Notification marked read"})
}

// MarkAllAsRead marks every notification of the caller read
// PUT /v1/notifications/read-all
func (h *Handler) MarkAllAsRead(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	if err := h.notificationService.MarkAllAsRead(c.Request.Context(), userID); err != nil {
		response.InternalError(c, "Failed to mark notifications read")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "All notifications marked read"})
}

// DeleteNotification deletes one notification
// DELETE /v1/notifications/:id
func (h *Handler) DeleteNotification(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	notificationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid notification ID")
		return
	}

	if err := h.notificationService.DeleteNotification(c.Request.Context(), notificationID, userID); err != nil {
		response.NotFound(c, "Notification not found")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Notification deleted"})
}

// RegisterTokenRequest registers a device push token
type RegisterTokenRequest struct {
	Token    string `json:"token" binding:"required"`
	Type     string `json:"type" binding:"required,oneof=fcm apns"`
	Platform string `json:"platform" binding:"omitempty,oneof=ios android web"`
}

// RegisterPushToken registers a device token for the caller
// POST /v1/notifications/push-tokens
func (h *Handler) RegisterPushToken(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	if h.tokens == nil {
		response.Error(c, http.StatusNotImplemented, "NOT_CONFIGURED", "Push notifications are not configured")
		return
	}

	var req RegisterTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	token := &push.Token{
		Token:    req.Token,
		Type:     push.TokenType(req.Type),
		Platform: req.Platform,
	}
	if err := h.tokens.Register(c.Request.Context(), userID, token); err != nil {
		response.InternalError(c, "Failed to register push token")
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"message": "Push token registered"})
}

// UnregisterTokenRequest removes a device push token
type UnregisterTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// UnregisterPushToken removes one of the caller's device tokens
// DELETE /v1/notifications/push-tokens
func (h *Handler) UnregisterPushToken(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	if h.tokens == nil {
		response.Error(c, http.StatusNotImplemented, "NOT_CONFIGURED", "Push notifications are not configured")
		return
	}

	var req UnregisterTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	if err := h.tokens.Remove(c.Request.Context(), userID, []string{req.Token}); err != nil {
		response.InternalError(c, "Failed to remove push token")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Push token removed"})
}
