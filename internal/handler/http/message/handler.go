package message

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"teamspace-backend/internal/domain"
	"teamspace-backend/internal/service/messaging"
	"teamspace-backend/pkg/pagination"
	"teamspace-backend/pkg/response"
)

// Handler handles message HTTP requests. The WebSocket path is the
// primary way to send; these endpoints serve history fetches and
// clients without a live socket.
type Handler struct {
	messagingService *messaging.Service
}

// NewHandler creates a new message handler
func NewHandler(messagingService *messaging.Service) *Handler {
	return &Handler{
		messagingService: messagingService,
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

func conversationParam(c *gin.Context) (uuid.UUID, bool) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid conversation ID")
		return uuid.Nil, false
	}
	return conversationID, true
}

func messageParam(c *gin.Context) (uuid.UUID, bool) {
	messageID, err := uuid.Parse(c.Param("messageId"))
	if err != nil {
		response.ValidationError(c, "Invalid message ID")
		return uuid.Nil, false
	}
	return messageID, true
}

// SendMessage persists and fans out a new message
// POST /v1/conversations/:id/messages
func (h *Handler) SendMessage(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	conversationID, ok := conversationParam(c)
	if !ok {
		return
	}

	var req struct {
		Content     string              `json:"content" binding:"required"`
		Type        domain.MessageType  `json:"type"`
		Attachments []domain.Attachment `json:"attachments,omitempty"`
		ReplyTo     *uuid.UUID          `json:"reply_to,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	if req.Type == "" {
		req.Type = domain.MessageText
	}

	message, err := h.messagingService.SendMessage(c.Request.Context(), userID, &domain.MessageCreate{
		ConversationID: conversationID,
		Content:        req.Content,
		Type:           req.Type,
		Attachments:    req.Attachments,
		ReplyTo:        req.ReplyTo,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, message)
}

// GetMessages retrieves one page of history, oldest first within the page
// GET /v1/conversations/:id/messages?page=1&limit=50
func (h *Handler) GetMessages(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	conversationID, ok := conversationParam(c)
	if !ok {
		return
	}

	params, err := pagination.Parse(c.Query("page"), c.Query("limit"))
	if err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	messages, err := h.messagingService.GetMessages(c.Request.Context(), userID, conversationID, *params)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"messages": messages,
		"page":     params.Page,
		"limit":    params.Limit,
	})
}

// ReactRequest carries one emoji reaction
type ReactRequest struct {
	Emoji string `json:"emoji" binding:"required"`
}

// AddReaction adds the caller's reaction; repeating it is a no-op
// POST /v1/conversations/:id/messages/:messageId/reactions
func (h *Handler) AddReaction(c *gin.Context) {
	h.react(c, true)
}

// RemoveReaction removes the caller's reaction; removing a missing one
// is a no-op
// DELETE /v1/conversations/:id/messages/:messageId/reactions
func (h *Handler) RemoveReaction(c *gin.Context) {
	h.react(c, false)
}

func (h *Handler) react(c *gin.Context, add bool) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	conversationID, ok := conversationParam(c)
	if !ok {
		return
	}
	messageID, ok := messageParam(c)
	if !ok {
		return
	}

	var req ReactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	if err := h.messagingService.React(c.Request.Context(), userID, conversationID, messageID, req.Emoji, add); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message_id": messageID,
		"emoji":      req.Emoji,
		"added":      add,
	})
}

// MarkRead records a per-message read receipt for the caller
// POST /v1/conversations/:id/messages/:messageId/read
func (h *Handler) MarkRead(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	conversationID, ok := conversationParam(c)
	if !ok {
		return
	}
	messageID, ok := messageParam(c)
	if !ok {
		return
	}

	if err := h.messagingService.MarkMessageRead(c.Request.Context(), userID, conversationID, messageID); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Message marked read"})
}

// DeleteMessage soft-deletes a message (sender only)
// DELETE /v1/conversations/:id/messages/:messageId
func (h *Handler) DeleteMessage(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	conversationID, ok := conversationParam(c)
	if !ok {
		return
	}
	messageID, ok := messageParam(c)
	if !ok {
		return
	}

	if err := h.messagingService.DeleteMessage(c.Request.Context(), userID, conversationID, messageID); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Message deleted"})
}
