package conversation

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"teamspace-backend/internal/domain"
	"teamspace-backend/internal/service/messaging"
	"teamspace-backend/pkg/pagination"
	"teamspace-backend/pkg/response"
)

// Handler handles conversation HTTP requests
type Handler struct {
	messagingService *messaging.Service
}

// NewHandler creates a new conversation handler
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

// CreateConversation creates a group or channel conversation, or
// gets-or-creates a direct one. The direct path returns 200 with the
// existing conversation instead of 201 when it already existed.
// POST /v1/conversations
func (h *Handler) CreateConversation(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req domain.ConversationCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	output, err := h.messagingService.CreateConversation(c.Request.Context(), userID, &req)
	if err != nil {
		response.FromError(c, err)
		return
	}

	status := http.StatusCreated
	if !output.Created {
		status = http.StatusOK
	}
	response.Success(c, status, output.Conversation)
}

// GetConversations lists the caller's conversations, newest activity
// first, excluding archived ones
// GET /v1/conversations?page=1&limit=20
func (h *Handler) GetConversations(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	params, err := pagination.Parse(c.Query("page"), c.Query("limit"))
	if err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	conversations, err := h.messagingService.ListConversations(c.Request.Context(), userID, *params)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"conversations": conversations,
		"page":          params.Page,
		"limit":         params.Limit,
	})
}

// GetConversation retrieves one conversation with its participants
// GET /v1/conversations/:id
func (h *Handler) GetConversation(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	conversationID, ok := conversationParam(c)
	if !ok {
		return
	}

	conversation, err := h.messagingService.GetConversation(c.Request.Context(), userID, conversationID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, conversation)
}

// UpdateConversationRequest renames a group or channel
type UpdateConversationRequest struct {
	Name *string `json:"name" binding:"required"`
}

// UpdateConversation updates conversation metadata
// PATCH /v1/conversations/:id
func (h *Handler) UpdateConversation(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	conversationID, ok := conversationParam(c)
	if !ok {
		return
	}

	var req UpdateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	if err := h.messagingService.UpdateConversation(c.Request.Context(), userID, conversationID, req.Name); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Conversation updated"})
}

// ArchiveRequest toggles the caller's archived flag
type ArchiveRequest struct {
	Archived bool `json:"archived"`
}

// SetArchived hides or restores a conversation for the caller only
// PUT /v1/conversations/:id/archive
func (h *Handler) SetArchived(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	conversationID, ok := conversationParam(c)
	if !ok {
		return
	}

	var req ArchiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	if err := h.messagingService.SetArchived(c.Request.Context(), userID, conversationID, req.Archived); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"archived": req.Archived})
}

// MarkRead resets the caller's unread counter and advances the read cursor
// POST /v1/conversations/:id/read
func (h *Handler) MarkRead(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	conversationID, ok := conversationParam(c)
	if !ok {
		return
	}

	if err := h.messagingService.MarkConversationRead(c.Request.Context(), userID, conversationID); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Conversation marked read"})
}

// AddParticipantRequest adds one user to a group or channel
type AddParticipantRequest struct {
	UserID uuid.UUID `json:"user_id" binding:"required"`
}

// AddParticipant adds a user to a conversation
// POST /v1/conversations/:id/participants
func (h *Handler) AddParticipant(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	conversationID, ok := conversationParam(c)
	if !ok {
		return
	}

	var req AddParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	if err := h.messagingService.AddParticipant(c.Request.Context(), userID, conversationID, req.UserID); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Participant added"})
}

// RemoveParticipant removes a user from a conversation; members can
// remove themselves, admins can remove anyone
// DELETE /v1/conversations/:id/participants/:userId
func (h *Handler) RemoveParticipant(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	conversationID, ok := conversationParam(c)
	if !ok {
		return
	}

	targetID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		response.ValidationError(c, "Invalid user ID")
		return
	}

	if err := h.messagingService.RemoveParticipant(c.Request.Context(), userID, conversationID, targetID); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Participant removed"})
}

// ClearHistory purges a conversation's message history (admin only)
// POST /v1/conversations/:id/clear
func (h *Handler) ClearHistory(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	conversationID, ok := conversationParam(c)
	if !ok {
		return
	}

	if err := h.messagingService.ClearConversation(c.Request.Context(), userID, conversationID); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Conversation history cleared"})
}

// DeleteConversation removes a conversation entirely (admin only)
// DELETE /v1/conversations/:id
func (h *Handler) DeleteConversation(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	conversationID, ok := conversationParam(c)
	if !ok {
		return
	}

	if err := h.messagingService.DeleteConversation(c.Request.Context(), userID, conversationID); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Conversation deleted"})
}
