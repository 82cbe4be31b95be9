package attachment

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"teamspace-backend/internal/service/attachment"
	"teamspace-backend/pkg/response"
)

// Handler handles attachment HTTP requests
type Handler struct {
	attachmentService *attachment.Service
}

// NewHandler creates a new attachment handler
func NewHandler(attachmentService *attachment.Service) *Handler {
	return &Handler{
		attachmentService: attachmentService,
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

// PresignUploadRequest is the request body for a presigned upload
type PresignUploadRequest struct {
	Filename string `json:"filename" binding:"required"`
	Size     int64  `json:"size" binding:"required,min=1"`
}

// PresignUpload handles POST /v1/attachments/presign
func (h *Handler) PresignUpload(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req PresignUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	ticket, err := h.attachmentService.PresignUpload(c.Request.Context(), userID, req.Filename, req.Size)
	if err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	response.Success(c, http.StatusOK, ticket)
}

// PresignDownload handles GET /v1/attachments/download
func (h *Handler) PresignDownload(c *gin.Context) {
	if _, ok := currentUserID(c); !ok {
		return
	}

	objectKey := c.Query("key")
	if objectKey == "" {
		response.ValidationError(c, "key query parameter is required")
		return
	}

	downloadURL, err := h.attachmentService.PresignDownload(c.Request.Context(), objectKey, c.Query("filename"))
	if err != nil {
		response.InternalError(c, "Failed to generate download URL")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"download_url": downloadURL})
}
