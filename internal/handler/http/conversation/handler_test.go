package conversation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamspace-backend/internal/domain"
	"teamspace-backend/internal/service/messaging"
	"teamspace-backend/pkg/metrics"
)

// listRecorder answers ListForUser and records the page window it was
// asked for; everything else is unreachable in these tests
type listRecorder struct {
	messaging.ConversationStore
	calls  int
	limit  int
	offset int
}

func (s *listRecorder) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.ConversationResponse, error) {
	s.calls++
	s.limit = limit
	s.offset = offset
	return []*domain.ConversationResponse{}, nil
}

func newTestRouter(t *testing.T, store messaging.ConversationStore, userID uuid.UUID) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	service := messaging.NewService(store, nil, nil, nil, metrics.New("test"))
	handler := NewHandler(service)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("user_id", userID)
	})
	router.GET("/v1/conversations", handler.GetConversations)
	return router
}

func TestGetConversationsPagination(t *testing.T) {
	store := &listRecorder{}
	router := newTestRouter(t, store, uuid.New())

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/v1/conversations?page=3&limit=5", nil)
	router.ServeHTTP(recorder, request)

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, 1, store.calls)
	assert.Equal(t, 5, store.limit)
	assert.Equal(t, 10, store.offset)

	var body struct {
		Success bool `json:"success"`
		Data    struct {
			Page  int `json:"page"`
			Limit int `json:"limit"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, 3, body.Data.Page)
	assert.Equal(t, 5, body.Data.Limit)
}

func TestGetConversationsDefaultsWhenUnpaged(t *testing.T) {
	store := &listRecorder{}
	router := newTestRouter(t, store, uuid.New())

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/v1/conversations", nil)
	router.ServeHTTP(recorder, request)

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, 20, store.limit)
	assert.Equal(t, 0, store.offset)
}

func TestGetConversationsRejectsBadPage(t *testing.T) {
	store := &listRecorder{}
	router := newTestRouter(t, store, uuid.New())

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/v1/conversations?page=abc", nil)
	router.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Zero(t, store.calls)

	var body struct {
		Success bool `json:"success"`
		Error   struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, "VALIDATION_ERROR", body.Error.Code)
}
