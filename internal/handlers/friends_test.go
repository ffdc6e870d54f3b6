package handlers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-broker/internal/bridge"
	"chat-broker/internal/mocks"
	"chat-broker/internal/models"
)

func setupFriendsRouter(handler *FriendsHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/internal/friends/added", handler.FriendAdded)
	r.POST("/internal/friends/removed", handler.FriendRemoved)
	return r
}

func TestFriendAddedNotifies(t *testing.T) {
	notifier := new(mocks.FriendNotifierMock)
	router := setupFriendsRouter(NewFriendsHandler(notifier))

	want := models.FriendAddedPayload{AffectedUserID: "alice", User: models.UserProfile{ID: "bob", Username: "bob"}}
	notifier.On("FriendAdded", mock.Anything, want).Return(1, nil).Once()

	body := bytes.NewBufferString(`{"affectedUserId":"alice","user":{"_id":"bob","username":"bob"}}`)
	req := httptest.NewRequest(http.MethodPost, "/internal/friends/added", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"delivered":1}`, rec.Body.String())
	notifier.AssertExpectations(t)
}

func TestFriendRemovedNotifies(t *testing.T) {
	notifier := new(mocks.FriendNotifierMock)
	router := setupFriendsRouter(NewFriendsHandler(notifier))

	want := models.FriendRemovedPayload{AffectedUserID: "alice", FriendID: "bob"}
	notifier.On("FriendRemoved", mock.Anything, want).Return(0, nil).Once()

	body := bytes.NewBufferString(`{"affectedUserId":"alice","friendId":"bob"}`)
	req := httptest.NewRequest(http.MethodPost, "/internal/friends/removed", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	notifier.AssertExpectations(t)
}

func TestFriendAddedRejectsMissingFields(t *testing.T) {
	notifier := new(mocks.FriendNotifierMock)
	router := setupFriendsRouter(NewFriendsHandler(notifier))

	req := httptest.NewRequest(http.MethodPost, "/internal/friends/added", bytes.NewBufferString(`{"user":{"_id":"bob"}}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	notifier.On("FriendAdded", mock.Anything, mock.Anything).Return(0, bridge.ErrMissingFriend).Once()
	req = httptest.NewRequest(http.MethodPost, "/internal/friends/added", bytes.NewBufferString(`{"affectedUserId":"alice"}`))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	notifier.AssertExpectations(t)
}
