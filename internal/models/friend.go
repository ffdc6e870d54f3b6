package models

// UserProfile is the public projection of a user sent with friendAdded.
type UserProfile struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// FriendAddedPayload is what the relationship service reports after an add commits.
type FriendAddedPayload struct {
	AffectedUserID string      `json:"affectedUserId" binding:"required"`
	User           UserProfile `json:"user"`
}

// FriendRemovedPayload is what the relationship service reports after a remove commits.
type FriendRemovedPayload struct {
	AffectedUserID string `json:"affectedUserId" binding:"required"`
	FriendID       string `json:"friendId" binding:"required"`
}

// FriendDeletedEvent is the outbound friendDeleted payload.
type FriendDeletedEvent struct {
	FriendID string `json:"friendId"`
}
