package domain

// Real-time event names pushed to conversation rooms
const (
	EventMessageNew          = "message:new"
	EventMessageRead         = "message:read"
	EventMessageReaction     = "message:reaction"
	EventMessageDeleted      = "message:deleted"
	EventConversationCleared = "conversation:cleared"
	EventTypingStart         = "typing:start"
	EventTypingStop          = "typing:stop"
	EventPresenceOnline      = "presence:online"
	EventPresenceOffline     = "presence:offline"
	EventError               = "error"
)
