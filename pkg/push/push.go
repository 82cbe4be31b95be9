package push

import (
	"context"
)

// Provider defines the interface for sending push notifications. Push is
// strictly best-effort: callers absorb every error from Send.
type Provider interface {
	Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error)
}

// Notification represents a push notification
type Notification struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	Priority string            `json:"priority,omitempty"` // high, normal
	Sound    string            `json:"sound,omitempty"`
	Badge    *int              `json:"badge,omitempty"`
}

// SendResult contains the result of a push notification send operation
type SendResult struct {
	SuccessCount  int
	FailureCount  int
	InvalidTokens []string
	Errors        []error
}

// TokenType represents the type of push notification token
type TokenType string

const (
	TokenTypeFCM  TokenType = "fcm"  // Firebase Cloud Messaging
	TokenTypeAPNs TokenType = "apns" // Apple Push Notification Service
)

// Token represents a device push token registered for a user
type Token struct {
	Token    string    `json:"token"`
	Type     TokenType `json:"type"`
	Platform string    `json:"platform,omitempty"` // ios, android, web
}

// maskPushToken returns a safe masked version of a push token for logging
func maskPushToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:8] + "****"
}
