// Package model defines data structures for the chat application.
package model

import (
	"time"
)

// DefaultTitle is the placeholder title a conversation carries until the
// first AI-suggested title replaces it.
const DefaultTitle = "New conversation"

// MaxTitleLen is the rune cap applied to titles at persistence time.
const MaxTitleLen = 40

// User represents a registered user.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Conversation represents a conversation thread owned by one user.
type Conversation struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// ClampTitle caps a title at MaxTitleLen runes.
func ClampTitle(title string) string {
	runes := []rune(title)
	if len(runes) > MaxTitleLen {
		return string(runes[:MaxTitleLen])
	}
	return title
}
