package middleware

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// ValidateMessageContent validates a chat message body.
func ValidateMessageContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.New("message cannot be empty")
	}
	if len(content) > 100000 { // ~100KB limit
		return errors.New("message exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("message must be valid UTF-8")
	}
	return nil
}

// ValidateUsername validates a login name.
func ValidateUsername(username string) error {
	if strings.TrimSpace(username) == "" {
		return errors.New("username cannot be empty")
	}
	if len(username) > 64 {
		return errors.New("username exceeds maximum length")
	}
	if !utf8.ValidString(username) {
		return errors.New("username must be valid UTF-8")
	}
	return nil
}

// ValidateTitle validates a conversation title before clamping.
func ValidateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return errors.New("title cannot be empty")
	}
	if len(title) > 256 {
		return errors.New("title exceeds maximum length")
	}
	if !utf8.ValidString(title) {
		return errors.New("title must be valid UTF-8")
	}
	return nil
}

// ValidateModelName validates a model identifier from the chat form.
func ValidateModelName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("model cannot be empty")
	}
	if len(name) > 128 {
		return errors.New("model name exceeds maximum length")
	}
	return nil
}
