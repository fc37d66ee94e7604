package middleware

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/conthunt/streamcore/internal/model"
)

// ValidateQuery validates a search query.
func ValidateQuery(query string) error {
	query = strings.TrimSpace(query)
	if query == "" {
		return errors.New("query cannot be empty")
	}
	if len(query) > 512 {
		return errors.New("query exceeds maximum length")
	}
	if !utf8.ValidString(query) {
		return errors.New("query must be valid UTF-8")
	}
	return nil
}

// ValidatePlatforms rejects unknown platform names.
func ValidatePlatforms(platforms []model.Platform) error {
	for _, p := range platforms {
		if _, ok := model.ParsePlatform(string(p)); !ok {
			return errors.New("unknown platform " + string(p))
		}
	}
	return nil
}

// ValidateMessageContent validates message content.
func ValidateMessageContent(content string) error {
	if len(content) == 0 {
		return errors.New("content cannot be empty")
	}
	if len(content) > 100000 { // ~100KB limit
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateSearchID validates a search ID.
func ValidateSearchID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid search ID format")
	}
	return nil
}

// ValidateChatID validates a chat ID. Clients choose chat IDs, so any short
// printable token is accepted.
func ValidateChatID(id string) error {
	if id == "" {
		return errors.New("chat ID cannot be empty")
	}
	if len(id) > 64 {
		return errors.New("chat ID exceeds maximum length")
	}
	for _, r := range id {
		if r <= ' ' || r == '/' {
			return errors.New("invalid chat ID format")
		}
	}
	return nil
}
