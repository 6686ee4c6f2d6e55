// Package persistence selects a summary store implementation and holds helpers
// shared by the store-backed API.
package persistence

import (
	"encoding/base64"
	"fmt"
	"strings"

	"example.com/biometrics/internal/domain"
)

// EncodeCursor serialises the next date to read into an opaque token.
func EncodeCursor(next domain.DateKey) string {
	if next == "" {
		return ""
	}
	raw := fmt.Sprintf("date|%s", next)
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token produced by EncodeCursor. An empty token yields
// an empty date.
func DecodeCursor(token string) (domain.DateKey, error) {
	if strings.TrimSpace(token) == "" {
		return "", nil
	}
	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", err
	}
	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 || parts[0] != "date" {
		return "", fmt.Errorf("invalid cursor format")
	}
	return domain.ParseDateKey(parts[1])
}
