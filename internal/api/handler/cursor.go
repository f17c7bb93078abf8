package handler

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/alliance-chat/internal/chat/storage"
)

// DecodeMessageCursor parses a cursor produced by EncodeMessageCursor.
// An empty string means the first page.
func DecodeMessageCursor(cursorStr string) (*storage.MessageCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.URLEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return nil, errors.New("invalid cursor format")
	}

	createdAt, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid createdAt in cursor: %w", err)
	}

	return &storage.MessageCursor{
		CreatedAt: time.Unix(0, createdAt).UTC(),
		MessageID: parts[1],
	}, nil
}

func EncodeMessageCursor(cursor *storage.MessageCursor) string {
	cs := fmt.Sprintf("%d|%s", cursor.CreatedAt.UnixNano(), cursor.MessageID)
	return base64.URLEncoding.EncodeToString([]byte(cs))
}
