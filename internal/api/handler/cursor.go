package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/profile-queue/internal/queue/storage"
)

func DecodeJobCursor(cursorStr string) (*storage.JobCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	decodedParts := strings.Split(string(decoded), "|")
	if len(decodedParts) != 2 {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var createdAt, seq int64
	if _, err := fmt.Sscanf(decodedParts[0], "%d", &createdAt); err != nil {
		return nil, fmt.Errorf("invalid createdAt in cursor: %w", err)
	}
	if _, err := fmt.Sscanf(decodedParts[1], "%d", &seq); err != nil {
		return nil, fmt.Errorf("invalid seq in cursor: %w", err)
	}

	return &storage.JobCursor{
		CreatedAt: time.Unix(0, createdAt).UTC(),
		Seq:       seq,
	}, nil
}

func EncodeJobCursor(cursor *storage.JobCursor) string {
	cs := fmt.Sprintf("%d|%d", cursor.CreatedAt.UnixNano(), cursor.Seq)
	return base64.RawURLEncoding.EncodeToString([]byte(cs))
}
