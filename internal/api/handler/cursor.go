package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/inference-queue/internal/api/storage"
)

func DecodeFailureCursor(cursorStr string) (*storage.FailureCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	// failed_at in unix nanoseconds, then the request id
	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var failedAt int64
	if _, err := fmt.Sscanf(parts[0], "%d", &failedAt); err != nil {
		return nil, fmt.Errorf("invalid failed_at in cursor: %w", err)
	}

	return &storage.FailureCursor{
		FailedAt:  time.Unix(0, failedAt).UTC(),
		RequestID: parts[1],
	}, nil
}

func EncodeFailureCursor(cursor *storage.FailureCursor) string {
	cs := fmt.Sprintf("%d|%s", cursor.FailedAt.UnixNano(), cursor.RequestID)
	return base64.StdEncoding.EncodeToString([]byte(cs))
}
