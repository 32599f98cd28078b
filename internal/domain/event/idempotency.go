package event

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// IdempotencyKey derives the deterministic per-occurrence key carried on
// every outbound delivery: "event-" + first 16 hex chars of
// SHA-256(userID + "-" + RFC3339(targetUTC) + "-" + eventType).
func IdempotencyKey(userID string, targetUTC time.Time, t Type) string {
	sum := sha256.Sum256([]byte(userID + "-" + targetUTC.UTC().Format(time.RFC3339) + "-" + string(t)))
	return "event-" + hex.EncodeToString(sum[:])[:16]
}
