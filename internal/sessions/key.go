package sessions

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Session keys identify one logical conversation. Two messages belong to the
// same conversation iff their keys are equal. Per-channel policy:
// chat-scoped for DM channels, thread-scoped where threads exist.

// BuildKey returns the canonical chat-scoped session key.
func BuildKey(channel, chatID string) string {
	return fmt.Sprintf("%s-%s", channel, sanitizeKeySegment(chatID))
}

// BuildThreadKey returns the thread-scoped session key for channels with threads.
func BuildThreadKey(channel, chatID, threadID string) string {
	return fmt.Sprintf("%s-%s-%s", channel, sanitizeKeySegment(chatID), sanitizeKeySegment(threadID))
}

// BuildSubKey returns a fresh session key for a spawned sub-agent.
// Sub-sessions never inherit the parent's history.
func BuildSubKey(parentKey string, now time.Time) string {
	return fmt.Sprintf("sub-%s-%d", parentKey, now.UnixMilli())
}

// IsSubSession reports whether a key belongs to a spawned sub-agent.
func IsSubSession(key string) bool {
	return strings.HasPrefix(key, "sub-")
}

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// sanitizeKeySegment makes a raw chat/thread ID safe for use in a filename.
func sanitizeKeySegment(s string) string {
	return unsafeKeyChars.ReplaceAllString(s, "_")
}
