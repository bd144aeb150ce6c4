package rediskeys

import (
	"fmt"
	"strings"

	"gitlab.com/timkado/api/doc-translate-service/pkg/crypto"
)

const lockPrefix = "lock:"

// DocKey is the cache key of a single document.
func DocKey(userID, docID string) string {
	return fmt.Sprintf("doc:%s:%s", userID, docID)
}

// DocListKey is the cache key of one page of a user's documents.
func DocListKey(userID string, limit, offset int) string {
	return fmt.Sprintf("docs:list:%s:%d:%d", userID, limit, offset)
}

// UserKey is the cache key of a user profile.
func UserKey(userID string) string {
	return fmt.Sprintf("user:%s", userID)
}

// TagKey is the set grouping every cache key of an owner's collection.
func TagKey(entityPrefix, ownerID string) string {
	return fmt.Sprintf("tag:%s:%s", entityPrefix, ownerID)
}

// DocsTagKey groups every document key written for userID.
func DocsTagKey(userID string) string {
	return TagKey("docs", userID)
}

// JobStatusKey is the hash holding the job status record.
func JobStatusKey(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}

// JobEventsChannel is the pub/sub channel for status transitions of one job.
func JobEventsChannel(jobID string) string {
	return fmt.Sprintf("job_events:%s", jobID)
}

// LockKey builds lock:{prefix}:{identifier}. Any leading lock: segments already present
// in prefix are stripped so keys are never double-prefixed.
func LockKey(prefix, identifier string) string {
	for strings.HasPrefix(prefix, lockPrefix) {
		prefix = strings.TrimPrefix(prefix, lockPrefix)
	}
	return fmt.Sprintf("%s%s:%s", lockPrefix, prefix, identifier)
}

// EmailLockIdentifier returns a lock identifier for an email address.
func EmailLockIdentifier(email string) string {
	return crypto.EmailFingerprint(email)
}

// WorkersKey is the sorted set of worker heartbeats for a queue.
func WorkersKey(queue string) string {
	return fmt.Sprintf("workers:%s", queue)
}

// ReminderSentKey marks a reminder delivered to userID on day (YYYY-MM-DD).
func ReminderSentKey(day, userID string) string {
	return fmt.Sprintf("sent:reminder:%s:%s", day, userID)
}

// QuotaResetKey marks the quota of userID as reset on day (YYYY-MM-DD).
func QuotaResetKey(day, userID string) string {
	return fmt.Sprintf("quota_reset:%s:%s", day, userID)
}
