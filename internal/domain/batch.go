package domain

import (
	"context"
	"time"
)

// BatchResult summarizes a fan-out pass. For the identity purge Success counts purged users.
type BatchResult struct {
	Name    string `json:"name"`
	Total   int    `json:"total"`
	Success int    `json:"success"`
	Failed  int    `json:"failed"`
	Skipped int    `json:"skipped,omitempty"`
	Retried bool   `json:"retried,omitempty"`
}

// SuccessRate returns Success over the items actually attempted, or 1 when nothing was attempted.
// Skipped items were already handled by an earlier pass and do not count either way.
func (r BatchResult) SuccessRate() float64 {
	attempted := r.Total - r.Skipped
	if attempted <= 0 {
		return 1
	}
	return float64(r.Success) / float64(attempted)
}

// UserRecord is the slice of the user row the batch tasks need.
type UserRecord struct {
	ID         string
	Email      string
	ExternalID string
	Name       string
}

// ReminderCandidate is a user with pending work worth an email.
type ReminderCandidate struct {
	User         UserRecord
	PendingCount int
}

// BatchStore is the domain store surface used by the scheduler.
type BatchStore interface {
	// ListDisabledUncleaned returns disabled users whose data has not been cleaned yet.
	ListDisabledUncleaned(ctx context.Context, limit int) ([]UserRecord, error)
	// DeleteUserData removes every dependent row of the user.
	DeleteUserData(ctx context.Context, userID string) error
	MarkCleaned(ctx context.Context, userID string) error

	ListPurgeCandidates(ctx context.Context, limit int) ([]UserRecord, error)
	MarkPurged(ctx context.Context, userID string) error

	ListReminderCandidates(ctx context.Context, limit int) ([]ReminderCandidate, error)

	ListQuotaResetCandidates(ctx context.Context, day time.Time, limit int) ([]UserRecord, error)
	ResetQuota(ctx context.Context, userID string, day time.Time) error
}
