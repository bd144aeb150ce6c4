package application

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"sync"
	"time"

	"gitlab.com/timkado/api/doc-translate-service/internal/adapters/metrics"
	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
	"gitlab.com/timkado/api/doc-translate-service/pkg/rediskeys"
)

const (
	TaskCleanup   = "cleanup-disabled-users"
	TaskPurge     = "purge-identities"
	TaskReminders = "send-reminders"
	TaskQuota     = "reset-quotas"

	batchLockPrefix  = "batch"
	emailLockPrefix  = "reminder"
	dayMarkerTTL     = 48 * time.Hour
	dayMarkerValue   = "1"
	dayLayout        = "2006-01-02"
	maxCleanupPasses = 1000
)

var reminderTemplate = template.Must(template.New("reminder").Parse(
	`<p>Hi {{.Name}},</p><p>You have {{.Pending}} document{{if ne .Pending 1}}s{{end}} waiting for you.</p>`))

// BatchOptions configures BatchCoordinator.
type BatchOptions struct {
	PageSize           int
	LockTTL            time.Duration
	EmailLockTTL       time.Duration
	ReminderThreshold  float64
	ReminderRetryDelay time.Duration
	ReminderSubject    string
	Location           *time.Location
}

// BatchCoordinator runs the periodic fan-out tasks. Every task is idempotent: rows
// already handled are excluded by the store predicate or by a per-day marker.
type BatchCoordinator struct {
	store    domain.BatchStore
	identity domain.IdentityDirectory
	mailer   domain.Mailer
	cache    *CacheService
	locks    *DistributedLock
	markers  domain.LockManager
	logger   domain.Logger
	opts     BatchOptions
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewBatchCoordinator creates a coordinator.
func NewBatchCoordinator(
	store domain.BatchStore,
	identity domain.IdentityDirectory,
	mailer domain.Mailer,
	cache *CacheService,
	locks *DistributedLock,
	markers domain.LockManager,
	logger domain.Logger,
	opts BatchOptions,
) *BatchCoordinator {
	if opts.PageSize <= 0 {
		opts.PageSize = 500
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 5 * time.Minute
	}
	if opts.EmailLockTTL <= 0 {
		opts.EmailLockTTL = 2 * time.Minute
	}
	if opts.ReminderThreshold <= 0 {
		opts.ReminderThreshold = 0.7
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &BatchCoordinator{
		store:    store,
		identity: identity,
		mailer:   mailer,
		cache:    cache,
		locks:    locks,
		markers:  markers,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes the named task under its batch lock.
func (c *BatchCoordinator) Run(ctx context.Context, task string) (domain.BatchResult, bool, error) {
	var fn func(context.Context) (domain.BatchResult, error)
	switch task {
	case TaskCleanup:
		fn = c.CleanupDisabledUsers
	case TaskPurge:
		fn = c.PurgeIdentities
	case TaskReminders:
		fn = c.SendReminders
	case TaskQuota:
		fn = c.ResetQuotas
	default:
		return domain.BatchResult{}, false, fmt.Errorf("unknown batch task %q", task)
	}
	return c.RunExclusive(ctx, task, fn)
}

// RunExclusive runs fn while holding lock:batch:{name}, refreshing it in the background.
// ran is false when another process already holds the lock.
func (c *BatchCoordinator) RunExclusive(ctx context.Context, name string, fn func(context.Context) (domain.BatchResult, error)) (res domain.BatchResult, ran bool, err error) {
	token, ok := c.locks.AcquireOwned(ctx, batchLockPrefix, name, c.opts.LockTTL)
	if !ok {
		metrics.IncBatchRun(name, "skipped_locked")
		c.logger.Info(ctx, "Batch task already running elsewhere; skipping", "task", name)
		return domain.BatchResult{Name: name}, false, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(c.opts.LockTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if !c.locks.Refresh(runCtx, batchLockPrefix, name, token, c.opts.LockTTL) {
					c.logger.Warn(runCtx, "Batch lock lost while running", "task", name)
					return
				}
			case <-runCtx.Done():
				return
			}
		}
	}()
	defer func() {
		cancel()
		wg.Wait()
		c.locks.ReleaseOwned(context.WithoutCancel(ctx), batchLockPrefix, name, token)
	}()

	start := c.now()
	res, err = fn(runCtx)
	res.Name = name
	if err != nil {
		metrics.IncBatchRun(name, "failed")
		c.logger.Error(ctx, "Batch task failed", "task", name, "error", err.Error())
		return res, true, err
	}
	outcome := "completed"
	if res.Retried {
		outcome = "retried"
	}
	metrics.IncBatchRun(name, outcome)
	c.logger.Info(ctx, "Batch task finished", "task", name,
		"total", res.Total, "success", res.Success, "failed", res.Failed, "skipped", res.Skipped,
		"retried", res.Retried, "duration", c.now().Sub(start).String())
	return res, true, nil
}

func (c *BatchCoordinator) record(task string, r domain.BatchResult) {
	metrics.AddBatchItems(task, "success", r.Success)
	metrics.AddBatchItems(task, "failed", r.Failed)
	metrics.AddBatchItems(task, "skipped", r.Skipped)
}

// CleanupDisabledUsers deletes the data of disabled users and marks them cleaned.
// Cleaned users drop out of the candidate query so reruns are no-ops.
func (c *BatchCoordinator) CleanupDisabledUsers(ctx context.Context) (domain.BatchResult, error) {
	res := domain.BatchResult{Name: TaskCleanup}
	for pass := 0; pass < maxCleanupPasses; pass++ {
		users, err := c.store.ListDisabledUncleaned(ctx, c.opts.PageSize)
		if err != nil {
			return res, fmt.Errorf("list disabled users: %w", err)
		}
		if len(users) == 0 {
			break
		}
		page := domain.BatchResult{Total: len(users)}
		for _, u := range users {
			if err := c.cleanupUser(ctx, u); err != nil {
				page.Failed++
				c.logger.Warn(ctx, "User cleanup failed", "user_id", u.ID, "error", err.Error())
				continue
			}
			page.Success++
		}
		res.Total += page.Total
		res.Success += page.Success
		res.Failed += page.Failed
		c.record(TaskCleanup, page)
		// failures stay in the predicate; stop rather than spin on them
		if page.Success == 0 || len(users) < c.opts.PageSize {
			break
		}
	}
	return res, nil
}

func (c *BatchCoordinator) cleanupUser(ctx context.Context, u domain.UserRecord) error {
	if err := c.store.DeleteUserData(ctx, u.ID); err != nil {
		return domain.NewPartialError("delete user data", err)
	}
	if err := c.store.MarkCleaned(ctx, u.ID); err != nil {
		return domain.NewPartialError("mark cleaned", err)
	}
	c.cache.Delete(ctx, rediskeys.UserKey(u.ID))
	c.cache.InvalidateTag(ctx, rediskeys.DocsTagKey(u.ID))
	return nil
}

// PurgeIdentities removes cleaned users from the identity provider one at a time.
// A user the provider no longer knows counts as purged.
func (c *BatchCoordinator) PurgeIdentities(ctx context.Context) (domain.BatchResult, error) {
	res := domain.BatchResult{Name: TaskPurge}
	users, err := c.store.ListPurgeCandidates(ctx, c.opts.PageSize)
	if err != nil {
		return res, fmt.Errorf("list purge candidates: %w", err)
	}
	res.Total = len(users)
	for _, u := range users {
		if err := c.purgeUser(ctx, u); err != nil {
			res.Failed++
			c.logger.Warn(ctx, "Identity purge failed", "user_id", u.ID, "error", err.Error())
			continue
		}
		res.Success++
	}
	c.record(TaskPurge, res)
	return res, nil
}

func (c *BatchCoordinator) purgeUser(ctx context.Context, u domain.UserRecord) error {
	err := c.identity.DeleteUser(ctx, u.ExternalID)
	if errors.Is(err, domain.ErrNotFound) {
		c.logger.Debug(ctx, "Identity already gone", "user_id", u.ID)
	} else if err != nil {
		return domain.NewPartialError("delete identity", err)
	}
	if err := c.store.MarkPurged(ctx, u.ID); err != nil {
		return domain.NewPartialError("mark purged", err)
	}
	return nil
}

// SendReminders emails every candidate once per day. If the success rate of the pass
// is below the threshold it waits and runs exactly one more pass over the same
// candidates; users already mailed today are skipped by their marker.
func (c *BatchCoordinator) SendReminders(ctx context.Context) (domain.BatchResult, error) {
	candidates, err := c.store.ListReminderCandidates(ctx, c.opts.PageSize)
	if err != nil {
		return domain.BatchResult{Name: TaskReminders}, fmt.Errorf("list reminder candidates: %w", err)
	}
	day := c.now().In(c.opts.Location).Format(dayLayout)

	first, outcomes := c.reminderPass(ctx, day, candidates)
	if first.SuccessRate() >= c.opts.ReminderThreshold {
		return first, nil
	}

	c.logger.Warn(ctx, "Reminder success rate below threshold; retrying once",
		"rate", first.SuccessRate(), "threshold", c.opts.ReminderThreshold, "retry_in", c.opts.ReminderRetryDelay.String())
	if err := c.sleep(ctx, c.opts.ReminderRetryDelay); err != nil {
		return first, err
	}
	_, retried := c.reminderPass(ctx, day, candidates)

	// a user sent in the first pass is skipped by its marker in the second; every
	// other user takes the outcome of the retry
	res := domain.BatchResult{Name: TaskReminders, Total: len(candidates), Retried: true}
	for i, o := range outcomes {
		if o != reminderSent {
			o = retried[i]
		}
		o.tally(&res)
	}
	return res, nil
}

type reminderOutcome int

const (
	reminderSent reminderOutcome = iota
	reminderSkipped
	reminderFailed
)

func (o reminderOutcome) tally(res *domain.BatchResult) {
	switch o {
	case reminderSent:
		res.Success++
	case reminderSkipped:
		res.Skipped++
	default:
		res.Failed++
	}
}

// reminderPass tries every candidate once. outcomes is indexed like candidates.
func (c *BatchCoordinator) reminderPass(ctx context.Context, day string, candidates []domain.ReminderCandidate) (domain.BatchResult, []reminderOutcome) {
	res := domain.BatchResult{Name: TaskReminders, Total: len(candidates)}
	outcomes := make([]reminderOutcome, len(candidates))
	for i, cand := range candidates {
		switch err := c.sendReminder(ctx, day, cand); {
		case errors.Is(err, errSkipped):
			outcomes[i] = reminderSkipped
		case err != nil:
			outcomes[i] = reminderFailed
			c.logger.Warn(ctx, "Reminder not sent", "user_id", cand.User.ID, "error", err.Error())
		default:
			outcomes[i] = reminderSent
		}
		outcomes[i].tally(&res)
	}
	c.record(TaskReminders, res)
	return res, outcomes
}

var errSkipped = errors.New("already handled")

func (c *BatchCoordinator) sendReminder(ctx context.Context, day string, cand domain.ReminderCandidate) error {
	marker := rediskeys.ReminderSentKey(day, cand.User.ID)
	claimed, err := c.markers.AcquireLock(ctx, marker, dayMarkerValue, dayMarkerTTL)
	if err != nil {
		return domain.NewPartialError("claim reminder marker", err)
	}
	if !claimed {
		return errSkipped
	}

	emailID := rediskeys.EmailLockIdentifier(cand.User.Email)
	if !c.locks.Acquire(ctx, emailLockPrefix, emailID, c.opts.EmailLockTTL) {
		c.releaseMarker(ctx, marker)
		return errSkipped
	}
	defer c.locks.Release(ctx, emailLockPrefix, emailID)

	var body bytes.Buffer
	if err := reminderTemplate.Execute(&body, struct {
		Name    string
		Pending int
	}{cand.User.Name, cand.PendingCount}); err != nil {
		c.releaseMarker(ctx, marker)
		return domain.NewPartialError("render reminder", err)
	}
	if err := c.mailer.SendEmail(ctx, cand.User.Email, c.opts.ReminderSubject, body.String()); err != nil {
		c.releaseMarker(ctx, marker)
		return domain.NewPartialError("send reminder", err)
	}
	return nil
}

func (c *BatchCoordinator) releaseMarker(ctx context.Context, key string) {
	if _, err := c.markers.ReleaseLock(ctx, key); err != nil {
		c.logger.Warn(ctx, "Failed to release day marker; item waits until tomorrow", "key", key, "error", err.Error())
	}
}

// ResetQuotas resets the daily quota of every due user at most once per day.
func (c *BatchCoordinator) ResetQuotas(ctx context.Context) (domain.BatchResult, error) {
	res := domain.BatchResult{Name: TaskQuota}
	now := c.now().In(c.opts.Location)
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, c.opts.Location)
	dayKey := day.Format(dayLayout)

	for pass := 0; pass < maxCleanupPasses; pass++ {
		users, err := c.store.ListQuotaResetCandidates(ctx, day, c.opts.PageSize)
		if err != nil {
			return res, fmt.Errorf("list quota candidates: %w", err)
		}
		if len(users) == 0 {
			break
		}
		page := domain.BatchResult{Total: len(users)}
		for _, u := range users {
			switch err := c.resetQuota(ctx, day, dayKey, u); {
			case errors.Is(err, errSkipped):
				page.Skipped++
			case err != nil:
				page.Failed++
				c.logger.Warn(ctx, "Quota reset failed", "user_id", u.ID, "error", err.Error())
			default:
				page.Success++
			}
		}
		res.Total += page.Total
		res.Success += page.Success
		res.Failed += page.Failed
		res.Skipped += page.Skipped
		c.record(TaskQuota, page)
		if page.Success == 0 || len(users) < c.opts.PageSize {
			break
		}
	}
	return res, nil
}

func (c *BatchCoordinator) resetQuota(ctx context.Context, day time.Time, dayKey string, u domain.UserRecord) error {
	marker := rediskeys.QuotaResetKey(dayKey, u.ID)
	claimed, err := c.markers.AcquireLock(ctx, marker, dayMarkerValue, dayMarkerTTL)
	if err != nil {
		return domain.NewPartialError("claim quota marker", err)
	}
	if !claimed {
		return errSkipped
	}
	if err := c.store.ResetQuota(ctx, u.ID, day); err != nil {
		c.releaseMarker(ctx, marker)
		return domain.NewPartialError("reset quota", err)
	}
	c.cache.Delete(ctx, rediskeys.UserKey(u.ID))
	return nil
}
