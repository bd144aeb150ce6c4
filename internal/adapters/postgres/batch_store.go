package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
)

var userColumns = []string{"u.id", "u.email", "u.external_id", "u.name"}

func (r *Repo) queryUsers(ctx context.Context, op string, q sq.SelectBuilder) ([]domain.UserRecord, error) {
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := r.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		r.logSQL(ctx, op, sqlStr, start, err)
		return nil, err
	}
	users, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.UserRecord, error) {
		var u domain.UserRecord
		err := row.Scan(&u.ID, &u.Email, &u.ExternalID, &u.Name)
		return u, err
	})
	r.logSQL(ctx, op, sqlStr, start, err)
	return users, err
}

func (r *Repo) exec(ctx context.Context, op string, q sq.Sqlizer) (int64, error) {
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, err
	}
	start := time.Now()
	tag, err := r.pool.Exec(ctx, sqlStr, args...)
	r.logSQL(ctx, op, sqlStr, start, err)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *Repo) ListDisabledUncleaned(ctx context.Context, limit int) ([]domain.UserRecord, error) {
	q := r.qb().Select(userColumns...).
		From(r.table("users") + " u").
		Where(sq.Eq{"u.disabled": true, "u.cleaned_at": nil}).
		OrderBy("u.id").
		Limit(uint64(limit))
	return r.queryUsers(ctx, "ListDisabledUncleaned", q)
}

// DeleteUserData removes every row depending on userID in one transaction.
func (r *Repo) DeleteUserData(ctx context.Context, userID string) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		for _, table := range []string{"chat_sessions", "documents"} {
			sqlStr, args, err := r.qb().Delete(r.table(table)).Where(sq.Eq{"owner_id": userID}).ToSql()
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, sqlStr, args...); err != nil {
				return fmt.Errorf("delete %s of user %s: %w", table, userID, err)
			}
		}
		return nil
	})
}

func (r *Repo) MarkCleaned(ctx context.Context, userID string) error {
	_, err := r.exec(ctx, "MarkCleaned", r.qb().Update(r.table("users")).
		Set("cleaned_at", sq.Expr("now()")).
		Where(sq.Eq{"id": userID, "cleaned_at": nil}))
	return err
}

func (r *Repo) ListPurgeCandidates(ctx context.Context, limit int) ([]domain.UserRecord, error) {
	q := r.qb().Select(userColumns...).
		From(r.table("users") + " u").
		Where(sq.And{sq.NotEq{"u.cleaned_at": nil}, sq.Eq{"u.purged_at": nil}}).
		OrderBy("u.id").
		Limit(uint64(limit))
	return r.queryUsers(ctx, "ListPurgeCandidates", q)
}

func (r *Repo) MarkPurged(ctx context.Context, userID string) error {
	_, err := r.exec(ctx, "MarkPurged", r.qb().Update(r.table("users")).
		Set("purged_at", sq.Expr("now()")).
		Where(sq.Eq{"id": userID, "purged_at": nil}))
	return err
}

// ListReminderCandidates returns active users with documents they have not opened yet.
func (r *Repo) ListReminderCandidates(ctx context.Context, limit int) ([]domain.ReminderCandidate, error) {
	q := r.qb().Select(append(append([]string{}, userColumns...), "count(d.id)")...).
		From(r.table("users") + " u").
		Join(r.table("documents") + " d ON d.owner_id = u.id").
		Where(sq.Eq{"u.disabled": false, "d.viewed_at": nil}).
		GroupBy(userColumns...).
		OrderBy("u.id").
		Limit(uint64(limit))
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := r.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		r.logSQL(ctx, "ListReminderCandidates", sqlStr, start, err)
		return nil, err
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ReminderCandidate, error) {
		var c domain.ReminderCandidate
		err := row.Scan(&c.User.ID, &c.User.Email, &c.User.ExternalID, &c.User.Name, &c.PendingCount)
		return c, err
	})
	r.logSQL(ctx, "ListReminderCandidates", sqlStr, start, err)
	return out, err
}

// ListQuotaResetCandidates returns users whose quota was last reset before day.
func (r *Repo) ListQuotaResetCandidates(ctx context.Context, day time.Time, limit int) ([]domain.UserRecord, error) {
	q := r.qb().Select(userColumns...).
		From(r.table("users") + " u").
		Where(sq.And{
			sq.Eq{"u.disabled": false},
			sq.Or{sq.Eq{"u.quota_reset_on": nil}, sq.Lt{"u.quota_reset_on": day}},
		}).
		OrderBy("u.id").
		Limit(uint64(limit))
	return r.queryUsers(ctx, "ListQuotaResetCandidates", q)
}

// ResetQuota zeroes the usage counter for day. Resetting the same day twice is a no-op.
func (r *Repo) ResetQuota(ctx context.Context, userID string, day time.Time) error {
	_, err := r.exec(ctx, "ResetQuota", r.qb().Update(r.table("users")).
		Set("quota_used", 0).
		Set("quota_reset_on", day).
		Where(sq.And{
			sq.Eq{"id": userID},
			sq.Or{sq.Eq{"quota_reset_on": nil}, sq.Lt{"quota_reset_on": day}},
		}))
	return err
}
