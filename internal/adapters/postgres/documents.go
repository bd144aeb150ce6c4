package postgres

import (
	"context"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"

	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
)

var documentColumns = []string{"id", "owner_id", "file_name", "target_language", "translated_text", "summary", "created_at"}

func scanDocument(row pgx.Row) (*domain.Document, error) {
	var (
		d          domain.Document
		summaryRaw []byte
	)
	if err := row.Scan(&d.ID, &d.OwnerID, &d.FileName, &d.TargetLanguage, &d.TranslatedText, &summaryRaw, &d.CreatedAt); err != nil {
		return nil, err
	}
	if len(summaryRaw) > 0 {
		var s domain.Summary
		if err := json.Unmarshal(summaryRaw, &s); err != nil {
			return nil, err
		}
		d.Summary = &s
	}
	return &d, nil
}

// PersistDocument upserts doc. A retried job overwrites what an earlier attempt saved.
func (r *Repo) PersistDocument(ctx context.Context, doc domain.Document) (*domain.Document, error) {
	var summary []byte
	if doc.Summary != nil {
		b, err := json.Marshal(doc.Summary)
		if err != nil {
			return nil, domain.NewValidationError("encode summary", err)
		}
		summary = b
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	q := r.qb().Insert(r.table("documents")).
		Columns(documentColumns...).
		Values(doc.ID, doc.OwnerID, doc.FileName, doc.TargetLanguage, doc.TranslatedText, summary, doc.CreatedAt).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			translated_text = EXCLUDED.translated_text,
			summary = EXCLUDED.summary,
			target_language = EXCLUDED.target_language
		RETURNING id, owner_id, file_name, target_language, translated_text, summary, created_at`)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	out, err := scanDocument(r.pool.QueryRow(ctx, sqlStr, args...))
	r.logSQL(ctx, "PersistDocument", sqlStr, start, err)
	if err != nil {
		return nil, domain.NewTransientError("persist document", err)
	}
	return out, nil
}

// GetDocument returns the document of ownerID. domain.ErrNotFound when absent.
func (r *Repo) GetDocument(ctx context.Context, ownerID, docID string) (*domain.Document, error) {
	q := r.qb().Select(documentColumns...).
		From(r.table("documents")).
		Where(sq.Eq{"id": docID, "owner_id": ownerID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	doc, err := scanDocument(r.pool.QueryRow(ctx, sqlStr, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	r.logSQL(ctx, "GetDocument", sqlStr, start, err)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// ListDocuments returns one page of ownerID's documents, newest first.
func (r *Repo) ListDocuments(ctx context.Context, ownerID string, limit, offset int) ([]domain.Document, error) {
	q := r.qb().Select(documentColumns...).
		From(r.table("documents")).
		Where(sq.Eq{"owner_id": ownerID}).
		OrderBy("created_at DESC", "id").
		Limit(uint64(limit)).
		Offset(uint64(offset))
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := r.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		r.logSQL(ctx, "ListDocuments", sqlStr, start, err)
		return nil, err
	}
	defer rows.Close()

	out := []domain.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	err = rows.Err()
	r.logSQL(ctx, "ListDocuments", sqlStr, start, err)
	return out, err
}

// DeleteDocument removes the document of ownerID. domain.ErrNotFound when nothing matched.
func (r *Repo) DeleteDocument(ctx context.Context, ownerID, docID string) error {
	q := r.qb().Delete(r.table("documents")).
		Where(sq.Eq{"id": docID, "owner_id": ownerID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return err
	}

	start := time.Now()
	tag, err := r.pool.Exec(ctx, sqlStr, args...)
	r.logSQL(ctx, "DeleteDocument", sqlStr, start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
