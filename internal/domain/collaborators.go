package domain

import (
	"context"
	"io"
	"time"
)

// TranslationResult is what the translation provider returns for one file.
type TranslationResult struct {
	TranslatedText string         `json:"translatedText"`
	Structured     map[string]any `json:"structured,omitempty"`
}

// Summary is what the summarization provider returns for one text.
type Summary struct {
	Title       string   `json:"title"`
	Sender      string   `json:"sender"`
	Summary     string   `json:"summary"`
	ActionItems []string `json:"actionItems"`
}

// Translator translates a spilled file into the target language.
type Translator interface {
	Translate(ctx context.Context, file *SpilledFile, targetLanguage string) (*TranslationResult, error)
}

// Summarizer summarizes text in the target language.
type Summarizer interface {
	Summarize(ctx context.Context, text, targetLanguage string) (*Summary, error)
}

// Document is the persisted output of a job.
type Document struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"ownerId"`
	FileName       string    `json:"fileName"`
	TargetLanguage string    `json:"targetLanguage"`
	TranslatedText string    `json:"translatedText"`
	Summary        *Summary  `json:"summary,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// DocumentStore is the source of truth for documents.
type DocumentStore interface {
	PersistDocument(ctx context.Context, doc Document) (*Document, error)
	GetDocument(ctx context.Context, ownerID, docID string) (*Document, error) // ErrNotFound when absent
	ListDocuments(ctx context.Context, ownerID string, limit, offset int) ([]Document, error)
	DeleteDocument(ctx context.Context, ownerID, docID string) error
	Ping(ctx context.Context) error
}

// Mailer delivers a rendered email.
type Mailer interface {
	SendEmail(ctx context.Context, to, subject, html string) error
}

// IdentityDirectory is the external identity provider. DeleteUser returns ErrNotFound
// when the provider no longer knows the user.
type IdentityDirectory interface {
	DeleteUser(ctx context.Context, externalID string) error
}

// SpilledFile is an open handle on bytes previously written to a SpillStore.
type SpilledFile struct {
	Ref         string
	Name        string
	ContentType string
	Size        int64
	Body        io.ReadCloser
}

// SpillStore holds large payloads between the API and the worker so queue
// messages only carry a reference. The job that created a ref owns it.
type SpillStore interface {
	Put(ctx context.Context, name, contentType string, r io.Reader) (string, error)
	Open(ctx context.Context, ref string) (*SpilledFile, error)
	// Remove deletes the ref. A ref that is already gone is not an error.
	Remove(ctx context.Context, ref string) error
}
