package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-playground/validator/v10"

	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
	"gitlab.com/timkado/api/doc-translate-service/pkg/rediskeys"
)

// PipelineDeps are the collaborators a job pipeline calls into.
type PipelineDeps struct {
	Status     *JobStatusTracker
	Spill      domain.SpillStore
	Translator domain.Translator
	Summarizer domain.Summarizer
	Documents  domain.DocumentStore
	Cache      *CacheService
	Logger     domain.Logger
}

var payloadValidator = validator.New()

func validatePayload(job domain.Job) error {
	if err := payloadValidator.Struct(job.Payload); err != nil {
		return domain.NewValidationError("payload", err)
	}
	return nil
}

// TranslationProcessor runs queued → translate → summarize → saving. The worker
// writes the terminal status.
type TranslationProcessor struct {
	deps PipelineDeps
	now  func() time.Time
}

// NewTranslationProcessor creates the translation pipeline.
func NewTranslationProcessor(deps PipelineDeps) *TranslationProcessor {
	return &TranslationProcessor{deps: deps, now: time.Now}
}

func (p *TranslationProcessor) Process(ctx context.Context, job domain.Job, cp *Checkpoint) error {
	if err := validatePayload(job); err != nil {
		return err
	}
	pl := job.Payload

	if err := cp.Check(ctx); err != nil {
		return err
	}
	p.deps.Status.Transition(ctx, job.ID, domain.JobStatusRecord{Status: domain.StatusTranslate, DocID: pl.DocID})
	translated, err := p.translate(ctx, pl)
	if err != nil {
		return err
	}

	if err := cp.Check(ctx); err != nil {
		return err
	}
	p.deps.Status.Transition(ctx, job.ID, domain.JobStatusRecord{Status: domain.StatusSummarize, DocID: pl.DocID})
	summary, err := p.deps.Summarizer.Summarize(ctx, translated.TranslatedText, pl.TargetLanguage)
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}

	if err := cp.Check(ctx); err != nil {
		return err
	}
	p.deps.Status.Transition(ctx, job.ID, domain.JobStatusRecord{Status: domain.StatusSaving, DocID: pl.DocID})
	return saveDocument(ctx, p.deps, domain.Document{
		ID:             pl.DocID,
		OwnerID:        pl.OwnerID,
		FileName:       pl.FileName,
		TargetLanguage: pl.TargetLanguage,
		TranslatedText: translated.TranslatedText,
		Summary:        summary,
		CreatedAt:      p.now().UTC(),
	})
}

func (p *TranslationProcessor) translate(ctx context.Context, pl domain.JobPayload) (*domain.TranslationResult, error) {
	file, err := openSpill(ctx, p.deps.Spill, pl.FileRef)
	if err != nil {
		return nil, err
	}
	defer file.Body.Close()
	if file.Name == "" {
		file.Name = pl.FileName
	}
	res, err := p.deps.Translator.Translate(ctx, file, pl.TargetLanguage)
	if err != nil {
		return nil, fmt.Errorf("translate: %w", err)
	}
	return res, nil
}

// SummarizationProcessor summarizes an already textual upload: queued → summarize → saving.
type SummarizationProcessor struct {
	deps     PipelineDeps
	maxBytes int64
	now      func() time.Time
}

// NewSummarizationProcessor creates the summarization pipeline. Inputs larger than
// maxBytes are rejected without retry.
func NewSummarizationProcessor(deps PipelineDeps, maxBytes int64) *SummarizationProcessor {
	if maxBytes <= 0 {
		maxBytes = 4 << 20
	}
	return &SummarizationProcessor{deps: deps, maxBytes: maxBytes, now: time.Now}
}

func (p *SummarizationProcessor) Process(ctx context.Context, job domain.Job, cp *Checkpoint) error {
	if err := validatePayload(job); err != nil {
		return err
	}
	pl := job.Payload

	if err := cp.Check(ctx); err != nil {
		return err
	}
	p.deps.Status.Transition(ctx, job.ID, domain.JobStatusRecord{Status: domain.StatusSummarize, DocID: pl.DocID})
	text, err := p.readText(ctx, pl.FileRef)
	if err != nil {
		return err
	}
	summary, err := p.deps.Summarizer.Summarize(ctx, text, pl.TargetLanguage)
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}

	if err := cp.Check(ctx); err != nil {
		return err
	}
	p.deps.Status.Transition(ctx, job.ID, domain.JobStatusRecord{Status: domain.StatusSaving, DocID: pl.DocID})
	return saveDocument(ctx, p.deps, domain.Document{
		ID:             pl.DocID,
		OwnerID:        pl.OwnerID,
		FileName:       pl.FileName,
		TargetLanguage: pl.TargetLanguage,
		Summary:        summary,
		CreatedAt:      p.now().UTC(),
	})
}

func (p *SummarizationProcessor) readText(ctx context.Context, ref string) (string, error) {
	file, err := openSpill(ctx, p.deps.Spill, ref)
	if err != nil {
		return "", err
	}
	defer file.Body.Close()
	b, err := io.ReadAll(io.LimitReader(file.Body, p.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read spilled file: %w", err)
	}
	if int64(len(b)) > p.maxBytes {
		return "", domain.NewValidationError("summarize", fmt.Errorf("input exceeds %d bytes", p.maxBytes))
	}
	return string(b), nil
}

func openSpill(ctx context.Context, spill domain.SpillStore, ref string) (*domain.SpilledFile, error) {
	file, err := spill.Open(ctx, ref)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewValidationError("open spill", fmt.Errorf("file %s is gone", ref))
	}
	if err != nil {
		return nil, fmt.Errorf("open spill: %w", err)
	}
	return file, nil
}

// saveDocument persists doc and invalidates every cached view of the owner's documents.
func saveDocument(ctx context.Context, deps PipelineDeps, doc domain.Document) error {
	if _, err := deps.Documents.PersistDocument(ctx, doc); err != nil {
		return fmt.Errorf("persist document: %w", err)
	}
	deps.Cache.Delete(ctx, rediskeys.DocKey(doc.OwnerID, doc.ID))
	deps.Cache.InvalidateTag(ctx, rediskeys.DocsTagKey(doc.OwnerID))
	return nil
}
