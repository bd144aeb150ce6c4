package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	json "github.com/goccy/go-json"

	"gitlab.com/timkado/api/doc-translate-service/internal/adapters/middleware"
	"gitlab.com/timkado/api/doc-translate-service/internal/application"
	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
)

// JobSubmitter accepts uploads and returns (jobID, docID).
type JobSubmitter interface {
	Submit(ctx context.Context, sub application.Submission) (string, string, error)
}

// JobStatusReader reads the status record of a job.
type JobStatusReader interface {
	Get(ctx context.Context, jobID string) (domain.JobStatusRecord, bool)
}

// DocumentReader serves the owner's documents.
type DocumentReader interface {
	Get(ctx context.Context, ownerID, docID string) (*domain.Document, error)
	List(ctx context.Context, ownerID string, limit, offset int) ([]domain.Document, error)
	Delete(ctx context.Context, ownerID, docID string) error
}

// SubmitTranslationResponse is returned with 202 once the job is queued.
type SubmitTranslationResponse struct {
	JobID string `json:"job_id"`
	DocID string `json:"doc_id"`
}

// JobStatusResponse is the body of GET /v1/jobs/{id}.
type JobStatusResponse struct {
	JobID  string           `json:"job_id"`
	Status domain.JobStatus `json:"status"`
	DocID  string           `json:"doc_id,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// DocumentListResponse is the body of GET /v1/documents.
type DocumentListResponse struct {
	Documents []domain.Document `json:"documents"`
	Limit     int               `json:"limit"`
	Offset    int               `json:"offset"`
}

// APIHandlers holds the REST handlers of the API binary.
type APIHandlers struct {
	submitter   JobSubmitter
	status      JobStatusReader
	documents   DocumentReader
	logger      domain.Logger
	maxUploadMB int
}

func NewAPIHandlers(submitter JobSubmitter, status JobStatusReader, documents DocumentReader, logger domain.Logger, maxUploadMB int) *APIHandlers {
	if maxUploadMB <= 0 {
		maxUploadMB = 20
	}
	return &APIHandlers{
		submitter:   submitter,
		status:      status,
		documents:   documents,
		logger:      logger,
		maxUploadMB: maxUploadMB,
	}
}

// RegisterRoutes mounts the REST routes. Every route requires the owner identity.
func (h *APIHandlers) RegisterRoutes(ctx context.Context, mux *http.ServeMux) {
	owner := middleware.OwnerIdentityMiddleware(h.logger)
	wrap := func(f http.HandlerFunc) http.Handler {
		return middleware.RequestIDMiddleware(owner(f))
	}
	mux.Handle("POST /v1/translations", wrap(h.SubmitTranslation))
	mux.Handle("POST /v1/summarizations", wrap(h.SubmitSummarization))
	mux.Handle("GET /v1/jobs/{id}", wrap(h.GetJob))
	mux.Handle("GET /v1/documents", wrap(h.ListDocuments))
	mux.Handle("GET /v1/documents/{id}", wrap(h.GetDocument))
	mux.Handle("DELETE /v1/documents/{id}", wrap(h.DeleteDocument))
	h.logger.Info(ctx, "REST endpoints registered", "prefix", "/v1")
}

// SubmitTranslation accepts a multipart upload with fields file and target_language.
func (h *APIHandlers) SubmitTranslation(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, domain.JobTypeTranslation)
}

// SubmitSummarization takes the same form; target_language is the language of the summary.
func (h *APIHandlers) SubmitSummarization(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, domain.JobTypeSummarization)
}

func (h *APIHandlers) submit(w http.ResponseWriter, r *http.Request, jobType domain.JobType) {
	ctx := r.Context()
	limit := int64(h.maxUploadMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, limit+(1<<20))
	if err := r.ParseMultipartForm(limit); err != nil {
		h.logger.Warn(ctx, "Failed to parse upload", "error", err.Error())
		domain.NewErrorResponse(domain.CodeBadRequest, "Invalid multipart upload", err.Error()).WriteJSON(w, http.StatusBadRequest)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		domain.NewErrorResponse(domain.CodeBadRequest, "Missing file", "The form field 'file' is required.").WriteJSON(w, http.StatusBadRequest)
		return
	}
	defer file.Close()

	jobID, docID, err := h.submitter.Submit(ctx, application.Submission{
		Type:           jobType,
		OwnerID:        middleware.OwnerID(ctx),
		FileName:       header.Filename,
		ContentType:    header.Header.Get("Content-Type"),
		TargetLanguage: r.FormValue("target_language"),
		Body:           file,
	})
	if err != nil {
		h.writeError(ctx, w, "Failed to submit "+string(jobType), err)
		return
	}

	writeJSON(ctx, h.logger, w, http.StatusAccepted, SubmitTranslationResponse{JobID: jobID, DocID: docID})
}

// GetJob returns the last recorded status of a job.
func (h *APIHandlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	rec, ok := h.status.Get(r.Context(), jobID)
	if !ok {
		domain.NewErrorResponse(domain.CodeNotFound, "Job not found", "").WriteJSON(w, http.StatusNotFound)
		return
	}
	writeJSON(r.Context(), h.logger, w, http.StatusOK, JobStatusResponse{
		JobID:  jobID,
		Status: rec.Status,
		DocID:  rec.DocID,
		Error:  rec.Error,
	})
}

func (h *APIHandlers) ListDocuments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, err1 := queryInt(r, "limit", 20)
	offset, err2 := queryInt(r, "offset", 0)
	if err := errors.Join(err1, err2); err != nil {
		domain.NewErrorResponse(domain.CodeBadRequest, "Invalid pagination", err.Error()).WriteJSON(w, http.StatusBadRequest)
		return
	}
	docs, err := h.documents.List(ctx, middleware.OwnerID(ctx), limit, offset)
	if err != nil {
		h.writeError(ctx, w, "Failed to list documents", err)
		return
	}
	writeJSON(ctx, h.logger, w, http.StatusOK, DocumentListResponse{Documents: docs, Limit: limit, Offset: offset})
}

func (h *APIHandlers) GetDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	doc, err := h.documents.Get(ctx, middleware.OwnerID(ctx), r.PathValue("id"))
	if err != nil {
		h.writeError(ctx, w, "Failed to load document", err)
		return
	}
	writeJSON(ctx, h.logger, w, http.StatusOK, doc)
}

func (h *APIHandlers) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.documents.Delete(ctx, middleware.OwnerID(ctx), r.PathValue("id")); err != nil {
		h.writeError(ctx, w, "Failed to delete document", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeError maps domain errors onto HTTP status codes.
func (h *APIHandlers) writeError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, domain.ErrJobInProgress):
		domain.NewErrorResponse(domain.CodeConflict, "A job is already in progress", err.Error()).WriteJSON(w, http.StatusConflict)
	case errors.Is(err, domain.ErrNoWorkers):
		domain.NewErrorResponse(domain.CodeUnavailable, "No workers available", err.Error()).WriteJSON(w, http.StatusServiceUnavailable)
	case errors.Is(err, domain.ErrNotFound):
		domain.NewErrorResponse(domain.CodeNotFound, "Not found", "").WriteJSON(w, http.StatusNotFound)
	case domain.KindOf(err) == domain.KindValidation:
		domain.NewErrorResponse(domain.CodeBadRequest, msg, err.Error()).WriteJSON(w, http.StatusBadRequest)
	default:
		h.logger.Error(ctx, msg, "error", err.Error())
		domain.NewErrorResponse(domain.CodeInternal, msg, "").WriteJSON(w, http.StatusInternalServerError)
	}
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	return v, nil
}

func writeJSON(ctx context.Context, logger domain.Logger, w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error(ctx, "Failed to encode response", "error", err.Error())
	}
}
