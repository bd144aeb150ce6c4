package http

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"

	"gitlab.com/timkado/api/doc-translate-service/internal/adapters/logger"
	"gitlab.com/timkado/api/doc-translate-service/internal/adapters/middleware"
	"gitlab.com/timkado/api/doc-translate-service/internal/application"
	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
)

type fakeSubmitter struct {
	err  error
	got  application.Submission
	body string
}

func (f *fakeSubmitter) Submit(_ context.Context, sub application.Submission) (string, string, error) {
	f.got = sub
	if sub.Body != nil {
		b, _ := io.ReadAll(sub.Body)
		f.body = string(b)
	}
	if f.err != nil {
		return "", "", f.err
	}
	return "job-1", "doc-1", nil
}

type fakeStatus map[string]domain.JobStatusRecord

func (f fakeStatus) Get(_ context.Context, jobID string) (domain.JobStatusRecord, bool) {
	rec, ok := f[jobID]
	return rec, ok
}

type fakeDocuments struct {
	docs      map[string]domain.Document
	lastLimit int
}

func (f *fakeDocuments) Get(_ context.Context, ownerID, docID string) (*domain.Document, error) {
	d, ok := f.docs[docID]
	if !ok || d.OwnerID != ownerID {
		return nil, domain.ErrNotFound
	}
	return &d, nil
}

func (f *fakeDocuments) List(_ context.Context, ownerID string, limit, offset int) ([]domain.Document, error) {
	f.lastLimit = limit
	out := []domain.Document{}
	for _, d := range f.docs {
		if d.OwnerID == ownerID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeDocuments) Delete(_ context.Context, ownerID, docID string) error {
	d, ok := f.docs[docID]
	if !ok || d.OwnerID != ownerID {
		return domain.ErrNotFound
	}
	delete(f.docs, docID)
	return nil
}

func newTestMux(sub JobSubmitter, status JobStatusReader, docs DocumentReader) *http.ServeMux {
	mux := http.NewServeMux()
	NewAPIHandlers(sub, status, docs, logger.NewNop(), 1).RegisterRoutes(context.Background(), mux)
	return mux
}

func uploadRequest(t *testing.T, owner, lang, content string) *http.Request {
	t.Helper()
	return uploadTo(t, "/v1/translations", owner, lang, content)
}

func uploadTo(t *testing.T, path, owner, lang, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if lang != "" {
		_ = mw.WriteField("target_language", lang)
	}
	if content != "" {
		fw, err := mw.CreateFormFile("file", "letter.txt")
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write([]byte(content))
	}
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if owner != "" {
		req.Header.Set(middleware.XUserIDHeader, owner)
	}
	return req
}

func TestSubmitTranslationAccepted(t *testing.T) {
	sub := &fakeSubmitter{}
	mux := newTestMux(sub, fakeStatus{}, &fakeDocuments{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, uploadRequest(t, "u1", "de", "hello"))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var resp SubmitTranslationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.JobID != "job-1" || resp.DocID != "doc-1" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if sub.got.OwnerID != "u1" || sub.got.TargetLanguage != "de" || sub.got.FileName != "letter.txt" || sub.body != "hello" {
		t.Fatalf("unexpected submission %+v body %q", sub.got, sub.body)
	}
}

func TestSubmitSummarizationUsesSummarizationType(t *testing.T) {
	sub := &fakeSubmitter{}
	mux := newTestMux(sub, fakeStatus{}, &fakeDocuments{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, uploadTo(t, "/v1/summarizations", "u1", "en", "long text"))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if sub.got.Type != domain.JobTypeSummarization || sub.body != "long text" {
		t.Fatalf("unexpected submission %+v body %q", sub.got, sub.body)
	}
}

func TestSubmitTranslationErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{domain.ErrJobInProgress, http.StatusConflict},
		{domain.ErrNoWorkers, http.StatusServiceUnavailable},
		{domain.NewValidationError("submit", errors.New("bad language")), http.StatusBadRequest},
		{errors.New("queue down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		mux := newTestMux(&fakeSubmitter{err: tc.err}, fakeStatus{}, &fakeDocuments{})
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, uploadRequest(t, "u1", "de", "hello"))
		if rec.Code != tc.code {
			t.Fatalf("%v: status = %d, want %d", tc.err, rec.Code, tc.code)
		}
	}
}

func TestSubmitTranslationRequiresFileAndOwner(t *testing.T) {
	mux := newTestMux(&fakeSubmitter{}, fakeStatus{}, &fakeDocuments{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, uploadRequest(t, "u1", "de", ""))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing file: status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, uploadRequest(t, "", "de", "hello"))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing owner: status = %d", rec.Code)
	}
}

func TestGetJob(t *testing.T) {
	mux := newTestMux(&fakeSubmitter{}, fakeStatus{
		"j1": {Status: domain.StatusSummarize, DocID: "d1"},
	}, &fakeDocuments{})

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/j1", nil)
	req.Header.Set(middleware.XUserIDHeader, "u1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	var resp JobStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK || resp.Status != domain.StatusSummarize || resp.DocID != "d1" || resp.JobID != "j1" {
		t.Fatalf("status = %d resp = %+v", rec.Code, resp)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/jobs/missing", nil)
	req.Header.Set(middleware.XUserIDHeader, "u1")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown job: status = %d", rec.Code)
	}
}

func TestDocumentRoutes(t *testing.T) {
	docs := &fakeDocuments{docs: map[string]domain.Document{
		"d1": {ID: "d1", OwnerID: "u1", TranslatedText: "hi"},
		"d2": {ID: "d2", OwnerID: "u2"},
	}}
	mux := newTestMux(&fakeSubmitter{}, fakeStatus{}, docs)
	do := func(method, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set(middleware.XUserIDHeader, "u1")
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec
	}

	rec := do(http.MethodGet, "/v1/documents?limit=5")
	var list DocumentListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK || len(list.Documents) != 1 || docs.lastLimit != 5 {
		t.Fatalf("list: status = %d docs = %d limit = %d", rec.Code, len(list.Documents), docs.lastLimit)
	}
	if rec := do(http.MethodGet, "/v1/documents?limit=abc"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: status = %d", rec.Code)
	}
	if rec := do(http.MethodGet, "/v1/documents/d2"); rec.Code != http.StatusNotFound {
		t.Fatalf("foreign document: status = %d", rec.Code)
	}
	if rec := do(http.MethodGet, "/v1/documents/d1"); rec.Code != http.StatusOK {
		t.Fatalf("get: status = %d", rec.Code)
	}
	if rec := do(http.MethodDelete, "/v1/documents/d1"); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status = %d", rec.Code)
	}
	if rec := do(http.MethodDelete, "/v1/documents/d1"); rec.Code != http.StatusNotFound {
		t.Fatalf("second delete: status = %d", rec.Code)
	}
}
